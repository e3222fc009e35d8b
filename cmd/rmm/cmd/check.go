/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"

	rmm "github.com/blacktop/go-rmm"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

// Layout describes a booted monitor.
type Layout struct {
	Base         uint64      `json:"base"`
	End          uint64      `json:"end"`
	Granules     int         `json:"granules"`
	GranuleSize  int         `json:"granule_size"`
	HostPageSize int         `json:"host_page_size"`
	CPUs         int         `json:"cpus"`
	MaxRealms    uint64      `json:"max_realms"`
	ABIVersion   string      `json:"abi_version"`
	Metrics      rmm.Metrics `json:"metrics"`
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Boot a monitor from the config and print its layout",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := bootMonitor()
		if err != nil {
			return err
		}
		defer m.Close()

		cpu, err := m.CPU(0)
		if err != nil {
			return err
		}
		ctx := rmm.NewContext(rmm.CmdVersion)
		cpu.HandleRMI(ctx)

		cfg := m.Config()
		l := Layout{
			Base:         m.Phys().Base(),
			End:          m.Phys().Base() + m.Phys().Size(),
			Granules:     m.Granules().Len(),
			GranuleSize:  rmm.GranuleSize,
			HostPageSize: rmm.HostPageSize(),
			CPUs:         cfg.CPUs,
			MaxRealms:    cfg.Realm.MaxRealms,
			ABIVersion:   fmt.Sprintf("%d.%d", ctx.Ret[1]>>16, ctx.Ret[1]&0xffff),
			Metrics:      rmm.GetMetrics(),
		}
		if asJSON {
			return printJSON(l)
		}

		fmt.Printf("memory:    0x%x-0x%x (%d granules of %d bytes)\n", l.Base, l.End, l.Granules, l.GranuleSize)
		fmt.Printf("host page: %d bytes\n", l.HostPageSize)
		fmt.Printf("cpus:      %d\n", l.CPUs)
		fmt.Printf("realms:    up to %d\n", l.MaxRealms)
		fmt.Printf("rmi abi:   %s (%v)\n", l.ABIVersion, ctx.Status())
		return nil
	},
}

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
	"context"
	"fmt"
	"time"

	rmm "github.com/blacktop/go-rmm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	stressIterations int
	stressTimeout    time.Duration
)

// StressResult summarizes a stress run.
type StressResult struct {
	CPUs       int         `json:"cpus"`
	Iterations int         `json:"iterations"`
	Created    uint64      `json:"created"`
	Rejected   uint64      `json:"rejected"`
	Elapsed    string      `json:"elapsed"`
	Metrics    rmm.Metrics `json:"metrics"`
}

func init() {
	rootCmd.AddCommand(stressCmd)
	stressCmd.Flags().IntVarP(&stressIterations, "iterations", "n", 1000, "Create/destroy rounds per core")
	stressCmd.Flags().DurationVar(&stressTimeout, "timeout", time.Minute, "Abort the run after this long")
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Create and destroy realms from every core at once",
	Long: `Every core repeatedly creates and destroys realms on its own descriptor
granules while also racing the other cores for one shared granule. The run
fails if a granule ever ends up owned twice or a realm id leaks.`,
	RunE: runStress,
}

func runStress(cmd *cobra.Command, args []string) error {
	m, log, err := bootMonitor()
	if err != nil {
		return err
	}
	defer m.Close()

	cfg := m.Config()
	// Granule 0 holds the parameter block and granule 1 is shared; the rest
	// are split between the cores.
	if cfg.Memory.Granules < 2+cfg.CPUs {
		return fmt.Errorf("stress needs at least %d granules, have %d", 2+cfg.CPUs, cfg.Memory.Granules)
	}
	params := m.Granules().Addr(0)
	shared := m.Granules().Addr(1)
	buf, err := rmm.Params{VMID: 1}.MarshalBinary()
	if err != nil {
		return err
	}
	if err := m.Phys().Write(params, buf); err != nil {
		return err
	}

	rmm.ResetMetrics()
	ctx, cancel := context.WithTimeout(cmd.Context(), stressTimeout)
	defer cancel()

	start := time.Now()
	created := make([]uint64, cfg.CPUs)
	rejected := make([]uint64, cfg.CPUs)
	g, gctx := errgroup.WithContext(ctx)
	for id := 0; id < cfg.CPUs; id++ {
		id := id
		cpu, err := m.CPU(id)
		if err != nil {
			return err
		}
		g.Go(func() error {
			own := m.Granules().Addr(2 + id)
			for i := 0; i < stressIterations; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				for _, rd := range []uint64{own, shared} {
					c := rmm.NewContext(rmm.CmdRealmCreate, rd, params)
					cpu.HandleRMI(c)
					if c.Status() != rmm.StatusSuccess {
						if rd == own {
							return fmt.Errorf("cpu %d: create on private granule 0x%x: %v", id, rd, c.Status())
						}
						rejected[id]++
						continue
					}
					created[id]++
					d := rmm.NewContext(rmm.CmdRealmDestroy, rd)
					cpu.HandleRMI(d)
					if d.Status() == rmm.StatusSuccess {
						continue
					}
					// Another core may claim the shared granule between
					// our destroy and undelegate.
					if rd == own {
						return fmt.Errorf("cpu %d: destroy 0x%x: %v", id, rd, d.Status())
					}
					rejected[id]++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if live := m.Driver().Live(); live != 0 {
		return fmt.Errorf("%d realm ids leaked", live)
	}
	if n := m.Granules().Counts()[rmm.GranuleRD]; n != 0 {
		return fmt.Errorf("%d granules left in RD", n)
	}

	res := StressResult{
		CPUs:       cfg.CPUs,
		Iterations: stressIterations,
		Elapsed:    time.Since(start).String(),
		Metrics:    rmm.GetMetrics(),
	}
	for i := range created {
		res.Created += created[i]
		res.Rejected += rejected[i]
	}
	log.WithFields(logrus.Fields{
		"created":  res.Created,
		"rejected": res.Rejected,
		"elapsed":  res.Elapsed,
	}).Info("stress run complete")

	if asJSON {
		return printJSON(res)
	}
	fmt.Printf("%d cores x %d rounds: %d realms created, %d shared-granule races lost in %s\n",
		res.CPUs, res.Iterations, res.Created, res.Rejected, res.Elapsed)
	return nil
}

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
	"os"

	rmm "github.com/blacktop/go-rmm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Scenario is a replay script: parameter blocks to place in memory, then a
// list of RMI calls.
type Scenario struct {
	Memory []ParamsBlock `yaml:"memory"`
	Steps  []Step        `yaml:"steps"`
}

// ParamsBlock writes a realm parameter block at Addr.
type ParamsBlock struct {
	Addr   uint64     `yaml:"addr"`
	Params rmm.Params `yaml:"params"`
}

// Step is one RMI call. When ESR is set the call is delivered as a realm trap
// with the command in x0, otherwise it goes straight to the mainloop.
type Step struct {
	CPU    int      `yaml:"cpu"`
	Cmd    string   `yaml:"cmd"`
	Args   []uint64 `yaml:"args"`
	ESR    *uint32  `yaml:"esr"`
	Expect string   `yaml:"expect"`
}

// StepResult is the JSON record printed for each step.
type StepResult struct {
	Step   int                  `json:"step"`
	CPU    int                  `json:"cpu"`
	Cmd    string               `json:"cmd"`
	Status string               `json:"status,omitempty"`
	Ret    [rmm.RetCount]uint64 `json:"ret"`
	Code   *uint64              `json:"dispatch_code,omitempty"`
	Fault  string               `json:"fault,omitempty"`
	Error  string               `json:"error,omitempty"`
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Run a YAML scenario of RMI calls and print the results as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read scenario: %w", err)
		}
		var sc Scenario
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return fmt.Errorf("failed to parse scenario: %w", err)
		}

		m, log, err := bootMonitor()
		if err != nil {
			return err
		}
		defer m.Close()

		var fault *rmm.Fault
		m.SetHaltHandler(func(f *rmm.Fault) { fault = f })

		for _, blk := range sc.Memory {
			buf, err := blk.Params.MarshalBinary()
			if err != nil {
				return err
			}
			if err := m.Phys().Write(blk.Addr, buf); err != nil {
				return fmt.Errorf("memory block 0x%x: %w", blk.Addr, err)
			}
		}

		results := make([]StepResult, 0, len(sc.Steps))
		failed := 0
		for i, step := range sc.Steps {
			fault = nil
			res := runStep(m, i, step, &fault)
			if res.Error != "" {
				failed++
				log.WithField("step", i).Warn(res.Error)
			}
			results = append(results, res)
		}

		if err := printJSON(results); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d steps did not match their expectation", failed, len(sc.Steps))
		}
		return nil
	},
}

func runStep(m *rmm.Monitor, i int, step Step, fault **rmm.Fault) StepResult {
	res := StepResult{Step: i, CPU: step.CPU, Cmd: step.Cmd}

	command, err := rmm.ParseCommand(step.Cmd)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if len(step.Args) > rmm.ArgCount {
		res.Error = fmt.Sprintf("%d arguments, at most %d allowed", len(step.Args), rmm.ArgCount)
		return res
	}
	cpu, err := m.CPU(step.CPU)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	if step.ESR != nil {
		vcpu := &rmm.VCPU{ID: uint64(step.CPU)}
		vcpu.Context.Regs[rmm.RegX0] = uint64(command)
		copy(vcpu.Context.Regs[rmm.RegX1:], step.Args)
		code := cpu.EnterLower(rmm.Info{Source: rmm.LowerAArch64, Kind: rmm.Synchronous}, *step.ESR, vcpu)
		res.Code = &code
		if *fault != nil {
			res.Fault = (*fault).Error()
		}
		if code == rmm.DispatchRMI {
			copy(res.Ret[:], vcpu.Context.Regs[rmm.RegX0:])
			res.Status = rmm.Status(res.Ret[0]).String()
		}
	} else {
		ctx := rmm.NewContext(command, step.Args...)
		cpu.HandleRMI(ctx)
		res.Ret = ctx.Ret
		res.Status = ctx.Status().String()
	}

	if step.Expect != "" && step.Expect != res.Status {
		res.Error = fmt.Sprintf("expected %s, got %q", step.Expect, res.Status)
	}
	return res
}

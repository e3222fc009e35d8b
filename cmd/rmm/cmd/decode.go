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
	"strconv"

	rmm "github.com/blacktop/go-rmm"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(decodeCmd)
}

// DecodeResult is one decoded ESR_EL2 value.
type DecodeResult struct {
	ESR     uint32 `json:"esr"`
	EC      uint8  `json:"ec"`
	Class   string `json:"class"`
	ISS     uint32 `json:"iss"`
	Comment uint16 `json:"comment,omitempty"`
	IL32    bool   `json:"il32"`
}

var decodeCmd = &cobra.Command{
	Use:   "decode ESR...",
	Short: "Decode ESR_EL2 syndrome values",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var results []DecodeResult
		for _, arg := range args {
			v, err := strconv.ParseUint(arg, 0, 32)
			if err != nil {
				return fmt.Errorf("invalid ESR %q: %w", arg, err)
			}
			syn := rmm.DecodeSyndrome(uint32(v))
			r := DecodeResult{
				ESR:   syn.Raw,
				EC:    syn.EC(),
				Class: syn.Class.String(),
				ISS:   syn.ISS,
				IL32:  syn.Is32BitInstruction(),
			}
			if syn.Class == rmm.ClassBrk {
				r.Comment = syn.Comment()
			}
			results = append(results, r)
			if !asJSON {
				fmt.Printf("%#010x: %v\n", r.ESR, syn)
			}
		}
		if asJSON {
			return printJSON(results)
		}
		return nil
	},
}

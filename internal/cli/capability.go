// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-docsign.
//
// go-docsign is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// capabilityCmd probes the hardware module
var capabilityCmd = &cobra.Command{
	Use:   "capability",
	Short: "Probe the hardware security module",
	Long: `Probe the TPM and report whether hardware-backed keys are
available. The probe includes a trial key create/load round-trip; a
module that responds but cannot complete it is reported unusable.`,
	Run: func(cmd *cobra.Command, args []string) {
		service, closer, err := newService()
		if err != nil {
			handleError(err)
		}
		defer closer()

		capability, err := service.GetCapability()
		if err != nil {
			handleError(err)
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintCapability(capability); err != nil {
			handleError(err)
		}
	},
}

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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-docsign/pkg/types"
)

// signCmd signs a document file
var signCmd = &cobra.Command{
	Use:   "sign <key-id> <file>",
	Short: "Sign a document",
	Long: `Sign the exact bytes of a file with the named key. The document
hash, signature and verification status are stored as a signature
record whose id is printed on success.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		// #nosec G304 - file path is provided by the user
		content, err := os.ReadFile(args[1])
		if err != nil {
			handleError(fmt.Errorf("failed to read %s: %w", args[1], err))
		}

		service, closer, err := newService()
		if err != nil {
			handleError(err)
		}
		defer closer()

		record, err := service.SignDocument(cmd.Context(), args[0], content)
		if err != nil {
			handleError(err)
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintSignature(record); err != nil {
			handleError(err)
		}
	},
}

// verifyCmd verifies a stored signature against a file
var verifyCmd = &cobra.Command{
	Use:   "verify <signature-id> <file>",
	Short: "Verify a stored signature against a document",
	Long: `Re-hash the file and verify it against the stored signature
record. The record's status transitions to verified or failed. Exits
with a non-zero status when verification fails.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		// #nosec G304 - file path is provided by the user
		content, err := os.ReadFile(args[1])
		if err != nil {
			handleError(fmt.Errorf("failed to read %s: %w", args[1], err))
		}

		service, closer, err := newService()
		if err != nil {
			handleError(err)
		}
		defer closer()

		record, err := service.VerifySignature(cmd.Context(), args[0], content)
		if err != nil {
			handleError(err)
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintSignature(record); err != nil {
			handleError(err)
		}

		if record.VerificationStatus != types.VerificationVerified {
			os.Exit(1)
		}
	},
}

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

	"github.com/jeremyhahn/go-docsign/pkg/types"
)

var keyWrapPolicy string

// keyCmd represents the key command group
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage signing keys",
}

var keyCreateCmd = &cobra.Command{
	Use:   "create <display-name>",
	Short: "Create a new signing key",
	Long: `Create a new ECDSA P-256 signing key. The key is created in the
hardware module when one is usable, otherwise in the software provider.
Hardware keys with an archiving policy are wrapped into a sealed
envelope immediately; the live hardware copy is destroyed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		policy, err := types.ParseWrapPolicy(keyWrapPolicy)
		if err != nil {
			handleError(err)
		}

		service, closer, err := newService()
		if err != nil {
			handleError(err)
		}
		defer closer()

		desc, err := service.CreateKey(cmd.Context(), args[0], policy)
		if err != nil {
			handleError(err)
		}

		printVerbose("created key %s with provider %s", desc.ID, desc.Provider.Kind)
		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintKey(desc); err != nil {
			handleError(err)
		}
	},
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List signing keys",
	Run: func(cmd *cobra.Command, args []string) {
		service, closer, err := newService()
		if err != nil {
			handleError(err)
		}
		defer closer()

		keys, err := service.ListKeys()
		if err != nil {
			handleError(err)
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintKeyList(keys); err != nil {
			handleError(err)
		}
	},
}

var keyInfoCmd = &cobra.Command{
	Use:   "info <key-id>",
	Short: "Show key details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		service, closer, err := newService()
		if err != nil {
			handleError(err)
		}
		defer closer()

		desc, err := service.GetKey(args[0])
		if err != nil {
			handleError(err)
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintKey(desc); err != nil {
			handleError(err)
		}
	},
}

var keyRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke a signing key",
	Long: `Revoke a signing key. Revoked keys stop producing signatures but
their existing signatures remain verifiable. Revocation cannot be
undone.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		service, closer, err := newService()
		if err != nil {
			handleError(err)
		}
		defer closer()

		desc, err := service.RevokeKey(cmd.Context(), args[0])
		if err != nil {
			handleError(err)
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintKey(desc); err != nil {
			handleError(err)
		}
	},
}

var keyDeleteCmd = &cobra.Command{
	Use:   "delete <key-id>",
	Short: "Delete a signing key",
	Long: `Delete a signing key: its provider-held material, its sealed
envelope if one exists, and its descriptor. Existing signature records
are retained.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		service, closer, err := newService()
		if err != nil {
			handleError(err)
		}
		defer closer()

		if err := service.DeleteKey(cmd.Context(), args[0]); err != nil {
			handleError(err)
		}
		printVerbose("deleted key %s", args[0])
	},
}

func init() {
	keyCreateCmd.Flags().StringVar(&keyWrapPolicy, "wrap-policy", string(types.WrapPolicyAllowArchiving),
		"wrap policy (no-export, allow-archiving)")

	keyCmd.AddCommand(keyCreateCmd)
	keyCmd.AddCommand(keyListCmd)
	keyCmd.AddCommand(keyInfoCmd)
	keyCmd.AddCommand(keyRevokeCmd)
	keyCmd.AddCommand(keyDeleteCmd)
}

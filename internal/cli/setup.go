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

	"github.com/jeremyhahn/go-docsign/internal/setupd"
	"github.com/jeremyhahn/go-docsign/pkg/types"
)

var setupWrapPolicy string

// setupCmd groups operations that go through the elevated setup daemon
var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Elevated setup operations via docsign-setupd",
	Long: `Setup operations need elevated privileges to reach the hardware
module's owner hierarchy. They are performed by the docsign-setupd
daemon; these commands talk to it over its unix socket and receive
keys only in serialized envelope form.`,
}

// newSetupClient builds a client for the configured daemon socket.
func newSetupClient() (*setupd.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return setupd.NewClient(cfg.Setupd.SocketPath), nil
}

var setupKeyCmd = &cobra.Command{
	Use:   "key <display-name>",
	Short: "Create a hardware key via the setup daemon",
	Long: `Ask the setup daemon to create a hardware key and archive it as a
sealed envelope. The descriptor and envelope are adopted into the local
store; no live hardware handle crosses the privilege boundary.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		policy, err := types.ParseWrapPolicy(setupWrapPolicy)
		if err != nil {
			handleError(err)
		}

		client, err := newSetupClient()
		if err != nil {
			handleError(err)
		}

		desc, envelope, err := client.CreateKey(cmd.Context(), args[0], policy)
		if err != nil {
			handleError(err)
		}

		service, closer, err := newService()
		if err != nil {
			handleError(err)
		}
		defer closer()

		if err := service.AdoptKey(desc, envelope); err != nil {
			handleError(err)
		}

		printVerbose("adopted key %s from setup daemon", desc.ID)
		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintKey(desc); err != nil {
			handleError(err)
		}
	},
}

var setupResealCmd = &cobra.Command{
	Use:   "reseal",
	Short: "Rotate the vault integrity salt",
	Long: `Ask the setup daemon to rotate the envelope integrity salt,
re-authenticate every stored envelope and retry any pending residual
hardware copy deletions.`,
	Run: func(cmd *cobra.Command, args []string) {
		client, err := newSetupClient()
		if err != nil {
			handleError(err)
		}
		if err := client.Reseal(cmd.Context()); err != nil {
			handleError(err)
		}
		printVerbose("reseal complete")
	},
}

var setupStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the setup daemon and hardware capability",
	Run: func(cmd *cobra.Command, args []string) {
		client, err := newSetupClient()
		if err != nil {
			handleError(err)
		}

		capability, err := client.Capability(cmd.Context())
		if err != nil {
			handleError(err)
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintCapability(capability); err != nil {
			handleError(err)
		}
	},
}

func init() {
	setupKeyCmd.Flags().StringVar(&setupWrapPolicy, "wrap-policy", string(types.WrapPolicyAllowArchiving),
		"wrap policy (no-export, allow-archiving)")

	setupCmd.AddCommand(setupKeyCmd)
	setupCmd.AddCommand(setupResealCmd)
	setupCmd.AddCommand(setupStatusCmd)
}

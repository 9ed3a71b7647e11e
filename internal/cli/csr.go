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

var (
	csrCommonName   string
	csrOrganization string
	csrOrgUnit      string
	csrCountry      string
	csrProvince     string
	csrLocality     string
	csrCertType     string
)

// csrCmd issues a certificate signing request
var csrCmd = &cobra.Command{
	Use:   "csr <key-id>",
	Short: "Issue a PKCS#10 certificate signing request",
	Long: `Issue a PEM-encoded PKCS#10 certificate signing request for the
named key. The private key never leaves its provider; the request is
signed through the engine's normal signing path. The extended key usage
extension is fixed by the certificate type.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		certType, err := types.ParseCertificateType(csrCertType)
		if err != nil {
			handleError(err)
		}

		service, closer, err := newService()
		if err != nil {
			handleError(err)
		}
		defer closer()

		request, err := service.IssueCSR(cmd.Context(), args[0], types.Subject{
			CommonName:         csrCommonName,
			Organization:       csrOrganization,
			OrganizationalUnit: csrOrgUnit,
			Country:            csrCountry,
			Province:           csrProvince,
			Locality:           csrLocality,
		}, certType)
		if err != nil {
			handleError(err)
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintCSR(request); err != nil {
			handleError(err)
		}
	},
}

func init() {
	csrCmd.Flags().StringVar(&csrCommonName, "cn", "", "subject common name (required)")
	csrCmd.Flags().StringVar(&csrOrganization, "org", "", "subject organization")
	csrCmd.Flags().StringVar(&csrOrgUnit, "ou", "", "subject organizational unit")
	csrCmd.Flags().StringVar(&csrCountry, "country", "", "subject country")
	csrCmd.Flags().StringVar(&csrProvince, "province", "", "subject province")
	csrCmd.Flags().StringVar(&csrLocality, "locality", "", "subject locality")
	csrCmd.Flags().StringVar(&csrCertType, "type", string(types.CertTypeClient),
		"certificate type (client, server, codesigning, email, all)")
	_ = csrCmd.MarkFlagRequired("cn")
}

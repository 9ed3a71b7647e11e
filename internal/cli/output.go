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
	"encoding/json"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-docsign/pkg/types"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

func (p *Printer) printJSON(v interface{}) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	if p.format == OutputFormatJSON {
		return p.printJSON(map[string]string{"error": err.Error()})
	}
	_, werr := fmt.Fprintf(p.writer, "Error: %v\n", err)
	return werr
}

// PrintKey prints a key descriptor
func (p *Printer) PrintKey(desc *types.KeyDescriptor) error {
	if p.format == OutputFormatJSON {
		return p.printJSON(desc)
	}
	fmt.Fprintf(p.writer, "ID:          %s\n", desc.ID)
	fmt.Fprintf(p.writer, "Name:        %s\n", desc.DisplayName)
	fmt.Fprintf(p.writer, "Provider:    %s\n", desc.Provider.Kind)
	fmt.Fprintf(p.writer, "Algorithm:   %s\n", desc.Algorithm)
	fmt.Fprintf(p.writer, "Handle:      %s\n", desc.Handle)
	fmt.Fprintf(p.writer, "Wrap policy: %s\n", desc.WrapPolicy)
	fmt.Fprintf(p.writer, "Status:      %s\n", desc.Status)
	fmt.Fprintf(p.writer, "Usage count: %d\n", desc.UsageCount)
	fmt.Fprintf(p.writer, "Created:     %s\n", desc.CreatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

// PrintKeyList prints a list of key descriptors
func (p *Printer) PrintKeyList(keys []*types.KeyDescriptor) error {
	if p.format == OutputFormatJSON {
		return p.printJSON(map[string]interface{}{"keys": keys})
	}
	if len(keys) == 0 {
		fmt.Fprintln(p.writer, "No keys found")
		return nil
	}
	fmt.Fprintf(p.writer, "%-36s  %-10s  %-8s  %s\n", "ID", "PROVIDER", "STATUS", "NAME")
	for _, k := range keys {
		fmt.Fprintf(p.writer, "%-36s  %-10s  %-8s  %s\n", k.ID, k.Provider.Kind, k.Status, k.DisplayName)
	}
	return nil
}

// PrintSignature prints a signature record
func (p *Printer) PrintSignature(record *types.SignatureRecord) error {
	if p.format == OutputFormatJSON {
		return p.printJSON(record)
	}
	fmt.Fprintf(p.writer, "Signature ID:  %s\n", record.ID)
	fmt.Fprintf(p.writer, "Key ID:        %s\n", record.KeyID)
	fmt.Fprintf(p.writer, "Document hash: %s\n", record.DocumentHash)
	fmt.Fprintf(p.writer, "Algorithm:     %s\n", record.Algorithm)
	fmt.Fprintf(p.writer, "Status:        %s\n", record.VerificationStatus)
	fmt.Fprintf(p.writer, "Signed at:     %s\n", record.SignedAt.Format("2006-01-02 15:04:05"))
	return nil
}

// PrintCSR prints a certificate signing request
func (p *Printer) PrintCSR(request *types.CertificateSigningRequest) error {
	if p.format == OutputFormatJSON {
		return p.printJSON(request)
	}
	fmt.Fprintf(p.writer, "CSR ID:    %s\n", request.ID)
	fmt.Fprintf(p.writer, "Key ID:    %s\n", request.KeyID)
	fmt.Fprintf(p.writer, "Subject:   CN=%s\n", request.Subject.CommonName)
	fmt.Fprintf(p.writer, "Cert type: %s\n", request.CertType)
	fmt.Fprintf(p.writer, "%s", request.RequestPEM)
	return nil
}

// PrintCapability prints the hardware capability verdict
func (p *Printer) PrintCapability(capability *types.Capability) error {
	if p.format == OutputFormatJSON {
		return p.printJSON(capability)
	}
	fmt.Fprintf(p.writer, "Module present:    %t\n", capability.ModulePresent)
	fmt.Fprintf(p.writer, "Module ready:      %t\n", capability.ModuleReady)
	fmt.Fprintf(p.writer, "Module owned:      %t\n", capability.ModuleOwned)
	fmt.Fprintf(p.writer, "Provider usable:   %t\n", capability.ProviderUsable)
	if capability.ProviderUsable {
		fmt.Fprintln(p.writer, "Hardware-backed keys are available.")
	} else {
		fmt.Fprintln(p.writer, "Falling back to software keys.")
	}
	return nil
}

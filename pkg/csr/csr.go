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

// Package csr issues PKCS#10 certificate signing requests for engine
// keys. The private key never leaves its provider: the request is
// signed through the same digest-signing path used for documents, via
// a crypto.Signer adapter.
package csr

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-docsign/pkg/engine"
	"github.com/jeremyhahn/go-docsign/pkg/logging"
	"github.com/jeremyhahn/go-docsign/pkg/metrics"
	"github.com/jeremyhahn/go-docsign/pkg/types"
)

// ErrMissingCommonName is returned when the subject has no common name.
var ErrMissingCommonName = errors.New("csr: subject common name is required")

var (
	oidExtensionExtendedKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 37}

	oidServerAuth   = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}
	oidClientAuth   = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}
	oidCodeSigning  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 3}
	oidEmailProtect = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 4}
)

// Issuer builds certificate signing requests for keys held by the
// signing engine's providers.
type Issuer struct {
	engine *engine.Engine
	logger *logging.Logger
}

// NewIssuer creates a CSR issuer backed by the signing engine.
func NewIssuer(e *engine.Engine, logger *logging.Logger) *Issuer {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Issuer{
		engine: e,
		logger: logger,
	}
}

// Issue creates a PEM-encoded PKCS#10 request for the key identified by
// desc, with the extended key usage set selected by certType.
func (i *Issuer) Issue(ctx context.Context, desc *types.KeyDescriptor, subject types.Subject, certType types.CertificateType) (*types.CertificateSigningRequest, error) {
	start := time.Now()
	request, err := i.issue(ctx, desc, subject, certType)

	providerKind := "unknown"
	if desc != nil {
		providerKind = desc.Provider.Kind.String()
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	metrics.RecordOperation(metrics.OpCSR, providerKind, status, time.Since(start).Seconds())
	return request, err
}

func (i *Issuer) issue(ctx context.Context, desc *types.KeyDescriptor, subject types.Subject, certType types.CertificateType) (*types.CertificateSigningRequest, error) {
	if desc == nil {
		return nil, fmt.Errorf("%w: nil descriptor", types.ErrInvalidDescriptor)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if subject.CommonName == "" {
		return nil, ErrMissingCommonName
	}
	if !certType.IsValid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownCertificateType, certType)
	}

	publicKey, err := x509.ParsePKIXPublicKey(desc.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("csr: invalid public key for %s: %w", desc.ID, err)
	}

	ekuExt, err := extendedKeyUsageExtension(certType)
	if err != nil {
		return nil, err
	}

	template := x509.CertificateRequest{
		Subject:            subject.PKIXName(),
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		ExtraExtensions:    []pkix.Extension{ekuExt},
	}

	signer := &engineSigner{
		ctx:    ctx,
		engine: i.engine,
		desc:   desc,
		public: publicKey,
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, &template, signer)
	if err != nil {
		return nil, fmt.Errorf("csr: request creation for %s failed: %w", desc.ID, err)
	}

	requestPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE REQUEST",
		Bytes: der,
	})

	i.logger.Debugf("csr: issued %s request for key %s (cn=%s)", certType, desc.ID, subject.CommonName)

	return &types.CertificateSigningRequest{
		ID:         uuid.NewString(),
		KeyID:      desc.ID,
		Subject:    subject,
		CertType:   certType,
		RequestPEM: requestPEM,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// extendedKeyUsageExtension maps a certificate type to its fixed
// extKeyUsage extension.
func extendedKeyUsageExtension(certType types.CertificateType) (pkix.Extension, error) {
	var oids []asn1.ObjectIdentifier
	switch certType {
	case types.CertTypeClient:
		oids = []asn1.ObjectIdentifier{oidClientAuth}
	case types.CertTypeServer:
		oids = []asn1.ObjectIdentifier{oidServerAuth}
	case types.CertTypeCodeSigning:
		oids = []asn1.ObjectIdentifier{oidCodeSigning}
	case types.CertTypeEmail:
		oids = []asn1.ObjectIdentifier{oidEmailProtect}
	case types.CertTypeAll:
		oids = []asn1.ObjectIdentifier{oidServerAuth, oidClientAuth, oidCodeSigning, oidEmailProtect}
	default:
		return pkix.Extension{}, fmt.Errorf("%w: %q", types.ErrUnknownCertificateType, certType)
	}

	value, err := asn1.Marshal(oids)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("csr: failed to encode extended key usage: %w", err)
	}
	return pkix.Extension{
		Id:    oidExtensionExtendedKeyUsage,
		Value: value,
	}, nil
}

// engineSigner adapts the engine's digest signing path to crypto.Signer
// so x509.CreateCertificateRequest can use provider-held keys.
type engineSigner struct {
	ctx    context.Context
	engine *engine.Engine
	desc   *types.KeyDescriptor
	public crypto.PublicKey
}

var _ crypto.Signer = (*engineSigner)(nil)

func (s *engineSigner) Public() crypto.PublicKey {
	return s.public
}

func (s *engineSigner) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if opts != nil && opts.HashFunc() != crypto.SHA256 {
		return nil, fmt.Errorf("csr: unsupported digest algorithm %v", opts.HashFunc())
	}
	return s.engine.SignDigest(s.ctx, s.desc, digest)
}

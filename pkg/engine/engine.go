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

// Package engine implements document signing and signature verification.
// Documents are hashed with SHA-256 and signed with ECDSA P-256 (ES256)
// through whichever key provider owns the descriptor. Hardware keys that
// have been wrapped into an envelope are unwrapped for the duration of a
// single signing call and released immediately after.
package engine

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-docsign/pkg/logging"
	"github.com/jeremyhahn/go-docsign/pkg/metrics"
	"github.com/jeremyhahn/go-docsign/pkg/provider"
	"github.com/jeremyhahn/go-docsign/pkg/types"
	"github.com/jeremyhahn/go-docsign/pkg/vault"
)

// Engine signs document content and verifies detached signatures.
type Engine struct {
	factory *provider.Factory
	vault   *vault.Vault
	logger  *logging.Logger
}

// New creates a signing engine. The vault may be nil when the deployment
// has no hardware module; wrapped-key signing then reports the key as
// not found.
func New(factory *provider.Factory, v *vault.Vault, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Engine{
		factory: factory,
		vault:   v,
		logger:  logger,
	}
}

// SignDocument hashes content with SHA-256 and signs the digest with the
// key identified by desc. The returned record carries the hex document
// hash, the ASN.1 DER signature and a pending verification status.
func (e *Engine) SignDocument(ctx context.Context, content []byte, desc *types.KeyDescriptor) (*types.SignatureRecord, error) {
	start := time.Now()
	record, err := e.signDocument(ctx, content, desc)

	providerKind := "unknown"
	if desc != nil {
		providerKind = desc.Provider.Kind.String()
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	metrics.RecordOperation(metrics.OpSign, providerKind, status, time.Since(start).Seconds())
	return record, err
}

func (e *Engine) signDocument(ctx context.Context, content []byte, desc *types.KeyDescriptor) (*types.SignatureRecord, error) {
	if desc == nil {
		return nil, fmt.Errorf("%w: nil descriptor", types.ErrInvalidDescriptor)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	digest := sha256.Sum256(content)
	signature, err := e.SignDigest(ctx, desc, digest[:])
	if err != nil {
		return nil, err
	}

	record := &types.SignatureRecord{
		ID:                 uuid.NewString(),
		KeyID:              desc.ID,
		DocumentHash:       hex.EncodeToString(digest[:]),
		Signature:          signature,
		Algorithm:          types.AlgorithmES256,
		SignedAt:           time.Now().UTC(),
		VerificationStatus: types.VerificationPending,
	}

	e.logger.Debugf("engine: signed %d bytes with key %s", len(content), desc.ID)
	return record, nil
}

// SignDigest signs a precomputed SHA-256 digest. Hardware keys whose
// resident material was wrapped away are unwrapped from their stored
// envelope for the duration of the call.
func (e *Engine) SignDigest(ctx context.Context, desc *types.KeyDescriptor, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("%w: digest must be %d bytes", types.ErrInvalidDescriptor, sha256.Size)
	}

	if e.isWrapped(desc) {
		return e.signWrapped(ctx, desc, digest)
	}

	p, err := e.factory.For(desc)
	if err != nil {
		return nil, err
	}
	return p.Sign(ctx, desc, digest)
}

// isWrapped reports whether the hardware key's resident material has been
// exported into the vault, leaving no blobs on the descriptor.
func (e *Engine) isWrapped(desc *types.KeyDescriptor) bool {
	return desc.IsHardware() &&
		desc.Provider.Hardware != nil &&
		len(desc.Provider.Hardware.PrivateBlob) == 0
}

func (e *Engine) signWrapped(ctx context.Context, desc *types.KeyDescriptor, digest []byte) ([]byte, error) {
	if e.vault == nil {
		return nil, fmt.Errorf("%w: key %s is wrapped and no vault is configured", types.ErrKeyNotFound, desc.ID)
	}

	envelope, err := e.vault.LoadEnvelope(desc.ID)
	if err != nil {
		return nil, err
	}

	var signature []byte
	err = e.vault.WithUnwrapped(ctx, envelope, func(lease *vault.Lease) error {
		var signErr error
		signature, signErr = lease.Sign(digest)
		return signErr
	})
	if err != nil {
		return nil, err
	}
	return signature, nil
}

// VerifySignature re-hashes content and checks signature against the
// PKIX-encoded public key. A bad signature is a Failed verdict, not an
// error; only a malformed public key is.
func (e *Engine) VerifySignature(content, signature, publicKey []byte) (types.VerificationStatus, error) {
	digest := sha256.Sum256(content)
	return e.VerifyDigest(digest[:], signature, publicKey)
}

// VerifyDigest checks an ASN.1 DER ECDSA signature over a precomputed
// SHA-256 digest.
func (e *Engine) VerifyDigest(digest, signature, publicKey []byte) (types.VerificationStatus, error) {
	parsed, err := x509.ParsePKIXPublicKey(publicKey)
	if err != nil {
		return types.VerificationFailed, fmt.Errorf("engine: invalid public key: %w", err)
	}
	ecdsaKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return types.VerificationFailed, fmt.Errorf("engine: public key is %T, want *ecdsa.PublicKey", parsed)
	}

	if ecdsa.VerifyASN1(ecdsaKey, digest, signature) {
		metrics.RecordVerification(types.VerificationVerified.String())
		return types.VerificationVerified, nil
	}
	metrics.RecordVerification(types.VerificationFailed.String())
	return types.VerificationFailed, nil
}

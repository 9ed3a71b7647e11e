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

// Package provider defines the key provider abstraction. A provider
// owns the private key material for the keys it creates; callers hold
// only descriptors and interact with keys exclusively through a
// provider.
package provider

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"

	"github.com/jeremyhahn/go-docsign/pkg/types"
)

// Provider creates, uses and deletes signing keys of one kind.
//
// Implementations must treat the descriptor Handle as the sole key
// identifier for open, sign and delete; the display name is a label
// with no provider meaning.
type Provider interface {

	// Kind identifies the provider variant.
	Kind() types.ProviderKind

	// Create generates a new ECDSA P-256 signing key and returns its
	// descriptor. The descriptor's Handle is assigned by the provider
	// from its own creation response.
	Create(ctx context.Context, displayName string, policy types.WrapPolicy) (*types.KeyDescriptor, error)

	// Sign signs a SHA-256 digest, returning an ASN.1 DER encoded
	// ECDSA signature.
	Sign(ctx context.Context, desc *types.KeyDescriptor, digest []byte) ([]byte, error)

	// Verify checks a signature against the descriptor's public key.
	// It requires no private material and never fails for a merely
	// invalid signature; it reports false.
	Verify(desc *types.KeyDescriptor, digest, signature []byte) bool

	// Delete destroys the provider-held key material. Deleting an
	// already-deleted key returns types.ErrKeyNotFound.
	Delete(ctx context.Context, desc *types.KeyDescriptor) error
}

// VerifyDigest verifies an ASN.1 ECDSA signature over a digest using
// the descriptor's PKIX encoded public key. Shared by all providers so
// verification never depends on provider internals.
func VerifyDigest(desc *types.KeyDescriptor, digest, signature []byte) bool {
	if desc == nil || len(desc.PublicKey) == 0 {
		return false
	}
	parsed, err := x509.ParsePKIXPublicKey(desc.PublicKey)
	if err != nil {
		return false
	}
	publicKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return false
	}
	return ecdsa.VerifyASN1(publicKey, digest, signature)
}

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

// Package software implements the in-process key provider used when no
// hardware security module is available. Private keys are held as
// PKCS#8 documents in the storage backend; the security boundary is
// the process and filesystem permissions, nothing stronger.
package software

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-docsign/pkg/logging"
	"github.com/jeremyhahn/go-docsign/pkg/provider"
	"github.com/jeremyhahn/go-docsign/pkg/storage"
	"github.com/jeremyhahn/go-docsign/pkg/types"
)

// keyMaterialPrefix namespaces software key material in the backend.
const keyMaterialPrefix = "softkeys/"

// Provider is the software key provider.
type Provider struct {
	store  storage.Backend
	logger *logging.Logger
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider creates a software provider persisting key material in
// the given backend.
func NewProvider(store storage.Backend, logger *logging.Logger) *Provider {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Provider{
		store:  store,
		logger: logger,
	}
}

// Kind returns types.ProviderSoftware.
func (p *Provider) Kind() types.ProviderKind {
	return types.ProviderSoftware
}

// Create generates an ECDSA P-256 key, persists it as PKCS#8 and
// returns its descriptor. The handle is derived from the public key,
// so it identifies the key material rather than the request.
func (p *Provider) Create(ctx context.Context, displayName string, policy types.WrapPolicy) (*types.KeyDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("software: key generation failed: %w", err)
	}

	material, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("software: failed to encode key material: %w", err)
	}

	publicKey, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("software: failed to encode public key: %w", err)
	}

	id := uuid.NewString()
	ref := keyMaterialPrefix + id

	if err := p.store.Put(ref, material, nil); err != nil {
		return nil, fmt.Errorf("software: failed to persist key material: %w", err)
	}

	handle := sha256.Sum256(publicKey)

	return &types.KeyDescriptor{
		ID:          id,
		DisplayName: displayName,
		Algorithm:   types.AlgorithmES256,
		Provider: types.ProviderRef{
			Kind:     types.ProviderSoftware,
			Software: &types.SoftwareRef{KeyMaterialRef: ref},
		},
		Handle:     hex.EncodeToString(handle[:]),
		PublicKey:  publicKey,
		WrapPolicy: policy,
		Status:     types.KeyStatusActive,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Sign signs a SHA-256 digest with the persisted key material.
func (p *Provider) Sign(ctx context.Context, desc *types.KeyDescriptor, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := p.load(desc)
	if err != nil {
		return nil, err
	}
	return ecdsa.SignASN1(rand.Reader, key, digest)
}

// Verify checks a signature against the descriptor's public key.
func (p *Provider) Verify(desc *types.KeyDescriptor, digest, signature []byte) bool {
	return provider.VerifyDigest(desc, digest, signature)
}

// Delete removes the persisted key material.
func (p *Provider) Delete(ctx context.Context, desc *types.KeyDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ref, err := materialRef(desc)
	if err != nil {
		return err
	}

	if err := p.store.Delete(ref); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", types.ErrKeyNotFound, desc.ID)
		}
		return fmt.Errorf("software: failed to delete key material: %w", err)
	}
	return nil
}

// load retrieves and parses the descriptor's key material.
func (p *Provider) load(desc *types.KeyDescriptor) (*ecdsa.PrivateKey, error) {
	ref, err := materialRef(desc)
	if err != nil {
		return nil, err
	}

	material, err := p.store.Get(ref)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrKeyNotFound, desc.ID)
		}
		return nil, fmt.Errorf("software: failed to load key material: %w", err)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(material)
	if err != nil {
		return nil, fmt.Errorf("software: corrupt key material for %s: %w", desc.ID, err)
	}

	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("software: key material for %s is not ECDSA", desc.ID)
	}
	return key, nil
}

// materialRef validates the descriptor and returns its storage key.
func materialRef(desc *types.KeyDescriptor) (string, error) {
	if desc == nil || desc.Provider.Kind != types.ProviderSoftware || desc.Provider.Software == nil {
		return "", fmt.Errorf("%w: not a software key", types.ErrInvalidDescriptor)
	}
	if desc.Provider.Software.KeyMaterialRef == "" {
		return "", fmt.Errorf("%w: missing key material reference", types.ErrInvalidDescriptor)
	}
	return desc.Provider.Software.KeyMaterialRef, nil
}

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

// Package hardware implements the key provider backed by the platform
// security module. Key material exists only as module-encrypted blobs;
// signatures are produced inside the module.
package hardware

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-docsign/pkg/logging"
	"github.com/jeremyhahn/go-docsign/pkg/provider"
	"github.com/jeremyhahn/go-docsign/pkg/storage"
	"github.com/jeremyhahn/go-docsign/pkg/tpm"
	"github.com/jeremyhahn/go-docsign/pkg/types"
)

// blobPrefix namespaces hardware key blobs in the backend. Blobs are
// module-encrypted, so at-rest exposure reveals nothing, but they are
// the durable form of the key and their deletion is the deletion of
// the key.
const blobPrefix = "hwkeys/"

// Provider is the hardware key provider.
type Provider struct {
	module tpm.Module
	store  storage.Backend
	logger *logging.Logger
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider creates a hardware provider over the given module.
func NewProvider(module tpm.Module, store storage.Backend, logger *logging.Logger) *Provider {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Provider{
		module: module,
		store:  store,
		logger: logger,
	}
}

// Kind returns types.ProviderHardware.
func (p *Provider) Kind() types.ProviderKind {
	return types.ProviderHardware
}

// Create generates a signing key inside the module. The descriptor
// handle is read back from the module's creation response, and the key
// is immediately reopened by that handle to prove it was persisted;
// a reopen failure is reported as ErrKeyPersistenceFailure rather than
// handing out a descriptor that cannot be used later.
func (p *Provider) Create(ctx context.Context, displayName string, policy types.WrapPolicy) (*types.KeyDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	created, err := p.module.CreateKey()
	if err != nil {
		if errors.Is(err, tpm.ErrModuleUnavailable) || errors.Is(err, tpm.ErrModuleNotProvisioned) {
			return nil, fmt.Errorf("%w: %v", types.ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("hardware: key creation failed: %w", err)
	}

	id := uuid.NewString()

	if err := p.store.Put(privateBlobKey(id), created.PrivateBlob, nil); err != nil {
		return nil, fmt.Errorf("hardware: failed to persist private blob: %w", err)
	}
	if err := p.store.Put(publicBlobKey(id), created.PublicBlob, nil); err != nil {
		p.store.Delete(privateBlobKey(id))
		return nil, fmt.Errorf("hardware: failed to persist public blob: %w", err)
	}

	if err := p.verifyReopen(created); err != nil {
		p.store.Delete(privateBlobKey(id))
		p.store.Delete(publicBlobKey(id))
		return nil, err
	}

	publicKey, err := marshalPublicKey(created)
	if err != nil {
		p.store.Delete(privateBlobKey(id))
		p.store.Delete(publicBlobKey(id))
		return nil, err
	}

	if policy == "" {
		policy = types.WrapPolicyNoExport
	}

	return &types.KeyDescriptor{
		ID:          id,
		DisplayName: displayName,
		Algorithm:   types.AlgorithmES256,
		Provider: types.ProviderRef{
			Kind: types.ProviderHardware,
			Hardware: &types.HardwareRef{
				Handle:      created.Name,
				PrivateBlob: created.PrivateBlob,
				PublicBlob:  created.PublicBlob,
			},
		},
		Handle:     created.Name,
		PublicKey:  publicKey,
		WrapPolicy: policy,
		Status:     types.KeyStatusActive,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// verifyReopen reloads the freshly created key by its blobs and checks
// the module reports the same name. A key that cannot be reopened now
// will not be usable later either; failing here keeps broken keys out
// of circulation.
func (p *Provider) verifyReopen(created *tpm.CreatedKey) error {
	loaded, err := p.module.LoadKey(created.PrivateBlob, created.PublicBlob)
	if err != nil {
		if errors.Is(err, tpm.ErrModuleUnavailable) || errors.Is(err, tpm.ErrModuleNotProvisioned) {
			return fmt.Errorf("%w: reopen failed: %v; if elevated privileges were dropped since setup, re-run key creation in the setup context", types.ErrKeyPersistenceFailure, err)
		}
		return fmt.Errorf("%w: the module cannot reload the key it just created: %v; the module's key store may have been cleared or reset and needs re-provisioning", types.ErrKeyPersistenceFailure, err)
	}
	defer p.module.Flush(loaded)

	if loaded.Name != created.Name {
		return fmt.Errorf("%w: module returned name %s on reopen, expected %s", types.ErrKeyPersistenceFailure, loaded.Name, created.Name)
	}
	return nil
}

// Sign signs a SHA-256 digest inside the module. The key is loaded for
// the duration of the call and flushed on every path.
func (p *Provider) Sign(ctx context.Context, desc *types.KeyDescriptor, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref, err := hardwareRef(desc)
	if err != nil {
		return nil, err
	}
	if len(ref.PrivateBlob) == 0 {
		return nil, fmt.Errorf("%w: key %s has no resident hardware material (wrapped or deleted)", types.ErrKeyNotFound, desc.ID)
	}

	loaded, err := p.module.LoadKey(ref.PrivateBlob, ref.PublicBlob)
	if err != nil {
		return nil, fmt.Errorf("hardware: failed to load key %s: %w", desc.ID, err)
	}
	defer p.module.Flush(loaded)

	signature, err := p.module.Sign(loaded, digest)
	if err != nil {
		return nil, fmt.Errorf("hardware: signing with key %s failed: %w", desc.ID, err)
	}
	return signature, nil
}

// Verify checks a signature against the descriptor's public key. This
// needs no module access at all.
func (p *Provider) Verify(desc *types.KeyDescriptor, digest, signature []byte) bool {
	return provider.VerifyDigest(desc, digest, signature)
}

// Delete removes the durable blobs, destroying the key.
func (p *Provider) Delete(ctx context.Context, desc *types.KeyDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := hardwareRef(desc); err != nil {
		return err
	}
	if err := p.DeleteByID(ctx, desc.ID); err != nil {
		return err
	}
	desc.Provider.Hardware.PrivateBlob = nil
	desc.Provider.Hardware.PublicBlob = nil
	return nil
}

// DeleteByID removes the durable blobs for a key id. Used by the vault
// to destroy the live hardware copy after a successful export, and to
// retry deletions that previously failed.
func (p *Provider) DeleteByID(ctx context.Context, keyID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	privErr := p.store.Delete(privateBlobKey(keyID))
	pubErr := p.store.Delete(publicBlobKey(keyID))

	if errors.Is(privErr, storage.ErrNotFound) && errors.Is(pubErr, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", types.ErrKeyNotFound, keyID)
	}
	if privErr != nil && !errors.Is(privErr, storage.ErrNotFound) {
		return fmt.Errorf("hardware: failed to delete private blob for %s: %w", keyID, privErr)
	}
	if pubErr != nil && !errors.Is(pubErr, storage.ErrNotFound) {
		return fmt.Errorf("hardware: failed to delete public blob for %s: %w", keyID, pubErr)
	}
	return nil
}

func privateBlobKey(id string) string {
	return blobPrefix + id + ".priv"
}

func publicBlobKey(id string) string {
	return blobPrefix + id + ".pub"
}

func marshalPublicKey(created *tpm.CreatedKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(created.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("hardware: failed to encode public key: %w", err)
	}
	return der, nil
}

// hardwareRef validates the descriptor and returns its hardware ref.
func hardwareRef(desc *types.KeyDescriptor) (*types.HardwareRef, error) {
	if desc == nil || desc.Provider.Kind != types.ProviderHardware || desc.Provider.Hardware == nil {
		return nil, fmt.Errorf("%w: not a hardware key", types.ErrInvalidDescriptor)
	}
	return desc.Provider.Hardware, nil
}

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

// Package vault implements the wrapping vault: it exports hardware
// keys into sealed envelopes for archival, re-imports them for use
// under scoped leases, and maintains an integrity MAC over every
// persisted envelope.
package vault

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/jeremyhahn/go-docsign/pkg/logging"
	"github.com/jeremyhahn/go-docsign/pkg/metrics"
	"github.com/jeremyhahn/go-docsign/pkg/storage"
	"github.com/jeremyhahn/go-docsign/pkg/tpm"
	"github.com/jeremyhahn/go-docsign/pkg/types"
)

const (
	// Storage keys for the vault's own state.
	seedStorageKey = "vault/seed"
	saltStorageKey = "vault/salt"

	// saltNextStorageKey records an in-flight salt rotation. It is
	// written before any envelope is re-sealed and removed after the
	// rotation commits, so an interrupted reseal can be completed on
	// the next startup instead of leaving envelopes unreadable.
	saltNextStorageKey = "vault/salt.next"

	// hkdfInfo domain-separates the envelope integrity key.
	hkdfInfo = "docsign-envelope-integrity"
)

// KeyDeleter destroys the durable hardware copy of a key. The vault
// calls it after a successful export, and again on reseal for keys
// whose deletion previously failed.
type KeyDeleter interface {
	DeleteByID(ctx context.Context, keyID string) error
}

// Vault wraps and unwraps hardware keys. Safe for concurrent use; all
// operations are serialized because they share the module and the
// integrity key state.
type Vault struct {
	module  tpm.Module
	store   storage.Backend
	deleter KeyDeleter
	logger  *logging.Logger

	mu           sync.Mutex
	integrityKey []byte
}

// New creates a vault over the given module and backend. The envelope
// integrity key is derived with HKDF-SHA256 from a persistent seed and
// a salt that Reseal rotates; both are created on first use.
func New(module tpm.Module, store storage.Backend, deleter KeyDeleter, logger *logging.Logger) (*Vault, error) {
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	v := &Vault{
		module:  module,
		store:   store,
		deleter: deleter,
		logger:  logger,
	}

	seed, err := v.loadOrCreate(seedStorageKey)
	if err != nil {
		return nil, err
	}
	salt, err := v.loadOrCreate(saltStorageKey)
	if err != nil {
		return nil, err
	}

	v.integrityKey, err = deriveIntegrityKey(seed, salt)
	if err != nil {
		return nil, err
	}

	// A leftover rotation intent means a reseal was interrupted;
	// finish it before serving reads.
	nextSalt, err := v.store.Get(saltNextStorageKey)
	if err == nil {
		if err := v.completeRotation(seed, nextSalt); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("vault: failed to load rotation intent: %w", err)
	}
	return v, nil
}

// completeRotation finishes an interrupted salt rotation: envelopes
// already sealed under the new key are kept, the rest are re-sealed,
// then the new salt is committed. Idempotent.
func (v *Vault) completeRotation(seed, nextSalt []byte) error {
	nextKey, err := deriveIntegrityKey(seed, nextSalt)
	if err != nil {
		return err
	}

	storageKeys, err := v.store.List(storage.PrefixEnvelopes)
	if err != nil {
		return fmt.Errorf("vault: failed to list envelopes: %w", err)
	}
	for _, storageKey := range storageKeys {
		raw, err := v.store.Get(storageKey)
		if err != nil {
			return fmt.Errorf("vault: failed to load envelope at %s: %w", storageKey, err)
		}
		var sealed sealedEnvelope
		if err := json.Unmarshal(raw, &sealed); err != nil {
			return fmt.Errorf("%w: %v", types.ErrCorruptEnvelope, err)
		}
		if hmac.Equal(sealed.MAC, macWith(nextKey, sealed.Envelope)) {
			continue
		}
		if !hmac.Equal(sealed.MAC, macWith(v.integrityKey, sealed.Envelope)) {
			return fmt.Errorf("%w: integrity check failed at %s", types.ErrCorruptEnvelope, storageKey)
		}
		resealed, err := json.Marshal(sealedEnvelope{
			Envelope: sealed.Envelope,
			MAC:      macWith(nextKey, sealed.Envelope),
		})
		if err != nil {
			return fmt.Errorf("vault: failed to seal envelope at %s: %w", storageKey, err)
		}
		if err := v.store.Put(storageKey, resealed, nil); err != nil {
			return fmt.Errorf("vault: failed to persist envelope at %s: %w", storageKey, err)
		}
	}

	if err := v.store.Put(saltStorageKey, nextSalt, nil); err != nil {
		return fmt.Errorf("vault: failed to persist salt: %w", err)
	}
	if err := v.store.Delete(saltNextStorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		v.logger.Warnf("vault: failed to clear rotation intent: %v", err)
	}
	v.integrityKey = nextKey
	v.logger.Infof("vault: completed interrupted salt rotation")
	return nil
}

// Wrap exports a hardware key into a sealed envelope and destroys the
// live hardware copy. Software keys and keys with the no-export policy
// are refused with ErrExportPolicyViolation. If the post-export
// deletion fails the wrap still succeeds; the envelope is flagged with
// ResidualHardwareCopy and the deletion is retried on the next Reseal.
func (v *Vault) Wrap(ctx context.Context, desc *types.KeyDescriptor) (*types.KeyEnvelope, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	start := time.Now()
	envelope, err := v.wrap(ctx, desc)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	metrics.RecordOperation(metrics.OpWrap, types.ProviderHardware.String(), status, time.Since(start).Seconds())
	return envelope, err
}

func (v *Vault) wrap(ctx context.Context, desc *types.KeyDescriptor) (*types.KeyEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if desc == nil || !desc.IsHardware() || desc.Provider.Hardware == nil {
		return nil, fmt.Errorf("%w: only hardware keys can be wrapped", types.ErrExportPolicyViolation)
	}
	if desc.WrapPolicy == types.WrapPolicyNoExport {
		return nil, fmt.Errorf("%w: key %s has the no-export policy", types.ErrExportPolicyViolation, desc.ID)
	}
	if !desc.WrapPolicy.IsValid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownWrapPolicy, desc.WrapPolicy)
	}

	ref := desc.Provider.Hardware
	if len(ref.PrivateBlob) == 0 {
		return nil, fmt.Errorf("%w: key %s has no resident hardware material", types.ErrKeyNotFound, desc.ID)
	}

	loaded, err := v.module.LoadKey(ref.PrivateBlob, ref.PublicBlob)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to load key %s for export: %w", desc.ID, err)
	}
	defer v.module.Flush(loaded)

	exported, err := v.module.Export(loaded)
	if err != nil {
		return nil, fmt.Errorf("vault: export of key %s failed: %w", desc.ID, err)
	}

	if err := v.checkBlobSize(exported.WrappedBlob); err != nil {
		return nil, err
	}

	envelope := &types.KeyEnvelope{
		KeyID:       desc.ID,
		WrappedBlob: exported.WrappedBlob,
		PublicBlob:  exported.PublicBlob,
		PublicKey:   desc.PublicKey,
		WrapPolicy:  desc.WrapPolicy,
		BlobFormat:  types.BlobFormatTPM2Duplicate,
		CreatedAt:   time.Now().UTC(),
	}

	// The envelope must be durable before the live hardware copy is
	// destroyed; a failed store leaves the resident key untouched.
	if err := v.storeEnvelope(envelope); err != nil {
		return nil, err
	}

	// The export is persisted; the live hardware copy must now go away.
	// A failed deletion does not fail the wrap, but it is never silent.
	if err := v.deleter.DeleteByID(ctx, desc.ID); err != nil && !errors.Is(err, types.ErrKeyNotFound) {
		envelope.ResidualHardwareCopy = true
		metrics.RecordResidualCopy()
		v.logger.Warnf("vault: key %s wrapped but hardware copy deletion failed, will retry on reseal: %v", desc.ID, err)
		if err := v.storeEnvelope(envelope); err != nil {
			v.logger.Warnf("vault: failed to persist residual copy flag for key %s: %v", desc.ID, err)
		}
	} else {
		ref.PrivateBlob = nil
		ref.PublicBlob = nil
	}
	return envelope, nil
}

// Unwrap imports an envelope back into the module and returns a scoped
// lease on the live key. The module assigns a fresh handle on every
// unwrap; callers must not assume stability across wrap/unwrap cycles,
// and must Release the lease when done. Prefer WithUnwrapped.
func (v *Vault) Unwrap(ctx context.Context, envelope *types.KeyEnvelope) (*Lease, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	start := time.Now()
	lease, err := v.unwrap(ctx, envelope)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	metrics.RecordOperation(metrics.OpUnwrap, types.ProviderHardware.String(), status, time.Since(start).Seconds())
	return lease, err
}

func (v *Vault) unwrap(ctx context.Context, envelope *types.KeyEnvelope) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if envelope == nil {
		return nil, fmt.Errorf("%w: nil envelope", types.ErrCorruptEnvelope)
	}
	if envelope.BlobFormat != types.BlobFormatTPM2Duplicate {
		return nil, fmt.Errorf("%w: blob format %q", types.ErrUnsupportedEnvelopeVersion, envelope.BlobFormat)
	}
	if err := v.checkBlobSize(envelope.WrappedBlob); err != nil {
		return nil, err
	}

	loaded, err := v.module.Import(&tpm.ExportedKey{
		WrappedBlob: envelope.WrappedBlob,
		PublicBlob:  envelope.PublicBlob,
	})
	if err != nil {
		if errors.Is(err, tpm.ErrInvalidBlob) {
			return nil, fmt.Errorf("%w: %v", types.ErrCorruptEnvelope, err)
		}
		return nil, fmt.Errorf("vault: import of key %s failed: %w", envelope.KeyID, err)
	}

	return &Lease{
		vault: v,
		key:   loaded,
		keyID: envelope.KeyID,
	}, nil
}

// WithUnwrapped unwraps an envelope, runs fn with the lease, and
// releases the key on every path, including panics in fn.
func (v *Vault) WithUnwrapped(ctx context.Context, envelope *types.KeyEnvelope, fn func(*Lease) error) error {
	lease, err := v.Unwrap(ctx, envelope)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease)
}

// Reseal rotates the integrity key salt and re-seals every stored
// envelope under the new key. Envelopes flagged with a residual
// hardware copy get their deletion retried; success clears the flag.
func (v *Vault) Reseal(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	start := time.Now()
	err := v.reseal(ctx)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	metrics.RecordOperation(metrics.OpReseal, types.ProviderHardware.String(), status, time.Since(start).Seconds())
	return err
}

func (v *Vault) reseal(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	seed, err := v.store.Get(seedStorageKey)
	if err != nil {
		return fmt.Errorf("vault: failed to load seed: %w", err)
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("vault: failed to generate salt: %w", err)
	}
	newKey, err := deriveIntegrityKey(seed, salt)
	if err != nil {
		return err
	}

	// Record the rotation intent before touching any envelope. If the
	// process dies mid-rotation, startup finds the intent and finishes
	// the job instead of failing every integrity check.
	if err := v.store.Put(saltNextStorageKey, salt, nil); err != nil {
		return fmt.Errorf("vault: failed to persist rotation intent: %w", err)
	}

	storageKeys, err := v.store.List(storage.PrefixEnvelopes)
	if err != nil {
		return fmt.Errorf("vault: failed to list envelopes: %w", err)
	}

	// Verify under the old key, re-seal under the new one.
	resealed := make(map[string]*types.KeyEnvelope, len(storageKeys))
	for _, storageKey := range storageKeys {
		envelope, err := v.loadEnvelopeAt(storageKey)
		if err != nil {
			return fmt.Errorf("vault: reseal aborted: %w", err)
		}

		if envelope.ResidualHardwareCopy {
			err := v.deleter.DeleteByID(ctx, envelope.KeyID)
			if err == nil || errors.Is(err, types.ErrKeyNotFound) {
				envelope.ResidualHardwareCopy = false
				metrics.RecordResidualCleanup()
				v.logger.Infof("vault: residual hardware copy of key %s removed", envelope.KeyID)
			} else {
				v.logger.Warnf("vault: residual hardware copy of key %s still present: %v", envelope.KeyID, err)
			}
		}
		resealed[storageKey] = envelope
	}

	v.integrityKey = newKey
	for storageKey, envelope := range resealed {
		if err := v.storeEnvelopeAt(storageKey, envelope); err != nil {
			return err
		}
	}

	if err := v.store.Put(saltStorageKey, salt, nil); err != nil {
		return fmt.Errorf("vault: failed to persist salt: %w", err)
	}
	if err := v.store.Delete(saltNextStorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		v.logger.Warnf("vault: failed to clear rotation intent: %v", err)
	}
	return nil
}

// StoreEnvelope persists an envelope under the vault's integrity MAC.
// Used when an envelope produced elsewhere (the setup context) arrives
// over the privilege boundary.
func (v *Vault) StoreEnvelope(envelope *types.KeyEnvelope) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.storeEnvelope(envelope)
}

// LoadEnvelope retrieves and authenticates a stored envelope.
func (v *Vault) LoadEnvelope(keyID string) (*types.KeyEnvelope, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadEnvelopeAt(storage.PrefixEnvelopes + keyID)
}

// DeleteEnvelope removes a stored envelope.
func (v *Vault) DeleteEnvelope(keyID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.store.Delete(storage.PrefixEnvelopes + keyID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: no envelope for key %s", types.ErrKeyNotFound, keyID)
		}
		return fmt.Errorf("vault: failed to delete envelope for %s: %w", keyID, err)
	}
	return nil
}

// HasEnvelope reports whether an envelope is stored for the key.
func (v *Vault) HasEnvelope(keyID string) (bool, error) {
	return v.store.Exists(storage.PrefixEnvelopes + keyID)
}

// sealedEnvelope is the persisted document: the envelope JSON plus an
// HMAC-SHA256 over it under the vault integrity key.
type sealedEnvelope struct {
	Envelope json.RawMessage `json:"envelope"`
	MAC      []byte          `json:"mac"`
}

func (v *Vault) storeEnvelope(envelope *types.KeyEnvelope) error {
	return v.storeEnvelopeAt(storage.PrefixEnvelopes+envelope.KeyID, envelope)
}

func (v *Vault) storeEnvelopeAt(storageKey string, envelope *types.KeyEnvelope) error {
	doc, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("vault: failed to encode envelope for %s: %w", envelope.KeyID, err)
	}

	sealed, err := json.Marshal(sealedEnvelope{
		Envelope: doc,
		MAC:      v.mac(doc),
	})
	if err != nil {
		return fmt.Errorf("vault: failed to seal envelope for %s: %w", envelope.KeyID, err)
	}

	if err := v.store.Put(storageKey, sealed, nil); err != nil {
		return fmt.Errorf("vault: failed to persist envelope for %s: %w", envelope.KeyID, err)
	}
	return nil
}

func (v *Vault) loadEnvelopeAt(storageKey string) (*types.KeyEnvelope, error) {
	raw, err := v.store.Get(storageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: no envelope at %s", types.ErrKeyNotFound, storageKey)
		}
		return nil, fmt.Errorf("vault: failed to load envelope at %s: %w", storageKey, err)
	}

	var sealed sealedEnvelope
	if err := json.Unmarshal(raw, &sealed); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCorruptEnvelope, err)
	}
	if !hmac.Equal(sealed.MAC, v.mac(sealed.Envelope)) {
		return nil, fmt.Errorf("%w: integrity check failed at %s", types.ErrCorruptEnvelope, storageKey)
	}

	var envelope types.KeyEnvelope
	if err := json.Unmarshal(sealed.Envelope, &envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}

// checkBlobSize enforces the module's wrapped blob size invariant. A
// blob outside the expected range is corrupt or truncated and must be
// rejected before it reaches the module.
func (v *Vault) checkBlobSize(blob []byte) error {
	min, max := v.module.WrappedBlobBounds()
	if len(blob) < min || len(blob) > max {
		return fmt.Errorf("%w: wrapped blob is %d bytes, expected %d..%d", types.ErrCorruptEnvelope, len(blob), min, max)
	}
	return nil
}

func (v *Vault) mac(doc []byte) []byte {
	return macWith(v.integrityKey, doc)
}

func macWith(key, doc []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(doc)
	return m.Sum(nil)
}

// loadOrCreate returns persisted random vault state, generating and
// persisting 32 fresh bytes when absent.
func (v *Vault) loadOrCreate(storageKey string) ([]byte, error) {
	value, err := v.store.Get(storageKey)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("vault: failed to load %s: %w", storageKey, err)
	}

	value = make([]byte, 32)
	if _, err := rand.Read(value); err != nil {
		return nil, fmt.Errorf("vault: failed to generate %s: %w", storageKey, err)
	}
	if err := v.store.Put(storageKey, value, nil); err != nil {
		return nil, fmt.Errorf("vault: failed to persist %s: %w", storageKey, err)
	}
	return value, nil
}

func deriveIntegrityKey(seed, salt []byte) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("vault: integrity key derivation failed: %w", err)
	}
	return key, nil
}

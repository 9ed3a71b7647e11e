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

package vault

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-docsign/pkg/provider/hardware"
	"github.com/jeremyhahn/go-docsign/pkg/storage"
	"github.com/jeremyhahn/go-docsign/pkg/tpm"
	"github.com/jeremyhahn/go-docsign/pkg/types"
)

// flakyDeleter fails hardware copy deletion on demand.
type flakyDeleter struct {
	inner *hardware.Provider
	fail  bool
}

func (d *flakyDeleter) DeleteByID(ctx context.Context, keyID string) error {
	if d.fail {
		return errors.New("deletion blocked")
	}
	return d.inner.DeleteByID(ctx, keyID)
}

type fixture struct {
	module   *tpm.FakeModule
	store    *storage.MemoryBackend
	provider *hardware.Provider
	deleter  *flakyDeleter
	vault    *Vault
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	module := tpm.NewFakeModule()
	t.Cleanup(func() { module.Close() })

	store := storage.NewMemory()
	p := hardware.NewProvider(module, store, nil)
	deleter := &flakyDeleter{inner: p}

	v, err := New(module, store, deleter, nil)
	require.NoError(t, err)

	return &fixture{
		module:   module,
		store:    store,
		provider: p,
		deleter:  deleter,
		vault:    v,
	}
}

func (f *fixture) createKey(t *testing.T, policy types.WrapPolicy) *types.KeyDescriptor {
	t.Helper()
	desc, err := f.provider.Create(context.Background(), "archive-key", policy)
	require.NoError(t, err)
	return desc
}

func TestWrapUnwrapSignRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc := f.createKey(t, types.WrapPolicyAllowArchiving)

	envelope, err := f.vault.Wrap(ctx, desc)
	require.NoError(t, err)
	assert.Equal(t, desc.ID, envelope.KeyID)
	assert.Equal(t, types.BlobFormatTPM2Duplicate, envelope.BlobFormat)
	assert.False(t, envelope.ResidualHardwareCopy)

	// The live hardware copy is gone: blobs cleared from the
	// descriptor and removed from storage.
	assert.Empty(t, desc.Provider.Hardware.PrivateBlob)
	assert.ErrorIs(t, f.provider.DeleteByID(ctx, desc.ID), types.ErrKeyNotFound)

	digest := sha256.Sum256([]byte("signed content"))
	var signature []byte
	err = f.vault.WithUnwrapped(ctx, envelope, func(lease *Lease) error {
		var signErr error
		signature, signErr = lease.Sign(digest[:])
		return signErr
	})
	require.NoError(t, err)

	parsed, err := x509.ParsePKIXPublicKey(desc.PublicKey)
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(parsed.(*ecdsa.PublicKey), digest[:], signature))

	// The unwrapped key was released.
	assert.Equal(t, 0, f.module.LoadedCount())
}

func TestWrapNoExportPolicy(t *testing.T) {
	f := newFixture(t)

	desc := f.createKey(t, types.WrapPolicyNoExport)

	_, err := f.vault.Wrap(context.Background(), desc)
	assert.ErrorIs(t, err, types.ErrExportPolicyViolation)
}

func TestWrapSoftwareKeyRefused(t *testing.T) {
	f := newFixture(t)

	desc := &types.KeyDescriptor{
		ID:        "soft-1",
		Algorithm: types.AlgorithmES256,
		Provider: types.ProviderRef{
			Kind:     types.ProviderSoftware,
			Software: &types.SoftwareRef{KeyMaterialRef: "softkeys/soft-1"},
		},
	}

	_, err := f.vault.Wrap(context.Background(), desc)
	assert.ErrorIs(t, err, types.ErrExportPolicyViolation)
}

func TestWrapTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc := f.createKey(t, types.WrapPolicyAllowArchiving)

	_, err := f.vault.Wrap(ctx, desc)
	require.NoError(t, err)

	_, err = f.vault.Wrap(ctx, desc)
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestWrapResidualCopyRetriedOnReseal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc := f.createKey(t, types.WrapPolicyAllowArchiving)
	f.deleter.fail = true

	envelope, err := f.vault.Wrap(ctx, desc)
	require.NoError(t, err)
	assert.True(t, envelope.ResidualHardwareCopy)

	// The residual copy is still deletable later.
	assert.NotEmpty(t, desc.Provider.Hardware.PrivateBlob)

	stored, err := f.vault.LoadEnvelope(desc.ID)
	require.NoError(t, err)
	assert.True(t, stored.ResidualHardwareCopy)

	// Deletion works again; reseal retries and clears the flag.
	f.deleter.fail = false
	require.NoError(t, f.vault.Reseal(ctx))

	stored, err = f.vault.LoadEnvelope(desc.ID)
	require.NoError(t, err)
	assert.False(t, stored.ResidualHardwareCopy)
	assert.ErrorIs(t, f.provider.DeleteByID(ctx, desc.ID), types.ErrKeyNotFound)
}

func TestUnwrapLegacyEnvelopeRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc := f.createKey(t, types.WrapPolicyAllowArchiving)
	envelope, err := f.vault.Wrap(ctx, desc)
	require.NoError(t, err)

	legacy := *envelope
	legacy.BlobFormat = ""

	_, err = f.vault.Unwrap(ctx, &legacy)
	assert.ErrorIs(t, err, types.ErrUnsupportedEnvelopeVersion)
}

func TestUnwrapTruncatedBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc := f.createKey(t, types.WrapPolicyAllowArchiving)
	envelope, err := f.vault.Wrap(ctx, desc)
	require.NoError(t, err)

	truncated := *envelope
	truncated.WrappedBlob = truncated.WrappedBlob[:len(truncated.WrappedBlob)-4]

	_, err = f.vault.Unwrap(ctx, &truncated)
	assert.ErrorIs(t, err, types.ErrCorruptEnvelope)
}

func TestLoadEnvelopeTamperDetected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc := f.createKey(t, types.WrapPolicyAllowArchiving)
	_, err := f.vault.Wrap(ctx, desc)
	require.NoError(t, err)

	// Rewrite the inner envelope document without refreshing the MAC.
	storageKey := storage.PrefixEnvelopes + desc.ID
	raw, err := f.store.Get(storageKey)
	require.NoError(t, err)

	var sealed sealedEnvelope
	require.NoError(t, json.Unmarshal(raw, &sealed))
	var doc map[string]any
	require.NoError(t, json.Unmarshal(sealed.Envelope, &doc))
	doc["wrapPolicy"] = types.WrapPolicyAllowPlaintextArchiving.String()
	sealed.Envelope, err = json.Marshal(doc)
	require.NoError(t, err)
	tampered, err := json.Marshal(sealed)
	require.NoError(t, err)
	require.NoError(t, f.store.Put(storageKey, tampered, nil))

	_, err = f.vault.LoadEnvelope(desc.ID)
	assert.ErrorIs(t, err, types.ErrCorruptEnvelope)
}

func TestResealKeepsEnvelopesUsable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc := f.createKey(t, types.WrapPolicyAllowArchiving)
	_, err := f.vault.Wrap(ctx, desc)
	require.NoError(t, err)

	require.NoError(t, f.vault.Reseal(ctx))

	envelope, err := f.vault.LoadEnvelope(desc.ID)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("content"))
	err = f.vault.WithUnwrapped(ctx, envelope, func(lease *Lease) error {
		_, signErr := lease.Sign(digest[:])
		return signErr
	})
	require.NoError(t, err)
}

func TestWithUnwrappedReleasesOnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc := f.createKey(t, types.WrapPolicyAllowArchiving)
	envelope, err := f.vault.Wrap(ctx, desc)
	require.NoError(t, err)

	wantErr := errors.New("caller failure")
	err = f.vault.WithUnwrapped(ctx, envelope, func(*Lease) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 0, f.module.LoadedCount())
}

func TestLeaseDoubleRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc := f.createKey(t, types.WrapPolicyAllowArchiving)
	envelope, err := f.vault.Wrap(ctx, desc)
	require.NoError(t, err)

	lease, err := f.vault.Unwrap(ctx, envelope)
	require.NoError(t, err)

	require.NoError(t, lease.Release())
	require.NoError(t, lease.Release())

	_, err = lease.Sign([]byte("digest"))
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

// failingStore rejects writes on demand, passing everything else
// through to the wrapped backend.
type failingStore struct {
	storage.Backend
	failPut bool
}

func (s *failingStore) Put(key string, value []byte, opts *storage.Options) error {
	if s.failPut {
		return errors.New("backend write rejected")
	}
	return s.Backend.Put(key, value, opts)
}

func TestWrapStoreFailureKeepsResidentKey(t *testing.T) {
	module := tpm.NewFakeModule()
	t.Cleanup(func() { module.Close() })

	store := &failingStore{Backend: storage.NewMemory()}
	p := hardware.NewProvider(module, store, nil)
	v, err := New(module, store, p, nil)
	require.NoError(t, err)

	ctx := context.Background()
	desc, err := p.Create(ctx, "archive-key", types.WrapPolicyAllowArchiving)
	require.NoError(t, err)

	store.failPut = true
	_, err = v.Wrap(ctx, desc)
	require.Error(t, err)
	store.failPut = false

	// The failed wrap left no envelope behind and the resident
	// hardware copy is untouched.
	has, err := v.HasEnvelope(desc.ID)
	require.NoError(t, err)
	assert.False(t, has)
	assert.NotEmpty(t, desc.Provider.Hardware.PrivateBlob)

	digest := sha256.Sum256([]byte("still resident"))
	signature, err := p.Sign(ctx, desc, digest[:])
	require.NoError(t, err)

	parsed, err := x509.ParsePKIXPublicKey(desc.PublicKey)
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(parsed.(*ecdsa.PublicKey), digest[:], signature))

	// A retry with a healthy backend succeeds.
	envelope, err := v.Wrap(ctx, desc)
	require.NoError(t, err)
	assert.Equal(t, desc.ID, envelope.KeyID)
	assert.Empty(t, desc.Provider.Hardware.PrivateBlob)
}

// saltBlockingStore fails only the salt commit write, simulating a
// crash after envelopes were re-sealed but before the rotation landed.
type saltBlockingStore struct {
	storage.Backend
	blockSaltCommit bool
}

func (s *saltBlockingStore) Put(key string, value []byte, opts *storage.Options) error {
	if s.blockSaltCommit && key == saltStorageKey {
		return errors.New("salt commit blocked")
	}
	return s.Backend.Put(key, value, opts)
}

func TestResealInterruptedRotationRecovered(t *testing.T) {
	module := tpm.NewFakeModule()
	t.Cleanup(func() { module.Close() })

	store := &saltBlockingStore{Backend: storage.NewMemory()}
	p := hardware.NewProvider(module, store, nil)
	v, err := New(module, store, p, nil)
	require.NoError(t, err)

	ctx := context.Background()
	desc, err := p.Create(ctx, "archive-key", types.WrapPolicyAllowArchiving)
	require.NoError(t, err)
	envelope, err := v.Wrap(ctx, desc)
	require.NoError(t, err)

	// Envelopes get re-sealed under the new key, then the process dies
	// before the salt commit.
	store.blockSaltCommit = true
	require.Error(t, v.Reseal(ctx))
	store.blockSaltCommit = false

	// A fresh vault over the same store finds the rotation intent,
	// completes it, and the envelope stays readable and usable.
	recovered, err := New(module, store, p, nil)
	require.NoError(t, err)

	reloaded, err := recovered.LoadEnvelope(desc.ID)
	require.NoError(t, err)
	assert.Equal(t, envelope.KeyID, reloaded.KeyID)

	digest := sha256.Sum256([]byte("post-recovery"))
	err = recovered.WithUnwrapped(ctx, reloaded, func(lease *Lease) error {
		_, signErr := lease.Sign(digest[:])
		return signErr
	})
	require.NoError(t, err)

	// The intent is cleared once the rotation commits.
	exists, err := store.Exists(saltNextStorageKey)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestResealIntentWithoutProgressRecovered(t *testing.T) {
	module := tpm.NewFakeModule()
	t.Cleanup(func() { module.Close() })

	store := storage.NewMemory()
	p := hardware.NewProvider(module, store, nil)
	v, err := New(module, store, p, nil)
	require.NoError(t, err)

	ctx := context.Background()
	desc, err := p.Create(ctx, "archive-key", types.WrapPolicyAllowArchiving)
	require.NoError(t, err)
	_, err = v.Wrap(ctx, desc)
	require.NoError(t, err)

	// A rotation intent with no envelope re-sealed yet: the process
	// died immediately after recording it.
	nextSalt := make([]byte, 32)
	for i := range nextSalt {
		nextSalt[i] = byte(i)
	}
	require.NoError(t, store.Put(saltNextStorageKey, nextSalt, nil))

	recovered, err := New(module, store, p, nil)
	require.NoError(t, err)
	_, err = recovered.LoadEnvelope(desc.ID)
	require.NoError(t, err)
}

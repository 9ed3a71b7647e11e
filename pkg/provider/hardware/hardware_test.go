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

package hardware

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-docsign/pkg/storage"
	"github.com/jeremyhahn/go-docsign/pkg/tpm"
	"github.com/jeremyhahn/go-docsign/pkg/types"
)

func newTestProvider() (*Provider, *tpm.FakeModule, *storage.MemoryBackend) {
	module := tpm.NewFakeModule()
	store := storage.NewMemory()
	return NewProvider(module, store, nil), module, store
}

func TestCreateReadsBackModuleHandle(t *testing.T) {
	p, module, _ := newTestProvider()
	defer module.Close()

	desc, err := p.Create(context.Background(), "invoices", types.WrapPolicyAllowArchiving)
	require.NoError(t, err)
	require.NoError(t, desc.Validate())

	assert.Equal(t, types.ProviderHardware, desc.Provider.Kind)
	require.NotNil(t, desc.Provider.Hardware)
	assert.Equal(t, desc.Handle, desc.Provider.Hardware.Handle)
	assert.NotEqual(t, "invoices", desc.Handle)
	assert.NotEmpty(t, desc.Provider.Hardware.PrivateBlob)
	assert.NotEmpty(t, desc.Provider.Hardware.PublicBlob)

	// The reopen check must not leave keys resident in the module.
	assert.Equal(t, 0, module.LoadedCount())
}

func TestCreateModuleUnavailable(t *testing.T) {
	p, module, _ := newTestProvider()
	defer module.Close()
	module.Unavailable = true

	_, err := p.Create(context.Background(), "invoices", types.WrapPolicyNoExport)
	assert.ErrorIs(t, err, types.ErrProviderUnavailable)
}

func TestCreateReopenFailure(t *testing.T) {
	p, module, store := newTestProvider()
	defer module.Close()
	module.LoadErr = errors.New("object not found")

	_, err := p.Create(context.Background(), "invoices", types.WrapPolicyNoExport)
	assert.ErrorIs(t, err, types.ErrKeyPersistenceFailure)

	// Failed creations must not leave blobs behind.
	entries, err := store.List(blobPrefix)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSignAndVerify(t *testing.T) {
	p, module, _ := newTestProvider()
	defer module.Close()
	ctx := context.Background()

	desc, err := p.Create(ctx, "contracts", types.WrapPolicyNoExport)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("content"))
	signature, err := p.Sign(ctx, desc, digest[:])
	require.NoError(t, err)

	assert.True(t, p.Verify(desc, digest[:], signature))
	assert.False(t, p.Verify(desc, digest[:], []byte("garbage")))

	// Signing loads and flushes; nothing stays resident.
	assert.Equal(t, 0, module.LoadedCount())
}

func TestSignAfterMaterialRemoved(t *testing.T) {
	p, module, _ := newTestProvider()
	defer module.Close()
	ctx := context.Background()

	desc, err := p.Create(ctx, "contracts", types.WrapPolicyAllowArchiving)
	require.NoError(t, err)
	require.NoError(t, p.Delete(ctx, desc))

	digest := sha256.Sum256([]byte("content"))
	_, err = p.Sign(ctx, desc, digest[:])
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestDeleteByID(t *testing.T) {
	p, module, store := newTestProvider()
	defer module.Close()
	ctx := context.Background()

	desc, err := p.Create(ctx, "temp", types.WrapPolicyAllowArchiving)
	require.NoError(t, err)

	require.NoError(t, p.DeleteByID(ctx, desc.ID))

	entries, err := store.List(blobPrefix)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, p.DeleteByID(ctx, desc.ID), types.ErrKeyNotFound)
}

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

package tpm

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeModuleInfo(t *testing.T) {
	module := NewFakeModule()
	defer module.Close()

	info, err := module.Info()
	require.NoError(t, err)
	assert.True(t, info.Present)
	assert.True(t, info.Ready)
	assert.True(t, info.Owned)
	assert.Equal(t, "FAKE", info.Identity)
}

func TestFakeModuleInfoUnavailable(t *testing.T) {
	module := NewFakeModule()
	defer module.Close()
	module.Unavailable = true

	info, err := module.Info()
	require.NoError(t, err)
	assert.False(t, info.Present)

	_, err = module.CreateKey()
	assert.ErrorIs(t, err, ErrModuleUnavailable)
}

func TestFakeModuleEmptyIdentity(t *testing.T) {
	module := NewFakeModule()
	defer module.Close()
	module.EmptyIdentity = true

	info, err := module.Info()
	require.NoError(t, err)
	assert.True(t, info.Present)
	assert.Empty(t, info.Identity)
}

func TestFakeModuleCreateLoadSign(t *testing.T) {
	module := NewFakeModule()
	defer module.Close()

	created, err := module.CreateKey()
	require.NoError(t, err)
	require.NotEmpty(t, created.Name)
	require.NotEmpty(t, created.PrivateBlob)
	require.NotEmpty(t, created.PublicBlob)
	require.NotNil(t, created.PublicKey)

	loaded, err := module.LoadKey(created.PrivateBlob, created.PublicBlob)
	require.NoError(t, err)
	assert.Equal(t, created.Name, loaded.Name)
	assert.Equal(t, 1, module.LoadedCount())

	digest := sha256.Sum256([]byte("document"))
	sig, err := module.Sign(loaded, digest[:])
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(created.PublicKey, digest[:], sig))

	require.NoError(t, module.Flush(loaded))
	assert.Equal(t, 0, module.LoadedCount())

	_, err = module.Sign(loaded, digest[:])
	assert.ErrorIs(t, err, ErrKeyNotLoaded)
}

func TestFakeModuleNameStableAcrossLoads(t *testing.T) {
	module := NewFakeModule()
	defer module.Close()

	created, err := module.CreateKey()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		loaded, err := module.LoadKey(created.PrivateBlob, created.PublicBlob)
		require.NoError(t, err)
		assert.Equal(t, created.Name, loaded.Name)
		require.NoError(t, module.Flush(loaded))
	}
}

func TestFakeModuleExportImport(t *testing.T) {
	module := NewFakeModule()
	defer module.Close()

	created, err := module.CreateKey()
	require.NoError(t, err)

	loaded, err := module.LoadKey(created.PrivateBlob, created.PublicBlob)
	require.NoError(t, err)

	exported, err := module.Export(loaded)
	require.NoError(t, err)
	require.NoError(t, module.Flush(loaded))

	min, max := module.WrappedBlobBounds()
	assert.GreaterOrEqual(t, len(exported.WrappedBlob), min)
	assert.LessOrEqual(t, len(exported.WrappedBlob), max)

	imported, err := module.Import(exported)
	require.NoError(t, err)
	defer module.Flush(imported)

	assert.Equal(t, created.Name, imported.Name)

	digest := sha256.Sum256([]byte("document"))
	sig, err := module.Sign(imported, digest[:])
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(created.PublicKey, digest[:], sig))
}

func TestFakeModuleImportBoundToInstance(t *testing.T) {
	module := NewFakeModule()
	defer module.Close()
	other := NewFakeModule()
	defer other.Close()

	created, err := module.CreateKey()
	require.NoError(t, err)
	loaded, err := module.LoadKey(created.PrivateBlob, created.PublicBlob)
	require.NoError(t, err)
	exported, err := module.Export(loaded)
	require.NoError(t, err)
	require.NoError(t, module.Flush(loaded))

	// Blobs are sealed to the instance that produced them.
	_, err = other.Import(exported)
	assert.ErrorIs(t, err, ErrInvalidBlob)

	_, err = other.LoadKey(created.PrivateBlob, created.PublicBlob)
	assert.ErrorIs(t, err, ErrInvalidBlob)
}

func TestFakeModuleImportTamperedBlob(t *testing.T) {
	module := NewFakeModule()
	defer module.Close()

	created, err := module.CreateKey()
	require.NoError(t, err)
	loaded, err := module.LoadKey(created.PrivateBlob, created.PublicBlob)
	require.NoError(t, err)
	exported, err := module.Export(loaded)
	require.NoError(t, err)
	require.NoError(t, module.Flush(loaded))

	exported.WrappedBlob[len(exported.WrappedBlob)-1] ^= 0xff
	_, err = module.Import(exported)
	assert.ErrorIs(t, err, ErrInvalidBlob)
}

func TestFakeModuleClosed(t *testing.T) {
	module := NewFakeModule()
	require.NoError(t, module.Close())

	_, err := module.Info()
	assert.ErrorIs(t, err, ErrModuleClosed)

	_, err = module.CreateKey()
	assert.ErrorIs(t, err, ErrModuleClosed)
}

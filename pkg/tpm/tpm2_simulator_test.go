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

//go:build tpm_simulator

package tpm

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simulatorModule(t *testing.T) *TPM2Module {
	t.Helper()
	module := NewTPM2Module(&Config{UseSimulator: true}, nil)
	t.Cleanup(func() { module.Close() })
	require.NoError(t, module.Provision())
	return module
}

func TestSimulatorInfo(t *testing.T) {
	module := simulatorModule(t)

	info, err := module.Info()
	require.NoError(t, err)
	assert.True(t, info.Present)
	assert.True(t, info.Ready)
	assert.True(t, info.Owned)
	assert.NotEmpty(t, info.Identity)
}

func TestSimulatorCreateLoadSign(t *testing.T) {
	module := simulatorModule(t)

	created, err := module.CreateKey()
	require.NoError(t, err)
	require.NotEmpty(t, created.Name)

	loaded, err := module.LoadKey(created.PrivateBlob, created.PublicBlob)
	require.NoError(t, err)
	assert.Equal(t, created.Name, loaded.Name)

	digest := sha256.Sum256([]byte("document"))
	sig, err := module.Sign(loaded, digest[:])
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(created.PublicKey, digest[:], sig))

	require.NoError(t, module.Flush(loaded))
}

func TestSimulatorExportImport(t *testing.T) {
	module := simulatorModule(t)

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

	digest := sha256.Sum256([]byte("document"))
	sig, err := module.Sign(imported, digest[:])
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(created.PublicKey, digest[:], sig))
}

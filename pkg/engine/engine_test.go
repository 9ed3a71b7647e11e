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

package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-docsign/pkg/detector"
	"github.com/jeremyhahn/go-docsign/pkg/provider"
	"github.com/jeremyhahn/go-docsign/pkg/provider/hardware"
	"github.com/jeremyhahn/go-docsign/pkg/provider/software"
	"github.com/jeremyhahn/go-docsign/pkg/storage"
	"github.com/jeremyhahn/go-docsign/pkg/tpm"
	"github.com/jeremyhahn/go-docsign/pkg/types"
	"github.com/jeremyhahn/go-docsign/pkg/vault"
)

type fixture struct {
	module   *tpm.FakeModule
	hardware *hardware.Provider
	software *software.Provider
	vault    *vault.Vault
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	module := tpm.NewFakeModule()
	t.Cleanup(func() { module.Close() })

	store := storage.NewMemory()
	hw := hardware.NewProvider(module, store, nil)
	sw := software.NewProvider(store, nil)
	factory := provider.NewFactory(detector.New(module, nil), hw, sw, nil)

	v, err := vault.New(module, store, hw, nil)
	require.NoError(t, err)

	return &fixture{
		module:   module,
		hardware: hw,
		software: sw,
		vault:    v,
		engine:   New(factory, v, nil),
	}
}

func TestSignDocumentSoftwareKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc, err := f.software.Create(ctx, "contract-key", types.WrapPolicyNoExport)
	require.NoError(t, err)

	content := []byte("the exact bytes of the contract")
	record, err := f.engine.SignDocument(ctx, content, desc)
	require.NoError(t, err)

	digest := sha256.Sum256(content)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, desc.ID, record.KeyID)
	assert.Equal(t, hex.EncodeToString(digest[:]), record.DocumentHash)
	assert.Equal(t, types.AlgorithmES256, record.Algorithm)
	assert.Equal(t, types.VerificationPending, record.VerificationStatus)

	status, err := f.engine.VerifySignature(content, record.Signature, desc.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationVerified, status)
}

func TestSignDocumentHardwareKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc, err := f.hardware.Create(ctx, "contract-key", types.WrapPolicyAllowArchiving)
	require.NoError(t, err)

	content := []byte("hardware signed content")
	record, err := f.engine.SignDocument(ctx, content, desc)
	require.NoError(t, err)

	status, err := f.engine.VerifySignature(content, record.Signature, desc.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationVerified, status)
	assert.Equal(t, 0, f.module.LoadedCount())
}

func TestSignDocumentWrappedKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc, err := f.hardware.Create(ctx, "archived-key", types.WrapPolicyAllowArchiving)
	require.NoError(t, err)

	_, err = f.vault.Wrap(ctx, desc)
	require.NoError(t, err)
	require.Empty(t, desc.Provider.Hardware.PrivateBlob)

	content := []byte("signed after archival")
	record, err := f.engine.SignDocument(ctx, content, desc)
	require.NoError(t, err)

	status, err := f.engine.VerifySignature(content, record.Signature, desc.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationVerified, status)

	// No hardware key remained loaded after the scoped unwrap.
	assert.Equal(t, 0, f.module.LoadedCount())
}

func TestSignDocumentWrappedKeyWithoutEnvelope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc, err := f.hardware.Create(ctx, "lost-key", types.WrapPolicyAllowArchiving)
	require.NoError(t, err)
	desc.Provider.Hardware.PrivateBlob = nil
	desc.Provider.Hardware.PublicBlob = nil

	_, err = f.engine.SignDocument(ctx, []byte("content"), desc)
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestSignDocumentNilDescriptor(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.SignDocument(context.Background(), []byte("content"), nil)
	assert.ErrorIs(t, err, types.ErrInvalidDescriptor)
}

func TestVerifySignatureTamperedContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc, err := f.software.Create(ctx, "k", types.WrapPolicyNoExport)
	require.NoError(t, err)

	record, err := f.engine.SignDocument(ctx, []byte("original"), desc)
	require.NoError(t, err)

	status, err := f.engine.VerifySignature([]byte("altered"), record.Signature, desc.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationFailed, status)
}

func TestVerifySignatureGarbageSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc, err := f.software.Create(ctx, "k", types.WrapPolicyNoExport)
	require.NoError(t, err)

	status, err := f.engine.VerifySignature([]byte("content"), []byte{0x30, 0x00}, desc.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationFailed, status)
}

func TestVerifySignatureMalformedPublicKey(t *testing.T) {
	f := newFixture(t)

	status, err := f.engine.VerifySignature([]byte("content"), []byte("sig"), []byte("not a key"))
	assert.Error(t, err)
	assert.Equal(t, types.VerificationFailed, status)
}

func TestSignDigestWrongLength(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	desc, err := f.software.Create(ctx, "k", types.WrapPolicyNoExport)
	require.NoError(t, err)

	_, err = f.engine.SignDigest(ctx, desc, []byte("short"))
	assert.ErrorIs(t, err, types.ErrInvalidDescriptor)
}

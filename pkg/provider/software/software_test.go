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

package software

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-docsign/pkg/storage"
	"github.com/jeremyhahn/go-docsign/pkg/types"
)

func newTestProvider() *Provider {
	return NewProvider(storage.NewMemory(), nil)
}

func TestCreateAssignsProviderHandle(t *testing.T) {
	p := newTestProvider()

	desc, err := p.Create(context.Background(), "invoices", types.WrapPolicyNoExport)
	require.NoError(t, err)
	require.NoError(t, desc.Validate())

	assert.Equal(t, types.ProviderSoftware, desc.Provider.Kind)
	assert.Equal(t, types.AlgorithmES256, desc.Algorithm)
	assert.Equal(t, types.KeyStatusActive, desc.Status)
	assert.NotEmpty(t, desc.Handle)
	assert.NotEqual(t, "invoices", desc.Handle)
	assert.NotEmpty(t, desc.PublicKey)
}

func TestSignAndVerify(t *testing.T) {
	p := newTestProvider()
	ctx := context.Background()

	desc, err := p.Create(ctx, "contracts", types.WrapPolicyNoExport)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("content"))
	signature, err := p.Sign(ctx, desc, digest[:])
	require.NoError(t, err)

	assert.True(t, p.Verify(desc, digest[:], signature))

	// Verification disagreement is a negative result, never a panic or
	// error path.
	other := sha256.Sum256([]byte("different content"))
	assert.False(t, p.Verify(desc, other[:], signature))
	assert.False(t, p.Verify(desc, digest[:], []byte("not a signature")))
	assert.False(t, p.Verify(desc, digest[:], nil))
}

func TestSignUnknownKey(t *testing.T) {
	p := newTestProvider()
	ctx := context.Background()

	desc, err := p.Create(ctx, "temp", types.WrapPolicyNoExport)
	require.NoError(t, err)
	require.NoError(t, p.Delete(ctx, desc))

	digest := sha256.Sum256([]byte("content"))
	_, err = p.Sign(ctx, desc, digest[:])
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestDeleteTwice(t *testing.T) {
	p := newTestProvider()
	ctx := context.Background()

	desc, err := p.Create(ctx, "temp", types.WrapPolicyNoExport)
	require.NoError(t, err)

	require.NoError(t, p.Delete(ctx, desc))
	assert.ErrorIs(t, p.Delete(ctx, desc), types.ErrKeyNotFound)
}

func TestSignWrongProviderKind(t *testing.T) {
	p := newTestProvider()

	desc := &types.KeyDescriptor{
		ID:        "k1",
		Algorithm: types.AlgorithmES256,
		Provider:  types.ProviderRef{Kind: types.ProviderHardware},
	}

	digest := sha256.Sum256([]byte("content"))
	_, err := p.Sign(context.Background(), desc, digest[:])
	assert.ErrorIs(t, err, types.ErrInvalidDescriptor)
}

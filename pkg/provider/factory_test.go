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

package provider_test

import (
	"context"
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
)

func newTestFactory(t *testing.T) (*provider.Factory, *tpm.FakeModule) {
	t.Helper()
	module := tpm.NewFakeModule()
	t.Cleanup(func() { module.Close() })

	store := storage.NewMemory()
	d := detector.New(module, nil)

	factory := provider.NewFactory(
		d,
		hardware.NewProvider(module, store, nil),
		software.NewProvider(store, nil),
		nil,
	)
	return factory, module
}

func TestSelectHardwareWhenUsable(t *testing.T) {
	factory, _ := newTestFactory(t)

	p, err := factory.Select()
	require.NoError(t, err)
	assert.Equal(t, types.ProviderHardware, p.Kind())
}

func TestSelectSoftwareFallback(t *testing.T) {
	factory, module := newTestFactory(t)
	module.Unavailable = true

	p, err := factory.Select()
	require.NoError(t, err)
	assert.Equal(t, types.ProviderSoftware, p.Kind())
}

func TestSelectDeterministicUntilInvalidate(t *testing.T) {
	factory, module := newTestFactory(t)
	module.Unavailable = true

	for i := 0; i < 5; i++ {
		p, err := factory.Select()
		require.NoError(t, err)
		assert.Equal(t, types.ProviderSoftware, p.Kind())
	}

	// The module coming back is not observed until re-detection.
	module.Unavailable = false

	p, err := factory.Select()
	require.NoError(t, err)
	assert.Equal(t, types.ProviderSoftware, p.Kind())

	factory.Invalidate()

	p, err = factory.Select()
	require.NoError(t, err)
	assert.Equal(t, types.ProviderHardware, p.Kind())
}

func TestForHardwareDescriptorWhenUnusable(t *testing.T) {
	factory, module := newTestFactory(t)

	p, err := factory.Select()
	require.NoError(t, err)

	desc, err := p.Create(context.Background(), "doc-key", types.WrapPolicyNoExport)
	require.NoError(t, err)

	module.Unavailable = true
	factory.Invalidate()

	_, err = factory.For(desc)
	assert.ErrorIs(t, err, types.ErrProviderUnavailable)
}

func TestForSoftwareDescriptorAlwaysResolves(t *testing.T) {
	factory, module := newTestFactory(t)
	module.Unavailable = true

	desc := &types.KeyDescriptor{
		ID:        "k1",
		Algorithm: types.AlgorithmES256,
		Provider: types.ProviderRef{
			Kind:     types.ProviderSoftware,
			Software: &types.SoftwareRef{KeyMaterialRef: "softkeys/k1"},
		},
	}

	p, err := factory.For(desc)
	require.NoError(t, err)
	assert.Equal(t, types.ProviderSoftware, p.Kind())
}

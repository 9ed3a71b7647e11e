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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrappedBlobRoundTrip(t *testing.T) {
	duplicate := []byte("duplicate-private-area")
	seed := []byte("encrypted-seed")

	blob := packWrappedBlob(duplicate, seed)

	gotDup, gotSeed, err := unpackWrappedBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, duplicate, gotDup)
	assert.Equal(t, seed, gotSeed)
}

func TestWrappedBlobTruncated(t *testing.T) {
	blob := packWrappedBlob([]byte("duplicate"), []byte("seed"))

	for _, n := range []int{0, 1, 3, len(blob) - 1} {
		_, _, err := unpackWrappedBlob(blob[:n])
		assert.ErrorIs(t, err, ErrInvalidBlob, "length %d", n)
	}

	// Trailing garbage is rejected as well.
	_, _, err := unpackWrappedBlob(append(blob, 0x00))
	assert.ErrorIs(t, err, ErrInvalidBlob)
}

func TestManufacturerString(t *testing.T) {
	// "IBM " with a trailing space, as reported by the software TPM.
	assert.Equal(t, "IBM", manufacturerString(0x49424d20))
	assert.Equal(t, "", manufacturerString(0))
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, "/dev/tpmrm0", config.Device)
	assert.Equal(t, uint32(defaultSRKHandle), config.SRKHandle)
}

func TestNewTPM2ModuleDefaults(t *testing.T) {
	module := NewTPM2Module(nil, nil)
	require.NotNil(t, module)
	assert.Equal(t, "/dev/tpmrm0", module.config.Device)

	min, max := module.WrappedBlobBounds()
	assert.Less(t, min, max)
}

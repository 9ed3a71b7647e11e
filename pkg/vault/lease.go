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
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-docsign/pkg/tpm"
	"github.com/jeremyhahn/go-docsign/pkg/types"
)

// Lease is a scoped grant on an unwrapped hardware key. The key stays
// resident in the module only until Release; every Unwrap produces a
// fresh module handle, so leases must never be cached across calls.
type Lease struct {
	vault *Vault
	key   *tpm.LoadedKey
	keyID string

	mu       sync.Mutex
	released bool
}

// KeyID returns the wrapped key's descriptor id.
func (l *Lease) KeyID() string {
	return l.keyID
}

// PublicKey returns the leased key's public key.
func (l *Lease) PublicKey() *ecdsa.PublicKey {
	return l.key.PublicKey
}

// Sign signs a SHA-256 digest with the leased key.
func (l *Lease) Sign(digest []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil, fmt.Errorf("%w: lease on key %s already released", types.ErrKeyNotFound, l.keyID)
	}
	return l.vault.module.Sign(l.key, digest)
}

// Release flushes the key from the module. Safe to call more than
// once; only the first call releases.
func (l *Lease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	l.released = true
	return l.vault.module.Flush(l.key)
}

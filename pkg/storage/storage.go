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

// Package storage provides the persistence abstraction the engine uses for
// key descriptors, wrap envelopes, signature records and CSRs. In-memory and
// file-based implementations are provided.
package storage

import (
	"errors"
	"io/fs"
)

var (
	// ErrNotFound is returned when a key does not exist in storage.
	ErrNotFound = errors.New("storage: not found")

	// ErrClosed is returned after the backend has been closed.
	ErrClosed = errors.New("storage: backend closed")
)

// Well-known key prefixes. The engine namespaces every record type under its
// own prefix so one backend can hold all of them.
const (
	PrefixKeys       = "keys/"
	PrefixEnvelopes  = "envelopes/"
	PrefixSignatures = "signatures/"
	PrefixCSRs       = "csrs/"
)

// Backend defines the interface for storage backends.
// All implementations must be thread-safe.
type Backend interface {
	// Get retrieves the value for the given key.
	// Returns ErrNotFound if the key does not exist.
	Get(key string) ([]byte, error)

	// Put stores the value for the given key with optional metadata.
	// If the key already exists, it will be overwritten.
	Put(key string, value []byte, opts *Options) error

	// Delete removes the key and its value from storage.
	// Returns ErrNotFound if the key does not exist.
	Delete(key string) error

	// List returns all keys with the given prefix.
	// If prefix is empty, all keys are returned.
	List(prefix string) ([]string, error)

	// Exists checks if a key exists in storage.
	Exists(key string) (bool, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Options contains optional parameters for storage operations.
type Options struct {
	// Permissions sets the file permissions for file-based storage.
	Permissions fs.FileMode
}

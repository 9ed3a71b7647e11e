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

// Package tpm provides access to a TPM 2.0 security module for key
// creation, signing and duplication. The Module interface abstracts the
// physical device so callers can run against real hardware, the
// software simulator, or an in-memory fake.
package tpm

import (
	"crypto/ecdsa"
	"errors"
)

var (
	// ErrModuleUnavailable is returned when no TPM device can be opened.
	ErrModuleUnavailable = errors.New("tpm: security module unavailable")

	// ErrModuleClosed is returned when operating on a closed module.
	ErrModuleClosed = errors.New("tpm: module is closed")

	// ErrModuleNotProvisioned is returned when the storage hierarchy has
	// no primary key and the caller lacks the privilege to create one.
	ErrModuleNotProvisioned = errors.New("tpm: module is not provisioned")

	// ErrInvalidBlob is returned when a key blob fails to parse.
	ErrInvalidBlob = errors.New("tpm: invalid key blob")

	// ErrKeyNotLoaded is returned when a handle does not refer to a
	// loaded key.
	ErrKeyNotLoaded = errors.New("tpm: key not loaded")
)

// ModuleInfo describes the state of the security module as observed at
// a point in time.
type ModuleInfo struct {

	// Present indicates a TPM device responded on the configured path.
	Present bool

	// Ready indicates the device completed its startup sequence and
	// answers capability queries.
	Ready bool

	// Owned indicates the storage hierarchy is provisioned with a
	// primary key under which application keys are created.
	Owned bool

	// Identity is the module's manufacturer identity string. An empty
	// identity on a present module indicates a partial or failed
	// provisioning state.
	Identity string
}

// CreatedKey is the result of creating a signing key inside the module.
// The private blob is encrypted to the module's storage hierarchy and
// is only usable by loading it back into the same module.
type CreatedKey struct {

	// Name is the module-assigned cryptographic name of the key,
	// hex encoded. The name binds the key's public area and cannot be
	// chosen by the caller.
	Name string

	// PrivateBlob is the wrapped private area (TPM2B_PRIVATE).
	PrivateBlob []byte

	// PublicBlob is the marshaled public area (TPM2B_PUBLIC).
	PublicBlob []byte

	// PublicKey is the ECDSA P-256 public key extracted from the
	// public area.
	PublicKey *ecdsa.PublicKey
}

// LoadedKey is a key resident in the module's transient object memory.
// Callers must Flush the key when finished to avoid exhausting the
// module's object slots.
type LoadedKey struct {

	// Handle is the transient object handle assigned by the module.
	Handle uint32

	// Name is the module-assigned cryptographic name, hex encoded.
	Name string

	// PublicKey is the ECDSA P-256 public key of the loaded object.
	PublicKey *ecdsa.PublicKey
}

// ExportedKey is a duplication blob produced by Export. The wrapped
// blob is protected by a seed encrypted to the module's storage
// hierarchy, so it can only be re-imported into the same module.
type ExportedKey struct {

	// WrappedBlob contains the duplicate private area and the
	// encrypted symmetric seed, framed for transport.
	WrappedBlob []byte

	// PublicBlob is the marshaled public area required for import.
	PublicBlob []byte
}

// Module is the operational surface of a TPM 2.0 security module.
//
// Implementations serialize access internally; all methods are safe for
// concurrent use. Key material handled by a Module never exists in
// plaintext outside the device boundary, except in test fakes.
type Module interface {

	// Info reports the module's presence, readiness, ownership and
	// identity. A missing device is reported as Present=false rather
	// than an error.
	Info() (ModuleInfo, error)

	// CreateKey creates a new ECDSA P-256 signing key under the
	// storage hierarchy and returns its blobs and module-assigned name.
	CreateKey() (*CreatedKey, error)

	// LoadKey loads a previously created key into transient memory.
	LoadKey(privateBlob, publicBlob []byte) (*LoadedKey, error)

	// Sign signs a SHA-256 digest with a loaded key and returns an
	// ASN.1 DER encoded ECDSA signature.
	Sign(key *LoadedKey, digest []byte) ([]byte, error)

	// Flush releases a loaded key's transient handle.
	Flush(key *LoadedKey) error

	// Export duplicates a loaded key for archival. The resulting blob
	// is bound to this module and is only usable via Import.
	Export(key *LoadedKey) (*ExportedKey, error)

	// Import loads a previously exported key back into transient
	// memory. The returned key must be flushed after use.
	Import(ek *ExportedKey) (*LoadedKey, error)

	// WrappedBlobBounds returns the valid size range for an exported
	// wrapped blob, used to reject corrupt or truncated blobs before
	// they reach the device.
	WrappedBlobBounds() (min, max int)

	// Close releases the device.
	Close() error
}

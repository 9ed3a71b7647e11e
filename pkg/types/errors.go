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

package types

import "errors"

var (
	// ErrProviderUnavailable is returned when the hardware module is absent
	// or not ready. It triggers software fallback, not a hard failure.
	ErrProviderUnavailable = errors.New("types: hardware provider unavailable")

	// ErrKeyPersistenceFailure is returned when a key was created but could
	// not be reopened by its provider-assigned handle. The key is useless;
	// the caller must retry creation.
	ErrKeyPersistenceFailure = errors.New("types: created key could not be reopened")

	// ErrKeyNotFound is returned when a key id resolves to no descriptor.
	ErrKeyNotFound = errors.New("types: key not found")

	// ErrCorruptEnvelope is returned when an envelope violates a size or
	// format invariant.
	ErrCorruptEnvelope = errors.New("types: corrupt key envelope")

	// ErrUnsupportedEnvelopeVersion is returned when a persisted envelope
	// lacks the blobFormat tag. Legacy formats are rejected, never guessed.
	ErrUnsupportedEnvelopeVersion = errors.New("types: unsupported envelope version")

	// ErrExportPolicyViolation is returned when wrap is attempted on a key
	// whose policy forbids export, or on a software-backed key.
	ErrExportPolicyViolation = errors.New("types: export policy violation")

	// ErrInsufficientPrivilege is returned when an operation that requires
	// the elevated setup context ran in the standard one.
	ErrInsufficientPrivilege = errors.New("types: insufficient privilege")

	// ErrInvalidDescriptor is returned when a key descriptor is missing
	// required fields or its provider tag is inconsistent.
	ErrInvalidDescriptor = errors.New("types: invalid key descriptor")

	// ErrIllegalStatusTransition is returned on an illegal key lifecycle
	// move, e.g. resurrecting a deleted key.
	ErrIllegalStatusTransition = errors.New("types: illegal status transition")

	// ErrKeyNotActive is returned when a revoked or deleted key is asked
	// to sign.
	ErrKeyNotActive = errors.New("types: key is not active")

	// ErrUnknownWrapPolicy is returned when a wrap policy string is not
	// recognized.
	ErrUnknownWrapPolicy = errors.New("types: unknown wrap policy")

	// ErrUnknownCertificateType is returned when a certificate type string
	// is not recognized.
	ErrUnknownCertificateType = errors.New("types: unknown certificate type")

	// ErrSignatureNotFound is returned when a signature record id resolves
	// to no stored record.
	ErrSignatureNotFound = errors.New("types: signature record not found")
)

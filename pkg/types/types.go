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

// Package types contains shared type definitions used across the signing
// engine, including key descriptors, wrap envelopes, signature records and
// the capability verdict. This package has no dependencies on the provider
// or vault packages to prevent import cycles.
package types

import (
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AlgorithmES256 identifies ECDSA over P-256 with SHA-256 digests. It is the
// only signing algorithm the engine supports.
const AlgorithmES256 = "ES256"

// =============================================================================
// Provider Kind
// =============================================================================

// ProviderKind identifies which key provider variant owns a key.
type ProviderKind string

const (
	ProviderHardware ProviderKind = "hardware"
	ProviderSoftware ProviderKind = "software"
)

// String returns the string representation of the provider kind.
func (pk ProviderKind) String() string {
	return string(pk)
}

// IsValid returns true if the provider kind is recognized.
func (pk ProviderKind) IsValid() bool {
	return pk == ProviderHardware || pk == ProviderSoftware
}

// HardwareRef carries the provider-level reference for a hardware key: the
// opaque blobs the module needs to reload it. The blobs are protected by the
// module's storage hierarchy and are useless on any other module.
type HardwareRef struct {
	// Handle is the module-assigned object name, hex encoded. It is set from
	// the module's creation response, never from the requested display name.
	Handle string `json:"handle"`

	// PrivateBlob is the module-encrypted private area.
	PrivateBlob []byte `json:"privateBlob"`

	// PublicBlob is the module public area used to reload the key.
	PublicBlob []byte `json:"publicBlob"`
}

// SoftwareRef carries the provider-level reference for a software key.
type SoftwareRef struct {
	// KeyMaterialRef is the storage key under which the PKCS#8 encoded
	// private key is persisted.
	KeyMaterialRef string `json:"keyMaterialRef"`
}

// ProviderRef is the tagged variant identifying which provider holds the
// private material and how to reach it. Exactly one of Hardware or Software
// is set, matching Kind.
type ProviderRef struct {
	Kind     ProviderKind `json:"kind"`
	Hardware *HardwareRef `json:"hardware,omitempty"`
	Software *SoftwareRef `json:"software,omitempty"`
}

// Validate checks that the variant tag matches the populated reference.
func (pr *ProviderRef) Validate() error {
	switch pr.Kind {
	case ProviderHardware:
		if pr.Hardware == nil {
			return fmt.Errorf("%w: hardware ref missing", ErrInvalidDescriptor)
		}
	case ProviderSoftware:
		if pr.Software == nil {
			return fmt.Errorf("%w: software ref missing", ErrInvalidDescriptor)
		}
	default:
		return fmt.Errorf("%w: unknown provider kind %q", ErrInvalidDescriptor, pr.Kind)
	}
	return nil
}

// =============================================================================
// Key Status
// =============================================================================

// KeyStatus is the lifecycle state of a key descriptor.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
	KeyStatusDeleted KeyStatus = "deleted"
)

// String returns the string representation of the key status.
func (ks KeyStatus) String() string {
	return string(ks)
}

// CanTransition reports whether moving from the current status to next is a
// legal lifecycle transition. Deleted is terminal; there is no resurrection.
func (ks KeyStatus) CanTransition(next KeyStatus) bool {
	switch ks {
	case KeyStatusActive:
		return next == KeyStatusRevoked || next == KeyStatusDeleted
	case KeyStatusRevoked:
		return next == KeyStatusDeleted
	default:
		return false
	}
}

// =============================================================================
// Key Descriptor
// =============================================================================

// KeyDescriptor is the logical identity of a signing key. It is owned by the
// provider that created it; callers persist and reload it through the
// storage layer but never mutate Handle after creation.
type KeyDescriptor struct {
	// ID is the caller-assigned opaque identifier. Immutable.
	ID string `json:"id"`

	// DisplayName is a human label. Not guaranteed unique at the provider.
	DisplayName string `json:"displayName"`

	// Algorithm is fixed to AlgorithmES256.
	Algorithm string `json:"algorithm"`

	// Provider is the tagged variant identifying the owning provider.
	Provider ProviderRef `json:"provider"`

	// Handle is the identifier returned by the provider at creation time.
	// This value, not the requested display name, is what must be reused for
	// every later open, sign and delete call. Write-once.
	Handle string `json:"handle"`

	// PublicKey is the PKIX DER encoded public key. Always present.
	PublicKey []byte `json:"publicKey"`

	// WrapPolicy controls whether the private key may leave the module.
	// Only meaningful for hardware keys.
	WrapPolicy WrapPolicy `json:"wrapPolicy,omitempty"`

	Status     KeyStatus `json:"status"`
	UsageCount uint64    `json:"usageCount"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt,omitempty"`
}

// Validate checks the descriptor for required fields and tag consistency.
func (kd *KeyDescriptor) Validate() error {
	if kd.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDescriptor)
	}
	if kd.Algorithm != AlgorithmES256 {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidDescriptor, kd.Algorithm)
	}
	if kd.Handle == "" {
		return fmt.Errorf("%w: handle is required", ErrInvalidDescriptor)
	}
	if len(kd.PublicKey) == 0 {
		return fmt.Errorf("%w: public key is required", ErrInvalidDescriptor)
	}
	return kd.Provider.Validate()
}

// Transition moves the descriptor to the next lifecycle status, enforcing
// the Active -> Revoked -> Deleted ordering.
func (kd *KeyDescriptor) Transition(next KeyStatus) error {
	if !kd.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalStatusTransition, kd.Status, next)
	}
	kd.Status = next
	return nil
}

// IsHardware returns true if the descriptor is owned by the hardware provider.
func (kd *KeyDescriptor) IsHardware() bool {
	return kd.Provider.Kind == ProviderHardware
}

// =============================================================================
// Capability
// =============================================================================

// Capability is the detector's verdict on the platform security module. It
// is an explicit value threaded through the provider factory, never ambient
// global state.
type Capability struct {
	// ModulePresent is true when a module device (or simulator) responds.
	ModulePresent bool `json:"modulePresent"`

	// ModuleReady is true when the module completed startup and its fixed
	// properties are readable.
	ModuleReady bool `json:"moduleReady"`

	// ModuleOwned is true when the storage hierarchy is usable.
	ModuleOwned bool `json:"moduleOwned"`

	// ProviderUsable is true only when the module identity string is
	// non-empty and a trial key create/delete round-trip succeeded. A module
	// that constructs but reports an empty identity is not usable.
	ProviderUsable bool `json:"providerUsable"`
}

// String returns a single-line summary for logs and status displays.
func (c Capability) String() string {
	return fmt.Sprintf("Capability{present: %t, ready: %t, owned: %t, usable: %t}",
		c.ModulePresent, c.ModuleReady, c.ModuleOwned, c.ProviderUsable)
}

// =============================================================================
// Wrap Policy
// =============================================================================

// WrapPolicy controls whether and how a hardware key may be exported.
type WrapPolicy string

const (
	// WrapPolicyNoExport keys never leave the module. The vault refuses to
	// even attempt export for such keys.
	WrapPolicyNoExport WrapPolicy = "no-export"

	// WrapPolicyAllowArchiving keys are exportable under active module
	// protection (the blob remains encrypted by the module).
	WrapPolicyAllowArchiving WrapPolicy = "allow-archiving"

	// WrapPolicyAllowPlaintextArchiving exists only for legacy
	// compatibility and is explicitly discouraged.
	WrapPolicyAllowPlaintextArchiving WrapPolicy = "allow-plaintext-archiving"
)

// String returns the string representation of the wrap policy.
func (wp WrapPolicy) String() string {
	return string(wp)
}

// IsValid returns true if the wrap policy is recognized.
func (wp WrapPolicy) IsValid() bool {
	switch wp {
	case WrapPolicyNoExport, WrapPolicyAllowArchiving, WrapPolicyAllowPlaintextArchiving:
		return true
	default:
		return false
	}
}

// ParseWrapPolicy converts a string to a WrapPolicy.
func ParseWrapPolicy(s string) (WrapPolicy, error) {
	wp := WrapPolicy(strings.ToLower(strings.TrimSpace(s)))
	if !wp.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownWrapPolicy, s)
	}
	return wp, nil
}

// =============================================================================
// Key Envelope
// =============================================================================

// BlobFormat tags which native export shape the wrapped bytes use.
type BlobFormat string

const (
	// BlobFormatTPM2Duplicate is the TPM2_Duplicate output shape used for
	// P-256 signing keys.
	BlobFormatTPM2Duplicate BlobFormat = "tpm2-duplicate"
)

// KeyEnvelope is the externally persisted form of a hardware key. It is the
// only object that crosses the privilege boundary; live module handles never
// do.
type KeyEnvelope struct {
	KeyID string `json:"keyId"`

	// WrappedBlob is the opaque, module-encrypted private key material.
	WrappedBlob []byte `json:"-"`

	// PublicBlob is the module public area needed to re-import the key.
	PublicBlob []byte `json:"-"`

	// PublicKey is the PKIX DER encoded public key.
	PublicKey []byte `json:"-"`

	WrapPolicy WrapPolicy `json:"wrapPolicy"`
	BlobFormat BlobFormat `json:"blobFormat"`
	CreatedAt  time.Time  `json:"createdAt"`

	// ResidualHardwareCopy is set when the post-export deletion of the live
	// hardware key failed. The envelope is valid and usable; the flag exists
	// for cleanup auditing.
	ResidualHardwareCopy bool `json:"residualHardwareCopy,omitempty"`
}

// envelopeJSON is the serialized envelope document. Blob fields are base64
// encoded; blobFormat is mandatory so legacy documents are rejected rather
// than guessed at.
type envelopeJSON struct {
	KeyID                string `json:"keyId"`
	WrappedBlob          string `json:"wrappedBlob"`
	PublicBlob           string `json:"publicBlob"`
	PublicKey            string `json:"publicKey"`
	WrapPolicy           string `json:"wrapPolicy"`
	BlobFormat           string `json:"blobFormat"`
	CreatedAt            time.Time `json:"createdAt"`
	ResidualHardwareCopy bool   `json:"residualHardwareCopy,omitempty"`
}

// MarshalJSON implements the sanctioned on-disk envelope format.
func (e KeyEnvelope) MarshalJSON() ([]byte, error) {
	if e.BlobFormat == "" {
		return nil, fmt.Errorf("%w: blobFormat is required", ErrCorruptEnvelope)
	}
	return json.Marshal(envelopeJSON{
		KeyID:                e.KeyID,
		WrappedBlob:          base64.StdEncoding.EncodeToString(e.WrappedBlob),
		PublicBlob:           base64.StdEncoding.EncodeToString(e.PublicBlob),
		PublicKey:            base64.StdEncoding.EncodeToString(e.PublicKey),
		WrapPolicy:           e.WrapPolicy.String(),
		BlobFormat:           string(e.BlobFormat),
		CreatedAt:            e.CreatedAt,
		ResidualHardwareCopy: e.ResidualHardwareCopy,
	})
}

// UnmarshalJSON parses the envelope document. A document without a
// blobFormat tag is an unsupported legacy format and is rejected.
func (e *KeyEnvelope) UnmarshalJSON(data []byte) error {
	var doc envelopeJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptEnvelope, err)
	}
	if doc.BlobFormat == "" {
		return fmt.Errorf("%w: missing blobFormat tag", ErrUnsupportedEnvelopeVersion)
	}
	wrapPolicy, err := ParseWrapPolicy(doc.WrapPolicy)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptEnvelope, err)
	}
	wrapped, err := base64.StdEncoding.DecodeString(doc.WrappedBlob)
	if err != nil {
		return fmt.Errorf("%w: wrappedBlob: %v", ErrCorruptEnvelope, err)
	}
	publicBlob, err := base64.StdEncoding.DecodeString(doc.PublicBlob)
	if err != nil {
		return fmt.Errorf("%w: publicBlob: %v", ErrCorruptEnvelope, err)
	}
	publicKey, err := base64.StdEncoding.DecodeString(doc.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: publicKey: %v", ErrCorruptEnvelope, err)
	}
	e.KeyID = doc.KeyID
	e.WrappedBlob = wrapped
	e.PublicBlob = publicBlob
	e.PublicKey = publicKey
	e.WrapPolicy = wrapPolicy
	e.BlobFormat = BlobFormat(doc.BlobFormat)
	e.CreatedAt = doc.CreatedAt
	e.ResidualHardwareCopy = doc.ResidualHardwareCopy
	return nil
}

// =============================================================================
// Signature Record
// =============================================================================

// VerificationStatus is the lifecycle of a signature record. Verified and
// Failed are terminal.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

// String returns the string representation of the verification status.
func (vs VerificationStatus) String() string {
	return string(vs)
}

// Terminal reports whether the status may no longer change.
func (vs VerificationStatus) Terminal() bool {
	return vs == VerificationVerified || vs == VerificationFailed
}

// SignatureRecord is the result of signing a document. It references the key
// descriptor by id only; the engine never reaches back into caller storage.
type SignatureRecord struct {
	ID           string `json:"id"`
	KeyID        string `json:"keyId"`

	// DocumentHash is the hex encoded SHA-256 of the exact byte sequence
	// that was signed.
	DocumentHash string `json:"documentHash"`

	Signature []byte    `json:"signature"`
	Algorithm string    `json:"algorithm"`
	SignedAt  time.Time `json:"signedAt"`

	VerificationStatus VerificationStatus `json:"verificationStatus"`
}

// =============================================================================
// Certificate Signing Request
// =============================================================================

// Subject holds the structured distinguished name fields for a CSR.
type Subject struct {
	CommonName         string `json:"commonName" yaml:"common_name"`
	Organization       string `json:"organization,omitempty" yaml:"organization"`
	OrganizationalUnit string `json:"organizationalUnit,omitempty" yaml:"organizational_unit"`
	Country            string `json:"country,omitempty" yaml:"country"`
	Province           string `json:"province,omitempty" yaml:"province"`
	Locality           string `json:"locality,omitempty" yaml:"locality"`
}

// PKIXName converts the subject to a pkix.Name.
func (s Subject) PKIXName() pkix.Name {
	name := pkix.Name{CommonName: s.CommonName}
	if s.Organization != "" {
		name.Organization = []string{s.Organization}
	}
	if s.OrganizationalUnit != "" {
		name.OrganizationalUnit = []string{s.OrganizationalUnit}
	}
	if s.Country != "" {
		name.Country = []string{s.Country}
	}
	if s.Province != "" {
		name.Province = []string{s.Province}
	}
	if s.Locality != "" {
		name.Locality = []string{s.Locality}
	}
	return name
}

// CertificateType selects the extended key usage set attached to a CSR.
type CertificateType string

const (
	CertTypeClient      CertificateType = "client"
	CertTypeServer      CertificateType = "server"
	CertTypeCodeSigning CertificateType = "codesigning"
	CertTypeEmail       CertificateType = "email"
	CertTypeAll         CertificateType = "all"
)

// IsValid returns true if the certificate type is recognized.
func (ct CertificateType) IsValid() bool {
	switch ct {
	case CertTypeClient, CertTypeServer, CertTypeCodeSigning, CertTypeEmail, CertTypeAll:
		return true
	default:
		return false
	}
}

// ParseCertificateType converts a string to a CertificateType.
func ParseCertificateType(s string) (CertificateType, error) {
	ct := CertificateType(strings.ToLower(strings.TrimSpace(s)))
	if !ct.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCertificateType, s)
	}
	return ct, nil
}

// CertificateSigningRequest is a PKCS#10 request issued for a key.
type CertificateSigningRequest struct {
	ID         string          `json:"id"`
	KeyID      string          `json:"keyId"`
	Subject    Subject         `json:"subject"`
	CertType   CertificateType `json:"certType"`
	RequestPEM []byte          `json:"requestPem"`
	CreatedAt  time.Time       `json:"createdAt"`
}

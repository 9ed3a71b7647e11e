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

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDescriptor() *KeyDescriptor {
	return &KeyDescriptor{
		ID:        "key-1",
		Algorithm: AlgorithmES256,
		Handle:    "0xdeadbeef",
		PublicKey: []byte{0x30, 0x59},
		Provider: ProviderRef{
			Kind:     ProviderHardware,
			Hardware: &HardwareRef{Handle: "0xdeadbeef"},
		},
		Status:    KeyStatusActive,
		CreatedAt: time.Now().UTC(),
	}
}

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*KeyDescriptor)
	}{
		{"missing id", func(kd *KeyDescriptor) { kd.ID = "" }},
		{"wrong algorithm", func(kd *KeyDescriptor) { kd.Algorithm = "RS256" }},
		{"missing handle", func(kd *KeyDescriptor) { kd.Handle = "" }},
		{"missing public key", func(kd *KeyDescriptor) { kd.PublicKey = nil }},
		{"hardware ref missing", func(kd *KeyDescriptor) { kd.Provider.Hardware = nil }},
		{"unknown provider kind", func(kd *KeyDescriptor) { kd.Provider.Kind = "cloud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := validDescriptor()
			tt.mutate(desc)
			assert.ErrorIs(t, desc.Validate(), ErrInvalidDescriptor)
		})
	}

	require.NoError(t, validDescriptor().Validate())
}

func TestDescriptorValidateSoftware(t *testing.T) {
	desc := validDescriptor()
	desc.Provider = ProviderRef{
		Kind:     ProviderSoftware,
		Software: &SoftwareRef{KeyMaterialRef: "software/key-1"},
	}
	require.NoError(t, desc.Validate())

	desc.Provider.Software = nil
	assert.ErrorIs(t, desc.Validate(), ErrInvalidDescriptor)
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from KeyStatus
		to   KeyStatus
		ok   bool
	}{
		{KeyStatusActive, KeyStatusRevoked, true},
		{KeyStatusActive, KeyStatusDeleted, true},
		{KeyStatusRevoked, KeyStatusDeleted, true},
		{KeyStatusRevoked, KeyStatusActive, false},
		{KeyStatusDeleted, KeyStatusActive, false},
		{KeyStatusDeleted, KeyStatusRevoked, false},
		{KeyStatusActive, KeyStatusActive, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			desc := validDescriptor()
			desc.Status = tt.from
			err := desc.Transition(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, desc.Status)
			} else {
				assert.ErrorIs(t, err, ErrIllegalStatusTransition)
				assert.Equal(t, tt.from, desc.Status)
			}
		})
	}
}

func TestParseWrapPolicy(t *testing.T) {
	wp, err := ParseWrapPolicy("  Allow-Archiving ")
	require.NoError(t, err)
	assert.Equal(t, WrapPolicyAllowArchiving, wp)

	_, err = ParseWrapPolicy("export-everything")
	assert.ErrorIs(t, err, ErrUnknownWrapPolicy)

	_, err = ParseWrapPolicy("")
	assert.ErrorIs(t, err, ErrUnknownWrapPolicy)
}

func TestParseCertificateType(t *testing.T) {
	ct, err := ParseCertificateType("CodeSigning")
	require.NoError(t, err)
	assert.Equal(t, CertTypeCodeSigning, ct)

	_, err = ParseCertificateType("wildcard")
	assert.ErrorIs(t, err, ErrUnknownCertificateType)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	envelope := KeyEnvelope{
		KeyID:       "key-1",
		WrappedBlob: []byte{0x01, 0x02, 0x03, 0xff},
		PublicBlob:  []byte{0x04, 0x05},
		PublicKey:   []byte{0x30, 0x59, 0x00},
		WrapPolicy:  WrapPolicyAllowArchiving,
		BlobFormat:  BlobFormatTPM2Duplicate,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}

	raw, err := json.Marshal(envelope)
	require.NoError(t, err)

	var decoded KeyEnvelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, envelope.KeyID, decoded.KeyID)
	assert.Equal(t, envelope.WrappedBlob, decoded.WrappedBlob)
	assert.Equal(t, envelope.PublicBlob, decoded.PublicBlob)
	assert.Equal(t, envelope.PublicKey, decoded.PublicKey)
	assert.Equal(t, envelope.WrapPolicy, decoded.WrapPolicy)
	assert.Equal(t, envelope.BlobFormat, decoded.BlobFormat)
	assert.True(t, envelope.CreatedAt.Equal(decoded.CreatedAt))
}

func TestEnvelopeLegacyDocumentRejected(t *testing.T) {
	// A document without a blobFormat tag predates the versioned codec.
	legacy := `{"keyId":"key-1","wrappedBlob":"AQID","publicBlob":"BAU=","publicKey":"MFk=","wrapPolicy":"allow-archiving","createdAt":"2024-01-01T00:00:00Z"}`

	var decoded KeyEnvelope
	err := json.Unmarshal([]byte(legacy), &decoded)
	assert.ErrorIs(t, err, ErrUnsupportedEnvelopeVersion)
}

func TestEnvelopeMarshalRequiresBlobFormat(t *testing.T) {
	envelope := KeyEnvelope{KeyID: "key-1", WrapPolicy: WrapPolicyAllowArchiving}
	_, err := json.Marshal(&envelope)
	assert.ErrorIs(t, err, ErrCorruptEnvelope)
}

func TestEnvelopeBadWrapPolicyRejected(t *testing.T) {
	doc := `{"keyId":"key-1","wrappedBlob":"AQID","publicBlob":"BAU=","publicKey":"MFk=","wrapPolicy":"maybe","blobFormat":"tpm2-duplicate","createdAt":"2024-01-01T00:00:00Z"}`

	var decoded KeyEnvelope
	err := json.Unmarshal([]byte(doc), &decoded)
	assert.ErrorIs(t, err, ErrCorruptEnvelope)
}

func TestVerificationStatusTerminal(t *testing.T) {
	assert.False(t, VerificationPending.Terminal())
	assert.True(t, VerificationVerified.Terminal())
	assert.True(t, VerificationFailed.Terminal())
}

func TestSubjectPKIXName(t *testing.T) {
	subject := Subject{
		CommonName:   "signer.example.com",
		Organization: "Example Corp",
		Country:      "US",
	}
	name := subject.PKIXName()
	assert.Equal(t, "signer.example.com", name.CommonName)
	assert.Equal(t, []string{"Example Corp"}, name.Organization)
	assert.Equal(t, []string{"US"}, name.Country)
	assert.Empty(t, name.Locality)
}

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
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/asn1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"github.com/jeremyhahn/go-docsign/pkg/logging"
)

// defaultSRKHandle is the persistent handle used for the storage root
// key when none is configured.
const defaultSRKHandle = 0x81000001

// Wrapped blob size bounds for ECC P-256 duplication blobs. The exact
// size varies with the encrypted seed length of the parent key, so a
// range is enforced rather than a fixed size.
const (
	minWrappedBlob = 128
	maxWrappedBlob = 1024
)

// Config holds TPM device settings.
type Config struct {
	// Device is the TPM character device path, e.g. /dev/tpmrm0.
	Device string `yaml:"device" json:"device"`

	// UseSimulator selects the software simulator instead of a
	// hardware device. Requires the tpm_simulator build tag.
	UseSimulator bool `yaml:"simulator" json:"simulator"`

	// SRKHandle is the persistent handle of the storage root key.
	SRKHandle uint32 `yaml:"srk_handle" json:"srk_handle"`
}

// DefaultConfig returns a config suitable for Linux hardware TPMs,
// using the kernel resource manager device.
func DefaultConfig() *Config {
	return &Config{
		Device:    "/dev/tpmrm0",
		SRKHandle: defaultSRKHandle,
	}
}

// simulatorDevice is the subset of the simulator needed by the module.
// The concrete implementation lives behind the tpm_simulator build tag.
type simulatorDevice interface {
	Transport() transport.TPM
	Close() error
}

// simulatorOpener is installed by the tpm_simulator build.
var simulatorOpener func() (simulatorDevice, error)

// TPM2Module implements Module against a TPM 2.0 device using the
// direct command API. A single mutex serializes all device traffic;
// TPM devices do not support concurrent command streams.
type TPM2Module struct {
	config    *Config
	logger    *logging.Logger
	mu        sync.Mutex
	tpm       transport.TPM
	closer    func() error
	srkHandle tpm2.TPMHandle
	srkName   tpm2.TPM2BName
	dupPolicy []byte
	closed    bool
}

var _ Module = (*TPM2Module)(nil)

// NewTPM2Module creates a module bound to the configured device. The
// device is opened lazily on first use so that Info can report absence
// without failing construction.
func NewTPM2Module(config *Config, logger *logging.Logger) *TPM2Module {
	if config == nil {
		config = DefaultConfig()
	}
	if config.SRKHandle == 0 {
		config.SRKHandle = defaultSRKHandle
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &TPM2Module{
		config:    config,
		logger:    logger,
		srkHandle: tpm2.TPMHandle(config.SRKHandle),
	}
}

// open establishes the device transport. Callers must hold mu.
func (m *TPM2Module) open() error {
	if m.closed {
		return ErrModuleClosed
	}
	if m.tpm != nil {
		return nil
	}

	if m.config.UseSimulator {
		if simulatorOpener == nil {
			return fmt.Errorf("%w: simulator support not compiled in", ErrModuleUnavailable)
		}
		sim, err := simulatorOpener()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrModuleUnavailable, err)
		}
		m.tpm = sim.Transport()
		m.closer = sim.Close
		return nil
	}

	device, err := transport.OpenTPM(m.config.Device)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModuleUnavailable, err)
	}
	m.tpm = device
	m.closer = device.Close
	return nil
}

// Info queries the device for its manufacturer identity and checks the
// storage hierarchy for the SRK. A device that cannot be opened is
// reported as absent, not as an error.
func (m *TPM2Module) Info() (ModuleInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ModuleInfo{}, ErrModuleClosed
	}

	if err := m.open(); err != nil {
		m.logger.Debugf("tpm: device open failed: %v", err)
		return ModuleInfo{Present: false}, nil
	}

	info := ModuleInfo{Present: true}

	rsp, err := tpm2.GetCapability{
		Capability:    tpm2.TPMCapTPMProperties,
		Property:      uint32(tpm2.TPMPTManufacturer),
		PropertyCount: 1,
	}.Execute(m.tpm)
	if err != nil {
		m.logger.Debugf("tpm: capability query failed: %v", err)
		return info, nil
	}

	props, err := rsp.CapabilityData.Data.TPMProperties()
	if err != nil || len(props.TPMProperty) == 0 {
		return info, nil
	}

	info.Ready = true
	info.Identity = manufacturerString(props.TPMProperty[0].Value)

	// The SRK is created during provisioning; its presence at the
	// persistent handle means the storage hierarchy is owned.
	if _, err := (tpm2.ReadPublic{ObjectHandle: m.srkHandle}.Execute(m.tpm)); err == nil {
		info.Owned = true
	}

	return info, nil
}

// manufacturerString decodes the four character vendor code packed into
// the TPM_PT_MANUFACTURER property.
func manufacturerString(v uint32) string {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	out := make([]byte, 0, 4)
	for _, c := range b {
		if c > 0x20 && c < 0x7f {
			out = append(out, c)
		}
	}
	return string(out)
}

// Provision creates the storage root key at the configured persistent
// handle if it does not already exist. Requires owner hierarchy
// authorization, which on a provisioned platform means an elevated
// caller.
func (m *TPM2Module) Provision() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.open(); err != nil {
		return err
	}
	return m.ensureSRK()
}

// ensureSRK loads the SRK name, creating the SRK if the persistent
// handle is empty. Callers must hold mu.
func (m *TPM2Module) ensureSRK() error {
	if len(m.srkName.Buffer) > 0 {
		return nil
	}

	// Fast path: SRK already persisted.
	if rsp, err := (tpm2.ReadPublic{ObjectHandle: m.srkHandle}.Execute(m.tpm)); err == nil {
		m.srkName = rsp.Name
		return nil
	}

	m.logger.Info("tpm: creating storage root key", "handle", fmt.Sprintf("0x%08x", uint32(m.srkHandle)))

	rsp, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPublic: tpm2.New2B(srkTemplate()),
	}.Execute(m.tpm)
	if err != nil {
		return fmt.Errorf("tpm: failed to create storage root key: %w", err)
	}

	_, err = tpm2.EvictControl{
		Auth: tpm2.TPMRHOwner,
		ObjectHandle: &tpm2.NamedHandle{
			Handle: rsp.ObjectHandle,
			Name:   rsp.Name,
		},
		PersistentHandle: m.srkHandle,
	}.Execute(m.tpm)

	// The transient handle is no longer needed either way.
	tpm2.FlushContext{FlushHandle: rsp.ObjectHandle}.Execute(m.tpm)

	if err != nil {
		return fmt.Errorf("tpm: failed to persist storage root key: %w", err)
	}

	m.srkName = rsp.Name
	return nil
}

// srkTemplate returns the storage root key template: a restricted
// RSA-2048 decryption key fixed to this TPM.
func srkTemplate() tpm2.TPMTPublic {
	return tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgRSA,
		NameAlg: tpm2.TPMAlgSHA256,
		ObjectAttributes: tpm2.TPMAObject{
			FixedTPM:            true,
			FixedParent:         true,
			SensitiveDataOrigin: true,
			UserWithAuth:        true,
			Restricted:          true,
			Decrypt:             true,
			NoDA:                true,
		},
		Parameters: tpm2.NewTPMUPublicParms(
			tpm2.TPMAlgRSA,
			&tpm2.TPMSRSAParms{
				Symmetric: tpm2.TPMTSymDefObject{
					Algorithm: tpm2.TPMAlgAES,
					KeyBits: tpm2.NewTPMUSymKeyBits(
						tpm2.TPMAlgAES,
						tpm2.TPMKeyBits(128),
					),
					Mode: tpm2.NewTPMUSymMode(
						tpm2.TPMAlgAES,
						tpm2.TPMAlgCFB,
					),
				},
				Scheme: tpm2.TPMTRSAScheme{
					Scheme: tpm2.TPMAlgNull,
				},
				KeyBits: 2048,
			},
		),
	}
}

// signingKeyTemplate returns the ECDSA P-256 signing key template.
// Duplication is left enabled (FixedTPM and FixedParent clear) and
// gated by a policy restricting the object to TPM2_Duplicate, so keys
// can be archived through Export without weakening ordinary use.
func signingKeyTemplate(dupPolicy []byte) tpm2.TPMTPublic {
	return tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgECC,
		NameAlg: tpm2.TPMAlgSHA256,
		ObjectAttributes: tpm2.TPMAObject{
			SensitiveDataOrigin: true,
			UserWithAuth:        true,
			SignEncrypt:         true,
			NoDA:                true,
		},
		AuthPolicy: tpm2.TPM2BDigest{Buffer: dupPolicy},
		Parameters: tpm2.NewTPMUPublicParms(
			tpm2.TPMAlgECC,
			&tpm2.TPMSECCParms{
				Scheme: tpm2.TPMTECCScheme{
					Scheme: tpm2.TPMAlgECDSA,
					Details: tpm2.NewTPMUAsymScheme(
						tpm2.TPMAlgECDSA,
						&tpm2.TPMSSigSchemeECDSA{HashAlg: tpm2.TPMAlgSHA256},
					),
				},
				CurveID: tpm2.TPMECCNistP256,
			},
		),
	}
}

// duplicationPolicy computes, via a trial session, the policy digest
// that restricts an object's policy authorization to TPM2_Duplicate.
// Callers must hold mu.
func (m *TPM2Module) duplicationPolicy() ([]byte, error) {
	if m.dupPolicy != nil {
		return m.dupPolicy, nil
	}

	sess, closer, err := tpm2.PolicySession(m.tpm, tpm2.TPMAlgSHA256, 16, tpm2.Trial())
	if err != nil {
		return nil, fmt.Errorf("tpm: failed to start trial session: %w", err)
	}
	defer closer()

	_, err = tpm2.PolicyCommandCode{
		PolicySession: sess.Handle(),
		Code:          tpm2.TPMCCDuplicate,
	}.Execute(m.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm: trial policy command code failed: %w", err)
	}

	rsp, err := tpm2.PolicyGetDigest{
		PolicySession: sess.Handle(),
	}.Execute(m.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm: failed to read trial policy digest: %w", err)
	}

	m.dupPolicy = rsp.PolicyDigest.Buffer
	return m.dupPolicy, nil
}

// CreateKey creates an ECDSA P-256 signing key under the SRK. The key
// is loaded once to obtain its module-assigned name, then flushed; the
// returned blobs are the durable representation.
func (m *TPM2Module) CreateKey() (*CreatedKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.open(); err != nil {
		return nil, err
	}
	if err := m.ensureSRK(); err != nil {
		return nil, err
	}

	dupPolicy, err := m.duplicationPolicy()
	if err != nil {
		return nil, err
	}

	createRsp, err := tpm2.Create{
		ParentHandle: tpm2.AuthHandle{
			Handle: m.srkHandle,
			Name:   m.srkName,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPublic: tpm2.New2B(signingKeyTemplate(dupPolicy)),
	}.Execute(m.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm: failed to create signing key: %w", err)
	}

	loadRsp, err := tpm2.Load{
		ParentHandle: tpm2.AuthHandle{
			Handle: m.srkHandle,
			Name:   m.srkName,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPrivate: createRsp.OutPrivate,
		InPublic:  createRsp.OutPublic,
	}.Execute(m.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm: failed to load created key: %w", err)
	}
	defer tpm2.FlushContext{FlushHandle: loadRsp.ObjectHandle}.Execute(m.tpm)

	publicKey, err := eccPublicKey(&createRsp.OutPublic)
	if err != nil {
		return nil, err
	}

	return &CreatedKey{
		Name:        hex.EncodeToString(loadRsp.Name.Buffer),
		PrivateBlob: tpm2.Marshal(createRsp.OutPrivate),
		PublicBlob:  tpm2.Marshal(createRsp.OutPublic),
		PublicKey:   publicKey,
	}, nil
}

// LoadKey loads a key's blobs into transient memory. The returned key
// must be flushed after use to avoid exhausting object slots.
func (m *TPM2Module) LoadKey(privateBlob, publicBlob []byte) (*LoadedKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.open(); err != nil {
		return nil, err
	}
	if err := m.ensureSRK(); err != nil {
		return nil, err
	}

	private, err := tpm2.Unmarshal[tpm2.TPM2BPrivate](privateBlob)
	if err != nil {
		return nil, fmt.Errorf("%w: private area: %v", ErrInvalidBlob, err)
	}
	public, err := tpm2.Unmarshal[tpm2.TPM2BPublic](publicBlob)
	if err != nil {
		return nil, fmt.Errorf("%w: public area: %v", ErrInvalidBlob, err)
	}

	loadRsp, err := tpm2.Load{
		ParentHandle: tpm2.AuthHandle{
			Handle: m.srkHandle,
			Name:   m.srkName,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPrivate: *private,
		InPublic:  *public,
	}.Execute(m.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm: failed to load key: %w", err)
	}

	publicKey, err := eccPublicKey(public)
	if err != nil {
		tpm2.FlushContext{FlushHandle: loadRsp.ObjectHandle}.Execute(m.tpm)
		return nil, err
	}

	return &LoadedKey{
		Handle:    uint32(loadRsp.ObjectHandle),
		Name:      hex.EncodeToString(loadRsp.Name.Buffer),
		PublicKey: publicKey,
	}, nil
}

// Sign signs a SHA-256 digest with a loaded key and returns an ASN.1
// DER encoded ECDSA signature.
func (m *TPM2Module) Sign(key *LoadedKey, digest []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tpm == nil || m.closed {
		return nil, ErrModuleClosed
	}
	if key == nil {
		return nil, ErrKeyNotLoaded
	}

	name, err := keyName(key)
	if err != nil {
		return nil, err
	}

	signRsp, err := tpm2.Sign{
		KeyHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMHandle(key.Handle),
			Name:   name,
			Auth:   tpm2.PasswordAuth(nil),
		},
		Digest: tpm2.TPM2BDigest{Buffer: digest},
		InScheme: tpm2.TPMTSigScheme{
			Scheme: tpm2.TPMAlgECDSA,
			Details: tpm2.NewTPMUSigScheme(
				tpm2.TPMAlgECDSA,
				&tpm2.TPMSSchemeHash{HashAlg: tpm2.TPMAlgSHA256},
			),
		},
		Validation: tpm2.TPMTTKHashCheck{
			Tag: tpm2.TPMSTHashCheck,
		},
	}.Execute(m.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm: signing failed: %w", err)
	}

	ecdsaSig, err := signRsp.Signature.Signature.ECDSA()
	if err != nil {
		return nil, fmt.Errorf("tpm: unexpected signature type: %w", err)
	}

	return encodeECDSASignature(ecdsaSig.SignatureR.Buffer, ecdsaSig.SignatureS.Buffer)
}

// Flush releases a loaded key's transient handle.
func (m *TPM2Module) Flush(key *LoadedKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tpm == nil || m.closed {
		return ErrModuleClosed
	}
	if key == nil {
		return ErrKeyNotLoaded
	}

	_, err := tpm2.FlushContext{
		FlushHandle: tpm2.TPMHandle(key.Handle),
	}.Execute(m.tpm)
	if err != nil {
		return fmt.Errorf("tpm: failed to flush handle 0x%08x: %w", key.Handle, err)
	}
	return nil
}

// Export duplicates a loaded key to the SRK, producing a blob that can
// only be re-imported into this module. Authorization uses a policy
// session satisfying the key's duplication-only policy.
func (m *TPM2Module) Export(key *LoadedKey) (*ExportedKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tpm == nil || m.closed {
		return nil, ErrModuleClosed
	}
	if key == nil {
		return nil, ErrKeyNotLoaded
	}

	name, err := keyName(key)
	if err != nil {
		return nil, err
	}

	pubRsp, err := tpm2.ReadPublic{
		ObjectHandle: tpm2.TPMHandle(key.Handle),
	}.Execute(m.tpm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyNotLoaded, err)
	}

	sess, closer, err := tpm2.PolicySession(m.tpm, tpm2.TPMAlgSHA256, 16)
	if err != nil {
		return nil, fmt.Errorf("tpm: failed to start policy session: %w", err)
	}
	defer closer()

	_, err = tpm2.PolicyCommandCode{
		PolicySession: sess.Handle(),
		Code:          tpm2.TPMCCDuplicate,
	}.Execute(m.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm: policy command code failed: %w", err)
	}

	dupRsp, err := tpm2.Duplicate{
		ObjectHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMHandle(key.Handle),
			Name:   name,
			Auth:   sess,
		},
		NewParentHandle: tpm2.NamedHandle{
			Handle: m.srkHandle,
			Name:   m.srkName,
		},
		Symmetric: tpm2.TPMTSymDef{
			Algorithm: tpm2.TPMAlgNull,
		},
	}.Execute(m.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm: duplication failed: %w", err)
	}

	wrapped := packWrappedBlob(
		tpm2.Marshal(dupRsp.Duplicate),
		tpm2.Marshal(dupRsp.OutSymSeed),
	)

	return &ExportedKey{
		WrappedBlob: wrapped,
		PublicBlob:  tpm2.Marshal(pubRsp.OutPublic),
	}, nil
}

// Import re-imports a duplication blob under the SRK and loads the
// resulting key into transient memory.
func (m *TPM2Module) Import(ek *ExportedKey) (*LoadedKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.open(); err != nil {
		return nil, err
	}
	if err := m.ensureSRK(); err != nil {
		return nil, err
	}
	if ek == nil {
		return nil, ErrInvalidBlob
	}

	dupBytes, seedBytes, err := unpackWrappedBlob(ek.WrappedBlob)
	if err != nil {
		return nil, err
	}

	duplicate, err := tpm2.Unmarshal[tpm2.TPM2BPrivate](dupBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: duplicate area: %v", ErrInvalidBlob, err)
	}
	seed, err := tpm2.Unmarshal[tpm2.TPM2BEncryptedSecret](seedBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: encrypted seed: %v", ErrInvalidBlob, err)
	}
	public, err := tpm2.Unmarshal[tpm2.TPM2BPublic](ek.PublicBlob)
	if err != nil {
		return nil, fmt.Errorf("%w: public area: %v", ErrInvalidBlob, err)
	}

	importRsp, err := tpm2.Import{
		ParentHandle: tpm2.AuthHandle{
			Handle: m.srkHandle,
			Name:   m.srkName,
			Auth:   tpm2.PasswordAuth(nil),
		},
		ObjectPublic: *public,
		Duplicate:    *duplicate,
		InSymSeed:    *seed,
		Symmetric: tpm2.TPMTSymDef{
			Algorithm: tpm2.TPMAlgNull,
		},
	}.Execute(m.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm: import failed: %w", err)
	}

	loadRsp, err := tpm2.Load{
		ParentHandle: tpm2.AuthHandle{
			Handle: m.srkHandle,
			Name:   m.srkName,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPrivate: importRsp.OutPrivate,
		InPublic:  *public,
	}.Execute(m.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm: failed to load imported key: %w", err)
	}

	publicKey, err := eccPublicKey(public)
	if err != nil {
		tpm2.FlushContext{FlushHandle: loadRsp.ObjectHandle}.Execute(m.tpm)
		return nil, err
	}

	return &LoadedKey{
		Handle:    uint32(loadRsp.ObjectHandle),
		Name:      hex.EncodeToString(loadRsp.Name.Buffer),
		PublicKey: publicKey,
	}, nil
}

// WrappedBlobBounds returns the valid size range for duplication blobs.
func (m *TPM2Module) WrappedBlobBounds() (int, int) {
	return minWrappedBlob, maxWrappedBlob
}

// Close releases the device transport.
func (m *TPM2Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.closer != nil {
		err := m.closer()
		m.tpm = nil
		m.closer = nil
		return err
	}
	return nil
}

// keyName reconstructs the TPM2B_Name from a loaded key's hex name.
func keyName(key *LoadedKey) (tpm2.TPM2BName, error) {
	buf, err := hex.DecodeString(key.Name)
	if err != nil {
		return tpm2.TPM2BName{}, fmt.Errorf("%w: bad key name", ErrInvalidBlob)
	}
	return tpm2.TPM2BName{Buffer: buf}, nil
}

// eccPublicKey extracts the ECDSA P-256 public key from a public area.
func eccPublicKey(public *tpm2.TPM2BPublic) (*ecdsa.PublicKey, error) {
	contents, err := public.Contents()
	if err != nil {
		return nil, fmt.Errorf("%w: public contents: %v", ErrInvalidBlob, err)
	}
	unique, err := contents.Unique.ECC()
	if err != nil {
		return nil, fmt.Errorf("%w: not an ECC key: %v", ErrInvalidBlob, err)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(unique.X.Buffer),
		Y:     new(big.Int).SetBytes(unique.Y.Buffer),
	}, nil
}

// ecdsaSignature is the ASN.1 structure of an ECDSA signature.
type ecdsaSignature struct {
	R, S *big.Int
}

// encodeECDSASignature converts raw r and s values to ASN.1 DER.
func encodeECDSASignature(r, s []byte) ([]byte, error) {
	sig, err := asn1.Marshal(ecdsaSignature{
		R: new(big.Int).SetBytes(r),
		S: new(big.Int).SetBytes(s),
	})
	if err != nil {
		return nil, fmt.Errorf("tpm: failed to encode signature: %w", err)
	}
	return sig, nil
}

// Wrapped blobs carry the duplicate private area and the encrypted
// seed, each prefixed with a big-endian uint16 length.

func packWrappedBlob(duplicate, seed []byte) []byte {
	out := make([]byte, 0, 4+len(duplicate)+len(seed))
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(duplicate)))
	out = append(out, l[:]...)
	out = append(out, duplicate...)
	binary.BigEndian.PutUint16(l[:], uint16(len(seed)))
	out = append(out, l[:]...)
	out = append(out, seed...)
	return out
}

func unpackWrappedBlob(blob []byte) (duplicate, seed []byte, err error) {
	if len(blob) < 4 {
		return nil, nil, fmt.Errorf("%w: wrapped blob truncated", ErrInvalidBlob)
	}
	n := int(binary.BigEndian.Uint16(blob[:2]))
	rest := blob[2:]
	if len(rest) < n+2 {
		return nil, nil, fmt.Errorf("%w: wrapped blob truncated", ErrInvalidBlob)
	}
	duplicate = rest[:n]
	rest = rest[n:]
	n = int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if len(rest) != n {
		return nil, nil, fmt.Errorf("%w: wrapped blob truncated", ErrInvalidBlob)
	}
	return duplicate, rest, nil
}

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
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
)

// fakeWrappedBlobSize is the exact size of a fake duplication blob:
// a 12 byte GCM nonce plus a 32 byte P-256 scalar and 16 byte tag.
const fakeWrappedBlobSize = 12 + 32 + 16

// FakeModule is an in-memory Module for tests. Key material is sealed
// under a per-instance secret with AES-GCM, so blobs produced by one
// fake cannot be loaded into another, mirroring the binding of real
// hardware blobs to a physical device.
//
// Behavior can be altered through the exported error fields and the
// Unavailable and EmptyIdentity flags.
type FakeModule struct {
	mu      sync.Mutex
	secret  []byte
	keys    map[uint32]*ecdsa.PrivateKey
	next    uint32
	closed  bool

	// Unavailable makes Info report an absent device and all key
	// operations fail with ErrModuleUnavailable.
	Unavailable bool

	// EmptyIdentity makes Info report a present module with an empty
	// identity string.
	EmptyIdentity bool

	// CreateErr, LoadErr and SignErr override the corresponding
	// operations with a fixed error.
	CreateErr error
	LoadErr   error
	SignErr   error
}

var _ Module = (*FakeModule)(nil)

// NewFakeModule returns a fake with a random instance secret.
func NewFakeModule() *FakeModule {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic(err)
	}
	return &FakeModule{
		secret: secret,
		keys:   make(map[uint32]*ecdsa.PrivateKey),
		next:   0x80000000,
	}
}

func (f *FakeModule) Info() (ModuleInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ModuleInfo{}, ErrModuleClosed
	}
	if f.Unavailable {
		return ModuleInfo{Present: false}, nil
	}
	info := ModuleInfo{
		Present:  true,
		Ready:    true,
		Owned:    true,
		Identity: "FAKE",
	}
	if f.EmptyIdentity {
		info.Identity = ""
	}
	return info, nil
}

func (f *FakeModule) CreateKey() (*CreatedKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.operational(); err != nil {
		return nil, err
	}
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	publicBlob, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	privateBlob, err := f.seal(key.D.FillBytes(make([]byte, 32)), []byte("private"))
	if err != nil {
		return nil, err
	}

	return &CreatedKey{
		Name:        fakeName(publicBlob),
		PrivateBlob: privateBlob,
		PublicBlob:  publicBlob,
		PublicKey:   &key.PublicKey,
	}, nil
}

func (f *FakeModule) LoadKey(privateBlob, publicBlob []byte) (*LoadedKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.operational(); err != nil {
		return nil, err
	}
	if f.LoadErr != nil {
		return nil, f.LoadErr
	}

	scalar, err := f.unseal(privateBlob, []byte("private"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBlob, err)
	}
	key, err := scalarToKey(scalar)
	if err != nil {
		return nil, err
	}

	return f.register(key, publicBlob), nil
}

func (f *FakeModule) Sign(key *LoadedKey, digest []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.operational(); err != nil {
		return nil, err
	}
	if f.SignErr != nil {
		return nil, f.SignErr
	}
	if key == nil {
		return nil, ErrKeyNotLoaded
	}

	private, ok := f.keys[key.Handle]
	if !ok {
		return nil, ErrKeyNotLoaded
	}
	return ecdsa.SignASN1(rand.Reader, private, digest)
}

func (f *FakeModule) Flush(key *LoadedKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrModuleClosed
	}
	if key == nil {
		return ErrKeyNotLoaded
	}
	if _, ok := f.keys[key.Handle]; !ok {
		return ErrKeyNotLoaded
	}
	delete(f.keys, key.Handle)
	return nil
}

func (f *FakeModule) Export(key *LoadedKey) (*ExportedKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.operational(); err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrKeyNotLoaded
	}

	private, ok := f.keys[key.Handle]
	if !ok {
		return nil, ErrKeyNotLoaded
	}

	wrapped, err := f.seal(private.D.FillBytes(make([]byte, 32)), []byte("duplicate"))
	if err != nil {
		return nil, err
	}
	publicBlob, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		return nil, err
	}

	return &ExportedKey{
		WrappedBlob: wrapped,
		PublicBlob:  publicBlob,
	}, nil
}

func (f *FakeModule) Import(ek *ExportedKey) (*LoadedKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.operational(); err != nil {
		return nil, err
	}
	if ek == nil {
		return nil, ErrInvalidBlob
	}

	scalar, err := f.unseal(ek.WrappedBlob, []byte("duplicate"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBlob, err)
	}
	key, err := scalarToKey(scalar)
	if err != nil {
		return nil, err
	}

	return f.register(key, ek.PublicBlob), nil
}

func (f *FakeModule) WrappedBlobBounds() (int, int) {
	return fakeWrappedBlobSize, fakeWrappedBlobSize
}

func (f *FakeModule) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.keys = make(map[uint32]*ecdsa.PrivateKey)
	return nil
}

// LoadedCount reports how many keys are resident in transient memory.
// Tests use it to assert that callers release what they load.
func (f *FakeModule) LoadedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

// operational checks closed and availability state. Callers hold mu.
func (f *FakeModule) operational() error {
	if f.closed {
		return ErrModuleClosed
	}
	if f.Unavailable {
		return ErrModuleUnavailable
	}
	return nil
}

// register assigns a fresh transient handle. Callers hold mu.
func (f *FakeModule) register(key *ecdsa.PrivateKey, publicBlob []byte) *LoadedKey {
	handle := f.next
	f.next++
	f.keys[handle] = key
	return &LoadedKey{
		Handle:    handle,
		Name:      fakeName(publicBlob),
		PublicKey: &key.PublicKey,
	}
}

// seal encrypts data under the instance secret with AES-GCM. The
// associated data domain-separates private blobs from duplicates.
func (f *FakeModule) seal(data, domain []byte) ([]byte, error) {
	aead, err := f.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, data, domain), nil
}

func (f *FakeModule) unseal(blob, domain []byte) ([]byte, error) {
	aead, err := f.aead()
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, fmt.Errorf("blob too short")
	}
	return aead.Open(nil, blob[:aead.NonceSize()], blob[aead.NonceSize():], domain)
}

func (f *FakeModule) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(f.secret)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// fakeName derives a stable name from the public blob, prefixed with
// the SHA-256 name algorithm identifier like a real module name.
func fakeName(publicBlob []byte) string {
	sum := sha256.Sum256(publicBlob)
	return "000b" + hex.EncodeToString(sum[:])
}

// scalarToKey reconstructs a P-256 private key from its scalar.
func scalarToKey(scalar []byte) (*ecdsa.PrivateKey, error) {
	d := new(big.Int).SetBytes(scalar)
	if d.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero scalar", ErrInvalidBlob)
	}
	x, y := elliptic.P256().ScalarBaseMult(scalar)
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y},
		D:         d,
	}, nil
}

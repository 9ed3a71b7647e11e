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

// Package docsign is the top-level service facade. It wires the
// capability detector, key providers, wrapping vault, signing engine
// and CSR issuer over a single storage backend, and persists key
// descriptors, signature records and CSRs across restarts.
package docsign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-docsign/pkg/csr"
	"github.com/jeremyhahn/go-docsign/pkg/detector"
	"github.com/jeremyhahn/go-docsign/pkg/engine"
	"github.com/jeremyhahn/go-docsign/pkg/logging"
	"github.com/jeremyhahn/go-docsign/pkg/metrics"
	"github.com/jeremyhahn/go-docsign/pkg/provider"
	"github.com/jeremyhahn/go-docsign/pkg/provider/hardware"
	"github.com/jeremyhahn/go-docsign/pkg/provider/software"
	"github.com/jeremyhahn/go-docsign/pkg/storage"
	"github.com/jeremyhahn/go-docsign/pkg/tpm"
	"github.com/jeremyhahn/go-docsign/pkg/types"
	"github.com/jeremyhahn/go-docsign/pkg/vault"
)

// Service is the document signing service. All operations are safe for
// concurrent use; hardware operations serialize on the module's own
// lock while software operations run in parallel.
type Service struct {
	store    storage.Backend
	detector *detector.Detector
	factory  *provider.Factory
	hardware *hardware.Provider
	software *software.Provider
	vault    *vault.Vault
	engine   *engine.Engine
	issuer   *csr.Issuer
	logger   *logging.Logger
}

// NewService wires a service over the given hardware module and storage
// backend. The module may be a TPM2Module, a FakeModule in tests, or any
// other tpm.Module implementation.
func NewService(module tpm.Module, store storage.Backend, logger *logging.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	d := detector.New(module, logger)
	hw := hardware.NewProvider(module, store, logger)
	sw := software.NewProvider(store, logger)
	factory := provider.NewFactory(d, hw, sw, logger)

	v, err := vault.New(module, store, hw, logger)
	if err != nil {
		return nil, err
	}

	e := engine.New(factory, v, logger)

	return &Service{
		store:    store,
		detector: d,
		factory:  factory,
		hardware: hw,
		software: sw,
		vault:    v,
		engine:   e,
		issuer:   csr.NewIssuer(e, logger),
		logger:   logger,
	}, nil
}

// Vault exposes the wrapping vault for privileged operations such as
// resealing.
func (s *Service) Vault() *vault.Vault {
	return s.vault
}

// GetCapability returns the detector's current hardware verdict.
func (s *Service) GetCapability() (*types.Capability, error) {
	capability, err := s.detector.Detect()
	if err != nil {
		return nil, err
	}
	return &capability, nil
}

// RefreshCapability drops the cached verdict so the next call reprobes
// the module.
func (s *Service) RefreshCapability() {
	s.detector.Invalidate()
}

// CreateKey creates a signing key with the best available provider.
// Hardware keys whose policy permits archiving are wrapped into the
// vault immediately; their resident hardware copy is destroyed and the
// key material survives only as a sealed envelope.
func (s *Service) CreateKey(ctx context.Context, displayName string, policy types.WrapPolicy) (*types.KeyDescriptor, error) {
	start := time.Now()
	desc, err := s.createKey(ctx, displayName, policy)

	providerKind := "unknown"
	if desc != nil {
		providerKind = desc.Provider.Kind.String()
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	metrics.RecordOperation(metrics.OpCreate, providerKind, status, time.Since(start).Seconds())
	return desc, err
}

func (s *Service) createKey(ctx context.Context, displayName string, policy types.WrapPolicy) (*types.KeyDescriptor, error) {
	p, err := s.factory.Select()
	if err != nil {
		return nil, err
	}

	desc, err := p.Create(ctx, displayName, policy)
	if err != nil {
		return nil, err
	}

	if desc.IsHardware() && policy != types.WrapPolicyNoExport {
		if _, err := s.vault.Wrap(ctx, desc); err != nil {
			// Roll back: a key that cannot be archived must not
			// linger as an unwrapped hardware copy.
			if delErr := p.Delete(ctx, desc); delErr != nil {
				s.logger.Errorf("docsign: rollback of key %s failed: %v", desc.ID, delErr)
			}
			return nil, err
		}
	}

	if err := s.putKey(desc); err != nil {
		return nil, err
	}

	s.logger.Infof("docsign: created %s key %s (%s)", desc.Provider.Kind, desc.ID, displayName)
	return desc, nil
}

// AdoptKey registers a key created elsewhere, typically by the elevated
// setup daemon. The descriptor and its envelope cross the privilege
// boundary in serialized form only.
func (s *Service) AdoptKey(desc *types.KeyDescriptor, envelope *types.KeyEnvelope) error {
	if desc == nil {
		return fmt.Errorf("%w: nil descriptor", types.ErrInvalidDescriptor)
	}
	if err := desc.Validate(); err != nil {
		return err
	}
	if envelope != nil {
		if envelope.KeyID != desc.ID {
			return fmt.Errorf("%w: envelope belongs to key %s, not %s", types.ErrCorruptEnvelope, envelope.KeyID, desc.ID)
		}
		if err := s.vault.StoreEnvelope(envelope); err != nil {
			return err
		}
	}
	return s.putKey(desc)
}

// GetKey loads a key descriptor by id.
func (s *Service) GetKey(id string) (*types.KeyDescriptor, error) {
	raw, err := s.store.Get(storage.PrefixKeys + id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrKeyNotFound, id)
		}
		return nil, err
	}
	var desc types.KeyDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("docsign: corrupt descriptor %s: %w", id, err)
	}
	return &desc, nil
}

// ListKeys returns all stored key descriptors.
func (s *Service) ListKeys() ([]*types.KeyDescriptor, error) {
	keys, err := s.store.List(storage.PrefixKeys)
	if err != nil {
		return nil, err
	}
	descs := make([]*types.KeyDescriptor, 0, len(keys))
	for _, key := range keys {
		raw, err := s.store.Get(key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		var desc types.KeyDescriptor
		if err := json.Unmarshal(raw, &desc); err != nil {
			return nil, fmt.Errorf("docsign: corrupt descriptor at %s: %w", key, err)
		}
		descs = append(descs, &desc)
	}
	return descs, nil
}

// RevokeKey marks a key revoked. Revoked keys keep their material and
// stay verifiable, but refuse to produce new signatures.
func (s *Service) RevokeKey(ctx context.Context, id string) (*types.KeyDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	desc, err := s.GetKey(id)
	if err != nil {
		return nil, err
	}
	if err := desc.Transition(types.KeyStatusRevoked); err != nil {
		return nil, err
	}
	if err := s.putKey(desc); err != nil {
		return nil, err
	}
	s.logger.Infof("docsign: revoked key %s", id)
	return desc, nil
}

// DeleteKey destroys a key: its provider-held material, its envelope if
// one exists, and its descriptor. Signature records are retained so
// existing signatures stay auditable.
func (s *Service) DeleteKey(ctx context.Context, id string) error {
	start := time.Now()
	desc, err := s.deleteKey(ctx, id)

	providerKind := "unknown"
	if desc != nil {
		providerKind = desc.Provider.Kind.String()
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	metrics.RecordOperation(metrics.OpDelete, providerKind, status, time.Since(start).Seconds())
	return err
}

func (s *Service) deleteKey(ctx context.Context, id string) (*types.KeyDescriptor, error) {
	desc, err := s.GetKey(id)
	if err != nil {
		return nil, err
	}

	p, err := s.factory.For(desc)
	if err != nil {
		return desc, err
	}
	// Wrapped hardware keys have no resident material left, so a
	// not-found from the provider is expected.
	if err := p.Delete(ctx, desc); err != nil && !isNotFound(err) {
		return desc, err
	}

	if err := s.vault.DeleteEnvelope(id); err != nil && !isNotFound(err) {
		return desc, err
	}

	if err := s.store.Delete(storage.PrefixKeys + id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return desc, err
	}

	s.logger.Infof("docsign: deleted key %s", id)
	return desc, nil
}

// SignDocument signs content with the named key and persists the
// resulting signature record.
func (s *Service) SignDocument(ctx context.Context, keyID string, content []byte) (*types.SignatureRecord, error) {
	desc, err := s.GetKey(keyID)
	if err != nil {
		return nil, err
	}
	if desc.Status != types.KeyStatusActive {
		return nil, fmt.Errorf("%w: key %s is %s", types.ErrKeyNotActive, keyID, desc.Status)
	}

	record, err := s.engine.SignDocument(ctx, content, desc)
	if err != nil {
		return nil, err
	}

	desc.UsageCount++
	desc.LastUsedAt = time.Now().UTC()
	if err := s.putKey(desc); err != nil {
		return nil, err
	}

	if err := s.putSignature(record); err != nil {
		return nil, err
	}
	return record, nil
}

// VerifySignature verifies a stored signature record against the
// supplied content and transitions its status to Verified or Failed.
// A content mismatch or bad signature is a Failed verdict, not an
// error. Both verdicts are terminal: once settled, the record is
// returned as-is and never re-verified.
func (s *Service) VerifySignature(ctx context.Context, signatureID string, content []byte) (*types.SignatureRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record, err := s.GetSignature(signatureID)
	if err != nil {
		return nil, err
	}

	// Verified and Failed are terminal; a settled record is never
	// rewritten by later verification attempts.
	if record.VerificationStatus.Terminal() {
		return record, nil
	}

	desc, err := s.GetKey(record.KeyID)
	if err != nil {
		return nil, err
	}

	status, err := s.engine.VerifySignature(content, record.Signature, desc.PublicKey)
	if err != nil {
		return nil, err
	}

	record.VerificationStatus = status
	if err := s.putSignature(record); err != nil {
		return nil, err
	}
	return record, nil
}

// GetSignature loads a stored signature record.
func (s *Service) GetSignature(id string) (*types.SignatureRecord, error) {
	raw, err := s.store.Get(storage.PrefixSignatures + id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrSignatureNotFound, id)
		}
		return nil, err
	}
	var record types.SignatureRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("docsign: corrupt signature record %s: %w", id, err)
	}
	return &record, nil
}

// IssueCSR creates and persists a PKCS#10 request for the named key.
func (s *Service) IssueCSR(ctx context.Context, keyID string, subject types.Subject, certType types.CertificateType) (*types.CertificateSigningRequest, error) {
	desc, err := s.GetKey(keyID)
	if err != nil {
		return nil, err
	}
	if desc.Status != types.KeyStatusActive {
		return nil, fmt.Errorf("%w: key %s is %s", types.ErrKeyNotActive, keyID, desc.Status)
	}

	request, err := s.issuer.Issue(ctx, desc, subject, certType)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("docsign: failed to encode csr %s: %w", request.ID, err)
	}
	if err := s.store.Put(storage.PrefixCSRs+request.ID, raw, nil); err != nil {
		return nil, err
	}
	return request, nil
}

// Reseal rotates the vault's envelope integrity salt and retries any
// pending residual hardware copy deletions.
func (s *Service) Reseal(ctx context.Context) error {
	return s.vault.Reseal(ctx)
}

func (s *Service) putKey(desc *types.KeyDescriptor) error {
	raw, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("docsign: failed to encode descriptor %s: %w", desc.ID, err)
	}
	return s.store.Put(storage.PrefixKeys+desc.ID, raw, nil)
}

func (s *Service) putSignature(record *types.SignatureRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("docsign: failed to encode signature record %s: %w", record.ID, err)
	}
	return s.store.Put(storage.PrefixSignatures+record.ID, raw, nil)
}

func isNotFound(err error) bool {
	return errors.Is(err, types.ErrKeyNotFound) || errors.Is(err, storage.ErrNotFound)
}

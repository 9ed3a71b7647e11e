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

package provider

import (
	"fmt"

	"github.com/jeremyhahn/go-docsign/pkg/detector"
	"github.com/jeremyhahn/go-docsign/pkg/logging"
	"github.com/jeremyhahn/go-docsign/pkg/types"
)

// Factory selects a provider based on the detector's capability
// verdict. Selection is deterministic: while the cached verdict says
// the hardware provider is unusable, every selection yields the
// software provider.
type Factory struct {
	detector *detector.Detector
	hardware Provider
	software Provider
	logger   *logging.Logger
}

// NewFactory creates a capability-driven provider factory.
func NewFactory(d *detector.Detector, hardware, software Provider, logger *logging.Logger) *Factory {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Factory{
		detector: d,
		hardware: hardware,
		software: software,
		logger:   logger,
	}
}

// Select returns the provider new keys should be created with:
// hardware when the module is usable, otherwise the software fallback.
// The fallback is never silent; the detector logs each verdict change.
func (f *Factory) Select() (Provider, error) {
	capability, err := f.detector.Detect()
	if err != nil {
		return nil, err
	}
	if capability.ProviderUsable {
		return f.hardware, nil
	}
	return f.software, nil
}

// For returns the provider that owns an existing descriptor. A
// hardware descriptor on a platform whose module is unusable yields
// ErrProviderUnavailable rather than a silent fallback; a software
// provider can never use hardware-held material.
func (f *Factory) For(desc *types.KeyDescriptor) (Provider, error) {
	if desc == nil {
		return nil, types.ErrInvalidDescriptor
	}

	switch desc.Provider.Kind {
	case types.ProviderSoftware:
		return f.software, nil
	case types.ProviderHardware:
		capability, err := f.detector.Detect()
		if err != nil {
			return nil, err
		}
		if !capability.ProviderUsable {
			return nil, fmt.Errorf("%w: key %s requires the hardware provider", types.ErrProviderUnavailable, desc.ID)
		}
		return f.hardware, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider kind %q", types.ErrInvalidDescriptor, desc.Provider.Kind)
	}
}

// Capability exposes the detector's current verdict.
func (f *Factory) Capability() (types.Capability, error) {
	return f.detector.Detect()
}

// Invalidate forces re-detection on the next selection, typically
// after a privilege change or module provisioning event.
func (f *Factory) Invalidate() {
	f.detector.Invalidate()
}

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

// Package detector probes the security module and reports whether the
// hardware key provider can be used. Probe results are cached because
// detection performs a trial key creation, which is too expensive to
// repeat on every key operation.
package detector

import (
	"sync"

	"github.com/jeremyhahn/go-docsign/pkg/logging"
	"github.com/jeremyhahn/go-docsign/pkg/tpm"
	"github.com/jeremyhahn/go-docsign/pkg/types"
)

// Detector determines hardware provider usability. Safe for concurrent
// use.
type Detector struct {
	module  tpm.Module
	logger  *logging.Logger
	mu      sync.Mutex
	cached  *types.Capability
	lastLog string
}

// New creates a detector backed by the given module.
func New(module tpm.Module, logger *logging.Logger) *Detector {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Detector{
		module: module,
		logger: logger,
	}
}

// Detect returns the module capability, probing the device on the
// first call and serving the cached verdict afterwards. Call
// Invalidate after any event that may change module state.
func (d *Detector) Detect() (types.Capability, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached != nil {
		return *d.cached, nil
	}

	capability, err := d.probe()
	if err != nil {
		return types.Capability{}, err
	}

	d.cached = &capability
	d.logVerdict(capability)
	return capability, nil
}

// Invalidate discards the cached verdict so the next Detect probes the
// device again.
func (d *Detector) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = nil
}

// probe inspects the module and, when it looks healthy, proves
// usability with a trial key round trip. Callers must hold mu.
func (d *Detector) probe() (types.Capability, error) {
	info, err := d.module.Info()
	if err != nil {
		return types.Capability{}, err
	}

	capability := types.Capability{
		ModulePresent: info.Present,
		ModuleReady:   info.Ready,
		ModuleOwned:   info.Owned,
	}

	if !info.Present || !info.Ready || !info.Owned {
		return capability, nil
	}

	// A present module reporting no identity is in a partial or failed
	// provisioning state and cannot be trusted with keys.
	if info.Identity == "" {
		d.logger.Warn("detector: module present but reports empty identity, treating as unusable")
		return capability, nil
	}

	if err := d.trialRoundTrip(); err != nil {
		d.logger.Warnf("detector: trial key round trip failed: %v", err)
		return capability, nil
	}

	capability.ProviderUsable = true
	return capability, nil
}

// trialRoundTrip creates, loads and flushes a throwaway key to prove
// the module can actually serve key operations, not just answer
// capability queries.
func (d *Detector) trialRoundTrip() error {
	created, err := d.module.CreateKey()
	if err != nil {
		return err
	}

	loaded, err := d.module.LoadKey(created.PrivateBlob, created.PublicBlob)
	if err != nil {
		return err
	}

	return d.module.Flush(loaded)
}

// logVerdict records the detection outcome, once per verdict change.
func (d *Detector) logVerdict(capability types.Capability) {
	verdict := capability.String()
	if verdict == d.lastLog {
		return
	}
	d.lastLog = verdict

	if capability.ProviderUsable {
		d.logger.Info("detector: hardware provider usable", "capability", verdict)
	} else {
		d.logger.Info("detector: hardware provider unusable, software fallback will be used", "capability", verdict)
	}
}

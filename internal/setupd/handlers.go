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

package setupd

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jeremyhahn/go-docsign/pkg/docsign"
	"github.com/jeremyhahn/go-docsign/pkg/logging"
	"github.com/jeremyhahn/go-docsign/pkg/types"
)

type handlerContext struct {
	service *docsign.Service
	logger  *logging.Logger
}

// CreateKeyRequest is the body of POST /api/v1/setup/keys.
type CreateKeyRequest struct {
	DisplayName string `json:"displayName"`
	WrapPolicy  string `json:"wrapPolicy,omitempty"`
}

// CreateKeyResponse returns the created key in serialized form only.
// The envelope is present when the key was archived at creation.
type CreateKeyResponse struct {
	Descriptor *types.KeyDescriptor `json:"descriptor"`
	Envelope   *types.KeyEnvelope   `json:"envelope,omitempty"`
}

// CapabilityResponse is the body of GET /api/v1/capability.
type CapabilityResponse struct {
	Capability *types.Capability `json:"capability"`
}

// healthHandler handles GET /health.
func (h *handlerContext) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// capabilityHandler handles GET /api/v1/capability.
func (h *handlerContext) capabilityHandler(w http.ResponseWriter, r *http.Request) {
	capability, err := h.service.GetCapability()
	if err != nil {
		writeError(w, err, mapErrorToStatusCode(err))
		return
	}
	writeJSON(w, CapabilityResponse{Capability: capability}, http.StatusOK)
}

// createKeyHandler handles POST /api/v1/setup/keys.
func (h *handlerContext) createKeyHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("setupd: invalid request body: %w", err), http.StatusBadRequest)
		return
	}
	if req.DisplayName == "" {
		writeError(w, errors.New("setupd: displayName is required"), http.StatusBadRequest)
		return
	}

	policy := types.WrapPolicyAllowArchiving
	if req.WrapPolicy != "" {
		parsed, err := types.ParseWrapPolicy(req.WrapPolicy)
		if err != nil {
			writeError(w, err, http.StatusBadRequest)
			return
		}
		policy = parsed
	}

	desc, err := h.service.CreateKey(r.Context(), req.DisplayName, policy)
	if err != nil {
		writeError(w, err, mapErrorToStatusCode(err))
		return
	}

	resp := CreateKeyResponse{Descriptor: desc}
	has, err := h.service.Vault().HasEnvelope(desc.ID)
	if err != nil {
		writeError(w, err, mapErrorToStatusCode(err))
		return
	}
	if has {
		envelope, err := h.service.Vault().LoadEnvelope(desc.ID)
		if err != nil {
			writeError(w, err, mapErrorToStatusCode(err))
			return
		}
		resp.Envelope = envelope
	}

	writeJSON(w, resp, http.StatusCreated)
}

// resealHandler handles POST /api/v1/setup/reseal.
func (h *handlerContext) resealHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reseal(r.Context()); err != nil {
		writeError(w, err, mapErrorToStatusCode(err))
		return
	}
	writeJSON(w, map[string]string{"status": "resealed"}, http.StatusOK)
}

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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/jeremyhahn/go-docsign/pkg/types"
)

// Client talks to the setup daemon over its unix socket. It is the
// only channel a standard-privilege process has to elevated
// operations; everything it receives is a serialized descriptor or
// envelope.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// NewClient creates a client for the daemon at socketPath.
func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// Available reports whether the daemon socket exists.
func (c *Client) Available() bool {
	_, err := os.Stat(c.socketPath)
	return err == nil
}

// CreateKey asks the daemon to create and archive a hardware key.
func (c *Client) CreateKey(ctx context.Context, displayName string, policy types.WrapPolicy) (*types.KeyDescriptor, *types.KeyEnvelope, error) {
	body, err := json.Marshal(CreateKeyRequest{
		DisplayName: displayName,
		WrapPolicy:  policy.String(),
	})
	if err != nil {
		return nil, nil, err
	}

	var resp CreateKeyResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/setup/keys", body, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Descriptor, resp.Envelope, nil
}

// Reseal asks the daemon to rotate the vault integrity salt and retry
// pending residual deletions.
func (c *Client) Reseal(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/setup/reseal", nil, nil)
}

// Capability returns the daemon's view of the hardware module.
func (c *Client) Capability(ctx context.Context) (*types.Capability, error) {
	var resp CapabilityResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/capability", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Capability, nil
}

// Health checks that the daemon is responding.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	// The host is ignored; the transport dials the unix socket.
	req, err := http.NewRequestWithContext(ctx, method, "http://setupd"+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: setup daemon is not reachable at %s (start docsign-setupd as root, or re-run this command with elevated privileges): %v",
			types.ErrInsufficientPrivilege, c.socketPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if decErr := json.NewDecoder(resp.Body).Decode(&errResp); decErr == nil && errResp.Error != "" {
			return remoteError(resp.StatusCode, errResp.Error)
		}
		return remoteError(resp.StatusCode, resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("setupd: failed to decode response: %w", err)
		}
	}
	return nil
}

// remoteError rebuilds a typed error from a daemon error reply so
// callers can branch on the usual sentinels.
func remoteError(statusCode int, message string) error {
	switch statusCode {
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", types.ErrInsufficientPrivilege, message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", types.ErrKeyNotFound, message)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", types.ErrProviderUnavailable, message)
	default:
		return fmt.Errorf("setupd: request failed: %s", message)
	}
}

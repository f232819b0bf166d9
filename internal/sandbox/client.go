// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bulwark-dev/bulwark/internal/registry"
	"github.com/bulwark-dev/bulwark/internal/selector"
	bulwarkerr "github.com/bulwark-dev/bulwark/pkg/errors"
)

// DefaultRequestTimeout bounds one sandbox HTTP attempt. Failover across
// providers means a single logical call may take several attempts, each
// individually bounded.
const DefaultRequestTimeout = 30 * time.Second

// Client is the failover-aware HTTP client owned by the sandbox class.
// Every request runs through the selector, so provider failures are
// recorded and retried against the next candidate transparently.
type Client struct {
	sel  *selector.Selector
	http *http.Client
}

// New creates a Client. A zero timeout takes the default.
func New(sel *selector.Selector, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		sel:  sel,
		http: &http.Client{Timeout: timeout},
	}
}

// FetchJSON performs method against path on the current sandbox
// provider, failing over on error. A non-nil body is sent as JSON; a
// non-nil out receives the decoded response.
func (c *Client) FetchJSON(ctx context.Context, method, path string, body, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return bulwarkerr.Wrapf(err, bulwarkerr.CodeSandboxRequestInvalid,
				"encoding request body for %s", path)
		}
	}

	return c.sel.Execute(ctx, registry.ClassSandbox, func(ctx context.Context, p registry.Provider) error {
		raw, err := c.attempt(ctx, p, method, path, encoded)
		if err != nil {
			return err
		}
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return bulwarkerr.Wrap(err, bulwarkerr.CodeSandboxUpstreamFailure,
				"decoding sandbox response", bulwarkerr.FieldProvider(p.Name))
		}
		return nil
	})
}

// Fetch performs a GET against path and returns the raw response body.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	var raw []byte
	err := c.sel.Execute(ctx, registry.ClassSandbox, func(ctx context.Context, p registry.Provider) error {
		var attemptErr error
		raw, attemptErr = c.attempt(ctx, p, http.MethodGet, path, nil)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) attempt(ctx context.Context, p registry.Provider, method, path string, body []byte) ([]byte, error) {
	url := strings.TrimRight(p.Endpoint, "/") + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, bulwarkerr.Wrapf(err, bulwarkerr.CodeSandboxRequestInvalid,
			"building %s %s", method, url)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, bulwarkerr.Wrap(err, bulwarkerr.CodeSandboxUpstreamFailure,
			"sandbox request failed", bulwarkerr.FieldProvider(p.Name))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, bulwarkerr.Wrap(err, bulwarkerr.CodeSandboxUpstreamFailure,
			"reading sandbox response", bulwarkerr.FieldProvider(p.Name))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, bulwarkerr.Errorf(bulwarkerr.CodeSandboxUpstreamFailure,
			"sandbox %s returned status %d for %s", p.Name, resp.StatusCode, path)
	}
	return raw, nil
}

// Package sandbox implements the Remote Sandbox Orchestrator (spec.md §4.4):
// provisioning, timeout/budget enforcement, and teardown of ephemeral
// remote execution environments for agent sessions.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CommandResult is the outcome of one command run inside a sandbox.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Provider is the capability set spec.md §9 calls for — "dynamic dispatch
// over multiple sandbox/provider objects... captured by a capability set
// {commands.run, files.read, files.write, isRunning, kill, setTimeout}".
// Concrete sandbox backends implement this rather than exposing a
// provider-specific type.
type Provider interface {
	Create(ctx context.Context, image string, opts CreateOptions) (Handle, error)
}

// CreateOptions configures a new sandbox.
type CreateOptions struct {
	Template  string
	TimeoutMs int64
	Env       map[string]string
}

// Handle is a live sandbox: the capability set itself.
type Handle interface {
	ID() string
	Run(ctx context.Context, cmd string, timeoutMs int64) (CommandResult, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	ReadFile(ctx context.Context, path string) ([]byte, error)
	IsRunning(ctx context.Context) (bool, error)
	Kill(ctx context.Context) error
	SetTimeout(ctx context.Context, ms int64) error
}

// HTTPProvider implements Provider over a generic REST control plane. No
// sandbox SDK appears anywhere in the retrieved example pack, so this is
// the one component the spec forces onto a stdlib net/http client rather
// than a third-party SDK (see DESIGN.md).
type HTTPProvider struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPProvider constructs an HTTPProvider against a control-plane base
// URL, authenticating with apiKey.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type createSandboxRequest struct {
	Image     string            `json:"image"`
	Template  string            `json:"template,omitempty"`
	TimeoutMs int64             `json:"timeout_ms,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

type createSandboxResponse struct {
	ID string `json:"id"`
}

// Create requests a new sandbox from the provider's control plane.
func (p *HTTPProvider) Create(ctx context.Context, image string, opts CreateOptions) (Handle, error) {
	body, err := json.Marshal(createSandboxRequest{
		Image: image, Template: opts.Template, TimeoutMs: opts.TimeoutMs, Env: opts.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("encode create request: %w", err)
	}

	var resp createSandboxResponse
	if err := p.doJSON(ctx, http.MethodPost, "/sandboxes", body, &resp); err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	return &httpHandle{provider: p, id: resp.ID}, nil
}

func (p *HTTPProvider) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type httpHandle struct {
	provider *HTTPProvider
	id       string
}

func (h *httpHandle) ID() string { return h.id }

type runRequest struct {
	Cmd       string `json:"cmd"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

func (h *httpHandle) Run(ctx context.Context, cmd string, timeoutMs int64) (CommandResult, error) {
	body, _ := json.Marshal(runRequest{Cmd: cmd, TimeoutMs: timeoutMs})
	var result CommandResult
	err := h.provider.doJSON(ctx, http.MethodPost, "/sandboxes/"+h.id+"/commands", body, &result)
	return result, err
}

type writeFileRequest struct {
	Path string `json:"path"`
	Data []byte `json:"data"`
}

func (h *httpHandle) WriteFile(ctx context.Context, path string, data []byte) error {
	body, _ := json.Marshal(writeFileRequest{Path: path, Data: data})
	return h.provider.doJSON(ctx, http.MethodPut, "/sandboxes/"+h.id+"/files", body, nil)
}

func (h *httpHandle) ReadFile(ctx context.Context, path string) ([]byte, error) {
	var out struct {
		Data []byte `json:"data"`
	}
	err := h.provider.doJSON(ctx, http.MethodGet, "/sandboxes/"+h.id+"/files?path="+path, nil, &out)
	return out.Data, err
}

func (h *httpHandle) IsRunning(ctx context.Context) (bool, error) {
	var out struct {
		Running bool `json:"running"`
	}
	err := h.provider.doJSON(ctx, http.MethodGet, "/sandboxes/"+h.id+"/status", nil, &out)
	return out.Running, err
}

func (h *httpHandle) Kill(ctx context.Context) error {
	return h.provider.doJSON(ctx, http.MethodDelete, "/sandboxes/"+h.id, nil, nil)
}

type setTimeoutRequest struct {
	TimeoutMs int64 `json:"timeout_ms"`
}

func (h *httpHandle) SetTimeout(ctx context.Context, ms int64) error {
	body, _ := json.Marshal(setTimeoutRequest{TimeoutMs: ms})
	return h.provider.doJSON(ctx, http.MethodPost, "/sandboxes/"+h.id+"/timeout", body, nil)
}

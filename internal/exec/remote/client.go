package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Remote run states reported by the sandbox service.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// RemoteStatus is one poll observation of a submitted run.
type RemoteStatus struct {
	State     string `json:"state"`
	ResultKey string `json:"result_key,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Terminal reports whether the state will not change on further polling.
func (s RemoteStatus) Terminal() bool {
	switch s.State {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// SandboxClient is the control-plane surface of the sandbox service.
type SandboxClient interface {
	Submit(ctx context.Context, payloadKey string) (string, error)
	Status(ctx context.Context, id string) (RemoteStatus, error)
	Cancel(ctx context.Context, id string) error
}

// ClientConfig configures the HTTP sandbox client. Either a static bearer
// token or OAuth2 client credentials must be supplied.
type ClientConfig struct {
	BaseURL      string
	Token        string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Timeout      time.Duration
}

// HTTPSandboxClient talks to a sandboxd instance over its run API.
type HTTPSandboxClient struct {
	baseURL string
	http    *http.Client
	token   string
	source  oauth2.TokenSource
}

func NewHTTPSandboxClient(cfg ClientConfig) (*HTTPSandboxClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("sandbox base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &HTTPSandboxClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		token:   strings.TrimSpace(cfg.Token),
	}
	if c.token == "" {
		if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.TokenURL == "" {
			return nil, errors.New("either a bearer token or oauth2 client credentials are required")
		}
		creds := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		c.source = creds.TokenSource(context.Background())
	}
	return c, nil
}

func (c *HTTPSandboxClient) Submit(ctx context.Context, payloadKey string) (string, error) {
	body, err := json.Marshal(map[string]string{"payload_key": payloadKey})
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/runs", body, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("sandbox returned no run id")
	}
	return resp.ID, nil
}

func (c *HTTPSandboxClient) Status(ctx context.Context, id string) (RemoteStatus, error) {
	var status RemoteStatus
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+id, nil, http.StatusOK, &status); err != nil {
		return RemoteStatus{}, err
	}
	return status, nil
}

func (c *HTTPSandboxClient) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/runs/"+id, nil, http.StatusAccepted, nil)
}

func (c *HTTPSandboxClient) do(ctx context.Context, method, path string, body []byte, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token := c.token
	if c.source != nil {
		tok, err := c.source.Token()
		if err != nil {
			return fmt.Errorf("sandbox token: %w", err)
		}
		token = tok.AccessToken
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sandbox request %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode sandbox response: %w", err)
	}
	return nil
}

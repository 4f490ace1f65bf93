package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultGatewayTimeout = 15 * time.Second

// GatewayConfig configures the signer gateway client.
type GatewayConfig struct {
	BaseURL        string
	APIKey         string
	Authority      string
	Timeout        time.Duration
	RequestsPerSec float64
}

// GatewayClient talks to an HTTP signer gateway that holds the pool keypair.
// The gateway deduplicates submissions by reference.
type GatewayClient struct {
	baseURL    string
	apiKey     string
	authority  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type submitRequest struct {
	Reference   string `json:"reference"`
	Authority   string `json:"authority"`
	Destination string `json:"destination"`
	Lamports    int64  `json:"lamports"`
}

type submitResponse struct {
	Signature string `json:"signature"`
}

type statusResponse struct {
	Signature string `json:"signature"`
	Status    string `json:"status"`
	Lamports  int64  `json:"lamports,omitempty"`
	Error     string `json:"error,omitempty"`
}

type gatewayError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewGatewayClient builds a gateway client.
func NewGatewayClient(cfg GatewayConfig) (*GatewayClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gateway base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	if strings.TrimSpace(cfg.Authority) == "" {
		return nil, errors.New("transfer authority is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	return &GatewayClient{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		authority:  cfg.Authority,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

// Submit asks the gateway to sign and send one transfer.
func (c *GatewayClient) Submit(ctx context.Context, req Request) (string, error) {
	if err := validate(req); err != nil {
		return "", &RejectedError{Code: "invalid_request", Message: err.Error()}
	}
	lamports, _ := ToLamports(req.Amount)

	payload := submitRequest{
		Reference:   req.Reference,
		Authority:   c.authority,
		Destination: req.Destination,
		Lamports:    lamports,
	}
	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", payload, &resp); err != nil {
		var unknown *unknownOutcomeError
		if errors.As(err, &unknown) && unknown.status == http.StatusConflict && req.Reference != "" {
			return c.existingSubmission(ctx, req, err)
		}
		return "", err
	}
	if resp.Signature == "" {
		return "", errors.New("gateway returned an empty signature")
	}
	return resp.Signature, nil
}

// Status reports the network status of a submitted transfer. Unknown
// signatures are reported as pending.
func (c *GatewayClient) Status(ctx context.Context, signature string) (Status, error) {
	var resp statusResponse
	err := c.do(ctx, http.MethodGet, "/v1/transfers/"+url.PathEscape(signature), nil, &resp)
	if err != nil {
		var notFound *notFoundError
		if errors.As(err, &notFound) {
			return StatusPending, nil
		}
		return StatusPending, err
	}
	switch strings.ToLower(resp.Status) {
	case "confirmed", "finalized":
		return StatusConfirmed, nil
	case "failed":
		return StatusFailed, nil
	default:
		return StatusPending, nil
	}
}

// Lookup finds the transfer the gateway accepted for reference.
func (c *GatewayClient) Lookup(ctx context.Context, reference string) (string, bool, error) {
	resp, found, err := c.lookup(ctx, reference)
	if err != nil || !found {
		return "", false, err
	}
	return resp.Signature, true, nil
}

func (c *GatewayClient) lookup(ctx context.Context, reference string) (*statusResponse, bool, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, false, errors.New("reference is required")
	}
	var resp statusResponse
	err := c.do(ctx, http.MethodGet, "/v1/transfers?reference="+url.QueryEscape(reference), nil, &resp)
	if err != nil {
		var notFound *notFoundError
		if errors.As(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if resp.Signature == "" {
		return nil, false, nil
	}
	return &resp, true, nil
}

// existingSubmission resolves a 409 on submit: the gateway already holds a
// transfer for the reference. Its signature is returned only when the amount
// matches the request.
func (c *GatewayClient) existingSubmission(ctx context.Context, req Request, cause error) (string, error) {
	resp, found, err := c.lookup(ctx, req.Reference)
	if err != nil {
		return "", fmt.Errorf("%w; lookup after conflict: %v", cause, err)
	}
	if !found {
		return "", cause
	}
	if resp.Lamports != 0 {
		if existing := FromLamports(resp.Lamports); !existing.Equal(req.Amount) {
			return "", fmt.Errorf("reference %s already used for %s SOL, requested %s SOL", req.Reference, existing.String(), req.Amount.String())
		}
	}
	return resp.Signature, nil
}

type notFoundError struct{ path string }

func (e *notFoundError) Error() string { return "gateway resource not found: " + e.path }

// unknownOutcomeError marks 4xx answers that do not mean the request was
// refused: 408 gives no verdict and 409 means the reference already exists.
type unknownOutcomeError struct {
	path   string
	status int
}

func (e *unknownOutcomeError) Error() string {
	return fmt.Sprintf("gateway %s: status %d, outcome unknown", e.path, e.status)
}

func (c *GatewayClient) do(ctx context.Context, method, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("gateway rate limit wait: %w", err)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal gateway request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &notFoundError{path: path}
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusConflict:
		return &unknownOutcomeError{path: path, status: resp.StatusCode}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var apiErr gatewayError
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &RejectedError{Code: apiErr.Error.Code, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, msg)}
	case resp.StatusCode >= 500:
		return fmt.Errorf("gateway %s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

// Package solanarpc is a minimal Solana JSON-RPC client covering the calls
// the chat tools need. Every method issues a single guarded request; callers
// are expected to translate errors into structured tool outputs.
package solanarpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// LamportsPerSOL is the number of lamports in one SOL.
	LamportsPerSOL = 1_000_000_000

	maxResponseSizeBytes = 2 << 20
	confirmPollInterval  = 2 * time.Second

	// confirmMaxWait bounds the status poll even when the caller context
	// carries no deadline.
	confirmMaxWait = 30 * time.Second
)

var (
	ErrEmptyAddress = errors.New("address is empty")
	ErrNotConfirmed = errors.New("transaction not confirmed")
)

type Config struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
}

// Client talks to one RPC endpoint at "confirmed" commitment.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	confirmWait time.Duration
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if endpoint == "" {
		return nil, errors.New("rpc url is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid rpc url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		confirmWait: confirmMaxWait,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

func MustNew(cfg Config, opts ...Option) *Client {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return client
}

// SignatureInfo is one entry of getSignaturesForAddress, in the order the
// node returned it (most recent first).
type SignatureInfo struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	Err       json.RawMessage `json:"err"`
	BlockTime *int64          `json:"blockTime"`
}

// Failed reports whether the transaction errored on chain.
func (s SignatureInfo) Failed() bool {
	trimmed := bytes.TrimSpace(s.Err)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// GetBalance returns the lamport balance of address.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	if strings.TrimSpace(address) == "" {
		return 0, ErrEmptyAddress
	}

	var out struct {
		Value uint64 `json:"value"`
	}
	params := []any{address, map[string]any{"commitment": "confirmed"}}
	if err := c.call(ctx, "getBalance", params, &out); err != nil {
		return 0, err
	}
	return out.Value, nil
}

// GetSignaturesForAddress returns up to limit recent signatures for address.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	if strings.TrimSpace(address) == "" {
		return nil, ErrEmptyAddress
	}
	if limit <= 0 {
		limit = 10
	}

	var out []SignatureInfo
	params := []any{address, map[string]any{"limit": limit, "commitment": "confirmed"}}
	if err := c.call(ctx, "getSignaturesForAddress", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RequestAirdrop asks the devnet faucet for lamports and returns the
// airdrop transaction signature.
func (c *Client) RequestAirdrop(ctx context.Context, address string, lamports uint64) (string, error) {
	if strings.TrimSpace(address) == "" {
		return "", ErrEmptyAddress
	}

	var signature string
	if err := c.call(ctx, "requestAirdrop", []any{address, lamports}, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// GetLatestBlockhash returns the recent blockhash used to anchor a new
// transaction.
func (c *Client) GetLatestBlockhash(ctx context.Context) (string, error) {
	var out struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	params := []any{map[string]any{"commitment": "confirmed"}}
	if err := c.call(ctx, "getLatestBlockhash", params, &out); err != nil {
		return "", err
	}
	if out.Value.Blockhash == "" {
		return "", errors.New("empty blockhash in response")
	}
	return out.Value.Blockhash, nil
}

// SendRawTransaction submits a fully signed serialized transaction.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("empty transaction")
	}

	encoded := base64.StdEncoding.EncodeToString(raw)
	var signature string
	params := []any{encoded, map[string]any{"encoding": "base64"}}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// ConfirmTransaction polls signature status until the transaction reaches
// confirmed (or finalized) commitment. The poll is capped at confirmMaxWait
// so it returns ErrNotConfirmed on its own even when ctx never expires.
func (c *Client) ConfirmTransaction(ctx context.Context, signature string) error {
	if strings.TrimSpace(signature) == "" {
		return errors.New("signature is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.confirmWait)
	defer cancel()

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		status, err := c.signatureStatus(ctx, signature)
		if err == nil {
			switch status {
			case "confirmed", "finalized":
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrNotConfirmed, signature)
		case <-ticker.C:
		}
	}
}

func (c *Client) signatureStatus(ctx context.Context, signature string) (string, error) {
	var out struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	params := []any{[]string{signature}}
	if err := c.call(ctx, "getSignatureStatuses", params, &out); err != nil {
		return "", err
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return "", errors.New("signature status unknown")
	}
	return out.Value[0].ConfirmationStatus, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error code=%d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute rpc request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("read rpc response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("rpc http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if parsed.Error != nil {
		return parsed.Error
	}

	// Some methods wrap the value in {context, value}; callers decode the
	// shape they expect, so unwrap only when the target asks for it.
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(parsed.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

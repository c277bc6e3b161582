// Package privy is a small client for Privy's server wallet API, used to
// sign a prepared Solana transaction on behalf of an embedded wallet.
package privy

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

const maxResponseSizeBytes = 1 << 20

var ErrSigningRejected = errors.New("wallet signing rejected")

type Config struct {
	URL       string        `split_words:"true" default:"https://api.privy.io"`
	AppID     string        `split_words:"true" required:"true"`
	AppSecret string        `split_words:"true" required:"true"`
	Timeout   time.Duration `split_words:"true" default:"20s"`
}

type Client struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("privy url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.AppID) == "" {
		return nil, errors.New("privy app id is required")
	}
	if strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, errors.New("privy app secret is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &Client{
		baseURL:   baseURL,
		appID:     strings.TrimSpace(cfg.AppID),
		appSecret: strings.TrimSpace(cfg.AppSecret),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

type signRequest struct {
	Method string     `json:"method"`
	Params signParams `json:"params"`
}

type signParams struct {
	Transaction string `json:"transaction"`
	Encoding    string `json:"encoding"`
}

type signResponse struct {
	Data struct {
		SignedTransaction string `json:"signed_transaction"`
	} `json:"data"`
	Error string `json:"error"`
}

// SignTransaction submits a serialized unsigned transaction for walletID and
// returns the signed bytes. A provider-side rejection surfaces as
// ErrSigningRejected so callers can fold it into a failure outcome.
func (c *Client) SignTransaction(ctx context.Context, walletID string, transaction []byte) ([]byte, error) {
	if strings.TrimSpace(walletID) == "" {
		return nil, errors.New("wallet id is empty")
	}
	if len(transaction) == 0 {
		return nil, errors.New("transaction is empty")
	}

	body, err := json.Marshal(signRequest{
		Method: "signTransaction",
		Params: signParams{
			Transaction: base64.StdEncoding.EncodeToString(transaction),
			Encoding:    "base64",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal sign request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/wallets/%s/rpc", c.baseURL, url.PathEscape(walletID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sign request: %w", err)
	}
	req.SetBasicAuth(c.appID, c.appSecret)
	req.Header.Set("privy-app-id", c.appID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute sign request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read sign response: %w", err)
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: status=%d", ErrSigningRejected, resp.StatusCode)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("privy http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed signResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode sign response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrSigningRejected, parsed.Error)
	}
	if parsed.Data.SignedTransaction == "" {
		return nil, errors.New("empty signed transaction in response")
	}

	signed, err := base64.StdEncoding.DecodeString(parsed.Data.SignedTransaction)
	if err != nil {
		return nil, fmt.Errorf("decode signed transaction: %w", err)
	}
	return signed, nil
}

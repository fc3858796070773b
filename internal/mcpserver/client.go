package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to a txguard API server.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
}

// Client is a pure HTTP client for the txguard API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the txguard API.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Verdict mirrors the assessment response. Signals stay raw; the tool
// output only summarizes them.
type Verdict struct {
	Risk      string          `json:"risk"`
	RiskScore int             `json:"riskScore"`
	Reasons   []string        `json:"reasons"`
	Signals   json.RawMessage `json:"signals"`
	Timestamp string          `json:"timestamp"`
}

// AddressIntel mirrors the intel lookup response.
type AddressIntel struct {
	Address string `json:"address"`
	Match   *struct {
		Record struct {
			Category   string  `json:"category"`
			Confidence float64 `json:"confidence"`
			Source     string  `json:"source"`
		} `json:"record"`
		Exact     bool   `json:"exact"`
		ClusterID string `json:"clusterId"`
	} `json:"match"`
	Graph *struct {
		InGraph     bool   `json:"inGraph"`
		Distance    *int   `json:"distance"`
		Nearest     string `json:"nearest"`
		Explanation string `json:"explanation"`
	} `json:"graph"`
	DatasetVersion string `json:"datasetVersion"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// Assess asks the engine for a verdict on a prospective transaction.
func (c *Client) Assess(ctx context.Context, wallet, contract, txType string) (*Verdict, error) {
	raw, err := c.doRequest(ctx, http.MethodPost, "/v1/risk/assess", nil, map[string]string{
		"wallet":   wallet,
		"contract": contract,
		"txType":   txType,
	})
	if err != nil {
		return nil, err
	}
	var v Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	return &v, nil
}

// LookupAddress returns scam intelligence and graph proximity for one address.
func (c *Client) LookupAddress(ctx context.Context, addr string) (*AddressIntel, error) {
	raw, err := c.doRequest(ctx, http.MethodGet, "/v1/intel/"+url.PathEscape(addr), nil, nil)
	if err != nil {
		return nil, err
	}
	var ai AddressIntel
	if err := json.Unmarshal(raw, &ai); err != nil {
		return nil, fmt.Errorf("decode intel: %w", err)
	}
	return &ai, nil
}

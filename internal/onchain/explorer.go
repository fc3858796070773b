package onchain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultExplorerURL is the Etherscan v2 multichain endpoint.
const DefaultExplorerURL = "https://api.etherscan.io/v2/api"

// maxExplorerResponse bounds how much of a reply is decoded (1MB).
const maxExplorerResponse = 1 << 20

// APIError is a well-formed explorer reply with status "0".
type APIError struct {
	Message string
	Result  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("onchain: explorer error: %s: %s", e.Message, e.Result)
}

// Explorer queries an Etherscan-compatible HTTP API.
type Explorer struct {
	baseURL string
	apiKey  string
	chainID int64
	client  *http.Client
}

// NewExplorer creates an explorer client. An empty baseURL selects
// DefaultExplorerURL.
func NewExplorer(baseURL, apiKey string, chainID int64) *Explorer {
	if baseURL == "" {
		baseURL = DefaultExplorerURL
	}
	return &Explorer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		chainID: chainID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type explorerEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Verified reports whether source code is published for addr.
func (e *Explorer) Verified(ctx context.Context, addr common.Address) (bool, error) {
	var rows []struct {
		SourceCode   string `json:"SourceCode"`
		ContractName string `json:"ContractName"`
	}
	if err := e.get(ctx, url.Values{
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {strings.ToLower(addr.Hex())},
	}, &rows); err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, ErrNotFound
	}
	return rows[0].SourceCode != "", nil
}

// CreatedAt returns the block timestamp of the contract's creation.
func (e *Explorer) CreatedAt(ctx context.Context, addr common.Address) (time.Time, error) {
	var rows []struct {
		ContractAddress string `json:"contractAddress"`
		TxHash          string `json:"txHash"`
		Timestamp       string `json:"timestamp"`
	}
	if err := e.get(ctx, url.Values{
		"module":            {"contract"},
		"action":            {"getcontractcreation"},
		"contractaddresses": {strings.ToLower(addr.Hex())},
	}, &rows); err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 || rows[0].Timestamp == "" {
		return time.Time{}, ErrNotFound
	}
	ts, err := strconv.ParseInt(rows[0].Timestamp, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("onchain: parse creation timestamp %q: %w", rows[0].Timestamp, err)
	}
	return time.Unix(ts, 0).UTC(), nil
}

// get issues one API call and decodes result into target. A status "0"
// reply with "No data found" maps to ErrNotFound.
func (e *Explorer) get(ctx context.Context, params url.Values, target any) error {
	params.Set("chainid", strconv.FormatInt(e.chainID, 10))
	if e.apiKey != "" {
		params.Set("apikey", e.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("onchain: build explorer request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("onchain: explorer request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("onchain: explorer returned HTTP %d", resp.StatusCode)
	}

	var env explorerEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxExplorerResponse)).Decode(&env); err != nil {
		return fmt.Errorf("onchain: decode explorer reply: %w", err)
	}
	if env.Status != "1" {
		var msg string
		_ = json.Unmarshal(env.Result, &msg)
		if strings.Contains(strings.ToLower(env.Message+" "+msg), "no data found") {
			return ErrNotFound
		}
		return &APIError{Message: env.Message, Result: msg}
	}
	if err := json.Unmarshal(env.Result, target); err != nil {
		return fmt.Errorf("onchain: decode explorer result: %w", err)
	}
	return nil
}

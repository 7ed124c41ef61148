package bitcoinrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Client is the interface the GBT adapter depends on, satisfied by both
// RPCClient and a test mock.
type Client interface {
	GetBlockTemplate(ctx context.Context, rules []string) (*BlockTemplate, error)
	SubmitBlock(ctx context.Context, blockHex string) error
}

// AuthConfig selects either HTTP Basic credentials or a cookie file,
// matching spec §6.2's authentication options.
type AuthConfig struct {
	Username   string
	Password   string
	CookiePath string
}

// RPCClient implements Client over Bitcoin Core's JSON-RPC 1.0 HTTP
// interface. Outbound calls are paced by a token-bucket limiter so a
// misconfigured poll interval cannot hammer the node.
type RPCClient struct {
	url  string
	auth AuthConfig

	httpClient *http.Client
	limiter    *rate.Limiter
	idSeq      atomic.Int64
}

// NewRPCClient constructs an RPCClient. maxCallsPerSecond bounds outbound
// RPC rate; a value of 0 disables limiting.
func NewRPCClient(url string, auth AuthConfig, maxCallsPerSecond float64) *RPCClient {
	var limiter *rate.Limiter
	if maxCallsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(maxCallsPerSecond), 1)
	}
	return &RPCClient{
		url:        url,
		auth:       auth,
		httpClient: &http.Client{Timeout: 8 * time.Second},
		limiter:    limiter,
	}
}

func (c *RPCClient) basicAuth() (string, string, error) {
	if c.auth.Username != "" || c.auth.Password != "" {
		return c.auth.Username, c.auth.Password, nil
	}
	if c.auth.CookiePath != "" {
		data, err := os.ReadFile(c.auth.CookiePath)
		if err != nil {
			return "", "", fmt.Errorf("read cookie file: %w", err)
		}
		parts := strings.SplitN(strings.TrimSpace(string(data)), ":", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("malformed cookie file %s", c.auth.CookiePath)
		}
		return parts[0], parts[1], nil
	}
	return "", "", nil
}

func (c *RPCClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	id := c.idSeq.Add(1)
	req := RPCRequest{JSONRPC: "1.0", ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	user, pass, err := c.basicAuth()
	if err != nil {
		return nil, err
	}
	if user != "" {
		httpReq.SetBasicAuth(user, pass)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", method, err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: unmarshal response: %w (body: %s)", method, err, string(respBody))
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// GetBlockTemplate calls getblocktemplate with the given rules.
func (c *RPCClient) GetBlockTemplate(ctx context.Context, rules []string) (*BlockTemplate, error) {
	if len(rules) == 0 {
		rules = []string{"segwit"}
	}
	result, err := c.call(ctx, "getblocktemplate", map[string]interface{}{"rules": rules})
	if err != nil {
		return nil, fmt.Errorf("getblocktemplate: %w", err)
	}
	var tmpl BlockTemplate
	if err := json.Unmarshal(result, &tmpl); err != nil {
		return nil, fmt.Errorf("unmarshal block template: %w", err)
	}
	return &tmpl, nil
}

// SubmitBlock calls submitblock with the full serialized block hex.
func (c *RPCClient) SubmitBlock(ctx context.Context, blockHex string) error {
	result, err := c.call(ctx, "submitblock", blockHex)
	if err != nil {
		return fmt.Errorf("submitblock: %w", err)
	}
	var reason string
	if err := json.Unmarshal(result, &reason); err == nil && reason != "" {
		return &BlockRejectedError{Reason: reason}
	}
	return nil
}

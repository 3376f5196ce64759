// Package rpcprobe implements the one-shot startup liveness check against
// the configured upstream node (spec.md §6's "Startup preconditions").
// This is explicitly an external collaborator, not part of the protocol
// engine's core (spec.md §1): a single JSON-RPC call used only to confirm
// the endpoint answers before the listener is exposed, grounded on the
// original implementation's "getnetworkinfo" liveness check.
package rpcprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bsv-pool/poolsrv/errors"
)

// Client probes a bitcoind-compatible JSON-RPC endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

// New builds a probe client against the given RPC URL.
func New(url string) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Error interface{} `json:"error"`
}

// CheckLiveness calls getnetworkinfo and treats any well-formed JSON-RPC
// reply (error or result) as proof the endpoint is reachable and speaking
// the protocol; only a transport failure or malformed response fails it.
func (c *Client) CheckLiveness(ctx context.Context) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      "poolsrv-startup-probe",
		Method:  "getnetworkinfo",
		Params:  []interface{}{},
	})
	if err != nil {
		return errors.New(errors.CodeInternal, "could not build rpc probe request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.New(errors.CodeConfiguration, "invalid upstream rpc url", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.New(errors.CodeConfiguration, "upstream rpc endpoint unreachable", err)
	}
	defer resp.Body.Close()

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return errors.New(errors.CodeConfiguration, "upstream rpc endpoint returned malformed response", err)
	}

	return nil
}

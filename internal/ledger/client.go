// Package ledger talks to the chain RPC node and owns freshness-token
// lifecycle. All calls are bounded by explicit timeouts; nothing here blocks
// without a deadline.
package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/observability"
	"github.com/tabsplit/settlement-engine/internal/txbuilder"
)

// FreshnessToken is a recent blockhash plus local bookkeeping. The exact
// expiry is ledger-height based and not observable locally; FetchedAt feeds
// the wall-clock heuristic in Manager.IsLikelyExpired.
type FreshnessToken struct {
	Value      txbuilder.Blockhash
	FetchedAt  time.Time
	ExpirySlot uint64
}

// SignatureStatus is the ledger's view of a submitted transaction.
type SignatureStatus string

const (
	StatusConfirmed SignatureStatus = "confirmed"
	StatusPending   SignatureStatus = "pending"
	StatusUnknown   SignatureStatus = "unknown"
)

// Client is the ledger RPC surface the engine consumes.
type Client interface {
	GetRecentFreshnessToken(ctx context.Context) (FreshnessToken, error)
	SubmitTransaction(ctx context.Context, signed []byte) (string, error)
	GetSignatureStatus(ctx context.Context, signature string) (SignatureStatus, error)
	// GetAccountInfo reports whether the address has a live receiving account.
	GetAccountInfo(ctx context.Context, address string) (bool, error)
}

// JSON-RPC error code the node returns for a stale blockhash.
const rpcCodeBlockhashNotFound = -32002

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// HTTPClient implements Client over JSON-RPC.
type HTTPClient struct {
	endpoint string
	http     *http.Client
}

// NewHTTPClient builds a client for the given RPC endpoint.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) call(ctx context.Context, method string, params []any, out any) error {
	start := time.Now()
	err := c.doCall(ctx, method, params, out)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.ObserveLedgerRPC(method, outcome, time.Since(start))
	return err
}

func (c *HTTPClient) doCall(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.WrapFault(domain.KindNetworkError, "ledger."+method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.NewFault(domain.KindNetworkError, "ledger."+method, fmt.Sprintf("rpc status %d", resp.StatusCode))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return domain.WrapFault(domain.KindNetworkError, "ledger."+method, err)
	}
	if rpcResp.Error != nil {
		if isStaleBlockhashError(rpcResp.Error) {
			return domain.NewFault(domain.KindFreshnessExpired, "ledger."+method, rpcResp.Error.Message)
		}
		return domain.NewFault(domain.KindInternal, "ledger."+method, fmt.Sprintf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message))
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode rpc result: %w", err)
		}
	}
	return nil
}

func isStaleBlockhashError(e *rpcError) bool {
	return e.Code == rpcCodeBlockhashNotFound || strings.Contains(strings.ToLower(e.Message), "blockhash not found")
}

type latestBlockhashResult struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// GetRecentFreshnessToken fetches a fresh blockhash from the node.
func (c *HTTPClient) GetRecentFreshnessToken(ctx context.Context) (FreshnessToken, error) {
	var res latestBlockhashResult
	if err := c.call(ctx, "getLatestBlockhash", nil, &res); err != nil {
		return FreshnessToken{}, err
	}
	bh, err := txbuilder.ParseAddress(res.Blockhash)
	if err != nil {
		return FreshnessToken{}, fmt.Errorf("parse blockhash: %w", err)
	}
	return FreshnessToken{
		Value:      txbuilder.Blockhash(bh),
		FetchedAt:  time.Now(),
		ExpirySlot: res.LastValidBlockHeight,
	}, nil
}

// SubmitTransaction sends the fully signed transaction and returns its
// signature identifier. A stale freshness token surfaces as a
// FreshnessExpired fault, never as a generic failure.
func (c *HTTPClient) SubmitTransaction(ctx context.Context, signed []byte) (string, error) {
	var signature string
	params := []any{base64.StdEncoding.EncodeToString(signed), map[string]string{"encoding": "base64"}}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

type signatureStatusResult struct {
	Value []*struct {
		ConfirmationStatus string `json:"confirmationStatus"`
		Err                any    `json:"err"`
	} `json:"value"`
}

// GetSignatureStatus queries the ledger for the final status of a signature.
func (c *HTTPClient) GetSignatureStatus(ctx context.Context, signature string) (SignatureStatus, error) {
	var res signatureStatusResult
	if err := c.call(ctx, "getSignatureStatuses", []any{[]string{signature}}, &res); err != nil {
		return StatusUnknown, err
	}
	if len(res.Value) == 0 || res.Value[0] == nil {
		return StatusUnknown, nil
	}
	entry := res.Value[0]
	if entry.Err != nil {
		zap.L().Warn("transaction failed on ledger", zap.String("signature", signature), zap.Any("err", entry.Err))
		return StatusUnknown, domain.NewFault(domain.KindInternal, "ledger.getSignatureStatuses", fmt.Sprintf("transaction failed on ledger: %v", entry.Err))
	}
	switch entry.ConfirmationStatus {
	case "confirmed", "finalized":
		return StatusConfirmed, nil
	case "processed":
		return StatusPending, nil
	}
	return StatusUnknown, nil
}

type accountInfoResult struct {
	Value *struct {
		Lamports uint64 `json:"lamports"`
	} `json:"value"`
}

// GetAccountInfo reports whether the destination has a receiving account, so
// the builder knows whether to prepend the creation instruction.
func (c *HTTPClient) GetAccountInfo(ctx context.Context, address string) (bool, error) {
	var res accountInfoResult
	if err := c.call(ctx, "getAccountInfo", []any{address}, &res); err != nil {
		return false, err
	}
	return res.Value != nil, nil
}

package cosigner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tabsplit/settlement-engine/internal/domain"
)

// SignRequest is the wire shape of a counter-signing call.
type SignRequest struct {
	Payload           []byte `json:"payload"`
	DeclaredAmount    int64  `json:"declared_amount"`
	DeclaredRecipient string `json:"declared_recipient"`
	DeclaredToken     string `json:"declared_token"`
	DeclaredNetwork   string `json:"declared_network"`
}

// SignResponse carries either the fully signed payload or a rejection.
type SignResponse struct {
	SignedPayload []byte `json:"signed_payload,omitempty"`
	Rejection     string `json:"rejection,omitempty"`
}

// HTTPClient calls a remote co-signer service.
type HTTPClient struct {
	endpoint string
	secret   string
	http     *http.Client
}

// NewHTTPClient builds a client for a remote co-signer. secret authenticates
// the engine to the co-signer via a shared header.
func NewHTTPClient(endpoint, secret string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		secret:   secret,
		http:     &http.Client{Timeout: timeout},
	}
}

// CounterSign sends the envelope to the remote co-signer.
func (c *HTTPClient) CounterSign(ctx context.Context, env Envelope) ([]byte, error) {
	const op = "cosigner.HTTPClient.CounterSign"

	body, err := json.Marshal(SignRequest{
		Payload:           env.Payload,
		DeclaredAmount:    env.DeclaredAmount,
		DeclaredRecipient: env.DeclaredRecipient,
		DeclaredToken:     env.DeclaredToken,
		DeclaredNetwork:   env.DeclaredNetwork,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CoSigner-Secret", c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.WrapFault(domain.KindNetworkError, op, err)
	}
	defer resp.Body.Close()

	var signResp SignResponse
	if err := json.NewDecoder(resp.Body).Decode(&signResp); err != nil {
		return nil, domain.WrapFault(domain.KindNetworkError, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK && len(signResp.SignedPayload) > 0:
		return signResp.SignedPayload, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, domain.NewFault(domain.KindCoSignerPolicyRejected, op, signResp.Rejection)
	default:
		return nil, domain.NewFault(domain.KindNetworkError, op, fmt.Sprintf("co-signer status %d", resp.StatusCode))
	}
}

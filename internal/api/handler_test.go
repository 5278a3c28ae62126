package api_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tabsplit/settlement-engine/internal/api"
	"github.com/tabsplit/settlement-engine/internal/api/middleware"
	"github.com/tabsplit/settlement-engine/internal/config"
	"github.com/tabsplit/settlement-engine/internal/coordinator"
	"github.com/tabsplit/settlement-engine/internal/cosigner"
	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/keystore"
	"github.com/tabsplit/settlement-engine/internal/models"
	"github.com/tabsplit/settlement-engine/internal/service"
	"github.com/tabsplit/settlement-engine/internal/txbuilder"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "settlement-engine-test"
	testJWTAudience = "settlement-api-test"
	testCoSecret    = "cosign-shared-secret"
)

func TestMain(m *testing.M) {
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)
	os.Exit(m.Run())
}

type fakeSubmitter struct {
	calls int
}

func (f *fakeSubmitter) Submit(_ context.Context, req models.TransactionRequest, _ txbuilder.Signer) (*coordinator.Submission, error) {
	f.calls++
	return &coordinator.Submission{Key: "k", Signature: "sig", Status: domain.OutcomeStatusConfirmed}, nil
}

type apiFixture struct {
	server   *httptest.Server
	pipeline *fakeSubmitter
	user     *txbuilder.LocalSigner
	cosign   *txbuilder.LocalSigner
	receiver *txbuilder.LocalSigner
	builder  *txbuilder.Builder
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	newSigner := func() *txbuilder.LocalSigner {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		s, err := txbuilder.NewLocalSigner(priv)
		require.NoError(t, err)
		return s
	}

	f := &apiFixture{user: newSigner(), cosign: newSigner(), receiver: newSigner(), pipeline: &fakeSubmitter{}}
	f.builder = txbuilder.NewBuilder(f.cosign.PublicKey(), nil, 0, 0)

	policy, err := cosigner.NewPolicy(domain.NetworkDevnet, 1_000_000_000, nil)
	require.NoError(t, err)
	cosignSvc := cosigner.NewService(policy, f.cosign)

	cfg := &config.Config{
		Network:            domain.NetworkDevnet,
		CoSignerSecret:     testCoSecret,
		PublicRateLimitRPS: 100,
		AuthRateLimitRPS:   100,
	}
	keys := keystore.NewMemory()
	wallets := service.NewSplitWalletService(nil, keys, f.pipeline, nil, nil, nil)

	router := api.NewRouter(cfg, zap.NewNop(), nil, nil, wallets, f.pipeline, keys, cosignSvc)
	f.server = httptest.NewServer(router.Routes())
	t.Cleanup(f.server.Close)
	return f
}

func makeToken(t *testing.T, secret, userID string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": userID,
		"sub":     userID,
		"iss":     testJWTIssuer,
		"aud":     testJWTAudience,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	f := newAPIFixture(t)

	resp := doJSON(t, http.MethodGet, f.server.URL+"/v1/wallets/"+uuid.NewString(), "", nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestAuthMiddlewareRejectsForgedToken(t *testing.T) {
	f := newAPIFixture(t)
	forged := makeToken(t, "another-secret-another-secret-xx", uuid.NewString())

	resp := doJSON(t, http.MethodGet, f.server.URL+"/v1/wallets/"+uuid.NewString(), forged, nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWalletPathRejectsMalformedID(t *testing.T) {
	f := newAPIFixture(t)
	token := makeToken(t, testJWTSecret, uuid.NewString())

	resp := doJSON(t, http.MethodGet, f.server.URL+"/v1/wallets/not-a-uuid", token, nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTransferRejectsUnknownSender(t *testing.T) {
	f := newAPIFixture(t)
	token := makeToken(t, testJWTSecret, uuid.NewString())

	resp := doJSON(t, http.MethodPost, f.server.URL+"/v1/transfers", token, map[string]any{
		"sender":       f.user.PublicKey().String(),
		"recipient":    f.receiver.PublicKey().String(),
		"amount":       1_000_000,
		"token":        "USDC",
		"client_nonce": "n1",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Zero(t, f.pipeline.calls)
}

func (f *apiFixture) signedPayload(t *testing.T, amount int64) []byte {
	t.Helper()
	var bh txbuilder.Blockhash
	bh[0] = 9

	tx, err := f.builder.Build(models.TransactionRequest{
		ID:          uuid.New(),
		Sender:      f.user.PublicKey().String(),
		Recipient:   f.receiver.PublicKey().String(),
		Amount:      amount,
		Token:       "USDC",
		Context:     domain.ContextDirect,
		ClientNonce: "n",
	}, txbuilder.BuildInput{Recent: bh})
	require.NoError(t, err)
	require.NoError(t, tx.Sign(f.user))
	raw, err := tx.Serialize()
	require.NoError(t, err)
	return raw
}

func (f *apiFixture) cosignRequest(t *testing.T, payload []byte, declared int64, secret string) *http.Response {
	t.Helper()
	body, err := json.Marshal(cosigner.SignRequest{
		Payload:           payload,
		DeclaredAmount:    declared,
		DeclaredRecipient: f.receiver.PublicKey().String(),
		DeclaredToken:     "USDC",
		DeclaredNetwork:   domain.NetworkDevnet,
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/v1/cosign", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CoSigner-Secret", secret)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestCoSignEndpointCounterSigns(t *testing.T) {
	f := newAPIFixture(t)
	payload := f.signedPayload(t, 25_000_000)

	resp := f.cosignRequest(t, payload, 25_000_000, testCoSecret)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var signResp cosigner.SignResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&signResp))
	tx, err := txbuilder.Deserialize(signResp.SignedPayload)
	require.NoError(t, err)
	assert.True(t, tx.FullySigned())
	require.NoError(t, tx.VerifySignatures())
}

func TestCoSignEndpointRejectsDeclaredMismatch(t *testing.T) {
	f := newAPIFixture(t)
	// Bytes carry 500.00 while the declaration claims 25.00.
	payload := f.signedPayload(t, 500_000_000)

	resp := f.cosignRequest(t, payload, 25_000_000, testCoSecret)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var signResp cosigner.SignResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&signResp))
	assert.Contains(t, signResp.Rejection, "amount mismatch")
	assert.Empty(t, signResp.SignedPayload)
}

func TestCoSignEndpointRejectsBadSecret(t *testing.T) {
	f := newAPIFixture(t)
	payload := f.signedPayload(t, 25_000_000)

	resp := f.cosignRequest(t, payload, 25_000_000, "wrong")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

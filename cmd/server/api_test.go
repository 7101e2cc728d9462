package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoinDrip-finance/protocol-v2/internal/certificate"
	"github.com/CoinDrip-finance/protocol-v2/internal/events"
	"github.com/CoinDrip-finance/protocol-v2/internal/payment"
	"github.com/CoinDrip-finance/protocol-v2/internal/protocol"
	"github.com/CoinDrip-finance/protocol-v2/internal/storage/memory"
)

const (
	apiSender    = "9aE476sH92Vz7DMPyq5WLPkrKWivxeuTKEFKd2sZZcde"
	apiRecipient = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	ledger := payment.NewMemoryLedger()
	eventStore := memory.NewEventStore()
	engine := protocol.New(protocol.Config{
		Streams:         memory.NewStreamStore(),
		Fees:            memory.NewFeeStore(),
		Certificates:    certificate.NewMemoryRegistry(),
		Ledger:          ledger,
		Router:          payment.NewPassthroughRouter(ledger),
		Sink:            events.NewArchiveSink(eventStore),
		ProtocolAccount: "So11111111111111111111111111111111111111112",
		Treasury:        "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		Logger:          log.New(io.Discard, "", 0),
	})

	a := newAPI(engine, eventStore, log.New(io.Discard, "", 0))
	server := httptest.NewServer(a.routes(http.NotFoundHandler()))
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()

	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func createTestStream(t *testing.T, server *httptest.Server) streamResponse {
	t.Helper()

	now := time.Now().Unix()
	resp := postJSON(t, server.URL+"/streams", createStreamRequest{
		Sender:       apiSender,
		Recipient:    apiRecipient,
		PaymentAsset: "USDC",
		Deposit:      "3000",
		StartTime:    now + 60,
		EndTime:      now + 7260,
		CanCancel:    true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created streamResponse
	decodeBody(t, resp, &created)
	return created
}

func TestAPI_CreateAndGetStream(t *testing.T) {
	server := newTestServer(t)

	created := createTestStream(t, server)
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, "3000", created.Deposit)
	require.Len(t, created.Segments, 1)
	assert.Equal(t, "3000", created.Segments[0].Amount)

	resp, err := http.Get(fmt.Sprintf("%s/streams/%d", server.URL, created.ID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got streamResponse
	decodeBody(t, resp, &got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, apiSender, got.Sender)

	// The same stream is reachable through its certificate nonce.
	resp, err = http.Get(fmt.Sprintf("%s/certificates/%d/stream", server.URL, created.CertificateNonce))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_CreateStreamValidation(t *testing.T) {
	server := newTestServer(t)

	now := time.Now().Unix()
	resp := postJSON(t, server.URL+"/streams", createStreamRequest{
		Sender:       apiSender,
		Recipient:    apiSender, // self-stream
		PaymentAsset: "USDC",
		Deposit:      "3000",
		StartTime:    now + 60,
		EndTime:      now + 7260,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_StatusAndBalances(t *testing.T) {
	server := newTestServer(t)
	created := createTestStream(t, server)

	resp, err := http.Get(fmt.Sprintf("%s/streams/%d/status", server.URL, created.ID))
	require.NoError(t, err)
	var status map[string]string
	decodeBody(t, resp, &status)
	assert.Equal(t, "PENDING", status["status"])

	resp, err = http.Get(fmt.Sprintf("%s/streams/%d/balances", server.URL, created.ID))
	require.NoError(t, err)
	var balances map[string]string
	decodeBody(t, resp, &balances)
	assert.Equal(t, "0", balances["recipient_balance"])
	assert.Equal(t, "3000", balances["sender_balance"])
}

func TestAPI_ClaimBeforeReleaseConflicts(t *testing.T) {
	server := newTestServer(t)
	created := createTestStream(t, server)

	resp := postJSON(t, fmt.Sprintf("%s/streams/%d/claim", server.URL, created.ID), callerRequest{Caller: apiRecipient})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_ClaimRoleRejected(t *testing.T) {
	server := newTestServer(t)
	created := createTestStream(t, server)

	resp := postJSON(t, fmt.Sprintf("%s/streams/%d/claim", server.URL, created.ID), callerRequest{Caller: apiSender})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPI_CancelAndEvents(t *testing.T) {
	server := newTestServer(t)
	created := createTestStream(t, server)

	resp := postJSON(t, fmt.Sprintf("%s/streams/%d/cancel", server.URL, created.ID), map[string]any{
		"caller":     apiSender,
		"with_claim": false,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err := http.Get(fmt.Sprintf("%s/streams/%d/status", server.URL, created.ID))
	require.NoError(t, err)
	var status map[string]string
	decodeBody(t, resp, &status)
	assert.Equal(t, "CANCELED", status["status"])

	resp, err = http.Get(fmt.Sprintf("%s/streams/%d/events", server.URL, created.ID))
	require.NoError(t, err)
	var recorded []map[string]any
	decodeBody(t, resp, &recorded)
	require.Len(t, recorded, 2)
	assert.Equal(t, "createStream", recorded[0]["type"])
	assert.Equal(t, "cancelStream", recorded[1]["type"])
}

func TestAPI_CancelSettlesImmediatelyByDefault(t *testing.T) {
	server := newTestServer(t)
	created := createTestStream(t, server)

	// Without with_claim the cancel settles both halves right away.
	resp := postJSON(t, fmt.Sprintf("%s/streams/%d/cancel", server.URL, created.ID), map[string]any{
		"caller": apiSender,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err := http.Get(fmt.Sprintf("%s/streams/%d/status", server.URL, created.ID))
	require.NoError(t, err)
	var status map[string]string
	decodeBody(t, resp, &status)
	assert.Equal(t, "FINISHED", status["status"])
}

func TestAPI_UnknownStreamIs404(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/streams/99")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_FeeAdministration(t *testing.T) {
	server := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, server.URL+"/fees/USDC",
		bytes.NewReader([]byte(`{"fee_bps": 250}`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Zero rates are rejected.
	req, err = http.NewRequest(http.MethodPut, server.URL+"/fees/USDC",
		bytes.NewReader([]byte(`{"fee_bps": 0}`)))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, server.URL+"/fees/USDC", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

package gateserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealgate/sealgate/internal/gate"
	"github.com/sealgate/sealgate/internal/gateclient"
	"github.com/sealgate/sealgate/internal/testutil"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := New(gate.New(gate.DefaultThresholds()), nil)
	server := httptest.NewServer(s.Router())
	t.Cleanup(server.Close)
	return server
}

func postValidate(t *testing.T, server *httptest.Server, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(server.URL+"/v1/gate/validate", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	server := testServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestValidateApproves(t *testing.T) {
	server := testServer(t)

	resp := postValidate(t, server, ValidateRequest{
		Action:    "publish",
		Metrics:   testutil.PassingMetrics(),
		Timestamp: "2025-06-01T12:00:00Z",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded ValidateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, string(gate.Approve), decoded.Decision)
	assert.Greater(t, decoded.Confidence, 0.5)
	assert.Equal(t, gate.Approve, decoded.Explanation.Decision)
}

func TestValidateRejects(t *testing.T) {
	server := testServer(t)

	resp := postValidate(t, server, ValidateRequest{
		Action:    "publish",
		Metrics:   testutil.FailingMetrics(),
		Timestamp: "2025-06-01T12:00:00Z",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded ValidateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, string(gate.Reject), decoded.Decision)
}

func TestValidateMalformedBody(t *testing.T) {
	server := testServer(t)

	resp, err := http.Post(server.URL+"/v1/gate/validate", "application/json",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidateMissingAction(t *testing.T) {
	server := testServer(t)

	resp := postValidate(t, server, map[string]any{"metrics": testutil.PassingMetrics()})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "action is a required field")
}

// TestServesGateclientContract drives the server through the same client the
// pipeline uses, proving both sides speak the same protocol.
func TestServesGateclientContract(t *testing.T) {
	server := testServer(t)

	client := &gateclient.Client{URL: server.URL + "/v1/gate/validate"}
	resp, err := client.Validate(context.Background(), gateclient.Request{
		Action:    "publish",
		Manifest:  map[string]any{"trace_id": "t-1"},
		Timestamp: "2025-06-01T12:00:00Z",
	})
	require.NoError(t, err)
	assert.False(t, resp.Passed(), "zero metrics must not pass the gate")
}

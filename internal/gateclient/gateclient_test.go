package gateclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() Request {
	return Request{
		Action:      "publish",
		Manifest:    map[string]any{"trace_id": "t-1", "root_hash": "abc"},
		TestResults: map[string]any{"passed": true},
		Timestamp:   "2025-06-01T12:00:00Z",
	}
}

func TestValidateApprove(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "publish", req.Action)

		json.NewEncoder(w).Encode(Response{Decision: "APPROVE", Confidence: 0.93})
	}))
	defer server.Close()

	c := &Client{URL: server.URL, Timeout: 5 * time.Second}
	resp, err := c.Validate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, resp.Passed())
	assert.Equal(t, 0.93, resp.Confidence)
}

func TestValidatePassDecisionAlsoPasses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{Decision: "PASS"})
	}))
	defer server.Close()

	c := &Client{URL: server.URL, Timeout: 5 * time.Second}
	resp, err := c.Validate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, resp.Passed())
}

func TestValidateRejectDecision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{Decision: "REJECT"})
	}))
	defer server.Close()

	c := &Client{URL: server.URL, Timeout: 5 * time.Second}
	resp, err := c.Validate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.False(t, resp.Passed(), "REJECT is a definitive decision, not a transport failure")
}

func TestValidateFailClosed(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-200 status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json"))
		}},
		{"missing decision", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"confidence": 0.9}`))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			c := &Client{URL: server.URL, Timeout: 5 * time.Second}
			_, err := c.Validate(context.Background(), testRequest())
			assert.Error(t, err, "anything short of a definitive decision must fail")
		})
	}
}

func TestValidateTransportErrorFailsClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	c := &Client{URL: server.URL, Timeout: time.Second}
	_, err := c.Validate(context.Background(), testRequest())
	assert.Error(t, err)
}

func TestValidateTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	c := &Client{URL: server.URL, Timeout: 50 * time.Millisecond}
	start := time.Now()
	_, err := c.Validate(context.Background(), testRequest())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestValidateNoEndpoint(t *testing.T) {
	c := &Client{}
	_, err := c.Validate(context.Background(), testRequest())
	assert.Error(t, err)
}

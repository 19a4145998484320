package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/expressions"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestClient_Send_ParsesJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("X-Token"))
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`{"data": {"id": 12345678901234567890}}`))
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(), testLogger())
	resp, err := client.Send(context.Background(), &PreparedRequest{
		Method:  http.MethodGet,
		URL:     server.URL,
		Headers: map[string]string{"X-Token": "tok"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.IsJSON)
	id, err := expressions.StringFromNotation(resp.JSON, "data.id")
	require.NoError(t, err)
	assert.Equal(t, "12345678901234567890", id)
}

func TestClient_Send_NonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer server.Close()

	resp, err := NewClient(DefaultConfig(), testLogger()).Send(context.Background(), &PreparedRequest{Method: http.MethodGet, URL: server.URL})
	require.NoError(t, err)

	assert.False(t, resp.IsJSON)
	assert.Equal(t, "plain text", resp.Text())
	assert.Equal(t, map[string]any{}, resp.JSONOrEmpty())
}

func TestClient_Send_TooManyRedirects(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/loop", http.StatusFound)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.MaxRedirects = 3
	_, err := NewClient(cfg, testLogger()).Send(context.Background(), &PreparedRequest{Method: http.MethodGet, URL: server.URL})

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindTooManyRedirects, te.Kind)
	assert.Equal(t, "There are too many redirects", err.Error())
}

func TestClient_Send_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	_, err := NewClient(cfg, testLogger()).Send(context.Background(), &PreparedRequest{Method: http.MethodGet, URL: server.URL})

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindTimeout, te.Kind)
	assert.Equal(t, "The request timed out", err.Error())
}

func TestClient_Send_TLSFailure(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	_, err := NewClient(DefaultConfig(), testLogger()).Send(context.Background(), &PreparedRequest{Method: http.MethodGet, URL: server.URL})

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindSSL, te.Kind)
}

func TestClient_Send_ResponseTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.MaxResponseSize = 16
	_, err := NewClient(cfg, testLogger()).Send(context.Background(), &PreparedRequest{Method: http.MethodGet, URL: server.URL})

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindHTTP, te.Kind)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Equal(t, KindTimeout, Classify(context.DeadlineExceeded).Kind)
	assert.Equal(t, KindTooManyRedirects, Classify(ErrTooManyRedirects).Kind)
	assert.Equal(t, KindUnexpected, Classify(errors.New("connection refused")).Kind)
	assert.Equal(t, "There was an unexpected error with the request", Classify(errors.New("boom")).Error())

	original := newTransportError(KindInvalidHeader, errors.New("x"))
	assert.Same(t, original, Classify(original))
}

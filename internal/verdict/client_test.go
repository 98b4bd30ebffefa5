package verdict

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestVerdictSuccess(t *testing.T) {
	var gotLocator string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/analyze", r.URL.Path)

		var req struct {
			Locator string `json:"locator"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotLocator = req.Locator

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Verdict{Label: "real", Confidence: 0.92})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	v, err := client.RequestVerdict(context.Background(), "Videos/abc.mp4")
	require.NoError(t, err)
	assert.Equal(t, "Videos/abc.mp4", gotLocator)
	assert.Equal(t, "real", v.Label)
	assert.InDelta(t, 0.92, v.Confidence, 1e-9)
}

func TestRequestVerdictMissingLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"confidence": 0.5}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.RequestVerdict(context.Background(), "Videos/abc.mp4")
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.True(t, Retryable(err))
}

func TestRequestVerdictRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error": "unsupported codec"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.RequestVerdict(context.Background(), "Videos/abc.mp4")

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "unsupported codec", rejected.Reason)
	assert.False(t, Retryable(err))
}

func TestRequestVerdictServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.RequestVerdict(context.Background(), "Videos/abc.mp4")
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.True(t, Retryable(err))
}

func TestRequestVerdictTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, RequestTimeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := client.RequestVerdict(context.Background(), "Videos/abc.mp4")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, Retryable(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRequestVerdictUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.RequestVerdict(context.Background(), "Videos/abc.mp4")
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.True(t, Retryable(err))
}

func TestRequestVerdictCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read and can
		// observe the client disconnect; otherwise r.Context() is never
		// cancelled and srv.Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.RequestVerdict(ctx, "Videos/abc.mp4")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, Retryable(err))
}

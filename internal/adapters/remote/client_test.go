package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jbctechsolutions/datasync/internal/application/ports"
	"github.com/jbctechsolutions/datasync/internal/domain/errors"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q) error = %v", raw, err)
	}
	return u
}

func TestNewClient(t *testing.T) {
	t.Run("creates client with default config", func(t *testing.T) {
		client, err := NewClient("https://example.com/api")
		if err != nil {
			t.Fatalf("NewClient() error = %v", err)
		}
		if client.config.MaxRetries != 2 {
			t.Errorf("expected 2 max retries, got %d", client.config.MaxRetries)
		}
		if client.config.UserAgent != DefaultUserAgent {
			t.Errorf("expected user agent %q, got %q", DefaultUserAgent, client.config.UserAgent)
		}
		if got := client.BaseURL().String(); got != "https://example.com/api" {
			t.Errorf("BaseURL() = %q", got)
		}
	})

	t.Run("applies functional options", func(t *testing.T) {
		client, err := NewClient("https://example.com",
			WithTimeout(5*time.Second),
			WithMaxRetries(0),
			WithUserAgent("test/1"),
			WithHeaders(map[string]string{"X-Api-Key": "k"}),
		)
		if err != nil {
			t.Fatalf("NewClient() error = %v", err)
		}
		if client.httpClient.Timeout != 5*time.Second {
			t.Errorf("expected timeout 5s, got %v", client.httpClient.Timeout)
		}
		if client.config.MaxRetries != 0 {
			t.Errorf("expected 0 max retries, got %d", client.config.MaxRetries)
		}
		if client.config.Headers["X-Api-Key"] != "k" {
			t.Errorf("expected static header, got %v", client.config.Headers)
		}
	})

	t.Run("rejects relative base URL", func(t *testing.T) {
		_, err := NewClient("/tables")
		if errors.CodeOf(err) != errors.CodeConfiguration {
			t.Errorf("expected configuration error, got %v", err)
		}
	})

	t.Run("BaseURL returns a copy", func(t *testing.T) {
		client, _ := NewClient("https://example.com/api")
		client.BaseURL().Path = "/changed"
		if client.BaseURL().Path != "/api" {
			t.Error("BaseURL() exposed internal state")
		}
	})
}

func TestClient_Send(t *testing.T) {
	t.Run("sends body and headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPut {
				t.Errorf("expected PUT, got %s", r.Method)
			}
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("expected JSON content type, got %q", r.Header.Get("Content-Type"))
			}
			if r.Header.Get("If-Match") != `"v1"` {
				t.Errorf("expected If-Match, got %q", r.Header.Get("If-Match"))
			}
			if r.Header.Get("X-Api-Key") != "secret" {
				t.Errorf("expected static header, got %q", r.Header.Get("X-Api-Key"))
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"id":"m1"}` {
				t.Errorf("unexpected body %s", body)
			}
			w.Header().Set("ETag", `"v2"`)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":"m1","version":"v2"}`))
		}))
		defer server.Close()

		client, _ := NewClient(server.URL, WithHeaders(map[string]string{"X-Api-Key": "secret"}))
		resp, err := client.Send(context.Background(), &ports.RemoteRequest{
			Method:  http.MethodPut,
			URI:     mustURL(t, server.URL+"/tables/movies/m1"),
			Body:    []byte(`{"id":"m1"}`),
			Headers: map[string]string{"If-Match": `"v1"`},
		})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if !resp.IsSuccessful() || resp.ETag() != `"v2"` {
			t.Errorf("unexpected response %+v", resp)
		}
		if string(resp.Content) != `{"id":"m1","version":"v2"}` {
			t.Errorf("unexpected content %s", resp.Content)
		}
	})

	t.Run("returns error statuses as responses", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPreconditionFailed)
			_, _ = w.Write([]byte(`{"id":"m1","version":"v9"}`))
		}))
		defer server.Close()

		client, _ := NewClient(server.URL)
		resp, err := client.Send(context.Background(), &ports.RemoteRequest{
			Method: http.MethodDelete,
			URI:    mustURL(t, server.URL+"/tables/movies/m1"),
		})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if !resp.IsConflict() {
			t.Errorf("expected conflict, got %d", resp.StatusCode)
		}
		if resp.ReasonPhrase != "Precondition Failed" {
			t.Errorf("ReasonPhrase = %q", resp.ReasonPhrase)
		}
	})

	t.Run("retries idempotent requests on 503", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client, _ := NewClient(server.URL, WithRetryDelay(time.Millisecond))
		resp, err := client.Send(context.Background(), &ports.RemoteRequest{
			Method: http.MethodGet,
			URI:    mustURL(t, server.URL+"/tables/movies"),
		})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if resp.StatusCode != http.StatusOK || calls.Load() != 2 {
			t.Errorf("status = %d, calls = %d", resp.StatusCode, calls.Load())
		}
	})

	t.Run("never retries POST", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client, _ := NewClient(server.URL, WithRetryDelay(time.Millisecond))
		resp, err := client.Send(context.Background(), &ports.RemoteRequest{
			Method: http.MethodPost,
			URI:    mustURL(t, server.URL+"/tables/movies"),
			Body:   []byte(`{}`),
		})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if resp.StatusCode != http.StatusServiceUnavailable || calls.Load() != 1 {
			t.Errorf("status = %d, calls = %d", resp.StatusCode, calls.Load())
		}
	})

	t.Run("transport failure is a transport error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		addr := server.URL
		server.Close()

		client, _ := NewClient(addr, WithMaxRetries(0))
		_, err := client.Send(context.Background(), &ports.RemoteRequest{
			Method: http.MethodGet,
			URI:    mustURL(t, addr+"/tables/movies"),
		})
		if errors.CodeOf(err) != errors.CodeTransport {
			t.Errorf("expected transport error, got %v", err)
		}
	})
}

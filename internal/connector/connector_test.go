package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPConnector_GetNonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := newHTTPConnector("test", nil, time.Second, 0)
	if _, err := h.get(context.Background(), srv.URL); err == nil {
		t.Fatal("expected a non-200 status to produce an error")
	}
}

func TestHTTPConnector_DefaultsApplied(t *testing.T) {
	h := newHTTPConnector("test", nil, 0, 0)
	if h.client.Timeout != defaultHTTPTimeout {
		t.Fatalf("timeout = %v, want default %v", h.client.Timeout, defaultHTTPTimeout)
	}
	if h.fanOut != defaultFanOut {
		t.Fatalf("fanOut = %d, want default %d", h.fanOut, defaultFanOut)
	}
}

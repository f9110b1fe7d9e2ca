package gazetteer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPResolver_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "Tokyo" {
			t.Errorf("key = %q, want Tokyo", r.URL.Query().Get("key"))
		}
		if r.URL.Query().Get("limit") != "1" {
			t.Errorf("limit = %q, want 1", r.URL.Query().Get("limit"))
		}
		json.NewEncoder(w).Encode(httpCandidate{
			Name: "Tokyo", Lat: 35.6895, Lon: 139.6917,
			FeatureClass: "P", FeatureCode: "PPLC", Population: 13960000, CountryCode: "JP",
		})
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL)
	got, err := r.Resolve(context.Background(), "Tokyo", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || got.Name != "Tokyo" || got.CountryCode != "JP" {
		t.Fatalf("got = %+v", got)
	}
}

func TestHTTPResolver_EmptyNameMeansNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(httpCandidate{})
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL)
	got, err := r.Resolve(context.Background(), "Nowhereville", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != nil {
		t.Fatalf("got = %+v, want nil", got)
	}
}

func TestHTTPResolver_NonOKStatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL)
	got, err := r.Resolve(context.Background(), "Tokyo", "")
	if err != nil {
		t.Fatalf("resolve returned error, want nil,nil on failure: %v", err)
	}
	if got != nil {
		t.Fatalf("got = %+v, want nil", got)
	}
}

func TestHTTPResolver_UnreachableHostIsNotAnError(t *testing.T) {
	r := NewHTTPResolver("http://127.0.0.1:1")
	got, err := r.Resolve(context.Background(), "Tokyo", "")
	if err != nil {
		t.Fatalf("resolve returned error, want nil,nil on failure: %v", err)
	}
	if got != nil {
		t.Fatalf("got = %+v, want nil", got)
	}
}

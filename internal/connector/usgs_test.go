package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestUSGS_FetchParsesFeatures(t *testing.T) {
	mag := 5.6
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"features": []map[string]any{
				{
					"id":         "usgs-1",
					"properties": usgsProperties{Code: "eq1", Mag: &mag, Place: "10km N of Tokyo", Time: 1700000000000, Sig: 650},
					"geometry":   map[string]any{"type": "Point", "coordinates": []float64{139.69, 35.68, 10.0}},
				},
			},
		})
	}))
	defer srv.Close()

	u := NewUSGS("significant_hour", 5*time.Second)
	u.feedURL = srv.URL

	var got []string
	for rec, err := range u.Fetch(context.Background()) {
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		got = append(got, rec.SourceID)
		if rec.Lat == nil || rec.Lon == nil {
			t.Fatalf("expected coordinates to be set from geometry, got %+v", rec)
		}
		if rec.Title != "M5.6 - 10km N of Tokyo" {
			t.Fatalf("title = %q", rec.Title)
		}
	}
	if len(got) != 1 || got[0] != "eq1" {
		t.Fatalf("got = %v, want [eq1]", got)
	}
}

func TestUSGS_UnknownFeedNameFallsBackToDefault(t *testing.T) {
	u := NewUSGS("not-a-real-feed", time.Second)
	if u.Config()["feed"] != defaultUSGSFeed {
		t.Fatalf("feed = %q, want fallback %q", u.Config()["feed"], defaultUSGSFeed)
	}
}

func TestMsToRFC3339(t *testing.T) {
	if msToRFC3339(0) != "" {
		t.Fatal("zero milliseconds should yield empty string")
	}
	if got := msToRFC3339(1700000000000); got == "" {
		t.Fatal("expected a non-empty timestamp")
	}
}

package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAIS_FetchSkipsVesselsMissingPosition(t *testing.T) {
	lat, lon := 51.9, 4.5
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]aisVessel{
			{MMSI: "123456789", Name: "MSC Example", Lat: &lat, Lon: &lon},
			{MMSI: "", Lat: &lat, Lon: &lon},
			{MMSI: "987654321"},
		})
	}))
	defer srv.Close()

	ais := NewAIS(srv.URL, 5*time.Second)

	var got []string
	for rec, err := range ais.Fetch(context.Background()) {
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		got = append(got, rec.Title)
	}
	if len(got) != 1 || got[0] != "MSC Example" {
		t.Fatalf("got = %v, want [MSC Example]", got)
	}
}

func TestAISVesselToRecord_RequiresMMSIAndPosition(t *testing.T) {
	lat, lon := 1.0, 2.0
	now := time.Unix(1700000000, 0)

	if _, ok := aisVesselToRecord(aisVessel{}, now); ok {
		t.Fatal("expected empty vessel to be rejected")
	}
	if _, ok := aisVesselToRecord(aisVessel{MMSI: "1", Lat: &lat}, now); ok {
		t.Fatal("expected vessel missing lon to be rejected")
	}
	if _, ok := aisVesselToRecord(aisVessel{MMSI: "1", Lat: &lat, Lon: &lon}, now); !ok {
		t.Fatal("expected a complete vessel to be accepted")
	}
}

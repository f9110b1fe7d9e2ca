package gazetteer

import (
	"context"
	"testing"
)

func newTestResolver(t *testing.T) *SQLiteResolver {
	t.Helper()
	r, err := NewSQLiteResolver(":memory:", "")
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestResolve_PrefersCountryLevelForSingleTokenNoIntent(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	r.InsertPlace(ctx, placeRow{name: "Georgia", lat: 42.3, lon: 43.4, featureClass: "A", featureCode: "PCLI", population: 3700000, countryCode: "GE"})
	r.InsertPlace(ctx, placeRow{name: "Georgia", lat: 32.9, lon: -83.3, featureClass: "A", featureCode: "ADM1", population: 10700000, countryCode: "US"})

	got, err := r.Resolve(ctx, "Georgia", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || got.CountryCode != "GE" {
		t.Fatalf("got = %+v, want the country-level entity", got)
	}
}

func TestResolve_CountryHintBreaksTie(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	r.InsertPlace(ctx, placeRow{name: "Springfield", lat: 39.8, lon: -89.6, featureClass: "P", featureCode: "PPLA", population: 114000, countryCode: "US"})
	r.InsertPlace(ctx, placeRow{name: "Springfield", lat: -37.2, lon: 145.0, featureClass: "P", featureCode: "PPL", population: 500, countryCode: "AU"})

	got, err := r.Resolve(ctx, "Springfield", "AU")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || got.CountryCode != "AU" {
		t.Fatalf("got = %+v, want AU per country hint", got)
	}
}

func TestResolve_NoMatchReturnsNilNil(t *testing.T) {
	r := newTestResolver(t)
	got, err := r.Resolve(context.Background(), "Nowhereville", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != nil {
		t.Fatalf("got = %+v, want nil", got)
	}
}

func TestResolve_CachesMisses(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	r.Resolve(ctx, "Nowhereville", "")
	if _, ok := r.cache.get("Nowhereville", ""); !ok {
		t.Fatal("expected a miss to populate the cache")
	}

	// Insert after caching a miss: Resolve should still return the
	// cached nil rather than re-querying.
	r.InsertPlace(ctx, placeRow{name: "Nowhereville", lat: 1, lon: 1, featureClass: "P", featureCode: "PPL"})
	got, err := r.Resolve(ctx, "Nowhereville", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != nil {
		t.Fatalf("got = %+v, want cached nil", got)
	}
}

func TestResolve_PreferredNameBeatsAltName(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	r.InsertPlace(ctx, placeRow{name: "Tokyo", preferredName: true, lat: 35.6895, lon: 139.6917, featureClass: "P", featureCode: "PPLC", population: 13960000, countryCode: "JP"})
	r.InsertPlace(ctx, placeRow{name: "Tokyo", preferredName: false, lat: 1, lon: 1, featureClass: "P", featureCode: "PPL", population: 13960000, countryCode: "JP"})

	got, err := r.Resolve(ctx, "Tokyo", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || got.Lat != 35.6895 {
		t.Fatalf("got = %+v, want the preferred-name row", got)
	}
}

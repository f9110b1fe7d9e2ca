package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"time"

	"github.com/mihasm/news-globe/internal/record"
)

type adsbAircraft struct {
	Hex      string   `json:"hex"`
	Flight   string   `json:"flight"`
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	AltBaro  any      `json:"alt_baro"`
	GroundSpeed *float64 `json:"gs"`
	Squawk   string   `json:"squawk"`
}

type adsbResponse struct {
	Aircraft []adsbAircraft `json:"aircraft"`
	Now      float64        `json:"now"`
}

// ADSB polls a dump1090/readsb-compatible "aircraft.json" endpoint.
// Deployments expose this at different paths (a bare receiver, a
// tar1090 frontend, or a hosted aggregator), so the connector probes a
// candidate list on first use and sticks with whichever answered —
// cached on the struct itself, never a package-level global.
type ADSB struct {
	httpconnector
	candidates      []string
	workingEndpoint string
}

// NewADSB builds an ADSB connector. candidates is tried in order until
// one responds 200; subsequent calls reuse the first success.
func NewADSB(candidates []string, timeout time.Duration) *ADSB {
	return &ADSB{
		httpconnector: newHTTPConnector(string(record.SourceADSB), map[string]string{
			"candidate_count": fmt.Sprintf("%d", len(candidates)),
		}, timeout, 1),
		candidates: candidates,
	}
}

// Fetch polls the working endpoint (probing candidates first if none is
// known yet) and yields one record per tracked aircraft with a fix.
func (a *ADSB) Fetch(ctx context.Context) iter.Seq2[record.IngestionRecord, error] {
	return func(yield func(record.IngestionRecord, error) bool) {
		endpoint, resp, err := a.resolveEndpoint(ctx)
		if err != nil {
			yield(record.IngestionRecord{}, err)
			return
		}
		defer resp.Body.Close()
		a.workingEndpoint = endpoint

		var parsed adsbResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			yield(record.IngestionRecord{}, fmt.Errorf("decode adsb response: %w", err))
			return
		}

		collectedAt := time.Now().Unix()
		for _, ac := range parsed.Aircraft {
			if ac.Hex == "" || ac.Lat == nil || ac.Lon == nil {
				continue
			}
			rec := record.IngestionRecord{
				Source:      record.SourceADSB,
				SourceID:    fmt.Sprintf("%s:%d", ac.Hex, int64(parsed.Now)),
				CollectedAt: collectedAt,
				Title:       adsbTitle(ac),
				Lat:         ac.Lat,
				Lon:         ac.Lon,
				PublishedAt: time.Unix(int64(parsed.Now), 0).UTC().Format(time.RFC3339),
				Entities:    adsbEntities(ac),
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// resolveEndpoint returns the cached working endpoint's response if
// known, otherwise probes a.candidates in order and caches the first
// success.
func (a *ADSB) resolveEndpoint(ctx context.Context) (string, *http.Response, error) {
	if a.workingEndpoint != "" {
		resp, err := a.get(ctx, a.workingEndpoint)
		if err == nil {
			return a.workingEndpoint, resp, nil
		}
		// cached endpoint stopped answering; fall through and re-probe.
	}

	var lastErr error
	for _, candidate := range a.candidates {
		resp, err := a.get(ctx, candidate)
		if err != nil {
			lastErr = err
			continue
		}
		return candidate, resp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no adsb endpoint candidates configured")
	}
	return "", nil, lastErr
}

func adsbTitle(ac adsbAircraft) string {
	if ac.Flight != "" {
		return ac.Flight
	}
	return ac.Hex
}

func adsbEntities(ac adsbAircraft) map[string]string {
	out := map[string]string{"hex": ac.Hex}
	if ac.Flight != "" {
		out["flight"] = ac.Flight
	}
	if ac.Squawk != "" {
		out["squawk"] = ac.Squawk
	}
	if ac.GroundSpeed != nil {
		out["ground_speed"] = fmt.Sprintf("%.1f", *ac.GroundSpeed)
	}
	if ac.AltBaro != nil {
		out["alt_baro"] = fmt.Sprintf("%v", ac.AltBaro)
	}
	return out
}

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mihasm/news-globe/internal/record"
)

type aisVessel struct {
	MMSI      string   `json:"mmsi"`
	Name      string   `json:"name"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Speed     *float64 `json:"sog"`
	Course    *float64 `json:"cog"`
	ShipType  int      `json:"ship_type"`
}

// AIS polls a single JSON snapshot endpoint listing currently tracked
// vessels (the common shape for a self-hosted AIS aggregator's REST
// API).
type AIS struct {
	httpconnector
	snapshotURL string
}

// NewAIS builds a polling AIS connector against a vessel-snapshot URL.
func NewAIS(snapshotURL string, timeout time.Duration) *AIS {
	return &AIS{
		httpconnector: newHTTPConnector(string(record.SourceAIS), map[string]string{"mode": "poll"}, timeout, 1),
		snapshotURL:   snapshotURL,
	}
}

// Fetch polls the snapshot endpoint once and yields one record per vessel.
func (a *AIS) Fetch(ctx context.Context) iter.Seq2[record.IngestionRecord, error] {
	return func(yield func(record.IngestionRecord, error) bool) {
		resp, err := a.get(ctx, a.snapshotURL)
		if err != nil {
			yield(record.IngestionRecord{}, err)
			return
		}
		defer resp.Body.Close()

		var vessels []aisVessel
		if err := json.NewDecoder(resp.Body).Decode(&vessels); err != nil {
			yield(record.IngestionRecord{}, fmt.Errorf("decode ais snapshot: %w", err))
			return
		}

		collectedAt := time.Now()
		for _, v := range vessels {
			if rec, ok := aisVesselToRecord(v, collectedAt); ok {
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

func aisVesselToRecord(v aisVessel, collectedAt time.Time) (record.IngestionRecord, bool) {
	if v.MMSI == "" || v.Lat == nil || v.Lon == nil {
		return record.IngestionRecord{}, false
	}
	title := v.Name
	if title == "" {
		title = v.MMSI
	}
	return record.IngestionRecord{
		Source:      record.SourceAIS,
		SourceID:    fmt.Sprintf("%s:%d", v.MMSI, collectedAt.Unix()),
		CollectedAt: collectedAt.Unix(),
		Title:       title,
		Lat:         v.Lat,
		Lon:         v.Lon,
		PublishedAt: collectedAt.UTC().Format(time.RFC3339),
		Entities:    aisEntities(v),
	}, true
}

func aisEntities(v aisVessel) map[string]string {
	out := map[string]string{"mmsi": v.MMSI}
	if v.Speed != nil {
		out["speed_knots"] = fmt.Sprintf("%.1f", *v.Speed)
	}
	if v.Course != nil {
		out["course_deg"] = fmt.Sprintf("%.1f", *v.Course)
	}
	if v.ShipType != 0 {
		out["ship_type"] = fmt.Sprintf("%d", v.ShipType)
	}
	return out
}

// aisIdleWindow is how long the websocket stream may go without
// observing a new MMSI before AISWebSocket.Fetch stops early and
// returns the snapshot it has.
const aisIdleWindow = 30 * time.Second

// aisHardTimeout is the absolute ceiling on one Fetch call regardless of
// traffic, so a noisy feed can never starve the Supervisor's schedule.
const aisHardTimeout = 2 * time.Minute

// AISWebSocket collects a bounded snapshot of vessel positions from a
// streaming AIS provider (e.g. aisstream.io) over a WebSocket
// connection, stopping once no new MMSI has appeared for aisIdleWindow
// or aisHardTimeout elapses, whichever comes first.
type AISWebSocket struct {
	name   string
	url    string
	apiKey string
}

// NewAISWebSocket builds a WebSocket AIS connector.
func NewAISWebSocket(url, apiKey string) *AISWebSocket {
	return &AISWebSocket{name: string(record.SourceAIS), url: url, apiKey: apiKey}
}

func (a *AISWebSocket) Name() string { return a.name }

func (a *AISWebSocket) Config() map[string]string {
	return map[string]string{"mode": "websocket", "url": a.url}
}

// Fetch opens the WebSocket connection, subscribes, and yields each
// distinct vessel position observed until the idle window or hard
// timeout is reached, then closes the connection and returns.
func (a *AISWebSocket) Fetch(ctx context.Context) iter.Seq2[record.IngestionRecord, error] {
	return func(yield func(record.IngestionRecord, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, aisHardTimeout)
		defer cancel()

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
		if err != nil {
			yield(record.IngestionRecord{}, fmt.Errorf("dial ais websocket: %w", err))
			return
		}
		defer conn.Close()

		if a.apiKey != "" {
			sub := map[string]any{"APIKey": a.apiKey, "BoundingBoxes": [][][2]float64{{{-90, -180}, {90, 180}}}}
			if err := conn.WriteJSON(sub); err != nil {
				yield(record.IngestionRecord{}, fmt.Errorf("subscribe ais websocket: %w", err))
				return
			}
		}

		msgCh := make(chan aisVessel)
		errCh := make(chan error, 1)
		go a.readLoop(conn, msgCh, errCh)

		idle := time.NewTimer(aisIdleWindow)
		defer idle.Stop()
		collectedAt := time.Now()

		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errCh:
				if err != nil {
					yield(record.IngestionRecord{}, err)
				}
				return
			case <-idle.C:
				return
			case v := <-msgCh:
				if !idle.Stop() {
					<-idle.C
				}
				idle.Reset(aisIdleWindow)
				if rec, ok := aisVesselToRecord(v, collectedAt); ok {
					if !yield(rec, nil) {
						return
					}
				}
			}
		}
	}
}

// readLoop continuously decodes incoming vessel messages until the
// connection closes or errors; runs in its own goroutine for the
// lifetime of one Fetch call.
func (a *AISWebSocket) readLoop(conn *websocket.Conn, msgCh chan<- aisVessel, errCh chan<- error) {
	defer close(errCh)
	for {
		var v aisVessel
		if err := conn.ReadJSON(&v); err != nil {
			errCh <- nil // connection closed; not an error worth surfacing
			return
		}
		msgCh <- v
	}
}

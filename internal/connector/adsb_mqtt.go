package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mihasm/news-globe/internal/record"
)

// adsbMQTTDrainWindow bounds how long ADSBMQTT.Fetch waits for buffered
// messages before returning, matching the Kafka variant's
// drain-then-return contract.
const adsbMQTTDrainWindow = 5 * time.Second

// ADSBMQTT subscribes to an MQTT topic publishing individual aircraft
// position updates, for deployments where ADS-B telemetry arrives over
// a broker (e.g. a fleet of remote receivers publishing home) rather
// than a pollable HTTP endpoint.
type ADSBMQTT struct {
	topic  string
	client mqtt.Client

	mu      sync.Mutex
	pending []adsbAircraft
}

// NewADSBMQTT builds an MQTT-backed ADSB connector and subscribes to
// topic on broker, buffering incoming messages until Fetch drains them.
func NewADSBMQTT(broker, topic, clientID string) (*ADSBMQTT, error) {
	a := &ADSBMQTT{topic: topic}

	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID).SetAutoReconnect(true)
	opts.SetDefaultPublishHandler(nil)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", token.Error())
	}

	token := client.Subscribe(topic, 0, a.onMessage)
	if token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("subscribe mqtt topic %s: %w", topic, token.Error())
	}

	a.client = client
	return a, nil
}

func (a *ADSBMQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var ac adsbAircraft
	if err := json.Unmarshal(msg.Payload(), &ac); err != nil {
		return
	}
	a.mu.Lock()
	a.pending = append(a.pending, ac)
	a.mu.Unlock()
}

func (a *ADSBMQTT) Name() string { return string(record.SourceADSB) }

func (a *ADSBMQTT) Config() map[string]string {
	return map[string]string{"mode": "mqtt", "topic": a.topic}
}

// Close disconnects from the broker. Should be called when the
// Supervisor removes this connector from its schedule.
func (a *ADSBMQTT) Close() { a.client.Disconnect(250) }

// Fetch waits up to adsbMQTTDrainWindow for at least one buffered
// message, then yields everything accumulated so far and returns.
func (a *ADSBMQTT) Fetch(ctx context.Context) iter.Seq2[record.IngestionRecord, error] {
	return func(yield func(record.IngestionRecord, error) bool) {
		deadline := time.Now().Add(adsbMQTTDrainWindow)
		for time.Now().Before(deadline) {
			if a.drainSize() > 0 {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}

		collectedAt := time.Now().Unix()
		for _, ac := range a.drain() {
			if ac.Hex == "" || ac.Lat == nil || ac.Lon == nil {
				continue
			}
			rec := record.IngestionRecord{
				Source:      record.SourceADSB,
				SourceID:    fmt.Sprintf("%s:%d", ac.Hex, collectedAt),
				CollectedAt: collectedAt,
				Title:       adsbTitle(ac),
				Lat:         ac.Lat,
				Lon:         ac.Lon,
				PublishedAt: time.Unix(collectedAt, 0).UTC().Format(time.RFC3339),
				Entities:    adsbEntities(ac),
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (a *ADSBMQTT) drainSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *ADSBMQTT) drain() []adsbAircraft {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pending
	a.pending = nil
	return out
}

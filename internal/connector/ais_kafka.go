package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/mihasm/news-globe/internal/record"
)

// aisKafkaDrainWindow bounds how long AISKafka.Fetch waits for new
// messages to accumulate before returning what it has, keeping the
// Supervisor's bounded, cancellable Fetch contract regardless of
// transport.
const aisKafkaDrainWindow = 5 * time.Second

// AISKafka consumes AIS vessel-position messages from a Kafka topic, for
// deployments where an upstream AIS aggregator publishes onto a broker
// rather than exposing a pollable HTTP endpoint.
type AISKafka struct {
	topic  string
	client *kgo.Client
}

// NewAISKafka builds a Kafka-backed AIS connector. brokers and group
// follow franz-go's own seed-broker/consumer-group conventions.
func NewAISKafka(brokers []string, topic, group string) (*AISKafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &AISKafka{topic: topic, client: client}, nil
}

func (a *AISKafka) Name() string { return string(record.SourceAIS) }

func (a *AISKafka) Config() map[string]string {
	return map[string]string{"mode": "kafka", "topic": a.topic}
}

// Close releases the underlying Kafka client. Should be called when the
// Supervisor removes this connector from its schedule.
func (a *AISKafka) Close() { a.client.Close() }

// Fetch drains whatever is currently buffered on the topic (bounded by
// aisKafkaDrainWindow) and yields one record per decodable vessel
// message, then returns — it waits at most aisKafkaDrainWindow for
// messages to arrive.
func (a *AISKafka) Fetch(ctx context.Context) iter.Seq2[record.IngestionRecord, error] {
	return func(yield func(record.IngestionRecord, error) bool) {
		drainCtx, cancel := context.WithTimeout(ctx, aisKafkaDrainWindow)
		defer cancel()

		collectedAt := time.Now()
		for {
			fetches := a.client.PollFetches(drainCtx)
			if drainCtx.Err() != nil {
				return
			}
			if errs := fetches.Errors(); len(errs) > 0 {
				for _, e := range errs {
					if !yield(record.IngestionRecord{}, fmt.Errorf("kafka fetch error: %w", e.Err)) {
						return
					}
				}
				continue
			}

			empty := true
			fetches.EachRecord(func(r *kgo.Record) {
				empty = false
				var v aisVessel
				if err := json.Unmarshal(r.Value, &v); err != nil {
					yield(record.IngestionRecord{}, fmt.Errorf("decode kafka ais message: %w", err))
					return
				}
				if rec, ok := aisVesselToRecord(v, collectedAt); ok {
					yield(rec, nil)
				}
			})
			if empty {
				return
			}
		}
	}
}

// Package connector defines the Connector contract every data source
// implements and the shared HTTP helpers concrete connectors compose
// rather than inherit from.
package connector

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"time"

	"github.com/mihasm/news-globe/internal/record"
)

// Connector is the contract the Supervisor drives: a name (used as the
// record Source), its runtime config for introspection, and a bounded,
// cancellable sequence of records to fetch on each scheduled run.
type Connector interface {
	Name() string
	Config() map[string]string
	Fetch(ctx context.Context) iter.Seq2[record.IngestionRecord, error]
}

// defaultHTTPTimeout bounds a single outbound request a connector makes.
// Individual connectors may override this via their own config.
const defaultHTTPTimeout = 20 * time.Second

// defaultFanOut is the default bounded concurrency for connectors that
// fan out across many endpoints (e.g. one request per RSS feed).
const defaultFanOut = 8

// httpconnector is the composable base every HTTP-polling connector
// embeds: a timeout'd client and a bounded fan-out semaphore size. It
// has no Fetch method of its own — concrete connectors implement Fetch
// and call httpconnector's helpers.
type httpconnector struct {
	name   string
	config map[string]string
	client *http.Client
	fanOut int
}

// newHTTPConnector builds the shared base. timeout <= 0 uses
// defaultHTTPTimeout; fanOut <= 0 uses defaultFanOut.
func newHTTPConnector(name string, config map[string]string, timeout time.Duration, fanOut int) httpconnector {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if fanOut <= 0 {
		fanOut = defaultFanOut
	}
	return httpconnector{
		name:   name,
		config: config,
		client: &http.Client{Timeout: timeout},
		fanOut: fanOut,
	}
}

func (h httpconnector) Name() string              { return h.name }
func (h httpconnector) Config() map[string]string { return h.config }

// get issues a bare GET with a descriptive User-Agent and returns the
// response body reader's owner to the caller (caller must close body).
func (h httpconnector) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "news-globe/1.0 (+https://github.com/mihasm/news-globe)")
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}
	return resp, nil
}

// fetchResult is one item produced by a fan-out worker: either a record
// or an error, carried together so results can be streamed back to the
// caller in completion order without blocking on the slowest endpoint.
type fetchResult struct {
	rec record.IngestionRecord
	err error
}

package gazetteer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// queryTimeout bounds one gazetteer query end to end; a hung service
// never stalls the pipeline longer than this.
const queryTimeout = 10 * time.Second

// queryRate bounds outbound queries so a hot ingestion batch stays
// polite to the shared gazetteer service. Cache hits are not limited.
const queryRate = rate.Limit(10)

// HTTPResolver is a thin client for an external geocoding service
// exposing GET /query?key=<surface>&limit=1.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
	cache   *queryCache
	limiter *rate.Limiter
}

// NewHTTPResolver builds a resolver against baseURL (e.g.
// "https://gazetteer.internal"). The client's own Timeout is set to
// queryTimeout as well, so a hung connection cannot outlive the
// per-query deadline.
func NewHTTPResolver(baseURL string) *HTTPResolver {
	return &HTTPResolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: queryTimeout},
		cache:   newQueryCache(),
		limiter: rate.NewLimiter(queryRate, int(queryRate)),
	}
}

type httpCandidate struct {
	Name         string  `json:"name"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	FeatureClass string  `json:"feature_class"`
	FeatureCode  string  `json:"feature_code"`
	Population   int64   `json:"population"`
	CountryCode  string  `json:"country_code"`
}

// Resolve calls GET /query?key=<surface>&limit=1. Any error — network,
// timeout, non-200, malformed body — resolves to (nil, nil): gazetteer
// failures never fail the pipeline, they simply leave the record
// unresolved.
func (r *HTTPResolver) Resolve(ctx context.Context, surface, countryHint string) (*Candidate, error) {
	if cand, ok := r.cache.get(surface, countryHint); ok {
		return cand, nil
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, nil
	}

	u := fmt.Sprintf("%s/query?key=%s&limit=1", r.baseURL, url.QueryEscape(surface))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var hc httpCandidate
	if err := json.NewDecoder(resp.Body).Decode(&hc); err != nil {
		return nil, nil
	}
	if hc.Name == "" {
		r.cache.put(surface, countryHint, nil)
		return nil, nil
	}

	cand := &Candidate{
		Name: hc.Name, Lat: hc.Lat, Lon: hc.Lon,
		FeatureClass: hc.FeatureClass, FeatureCode: hc.FeatureCode,
		Population: hc.Population, CountryCode: hc.CountryCode,
	}
	r.cache.put(surface, countryHint, cand)
	return cand, nil
}

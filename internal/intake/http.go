package intake

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mileusna/useragent"

	"github.com/mihasm/news-globe/internal/geoip"
	"github.com/mihasm/news-globe/internal/logging"
	"github.com/mihasm/news-globe/internal/record"
)

// Server exposes the Intake Queue HTTP surface:
// GET /get/raw_items, /get/tweet_sources, /get/search_queries, /get/health,
// and POST /post. All responses carry permissive CORS; there is no auth.
type Server struct {
	queue *Queue

	// GeoIP is optional. When set, inbound POSTs are annotated with the
	// submitter's coarse location for logging only — it never gates a
	// request.
	GeoIP *geoip.GeoIP

	// MaxBodyBytes caps request bodies. Defaults to 100MB.
	MaxBodyBytes int64

	logger *slog.Logger
}

// NewServer creates an intake HTTP server fronting queue.
func NewServer(queue *Queue, logger *slog.Logger) *Server {
	return &Server{
		queue:        queue,
		MaxBodyBytes: 100 << 20,
		logger:       logging.Default(logger).With("component", "intake_http"),
	}
}

// Handler returns the http.Handler implementing the documented surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /get/raw_items", s.handleGetRawItems)
	mux.HandleFunc("GET /get/tweet_sources", s.handleGetTweetSources)
	mux.HandleFunc("GET /get/search_queries", s.handleGetSearchQueries)
	mux.HandleFunc("GET /get/health", s.handleGetHealth)
	mux.HandleFunc("POST /post", s.handlePost)
	mux.HandleFunc("OPTIONS /post", s.handleOptions)
	return s.corsMiddleware(mux)
}

// corsMiddleware adds permissive CORS headers for browser clients.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetRawItems(w http.ResponseWriter, _ *http.Request) {
	items := s.queue.GetRawItems()
	writeJSON(w, http.StatusOK, map[string]any{"raw_items": items})
}

func (s *Server) handleGetTweetSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tweet_sources": s.queue.TweetSources()})
}

func (s *Server) handleGetSearchQueries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"search_queries": s.queue.SearchQueries()})
}

func (s *Server) handleGetHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Health())
}

// postRequest is the body shape accepted by POST /post.
type postRequest struct {
	Key   ConfigKey       `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	s.annotateSubmitter(r)

	r.Body = http.MaxBytesReader(w, r.Body, s.MaxBodyBytes)
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	switch req.Key {
	case "raw_items":
		var items []record.IngestionRecord
		if err := json.Unmarshal(req.Value, &items); err != nil {
			writeError(w, http.StatusBadRequest, "raw_items value must be an array of records: "+err.Error())
			return
		}
		size := s.queue.Push(items)
		writeJSON(w, http.StatusOK, map[string]any{"queue_size": size})
	case ConfigTweetSources:
		var m map[string]bool
		if err := json.Unmarshal(req.Value, &m); err != nil {
			writeError(w, http.StatusBadRequest, "tweet_sources value must be an object: "+err.Error())
			return
		}
		if err := s.queue.SetConfig(req.Key, m); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case ConfigSearchQueries:
		var l []string
		if err := json.Unmarshal(req.Value, &l); err != nil {
			writeError(w, http.StatusBadRequest, "search_queries value must be an array: "+err.Error())
			return
		}
		if err := s.queue.SetConfig(req.Key, l); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusBadRequest, "unknown key: "+string(req.Key))
	}
}

// annotateSubmitter logs a best-effort GeoIP + User-Agent breakdown for the
// request. Purely observational: failures here never affect the response.
func (s *Server) annotateSubmitter(r *http.Request) {
	if s.GeoIP == nil {
		return
	}
	host := r.RemoteAddr
	if idx := lastColon(host); idx >= 0 {
		host = host[:idx]
	}
	geo := s.GeoIP.Lookup(r.Context(), host)
	ua := useragent.Parse(r.UserAgent())
	s.logger.Debug("intake post",
		"remote_country", geo["country"],
		"remote_city", geo["city"],
		"ua_name", ua.Name,
		"ua_os", ua.OS,
	)
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

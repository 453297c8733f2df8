// Package server exposes the analysis pipeline over HTTP.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/chanyong1027/evalstudio/internal/analysis"
	"github.com/chanyong1027/evalstudio/internal/hash"
	"github.com/chanyong1027/evalstudio/internal/report"
	"github.com/chanyong1027/evalstudio/pkg/schema"
)

// Handler returns the server mux: POST /v1/analyze, GET /healthz and
// GET /metrics.
func Handler(cfg Config) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	a := &analyzer{
		cfg:   cfg,
		cache: newResultCache(cfg.CacheSize, time.Duration(cfg.CacheTTLSeconds)*time.Second),
		group: &singleflight.Group{},
	}
	mux := http.NewServeMux()
	mux.Handle("POST /v1/analyze", a)
	mux.Handle("GET /healthz", HealthHandler())
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// HealthHandler returns an HTTP handler for liveness and readiness probes.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

type analyzer struct {
	cfg   Config
	cache *resultCache
	group *singleflight.Group
}

// errorBody is the JSON body of every non-2xx response.
type errorBody struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

func (a *analyzer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := clog.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, a.cfg.MaxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("read body: %v", err)})
		return
	}
	if int64(len(body)) > a.cfg.MaxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
		return
	}

	key, err := hash.DigestJSON(body)
	if err != nil {
		analyzeRequests.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("decode analyze request: %v", err)})
		return
	}
	log = log.With("digest", key)

	if cached, ok := a.cache.get(key); ok {
		analyzeRequests.WithLabelValues("cached").Inc()
		log.Debug("analyze cache hit")
		writeJSON(w, cached)
		return
	}

	v, err, shared := a.group.Do(key, func() (any, error) {
		if cached, ok := a.cache.get(key); ok {
			return cached, nil
		}
		out, err := analyze(body)
		if err != nil {
			return nil, err
		}
		a.cache.put(key, out)
		return out, nil
	})
	if err != nil {
		var ve *invalidRequest
		if errors.As(err, &ve) {
			analyzeRequests.WithLabelValues("invalid").Inc()
			writeError(w, http.StatusBadRequest, errorBody{Error: ve.msg, Violations: ve.violations})
			return
		}
		analyzeRequests.WithLabelValues("error").Inc()
		log.Errorf("analyze failed: %v", err)
		writeError(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	if shared {
		analyzeRequests.WithLabelValues("shared").Inc()
	} else {
		analyzeRequests.WithLabelValues("computed").Inc()
	}
	writeJSON(w, v.([]byte))
}

type invalidRequest struct {
	msg        string
	violations []string
}

func (e *invalidRequest) Error() string { return e.msg }

// analyze validates and runs one request body and returns the encoded
// report document.
func analyze(body []byte) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &invalidRequest{msg: fmt.Sprintf("decode analyze request: %v", err)}
	}
	violations, err := schema.Validate(schema.AnalyzeRequest, doc)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return nil, &invalidRequest{msg: "analyze request failed schema validation", violations: violations}
	}
	in, err := analysis.DecodeInput(body)
	if err != nil {
		return nil, &invalidRequest{msg: err.Error()}
	}

	view := analysis.Analyze(in)
	releaseDecisions.WithLabelValues(string(view.Decision.Release)).Inc()
	var buf bytes.Buffer
	if err := report.EncodeJSON(&buf, view); err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return buf.Bytes(), nil
}

func writeJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/54b3r/kbgraph-go/internal/logging"
)

// probeTimeout bounds each dependency probe of a readiness check.
const probeTimeout = 5 * time.Second

// Pinger is implemented by every dependency that can report reachability:
// the chat backend, the Neo4j graph store, the Qdrant mirror and the Redis
// locker. Implementations must be safe for concurrent use.
type Pinger interface {
	// Ping returns nil when the dependency is reachable.
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness responses (e.g. "neo4j").
	Name() string
}

// readyCheck is the result of one probe.
type readyCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// readyResponse is the body of GET /api/ready.
type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// probeAll pings every dependency concurrently, each under probeTimeout.
// Results keep the order of pingers.
func probeAll(ctx context.Context, pingers []Pinger) []readyCheck {
	checks := make([]readyCheck, len(pingers))
	var wg sync.WaitGroup
	for i, p := range pingers {
		wg.Go(func() {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			start := time.Now()
			err := p.Ping(pctx)
			checks[i] = readyCheck{
				Name:      p.Name(),
				OK:        err == nil,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				checks[i].Error = err.Error()
			}
		})
	}
	wg.Wait()
	return checks
}

// MultiPinger pings several dependencies as one.
type MultiPinger struct {
	pingers []Pinger
}

// NewMultiPinger constructs a MultiPinger over pingers.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers}
}

// Ping probes every dependency concurrently and joins all failures, each
// prefixed with the dependency name.
func (m *MultiPinger) Ping(ctx context.Context) error {
	var errs []error
	for _, c := range probeAll(ctx, m.pingers) {
		if !c.OK {
			errs = append(errs, fmt.Errorf("%s: %s", c.Name, c.Error))
		}
	}
	return errors.Join(errs...)
}

// Name implements Pinger.
func (m *MultiPinger) Name() string { return "multi" }

// handleReady handles GET /api/ready. It answers 200 when every dependency
// responds and 503 otherwise. With no pingers it always answers 200.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := probeAll(r.Context(), s.pingers)
	resp := readyResponse{Ready: true, Checks: checks}
	for _, c := range checks {
		if c.OK {
			continue
		}
		resp.Ready = false
		logging.FromContext(r.Context()).Warn("readiness probe failed",
			slog.String("dependency", c.Name),
			slog.String("error", c.Error),
		)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

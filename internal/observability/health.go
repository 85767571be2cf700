package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
)

// Checker is a dependency probed by the readiness endpoint. Check must return
// once ctx is done.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc struct {
	Component string
	Fn        func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.Component }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// probeResult is one checker outcome.
type probeResult struct {
	name string
	err  error
}

// probeAll runs every checker concurrently and returns the outcomes in
// registration order.
func probeAll(ctx context.Context, checkers []Checker) []probeResult {
	results := make([]probeResult, len(checkers))

	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = probeResult{name: c.Name(), err: c.Check(ctx)}
		}()
	}
	wg.Wait()

	return results
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// handleReadiness answers 503 when any dependency is down. The body maps
// component names to "up" or "down: <error>".
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	status := make(map[string]string, len(s.checkers))
	code := http.StatusOK
	for _, res := range probeAll(ctx, s.checkers) {
		if res.err == nil {
			status[res.name] = "up"
			DependencyUp.WithLabelValues(res.name).Set(1)
			continue
		}
		// Warn only; the orchestrator retries the probe.
		s.logger.Warn("dependency not ready",
			slog.String("component", res.name),
			slog.String("error", res.err.Error()),
		)
		status[res.name] = "down: " + res.err.Error()
		DependencyUp.WithLabelValues(res.name).Set(0)
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(struct {
		Status map[string]string `json:"status"`
	}{status})
}

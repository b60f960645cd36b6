package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gitlab.com/tinyland/lab/pulsebar/scheduler"
	"gitlab.com/tinyland/lab/pulsebar/state"
	"gitlab.com/tinyland/lab/pulsebar/status"
)

// healthKey names health.json inside the state directory.
const healthKey = "health"

// Health states written to health.json.
const (
	healthRunning = "running"
	healthStopped = "stopped"
)

// HealthStatus is the snapshot the daemon writes for -health.
type HealthStatus struct {
	Status          string             `json:"status"`
	PID             int                `json:"pid"`
	StartedAt       time.Time          `json:"started_at"`
	LastPublish     time.Time          `json:"last_publish"`
	Iterations      uint64             `json:"iterations"`
	PublishFailures uint64             `json:"publish_failures"`
	Slots           []status.SlotStats `json:"slots"`
}

// healthWriter is a scheduler.Observer that persists a HealthStatus at most
// once per interval.
type healthWriter struct {
	store     *state.Store
	arena     *status.Arena
	interval  time.Duration
	logger    *slog.Logger
	status    HealthStatus
	lastWrite time.Time
}

func newHealthWriter(store *state.Store, arena *status.Arena, interval time.Duration, logger *slog.Logger) *healthWriter {
	return &healthWriter{
		store:    store,
		arena:    arena,
		interval: interval,
		logger:   logger,
		status: HealthStatus{
			Status:    healthRunning,
			PID:       os.Getpid(),
			StartedAt: time.Now(),
		},
	}
}

// ObserveIteration implements scheduler.Observer.
func (h *healthWriter) ObserveIteration(it scheduler.Iteration) {
	h.status.Iterations = it.Seq
	if it.PublishErr != nil {
		h.status.PublishFailures++
	} else {
		h.status.LastPublish = it.At
	}
	if !h.lastWrite.IsZero() && it.At.Sub(h.lastWrite) < h.interval {
		return
	}
	h.flush(it.At)
}

// stop records a clean shutdown.
func (h *healthWriter) stop() {
	h.status.Status = healthStopped
	h.flush(time.Now())
}

func (h *healthWriter) flush(now time.Time) {
	h.status.Slots = h.arena.Stats()
	if err := state.SetTyped(h.store, healthKey, &h.status); err != nil {
		h.logger.Warn("health write failed", "error", err)
		return
	}
	h.lastWrite = now
}

// staleAfter is how old health.json may get before the daemon is considered
// stuck. Iterations happen at least every scheduler.MaxSleep, and the file
// is rewritten at most once per interval.
func staleAfter(interval time.Duration) time.Duration {
	return 2*interval + scheduler.MaxSleep
}

// checkHealth reads health.json from stateDir and reports on stdout (or
// stderr for failures). It returns 0 for a healthy daemon and 1 when the
// file is missing, stale or records a shutdown.
func checkHealth(stateDir string, interval time.Duration, jsonOutput bool, stdout, stderr io.Writer) int {
	store, err := state.NewStore(stateDir, nil)
	if err != nil {
		fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}

	threshold := staleAfter(interval)
	hs, fresh, err := state.GetTyped[HealthStatus](store, healthKey, threshold)
	if err != nil {
		fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}
	if hs == nil {
		if jsonOutput {
			fmt.Fprintln(stdout, `{"status":"missing","error":"no health file found"}`)
		} else {
			fmt.Fprintln(stderr, "daemon not running (no health file)")
		}
		return 1
	}

	age := store.Age(healthKey)
	healthy := fresh && hs.Status == healthRunning

	if jsonOutput {
		output := map[string]any{
			"status":       hs.Status,
			"pid":          hs.PID,
			"started_at":   hs.StartedAt.Format(time.RFC3339),
			"last_publish": hs.LastPublish.Format(time.RFC3339),
			"iterations":   hs.Iterations,
			"age":          age.Round(time.Second).String(),
			"stale":        !fresh,
			"slots":        hs.Slots,
		}
		data, _ := json.MarshalIndent(output, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		switch {
		case hs.Status != healthRunning:
			fmt.Fprintf(stderr, "daemon %s (PID %d, last update %s ago)\n", hs.Status, hs.PID, age.Round(time.Second))
		case !fresh:
			fmt.Fprintf(stderr, "daemon stale (last update %s ago, threshold %s)\n", age.Round(time.Second), threshold)
		default:
			fmt.Fprintf(stdout, "daemon healthy (PID %d, %d iterations, last update %s ago)\n",
				hs.PID, hs.Iterations, age.Round(time.Second))
			for _, s := range hs.Slots {
				line := fmt.Sprintf("  %s: %d runs, %d failures", s.Name, s.Runs, s.Failures)
				if c := s.Circuit; c != nil && c.State != "closed" {
					line += fmt.Sprintf(", circuit %s (timeout %s)", c.State, c.Timeout)
				}
				if s.LastError != "" {
					line += " (" + s.LastError + ")"
				}
				fmt.Fprintln(stdout, line)
			}
		}
	}

	if !healthy {
		return 1
	}
	return 0
}

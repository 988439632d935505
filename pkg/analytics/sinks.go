package analytics

import (
	"context"
	"log/slog"
	"sync"
)

// SlogSink writes each signal as a structured log line. Useful as a default
// until a real analytics destination is wired.
type SlogSink struct {
	log *slog.Logger
}

// NewSlogSink creates a sink backed by the given logger.
func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{log: log}
}

func (s *SlogSink) Deliver(ctx context.Context, sig Signal) error {
	s.log.InfoContext(ctx, "lifecycle signal",
		"signal", sig.Name,
		"account_id", sig.AccountID,
		"properties", sig.Properties,
		"occurred_at", sig.OccurredAt,
	)
	return nil
}

// MemorySink collects signals for test assertions.
type MemorySink struct {
	mu      sync.Mutex
	signals []Signal
}

// NewMemorySink creates an in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Deliver(_ context.Context, sig Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	return nil
}

// Signals returns a snapshot of delivered signals.
func (s *MemorySink) Signals() []Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Signal, len(s.signals))
	copy(out, s.signals)
	return out
}

// Named returns delivered signals with the given name.
func (s *MemorySink) Named(name string) []Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Signal
	for _, sig := range s.signals {
		if sig.Name == name {
			out = append(out, sig)
		}
	}
	return out
}

package queue

import "time"

// Minimum guardrails applied to any tenant configuration.
const (
	MinPollInterval = 5 * time.Second
	MinBatchSize    = 1
)

// Settings are the effective per-tenant worker parameters after merging
// the tenant row with the platform defaults.
type Settings struct {
	QueueEnabled  bool
	WorkerEnabled bool
	PollInterval  time.Duration
	BatchSize     int
}

// DefaultSettings matches the platform defaults: queue and worker on,
// three-minute polls, batches of fifty.
func DefaultSettings() Settings {
	return Settings{
		QueueEnabled:  true,
		WorkerEnabled: true,
		PollInterval:  180 * time.Second,
		BatchSize:     50,
	}
}

// ForTenant overlays a tenant's configuration on the defaults and clamps
// the result to the guardrails. The enable flags come from the tenant row
// as stored; zero interval/batch inherit the defaults.
func (s Settings) ForTenant(t Tenant) Settings {
	out := s
	out.QueueEnabled = t.QueueEnabled
	out.WorkerEnabled = t.WorkerEnabled
	if t.PollInterval > 0 {
		out.PollInterval = t.PollInterval
	}
	if t.BatchSize > 0 {
		out.BatchSize = t.BatchSize
	}
	return out.clamped()
}

func (s Settings) clamped() Settings {
	if s.PollInterval < MinPollInterval {
		s.PollInterval = MinPollInterval
	}
	if s.BatchSize < MinBatchSize {
		s.BatchSize = MinBatchSize
	}
	return s
}

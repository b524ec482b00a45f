package tracing

import "time"

// Config tunes the tracer. Zero fields take the defaults of DefaultConfig.
type Config struct {
	// DBPath selects the SQLite span store; empty keeps spans in memory.
	DBPath string `koanf:"db_path"`

	// MaxPayloadBytes bounds each encoded payload. Negative disables bounding.
	MaxPayloadBytes int `koanf:"max_payload_bytes"`

	// Workers is the number of write shards; QueueSize is per shard.
	Workers   int `koanf:"workers"`
	QueueSize int `koanf:"queue_size"`

	WriteAttempts     int           `koanf:"write_attempts"`
	WriteInitialDelay time.Duration `koanf:"write_initial_delay"`
	WriteMaxDelay     time.Duration `koanf:"write_max_delay"`

	// BreakerThreshold consecutive dropped writes open the store breaker for
	// BreakerCooldown; writes during that time are reported without retrying.
	BreakerThreshold int           `koanf:"breaker_threshold"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown"`

	// RedactPII masks emails, phone numbers and similar personal data in
	// payloads and error messages before they are stored.
	RedactPII bool `koanf:"redact_pii"`

	// OrphanAfter is the age past which a pending span is an orphan.
	OrphanAfter time.Duration `koanf:"orphan_after"`
}

// DefaultConfig returns the tracer defaults.
func DefaultConfig() Config {
	return Config{
		MaxPayloadBytes:   DefaultMaxPayloadBytes,
		Workers:           4,
		QueueSize:         1024,
		WriteAttempts:     3,
		WriteInitialDelay: 50 * time.Millisecond,
		WriteMaxDelay:     2 * time.Second,
		BreakerThreshold:  5,
		BreakerCooldown:   10 * time.Second,
		OrphanAfter:       10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = d.MaxPayloadBytes
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.WriteAttempts <= 0 {
		c.WriteAttempts = d.WriteAttempts
	}
	if c.WriteInitialDelay <= 0 {
		c.WriteInitialDelay = d.WriteInitialDelay
	}
	if c.WriteMaxDelay <= 0 {
		c.WriteMaxDelay = d.WriteMaxDelay
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = d.BreakerCooldown
	}
	if c.OrphanAfter <= 0 {
		c.OrphanAfter = d.OrphanAfter
	}
	return c
}

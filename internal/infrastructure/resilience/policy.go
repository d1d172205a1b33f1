package resilience

import "time"

// RetryPolicy bounds attempts and the exponential wait between them.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// BreakerPolicy configures the per-operation circuit breaker.
type BreakerPolicy struct {
	Enabled        bool
	MinRequests    uint32
	FailureRatio   float64
	OpenTimeout    time.Duration
	HalfOpenProbes uint32
}

type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy
}

// DefaultConfig suits broker calls: a few quick retries and a breaker that
// needs a meaningful sample before tripping.
func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     400 * time.Millisecond,
			Multiplier:     2,
		},
		Breaker: BreakerPolicy{
			Enabled:        true,
			MinRequests:    10,
			FailureRatio:   0.5,
			OpenTimeout:    30 * time.Second,
			HalfOpenProbes: 2,
		},
	}
}

// BackendConfig allows one retry after a fixed backoff. Conversions are
// expensive, so the breaker trips on a smaller sample and recovers sooner.
func BackendConfig(backoff time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.InitialBackoff = backoff
	cfg.Retry.MaxBackoff = backoff
	cfg.Breaker.MinRequests = 5
	cfg.Breaker.OpenTimeout = 15 * time.Second
	return cfg
}

// delay is the wait before retry number attempt (1-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt && d < p.MaxBackoff; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	return min(d, p.MaxBackoff)
}

func (p RetryPolicy) normalize(def RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = max(def.MaxBackoff, p.InitialBackoff)
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

func (p BreakerPolicy) normalize(def BreakerPolicy) BreakerPolicy {
	if p.MinRequests == 0 {
		p.MinRequests = def.MinRequests
	}
	if p.FailureRatio <= 0 || p.FailureRatio > 1 {
		p.FailureRatio = def.FailureRatio
	}
	if p.OpenTimeout <= 0 {
		p.OpenTimeout = def.OpenTimeout
	}
	if p.HalfOpenProbes == 0 {
		p.HalfOpenProbes = def.HalfOpenProbes
	}
	return p
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	return Config{
		Retry:   c.Retry.normalize(def.Retry),
		Breaker: c.Breaker.normalize(def.Breaker),
	}
}

package overload

// Decision is the detector output for one snapshot. Derived, never persisted.
type Decision struct {
	Overloaded bool
	// Severity is the max of thread pool, DB connection, and memory
	// utilization. The active-request ratio can trigger overload but does
	// not scale the retry delay.
	Severity          float64
	RetryAfterSeconds int
	// Resource names the first threshold that tripped, for metrics and logs.
	Resource string
}

// Detector classifies snapshots against configured thresholds. Detect is a
// pure function of the snapshot: no hidden state, no I/O.
type Detector struct {
	threadThreshold float64
	dbThreshold     float64
	memThreshold    float64
	activeThreshold float64
	baseDelay       int
	maxDelay        int
}

// NewDetector builds a detector from the overload configuration.
func NewDetector(cfg Config) *Detector {
	return &Detector{
		threadThreshold: cfg.ThreadPoolThreshold,
		dbThreshold:     cfg.DBConnectionThreshold,
		memThreshold:    cfg.MemoryThreshold,
		activeThreshold: cfg.ActiveRequestThreshold,
		baseDelay:       cfg.BaseRetryDelaySeconds,
		maxDelay:        cfg.MaxRetryDelaySeconds,
	}
}

// Config is the subset of service configuration the detector consumes.
type Config struct {
	ThreadPoolThreshold    float64
	DBConnectionThreshold  float64
	MemoryThreshold        float64
	ActiveRequestThreshold float64
	BaseRetryDelaySeconds  int
	MaxRetryDelaySeconds   int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		ThreadPoolThreshold:    0.90,
		DBConnectionThreshold:  0.95,
		MemoryThreshold:        0.85,
		ActiveRequestThreshold: 0.90,
		BaseRetryDelaySeconds:  60,
		MaxRetryDelaySeconds:   300,
	}
}

// Detect classifies the snapshot. The thresholds are independent OR
// conditions: any single exhausted resource triggers overload regardless of
// the others. The retry delay scales linearly with severity and is truncated
// to whole seconds, with the base delay as a deliberately conservative floor.
func (d *Detector) Detect(s Snapshot) Decision {
	severity := s.ThreadPoolUtilization
	if s.DBConnectionUtilization > severity {
		severity = s.DBConnectionUtilization
	}
	if s.MemoryUtilization > severity {
		severity = s.MemoryUtilization
	}

	delay := d.baseDelay + int(float64(d.maxDelay-d.baseDelay)*severity)

	decision := Decision{
		Severity:          severity,
		RetryAfterSeconds: delay,
	}

	switch {
	case s.ThreadPoolUtilization > d.threadThreshold:
		decision.Overloaded = true
		decision.Resource = "thread_pool"
	case s.DBConnectionUtilization > d.dbThreshold:
		decision.Overloaded = true
		decision.Resource = "db_connections"
	case s.MemoryUtilization > d.memThreshold:
		decision.Overloaded = true
		decision.Resource = "memory"
	case s.ActiveRequestRatio > d.activeThreshold:
		decision.Overloaded = true
		decision.Resource = "active_requests"
	}

	return decision
}

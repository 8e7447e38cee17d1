package overload

import (
	"testing"

	"github.com/finvex/ordergate/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestProbeActiveRequestRatio(t *testing.T) {
	cfg := &config.OverloadConfig{}
	p := NewProbe(cfg, 10, nil)

	for i := 0; i < 5; i++ {
		p.RequestStarted()
	}
	s := p.Sample()
	assert.Equal(t, 0.5, s.ActiveRequestRatio)
	assert.Equal(t, int64(5), p.ActiveRequests())

	for i := 0; i < 5; i++ {
		p.RequestFinished()
	}
	s = p.Sample()
	assert.Equal(t, 0.0, s.ActiveRequestRatio)
}

func TestProbeClampsToUnitInterval(t *testing.T) {
	cfg := &config.OverloadConfig{}
	p := NewProbe(cfg, 2, nil)

	for i := 0; i < 10; i++ {
		p.RequestStarted()
	}
	s := p.Sample()
	assert.Equal(t, 1.0, s.ActiveRequestRatio)
}

func TestProbeGoroutineSamplingStaysInRange(t *testing.T) {
	cfg := &config.OverloadConfig{WorkerCeiling: 4096, MemoryLimitBytes: 1 << 40}
	p := NewProbe(cfg, 0, nil)

	s := p.Sample()
	assert.GreaterOrEqual(t, s.ThreadPoolUtilization, 0.0)
	assert.LessOrEqual(t, s.ThreadPoolUtilization, 1.0)
	assert.GreaterOrEqual(t, s.MemoryUtilization, 0.0)
	assert.LessOrEqual(t, s.MemoryUtilization, 1.0)
}

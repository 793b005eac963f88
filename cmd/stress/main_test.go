package main

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/i5heu/GoMPSCRing/pkg/config"
)

func TestRunStressDefaults(t *testing.T) {
	cfg := config.Default().Stress
	require.NoError(t, runStress(cfg, nil, zaptest.NewLogger(t)))
}

func TestRunStressSmallRingManyRounds(t *testing.T) {
	cfg := config.StressConfig{Capacity: 4, Producers: 3, PerProducer: 2, Rounds: 200, Jitter: 2}
	require.NoError(t, runStress(cfg, nil, zaptest.NewLogger(t)))
}

func TestRunStressUnregistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := config.StressConfig{Capacity: 8, Producers: 2, PerProducer: 64, Rounds: 3}
	require.NoError(t, runStress(cfg, reg, zaptest.NewLogger(t)))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}

func TestJitterFromFlag(t *testing.T) {
	j, err := jitterFromFlag(7)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), j)

	j, err = jitterFromFlag(math.MaxUint32)
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), j)

	if math.MaxUint > math.MaxUint32 {
		big := uint(math.MaxUint32)
		big++
		_, err = jitterFromFlag(big)
		require.ErrorIs(t, err, config.ErrInvalid)
	}
}

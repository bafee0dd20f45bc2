package pacer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacer_Burst(t *testing.T) {
	p := PerSecond(1, 2)
	assert.True(t, p.Allow())
	assert.True(t, p.Allow())
	assert.False(t, p.Allow())
}

func TestPacer_Pause(t *testing.T) {
	p := PerSecond(1000, 10)
	p.Pause(time.Hour)
	assert.False(t, p.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPacer_ShortPauseThenWait(t *testing.T) {
	p := Every(time.Millisecond, 1)
	p.Pause(5 * time.Millisecond)
	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 4*time.Millisecond)
}

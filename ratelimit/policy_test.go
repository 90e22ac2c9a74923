package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestWindowCountsAndResets(t *testing.T) {
	w := Window{Limit: 5, Length: time.Minute}
	var r Record

	for i := 1; i <= 5; i++ {
		require.False(t, w.Count(&r, t0.Add(time.Duration(i)*time.Second)), "request %d", i)
	}
	require.True(t, w.Count(&r, t0.Add(10*time.Second)))
	require.Equal(t, 6, r.Count)
	require.Equal(t, t0.Add(time.Second+time.Minute), r.WindowResetAt)

	require.False(t, w.Count(&r, t0.Add(2*time.Minute)))
	require.Equal(t, 1, r.Count)
	require.Equal(t, 4, w.Remaining(&r))
}

func TestWindowHasNoBlockState(t *testing.T) {
	w := Window{Limit: 1, Length: time.Minute}
	var r Record
	for i := 0; i < 10; i++ {
		w.Count(&r, t0)
	}
	require.False(t, r.Blocked)
	require.Zero(t, r.WarningCount)
}

func TestPolicyAllowsUpToLimitThenRejects(t *testing.T) {
	p := Standard(Rule{Limit: 5, Window: 60 * time.Second, BlockDuration: 15 * time.Minute})
	var r Record

	for i := 1; i <= 5; i++ {
		d := p.Evaluate(&r, t0)
		require.True(t, d.Allowed(), "request %d", i)
		require.Equal(t, 5-i, d.Remaining)
		require.Equal(t, 5, d.Limit)
	}

	d := p.Evaluate(&r, t0.Add(10*time.Second))
	require.False(t, d.Allowed())
	require.Equal(t, Warned, d.Outcome)
	require.Equal(t, 50*time.Second, d.RetryAfter)
	require.True(t, errors.Is(d.Err(), ErrRateLimited))

	d = p.Evaluate(&r, t0.Add(61*time.Second))
	require.True(t, d.Allowed(), "window elapsed, counter must reset")
	require.Equal(t, 4, d.Remaining)
}

func TestPolicyEscalatesAfterThreeBreaches(t *testing.T) {
	block := 15 * time.Minute
	p := Standard(Rule{Limit: 5, Window: time.Minute, BlockDuration: block})
	var r Record

	for i := 0; i < 5; i++ {
		require.True(t, p.Evaluate(&r, t0).Allowed())
	}
	require.Equal(t, Warned, p.Evaluate(&r, t0).Outcome)
	require.Equal(t, Warned, p.Evaluate(&r, t0).Outcome)

	d := p.Evaluate(&r, t0)
	require.Equal(t, Blocked, d.Outcome)
	require.Equal(t, block, d.RetryAfter)
	require.True(t, r.Blocked)

	d = p.Evaluate(&r, t0.Add(5*time.Minute))
	require.Equal(t, Blocked, d.Outcome)
	require.Equal(t, 10*time.Minute, d.RetryAfter)

	d = p.Evaluate(&r, t0.Add(block))
	require.True(t, d.Allowed(), "block and window have both elapsed")
	require.False(t, r.Blocked)
	require.Zero(t, r.WarningCount)
}

func TestSensitivePolicyBlocksOnFirstBreach(t *testing.T) {
	block := 30 * time.Minute
	p := Sensitive(Rule{Limit: 5, Window: time.Minute, BlockDuration: block})
	var r Record

	for i := 0; i < 5; i++ {
		require.True(t, p.Evaluate(&r, t0).Allowed())
	}
	d := p.Evaluate(&r, t0)
	require.Equal(t, Blocked, d.Outcome)
	require.Equal(t, block, d.RetryAfter)
}

func TestRecordExpired(t *testing.T) {
	r := Record{WindowResetAt: t0.Add(time.Minute)}
	assert.False(t, r.Expired(t0))
	assert.True(t, r.Expired(t0.Add(time.Minute)))

	r.Blocked = true
	r.BlockUntil = t0.Add(time.Hour)
	assert.False(t, r.Expired(t0.Add(time.Minute)))
	assert.True(t, r.Expired(t0.Add(time.Hour)))
}

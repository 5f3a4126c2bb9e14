package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New(3, time.Minute)

	assert.True(t, b.Allow("sina"))
	b.Record("sina", false)
	b.Record("sina", false)
	assert.True(t, b.Allow("sina"))
	assert.Equal(t, StateClosed, b.GetState("sina"))

	b.Record("sina", false)
	assert.Equal(t, StateOpen, b.GetState("sina"))
	assert.False(t, b.Allow("sina"))
}

func TestBreakerIsolatesProviders(t *testing.T) {
	b := New(1, time.Minute)

	b.Record("sina", false)
	assert.False(t, b.Allow("sina"))
	assert.True(t, b.Allow("tencent"))
}

func TestSuccessClosesCircuit(t *testing.T) {
	b := New(2, time.Minute)

	b.Record("coingecko", false)
	b.Record("coingecko", false)
	assert.Equal(t, StateOpen, b.GetState("coingecko"))

	// Recovery resets the failure count entirely.
	b.Record("coingecko", true)
	assert.Equal(t, StateClosed, b.GetState("coingecko"))
	b.Record("coingecko", false)
	assert.Equal(t, StateClosed, b.GetState("coingecko"))
}

func TestHalfOpenProbe(t *testing.T) {
	b := New(1, 10*time.Millisecond)

	b.Record("sina", false)
	assert.False(t, b.Allow("sina"))

	time.Sleep(20 * time.Millisecond)

	// Cooldown elapsed: exactly one probe is allowed.
	assert.True(t, b.Allow("sina"))
	assert.Equal(t, StateHalfOpen, b.GetState("sina"))

	// A failing probe re-opens immediately.
	b.Record("sina", false)
	assert.Equal(t, StateOpen, b.GetState("sina"))
	assert.False(t, b.Allow("sina"))
}

func TestReset(t *testing.T) {
	b := New(1, time.Hour)
	b.Record("sina", false)
	assert.False(t, b.Allow("sina"))

	b.Reset()
	assert.True(t, b.Allow("sina"))
}

func TestDefaults(t *testing.T) {
	b := New(0, 0)
	b.Record("x", false)
	b.Record("x", false)
	assert.Equal(t, StateClosed, b.GetState("x"))
	b.Record("x", false)
	assert.Equal(t, StateOpen, b.GetState("x"))
}

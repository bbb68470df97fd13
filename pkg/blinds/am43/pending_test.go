package am43

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mlsorensen/goam43"
)

func TestPendingResolvesOldestFirst(t *testing.T) {
	p := newPendingRequests()
	first := p.enqueue(goam43.EventPosition)
	second := p.enqueue(goam43.EventPosition)
	battery := p.enqueue(goam43.EventBattery)

	assert.True(t, p.resolve(goam43.Event{Kind: goam43.EventPosition, Value: 10}))
	assert.True(t, p.resolve(goam43.Event{Kind: goam43.EventPosition, Value: 20}))
	assert.False(t, p.resolve(goam43.Event{Kind: goam43.EventPosition, Value: 30}))

	assert.Equal(t, 10, (<-first.ch).Value)
	assert.Equal(t, 20, (<-second.ch).Value)
	assert.Equal(t, 1, p.waiting(goam43.EventBattery))
	assert.Empty(t, battery.ch)
}

func TestPendingResolvesExactlyOnce(t *testing.T) {
	p := newPendingRequests()
	w := p.enqueue(goam43.EventAuth)

	assert.True(t, p.resolve(goam43.Event{Kind: goam43.EventAuth, OK: true}))
	assert.False(t, p.cancel(w))
	assert.False(t, p.resolve(goam43.Event{Kind: goam43.EventAuth}))

	assert.True(t, (<-w.ch).OK)
	assert.Empty(t, w.ch)
}

func TestPendingCancelledIsNeverResolved(t *testing.T) {
	p := newPendingRequests()
	stale := p.enqueue(goam43.EventBattery)
	fresh := p.enqueue(goam43.EventBattery)

	assert.True(t, p.cancel(stale))
	assert.False(t, p.cancel(stale))
	assert.True(t, p.resolve(goam43.Event{Kind: goam43.EventBattery, Value: 80}))

	assert.Empty(t, stale.ch)
	assert.Equal(t, 80, (<-fresh.ch).Value)
	assert.Equal(t, 0, p.waiting(goam43.EventBattery))
}

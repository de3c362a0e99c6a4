package computer

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcasterDeliversInOrderAndSurvivesPanics(t *testing.T) {
	b := newBroadcaster(slog.Default())
	var got []UpdateEvent
	b.subscribe(func(UpdateEvent) { panic("listener bug") })
	cancel := b.subscribe(func(ev UpdateEvent) { got = append(got, ev) })

	b.emit(UpdateEvent{Kind: EventTools, Server: "a"})
	b.emit(UpdateEvent{Kind: EventDesktop, Server: "b"})
	b.emit(UpdateEvent{Kind: EventConfig, Server: "c"})
	b.close()

	assert.Equal(t, []UpdateEvent{
		{Kind: EventTools, Server: "a"},
		{Kind: EventDesktop, Server: "b"},
		{Kind: EventConfig, Server: "c"},
	}, got)

	cancel()
	b.emit(UpdateEvent{Kind: EventTools})
	assert.Len(t, got, 3)
}

func TestForbiddenPatterns(t *testing.T) {
	patterns := []string{"delete_*", "{rm,mv}", "[invalid"}
	assert.True(t, forbidden(patterns, "delete_user"))
	assert.True(t, forbidden(patterns, "rm"))
	assert.True(t, forbidden(patterns, "[invalid"))
	assert.False(t, forbidden(patterns, "list_users"))
	assert.False(t, forbidden(nil, "anything"))
}

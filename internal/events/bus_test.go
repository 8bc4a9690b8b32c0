package events_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongorunner/internal/events"
)

func TestBus_PublishDeliversInSubscriptionOrder(t *testing.T) {
	bus := events.NewBus()
	var got []string

	bus.Subscribe(events.Connect, func(_ context.Context, p any) { got = append(got, "a:"+p.(string)) })
	bus.Subscribe(events.Connect, func(_ context.Context, p any) { got = append(got, "b:"+p.(string)) })
	bus.Subscribe(events.Disconnect, func(_ context.Context, p any) { got = append(got, "other") })

	bus.Publish(context.Background(), events.Connect, "c1")

	assert.Equal(t, []string{"a:c1", "b:c1"}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := events.NewBus()
	calls := 0
	unsub := bus.Subscribe(events.TreeChanged, func(context.Context, any) { calls++ })

	bus.Publish(context.Background(), events.TreeChanged, nil)
	unsub()
	unsub() // second call is a no-op
	bus.Publish(context.Background(), events.TreeChanged, nil)

	assert.Equal(t, 1, calls)
}

func TestBus_HandlerMaySubscribeDuringPublish(t *testing.T) {
	bus := events.NewBus()
	late := 0
	bus.Subscribe(events.Refresh, func(context.Context, any) {
		bus.Subscribe(events.Refresh, func(context.Context, any) { late++ })
	})

	bus.Publish(context.Background(), events.Refresh, nil)
	assert.Equal(t, 0, late, "subscriber added mid-publish must not see the current payload")

	bus.Publish(context.Background(), events.Refresh, nil)
	assert.Equal(t, 1, late)
}

func TestBus_EmitMapsToTopic(t *testing.T) {
	bus := events.NewBus()
	var payload any
	bus.Subscribe(events.OutputRendered, func(_ context.Context, p any) { payload = p })

	bus.Emit(context.Background(), string(events.OutputRendered), events.OutputEvent{BufferID: "b1"})

	require.IsType(t, events.OutputEvent{}, payload)
	assert.Equal(t, "b1", payload.(events.OutputEvent).BufferID)
}

func TestMockEmitter_RecordsEvents(t *testing.T) {
	m := &events.MockEmitter{}
	ctx := context.Background()

	m.Emit(ctx, "test:event", map[string]string{"foo": "bar"})
	m.Emit(ctx, "test:event2", nil)

	require.Len(t, m.Events, 2)
	assert.Equal(t, "test:event", m.Events[0].Event)
	assert.Equal(t, "test:event2", m.Events[len(m.Events)-1].Event)
}

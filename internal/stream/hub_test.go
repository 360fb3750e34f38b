package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appkernel/internal/generation"
)

// addTestClient builds a room member without a real socket. Only the send
// channel matters for hub behavior.
func addTestClient(h *Hub, projectID string, buffer int) *Client {
	c := &Client{hub: h, ProjectID: projectID, send: make(chan []byte, buffer)}
	h.addClient(c)
	return c
}

func recvEvent(t *testing.T, c *Client) generation.Event {
	t.Helper()
	select {
	case data := <-c.send:
		var ev generation.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return generation.Event{}
	}
}

func TestDispatch_RoomAndFirehose(t *testing.T) {
	h := NewHub(generation.NewBroadcaster())

	inRoom := addTestClient(h, "p1", 4)
	otherRoom := addTestClient(h, "p2", 4)
	firehose := addTestClient(h, "", 4)

	h.dispatch(generation.Event{Type: generation.EventStarted, ProjectID: "p1"})

	ev := recvEvent(t, inRoom)
	assert.Equal(t, generation.EventStarted, ev.Type)
	assert.Equal(t, "p1", ev.ProjectID)

	recvEvent(t, firehose)
	assert.Empty(t, otherRoom.send)
}

func TestDispatch_EmptyProjectHitsFirehoseOnce(t *testing.T) {
	h := NewHub(generation.NewBroadcaster())
	firehose := addTestClient(h, "", 4)

	h.dispatch(generation.Event{Type: generation.EventProgress})

	recvEvent(t, firehose)
	assert.Empty(t, firehose.send)
}

func TestDispatch_DropsSlowClient(t *testing.T) {
	h := NewHub(generation.NewBroadcaster())
	slow := addTestClient(h, "p1", 1)
	healthy := addTestClient(h, "p1", 4)

	h.dispatch(generation.Event{Type: generation.EventStarted, ProjectID: "p1"})
	h.dispatch(generation.Event{Type: generation.EventProgress, ProjectID: "p1"})

	// Second dispatch overflowed the slow client's buffer: it is gone.
	assert.Equal(t, 1, len(slow.send))
	_, stillOpen := h.rooms["p1"][slow]
	assert.False(t, stillOpen)

	assert.Equal(t, 2, len(healthy.send))
	assert.Equal(t, 2, h.ClientCount())
}

func TestRemoveClient_Idempotent(t *testing.T) {
	h := NewHub(generation.NewBroadcaster())
	c := addTestClient(h, "p1", 1)
	require.Equal(t, 1, h.ClientCount())

	h.removeClient(c)
	assert.Equal(t, 0, h.ClientCount())

	// A second removal (for example unregister racing a slow-client drop)
	// must not close the channel twice.
	h.removeClient(c)
}

func TestRun_RegisterAndBusDelivery(t *testing.T) {
	bus := generation.NewBroadcaster()
	h := NewHub(bus)
	go h.Run()
	defer h.Shutdown()

	c := &Client{hub: h, ProjectID: "p1", send: make(chan []byte, 4)}
	h.register <- c

	// The hub goroutine owns the rooms map; give the register a moment.
	require.Eventually(t, func() bool { return h.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	bus.Publish(generation.Event{Type: generation.EventFinished, ProjectID: "p1"})
	ev := recvEvent(t, c)
	assert.Equal(t, generation.EventFinished, ev.Type)
}

package websocket

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missing-persons-service/models"
)

func waitForConnections(t *testing.T, h *Hub, identity string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.IdentityConnections(identity) == want
	}, time.Second, 5*time.Millisecond)
}

func testMessage(subject string) models.PushMessage {
	return models.PushMessage{
		SubjectID: subject,
		EventType: models.EventPoliceActionUpdate,
		Message:   "test",
		Timestamp: time.Now(),
	}
}

func TestHubPublishReachesEveryConnectionOfIdentity(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	// Same identity connected twice (two tabs), plus a bystander.
	tabOne := NewClient(h, nil, "family-1")
	tabTwo := NewClient(h, nil, "family-1")
	other := NewClient(h, nil, "officer-1")

	h.Register <- tabOne
	h.Register <- tabTwo
	h.Register <- other
	waitForConnections(t, h, "family-1", 2)
	waitForConnections(t, h, "officer-1", 1)

	h.Publish("family-1", testMessage("report-1"))

	for _, tab := range []*Client{tabOne, tabTwo} {
		select {
		case msg := <-tab.send:
			assert.Equal(t, "report-1", msg.SubjectID)
		default:
			t.Fatal("every connection of the identity must receive the push")
		}
	}

	select {
	case <-other.send:
		t.Fatal("other identities must not receive the push")
	default:
	}
}

func TestHubPublishWithoutConnectionsIsSilentlyDropped(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	// Nobody is connected; the push vanishes and the ledger remains the
	// source of truth.
	h.Publish("family-1", testMessage("report-1"))
	assert.Zero(t, h.PushedMessages())
}

func TestHubUnregisterClosesSendChannel(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	client := NewClient(h, nil, "family-1")
	h.Register <- client
	waitForConnections(t, h, "family-1", 1)

	h.Unregister <- client
	waitForConnections(t, h, "family-1", 0)

	_, open := <-client.send
	assert.False(t, open, "send channel must be closed on unregister")
	assert.Zero(t, h.ConnectedClients())
}

func TestHubDoubleUnregisterIsSafe(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	client := NewClient(h, nil, "family-1")
	h.Register <- client
	waitForConnections(t, h, "family-1", 1)

	h.Unregister <- client
	h.Unregister <- client
	waitForConnections(t, h, "family-1", 0)
	assert.Zero(t, h.ConnectedClients())
}

func TestHubDropsSlowConsumer(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	slow := NewClient(h, nil, "family-1")
	h.Register <- slow
	waitForConnections(t, h, "family-1", 1)

	// Fill the send buffer without draining, then push once more.
	for i := 0; i < cap(slow.send); i++ {
		slow.send <- testMessage("report-1")
	}
	h.Publish("family-1", testMessage("report-1"))

	assert.Zero(t, h.IdentityConnections("family-1"), "a consumer that cannot keep up is dropped")
}

func TestHubConcurrentPublishAndDisconnect(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	// Full send buffers force every publish down the slow-consumer drop
	// path while disconnects close the same channels concurrently.
	var clients []*Client
	for i := 0; i < 8; i++ {
		client := NewClient(h, nil, "family-1")
		h.Register <- client
		for j := 0; j < cap(client.send); j++ {
			client.send <- testMessage("report-1")
		}
		clients = append(clients, client)
	}
	waitForConnections(t, h, "family-1", len(clients))

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h.Publish("family-1", testMessage("report-1"))
			}
		}()
	}
	for _, client := range clients {
		h.Unregister <- client
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return h.IdentityConnections("family-1") == 0
	}, time.Second, 5*time.Millisecond)
}

func TestHubStopClosesEverything(t *testing.T) {
	h := NewHub()
	go h.Run()

	clientA := NewClient(h, nil, "family-1")
	clientB := NewClient(h, nil, "officer-1")
	h.Register <- clientA
	h.Register <- clientB
	waitForConnections(t, h, "family-1", 1)
	waitForConnections(t, h, "officer-1", 1)

	h.Stop()

	require.Eventually(t, func() bool {
		return h.ConnectedClients() == 0
	}, time.Second, 5*time.Millisecond)

	_, open := <-clientA.send
	assert.False(t, open)
	_, open = <-clientB.send
	assert.False(t, open)
}

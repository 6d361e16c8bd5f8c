package websocket

import (
	"context"
	"encoding/json"

	"github.com/apex/log"
	"github.com/redis/go-redis/v9"

	"missing-persons-service/models"
)

const pushChannel = "notifications:push"

type pushEnvelope struct {
	Identity string             `json:"identity"`
	Message  models.PushMessage `json:"message"`
}

// Bridge routes pushes through Redis pub/sub so connections held by other
// instances of the service are reached too. Every instance subscribes,
// including the publisher, so each delivers to its own local hub exactly
// once. Like the hub itself this is fire-and-forget: a lost publish costs
// latency, not correctness, because the ledger already holds the event.
type Bridge struct {
	rdb    *redis.Client
	hub    *Hub
	pubsub *redis.PubSub
}

func NewBridge(rdb *redis.Client, hub *Hub) *Bridge {
	return &Bridge{rdb: rdb, hub: hub}
}

// Start subscribes to the push channel and forwards incoming envelopes to
// the local hub.
func (b *Bridge) Start() {
	b.pubsub = b.rdb.Subscribe(context.Background(), pushChannel)

	go func() {
		for msg := range b.pubsub.Channel() {
			var envelope pushEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				log.Errorf("Failed to unmarshal push envelope: %v", err)
				continue
			}
			b.hub.Publish(envelope.Identity, envelope.Message)
		}
	}()

	log.Info("Redis push bridge started")
}

// Stop closes the subscription, ending the forwarding goroutine.
func (b *Bridge) Stop() {
	if b.pubsub != nil {
		b.pubsub.Close()
	}
}

// Publish sends the push through Redis; the subscriber side delivers it to
// local connections. Failures are logged and ignored.
func (b *Bridge) Publish(identity string, msg models.PushMessage) {
	payload, err := json.Marshal(pushEnvelope{Identity: identity, Message: msg})
	if err != nil {
		log.Errorf("Failed to marshal push envelope for identity %s: %v", identity, err)
		return
	}
	if err := b.rdb.Publish(context.Background(), pushChannel, string(payload)).Err(); err != nil {
		log.Warnf("Failed to publish push for identity %s over redis: %v", identity, err)
	}
}

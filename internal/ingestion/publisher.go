package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"MarketSync/internal/event"

	"github.com/nats-io/nats.go/jetstream"
)

// UpdatePublisher publishes a notice after each event is projected so
// downstream consumers (websocket fanout, cache invalidation) can react
// without polling. Subjects follow the pattern:
// sync.updated.{event_type}.{chain_market_id}
type UpdatePublisher struct {
	js jetstream.JetStream
}

// UpdateNotice is the outbound payload. It carries identifiers only;
// consumers fetch current state from the query API.
type UpdateNotice struct {
	EventType     string    `json:"event_type"`
	ChainEventID  string    `json:"chain_event_id"`
	ChainMarketID *int64    `json:"chain_market_id,omitempty"`
	BlockNumber   int64     `json:"block_number"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewUpdatePublisher(js jetstream.JetStream) *UpdatePublisher {
	return &UpdatePublisher{js: js}
}

// NotifyProjected publishes a notice for a projected event. Fire and
// forget: a failed publish is logged, never retried, and never blocks
// projection.
func (up *UpdatePublisher) NotifyProjected(evt event.Event) {
	notice := UpdateNotice{
		EventType:    evt.EventType().String(),
		ChainEventID: evt.ChainEventID(),
		BlockNumber:  evt.BlockNumber(),
		Timestamp:    time.Now().UTC(),
	}

	subject := fmt.Sprintf("sync.updated.%s", notice.EventType)
	if id, ok := chainMarketID(evt); ok {
		notice.ChainMarketID = &id
		subject = fmt.Sprintf("%s.%d", subject, id)
	}

	data, err := json.Marshal(notice)
	if err != nil {
		log.Printf("WARN: marshal update notice: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := up.js.Publish(ctx, subject, data); err != nil {
		log.Printf("WARN: update publish failed %s: %v", subject, err)
	}
}

func chainMarketID(evt event.Event) (int64, bool) {
	switch e := evt.(type) {
	case *event.MarketCreated:
		return e.ChainMarketID, true
	case *event.BetPlaced:
		return e.ChainMarketID, true
	case *event.MarketResolved:
		return e.ChainMarketID, true
	case *event.WinningsClaimed:
		if e.ChainMarketID != nil {
			return *e.ChainMarketID, true
		}
	}
	return 0, false
}

// EnsureUpdateStream creates the outbound notices stream.
func EnsureUpdateStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "SYNC_UPDATES",
		Subjects:  []string{"sync.updated.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create update stream: %w", err)
	}
	log.Println("INFO: ensured update stream SYNC_UPDATES")
	return nil
}

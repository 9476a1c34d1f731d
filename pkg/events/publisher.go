// Package events publishes CRM notifications (merges, blocked duplicates) to
// Redis pub/sub. Events are fire-and-forget notifications, not an audit trail.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/penf-crm/pkg/logging"
)

// Redis channels
const (
	ChannelContactMerged    = "events.contact.merged"
	ChannelDealMerged       = "events.deal.merged"
	ChannelDuplicateBlocked = "events.duplicate.blocked"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Source        string    `json:"source"`
	Version       string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent with sensible defaults.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    "penf-crm",
		Version:   "1.0",
	}
}

// MergeEvent is published after a source record was absorbed into a target.
type MergeEvent struct {
	BaseEvent

	Entity            string `json:"entity"`
	SourceID          string `json:"source_id"`
	TargetID          string `json:"target_id"`
	MovedInteractions int64  `json:"moved_interactions"`
	SourceDeleted     bool   `json:"source_deleted"`
}

// DuplicateBlockedEvent is published when a guarded create was rejected.
type DuplicateBlockedEvent struct {
	BaseEvent

	Entity        string  `json:"entity"`
	CandidateName string  `json:"candidate_name"`
	MatchID       string  `json:"match_id"`
	MatchName     string  `json:"match_name"`
	Similarity    float64 `json:"similarity"`
	Reason        string  `json:"reason"`
	RaceDetected  bool    `json:"race_detected"`
}

// MergedParams contains parameters for publishing a merge event.
type MergedParams struct {
	Entity            string
	SourceID          string
	TargetID          string
	MovedInteractions int64
	SourceDeleted     bool
	CorrelationID     string
}

// DuplicateBlockedParams contains parameters for publishing a blocked create.
type DuplicateBlockedParams struct {
	Entity        string
	CandidateName string
	MatchID       string
	MatchName     string
	Similarity    float64
	Reason        string
	RaceDetected  bool
}

// Publisher publishes CRM events to Redis. A nil *Publisher is valid and
// drops every event.
type Publisher struct {
	client *redis.Client
	logger logging.Logger
}

// PublisherConfig holds Redis connection configuration.
type PublisherConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewPublisher creates a new event publisher.
func NewPublisher(client *redis.Client, logger logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.MustGlobal()
	}
	return &Publisher{
		client: client,
		logger: logger.With(logging.F("component", "event_publisher")),
	}
}

// NewPublisherFromConfig creates a publisher with a new Redis connection.
func NewPublisherFromConfig(ctx context.Context, cfg PublisherConfig, logger logging.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewPublisher(client, logger), nil
}

// PublishMerged publishes a merge notification on the entity's channel.
func (p *Publisher) PublishMerged(ctx context.Context, params MergedParams) error {
	if p == nil {
		return nil
	}

	event := MergeEvent{
		BaseEvent:         NewBaseEvent(params.Entity + ".merged"),
		Entity:            params.Entity,
		SourceID:          params.SourceID,
		TargetID:          params.TargetID,
		MovedInteractions: params.MovedInteractions,
		SourceDeleted:     params.SourceDeleted,
	}
	if params.CorrelationID != "" {
		event.CorrelationID = &params.CorrelationID
	}

	return p.publish(ctx, MergeChannel(params.Entity), event)
}

// PublishDuplicateBlocked publishes a blocked-create notification.
func (p *Publisher) PublishDuplicateBlocked(ctx context.Context, params DuplicateBlockedParams) error {
	if p == nil {
		return nil
	}

	event := DuplicateBlockedEvent{
		BaseEvent:     NewBaseEvent("duplicate.blocked"),
		Entity:        params.Entity,
		CandidateName: params.CandidateName,
		MatchID:       params.MatchID,
		MatchName:     params.MatchName,
		Similarity:    params.Similarity,
		Reason:        params.Reason,
		RaceDetected:  params.RaceDetected,
	}

	return p.publish(ctx, ChannelDuplicateBlocked, event)
}

// MergeChannel returns the merge channel for entity ("contact" or "deal").
func MergeChannel(entity string) string {
	if entity == "deal" {
		return ChannelDealMerged
	}
	return ChannelContactMerged
}

// publish serializes and publishes an event to Redis.
func (p *Publisher) publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event",
			logging.Err(err),
			logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.logger.Debug("Event published",
		logging.F("channel", channel),
		logging.F("payload_size", len(data)))

	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}

package messaging

import (
	"time"
)

// Topics published by this module
const (
	TopicEpisodeCompleted = "episode.completed"
	TopicBatchCompleted   = "batch.completed"
)

// Message is an event routed between components
type Message struct {
	Topic     string
	From      string   // ID of the publishing component
	To        []string // subscriber IDs, empty means broadcast
	Content   any
	Timestamp time.Time
}

// Broker routes messages to subscribers
type Broker interface {
	// Publish delivers msg without blocking. Subscribers whose channel is
	// full miss the message and are reported in the returned error.
	Publish(msg Message) error
	// Subscribe registers a channel under an ID
	Subscribe(id string, ch chan<- Message) error
	// Unsubscribe removes a subscription
	Unsubscribe(id string) error
}

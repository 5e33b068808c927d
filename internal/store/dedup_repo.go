package store

import (
	"time"
)

// DedupRecord is one inbound phone-channel message, keyed by the provider's message id.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	Sender      string     `json:"sender"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo guards the phone channels against provider redelivery.
type DedupRepo interface {
	// IsDuplicate reports whether the message id was already recorded.
	IsDuplicate(messageID string) (bool, error)

	// RecordInbound records the message id. It returns false when the id was
	// already present, in which case the message must not be handled again.
	RecordInbound(messageID, sender string) (bool, error)

	// MarkProcessed stamps the time the reply for the message was produced.
	MarkProcessed(messageID string) error
}

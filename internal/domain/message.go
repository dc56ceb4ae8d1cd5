package domain

import "time"

// DefaultMaxMessageSize is the payload ceiling applied when the operator
// does not override MAX_MESSAGE_SIZE.
const DefaultMaxMessageSize = 1 << 20 // 1 MiB

// DefaultContentType is applied to a publish request that omits the header.
const DefaultContentType = "application/octet-stream"

// Message is the full persisted message record.
type Message struct {
	ID              string
	Queue           string
	Payload         []byte
	ContentType     string
	ContentEncoding string
	Hash            string
	Receives        int32
	VisibleSince    time.Time
	CreatedAt       time.Time
}

// Expired reports whether the message is past its queue's retention window
// as of now (invariant I7).
func (m Message) Expired(now time.Time, retention time.Duration) bool {
	return !now.Before(m.CreatedAt.Add(retention))
}

// Visible reports whether the message is currently eligible for delivery
// (invariant I6).
func (m Message) Visible(now time.Time) bool {
	return !now.Before(m.VisibleSince)
}

// PublishResult is returned by a successful Publish call.
type PublishResult struct {
	Message    Message
	Deduplicated bool
}

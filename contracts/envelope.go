package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MetadataKey is the reserved body key carrying envelope metadata on the wire.
const MetadataKey = "_metadata"

// MaxPriority is the highest message priority the queues accept.
const MaxPriority = 9

// Metadata is the `_metadata` object merged into every published body.
type Metadata struct {
	MessageID   string    `json:"message_id"`
	Queue       string    `json:"queue"`
	PublishedAt time.Time `json:"published_at"`
}

// Envelope wraps a JSON-object payload with the metadata the messaging layer
// adds at publish time. MessageID is generated once per publish and is the
// idempotency key consumers should use to detect duplicate deliveries.
type Envelope struct {
	MessageID     string
	CorrelationID string
	Queue         string
	PublishedAt   time.Time
	Priority      uint8
	Headers       map[string]interface{}
	Payload       map[string]interface{}
}

// EnvelopeOption configures envelope construction.
type EnvelopeOption func(*Envelope)

// WithCorrelationID overrides the correlation ID (defaults to the message ID).
func WithCorrelationID(id string) EnvelopeOption {
	return func(e *Envelope) {
		e.CorrelationID = id
	}
}

// WithEnvelopePriority sets the message priority. Values above MaxPriority
// are clamped to it.
func WithEnvelopePriority(priority uint8) EnvelopeOption {
	return func(e *Envelope) {
		if priority > MaxPriority {
			priority = MaxPriority
		}
		e.Priority = priority
	}
}

// WithEnvelopeHeaders sets application headers carried in AMQP properties.
func WithEnvelopeHeaders(headers map[string]interface{}) EnvelopeOption {
	return func(e *Envelope) {
		e.Headers = headers
	}
}

// NewEnvelope builds an envelope for the given queue. The payload must
// serialize to a JSON object so metadata can be merged alongside it.
func NewEnvelope(queue string, payload interface{}, options ...EnvelopeOption) (*Envelope, error) {
	fields, err := toObject(payload)
	if err != nil {
		return nil, err
	}

	e := &Envelope{
		MessageID:   uuid.New().String(),
		Queue:       queue,
		PublishedAt: time.Now().UTC(),
		Payload:     fields,
	}

	for _, opt := range options {
		opt(e)
	}

	if e.CorrelationID == "" {
		e.CorrelationID = e.MessageID
	}

	return e, nil
}

// Body returns the wire body: the payload fields merged with `_metadata`.
func (e *Envelope) Body() ([]byte, error) {
	merged := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		merged[k] = v
	}
	merged[MetadataKey] = Metadata{
		MessageID:   e.MessageID,
		Queue:       e.Queue,
		PublishedAt: e.PublishedAt,
	}

	body, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope body: %w", err)
	}
	return body, nil
}

// ParseEnvelope decodes a wire body back into an envelope. Bodies without a
// `_metadata` object are still accepted so foreign producers can share queues;
// the metadata fields are simply left empty.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &DecodeError{Err: err}
	}

	e := &Envelope{Payload: fields}

	raw, ok := fields[MetadataKey]
	if !ok {
		return e, nil
	}
	delete(fields, MetadataKey)

	metaBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("remarshal metadata: %w", err)}
	}
	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("decode metadata: %w", err)}
	}

	e.MessageID = meta.MessageID
	e.Queue = meta.Queue
	e.PublishedAt = meta.PublishedAt
	return e, nil
}

// toObject converts an arbitrary payload into a JSON object map.
func toObject(payload interface{}) (map[string]interface{}, error) {
	if m, ok := payload.(map[string]interface{}); ok {
		return m, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return fields, nil
}

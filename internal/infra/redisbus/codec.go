package redisbus

import (
	"encoding/json"
	"fmt"

	"github.com/lifehub/essence/internal/domain"
)

// EventField is the stream entry field holding the JSON event.
const EventField = "event"

// EncodeEvent builds stream entry values for ev.
func EncodeEvent(ev domain.DomainEvent) (map[string]any, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return map[string]any{EventField: string(raw)}, nil
}

// DecodeEvent parses stream entry values. Malformed entries yield an
// *domain.InvalidEventError so they are acknowledged and not redelivered.
func DecodeEvent(values map[string]any) (domain.DomainEvent, error) {
	var raw []byte
	switch v := values[EventField].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case nil:
		return domain.DomainEvent{}, &domain.InvalidEventError{Field: EventField, Reason: "missing"}
	default:
		return domain.DomainEvent{}, &domain.InvalidEventError{Field: EventField, Reason: fmt.Sprintf("unexpected type %T", v)}
	}

	var ev domain.DomainEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.DomainEvent{}, &domain.InvalidEventError{Field: EventField, Reason: err.Error()}
	}
	return ev, nil
}

// EncodeNotification serializes a notification for pub/sub.
func EncodeNotification(n domain.Notification) ([]byte, error) {
	return json.Marshal(n)
}

// DecodeNotification parses a pub/sub payload.
func DecodeNotification(payload string) (domain.Notification, error) {
	var n domain.Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return domain.Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}

package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who produced a message
type Role string

const (
	RoleAgent Role = "agent"
	RoleUser  Role = "user"
)

// PartKind discriminates the content carried by a Part
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindData PartKind = "data"
)

// Part is one ordered piece of message content. Exactly one of Text or Data
// is meaningful, selected by Kind.
type Part struct {
	Kind PartKind       `json:"type"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// NewTextPart creates a text part
func NewTextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// NewDataPart creates a data part holding a single key
func NewDataPart(key string, value any) Part {
	return Part{Kind: PartKindData, Data: map[string]any{key: value}}
}

// MarshalJSON writes only the field selected by Kind. A text part always
// carries its text, even when empty.
func (p Part) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PartKindText:
		return json.Marshal(struct {
			Kind PartKind `json:"type"`
			Text string   `json:"text"`
		}{p.Kind, p.Text})
	case PartKindData:
		data := p.Data
		if data == nil {
			data = map[string]any{}
		}
		return json.Marshal(struct {
			Kind PartKind       `json:"type"`
			Data map[string]any `json:"data"`
		}{p.Kind, data})
	default:
		return nil, fmt.Errorf("unknown part type %q", p.Kind)
	}
}

// UnmarshalJSON rejects parts whose type tag is not text or data.
func (p *Part) UnmarshalJSON(data []byte) error {
	type rawPart Part
	var raw rawPart
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case PartKindText, PartKindData:
	default:
		return fmt.Errorf("unknown part type %q", raw.Kind)
	}
	*p = Part(raw)
	return nil
}

// Message is the agent-to-agent envelope. ContextID groups every message of
// one transaction; it is empty only on the first message a session sends.
type Message struct {
	MessageID string    `json:"message_id"`
	ContextID string    `json:"context_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Timestamp time.Time `json:"timestamp"`
}

// GetID returns the message ID
func (m *Message) GetID() string {
	return m.MessageID
}

// GetContextID returns the session correlation ID
func (m *Message) GetContextID() string {
	return m.ContextID
}

package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/glimte/mandate-go/contracts"
	"github.com/google/uuid"
)

// EnvelopeBuilder assembles a message part by part. Parts keep the order in
// which they were added.
type EnvelopeBuilder struct {
	msg contracts.Message
}

// NewEnvelope starts a message for the given role
func NewEnvelope(role contracts.Role) *EnvelopeBuilder {
	return &EnvelopeBuilder{msg: contracts.Message{Role: role}}
}

// NewReply starts an agent reply that echoes the request's context and task
func NewReply(request *contracts.Message) *EnvelopeBuilder {
	b := NewEnvelope(contracts.RoleAgent)
	if request != nil {
		b.msg.ContextID = request.ContextID
		b.msg.TaskID = request.TaskID
	}
	return b
}

// WithText appends a text part
func (b *EnvelopeBuilder) WithText(text string) *EnvelopeBuilder {
	b.msg.Parts = append(b.msg.Parts, contracts.NewTextPart(text))
	return b
}

// WithData appends a data part holding key
func (b *EnvelopeBuilder) WithData(key string, value any) *EnvelopeBuilder {
	b.msg.Parts = append(b.msg.Parts, contracts.NewDataPart(key, value))
	return b
}

// WithContext sets the session correlation id
func (b *EnvelopeBuilder) WithContext(contextID string) *EnvelopeBuilder {
	b.msg.ContextID = contextID
	return b
}

// WithTask sets the task id
func (b *EnvelopeBuilder) WithTask(taskID string) *EnvelopeBuilder {
	b.msg.TaskID = taskID
	return b
}

// WithMessageID sets a custom message id instead of a generated one
func (b *EnvelopeBuilder) WithMessageID(id string) *EnvelopeBuilder {
	b.msg.MessageID = id
	return b
}

// WithTimestamp sets a custom timestamp
func (b *EnvelopeBuilder) WithTimestamp(ts time.Time) *EnvelopeBuilder {
	b.msg.Timestamp = ts.UTC()
	return b
}

// Build returns the message, generating its id and timestamp when unset.
// The builder can be reused; each Build returns an independent copy.
func (b *EnvelopeBuilder) Build() *contracts.Message {
	msg := b.msg
	msg.Parts = append([]contracts.Part(nil), b.msg.Parts...)
	if msg.MessageID == "" {
		msg.MessageID = NewMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return &msg
}

// NewMessageID generates a message id
func NewMessageID() string {
	return "msg-" + uuid.New().String()
}

// ErrorReply builds the reply an agent sends when handling failed
func ErrorReply(request *contracts.Message, err error) *contracts.Message {
	info := contracts.NewErrorInfo(err)
	return NewReply(request).
		WithText(info.Message).
		WithData(contracts.KeyError, info).
		Build()
}

// JSONSerializer provides JSON serialization for envelopes
type JSONSerializer struct{}

// NewJSONSerializer creates a new JSON envelope serializer
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// Serialize serializes an envelope to JSON
func (s *JSONSerializer) Serialize(msg *contracts.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	return data, nil
}

// Deserialize deserializes JSON data to an envelope
func (s *JSONSerializer) Deserialize(data []byte) (*contracts.Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}

	var msg contracts.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

package messaging

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/glimte/mandate-go/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeBuilder(t *testing.T) {
	t.Run("Build generates id and timestamp", func(t *testing.T) {
		msg := NewEnvelope(contracts.RoleUser).WithText("hi").Build()

		assert.True(t, strings.HasPrefix(msg.MessageID, "msg-"))
		assert.False(t, msg.Timestamp.IsZero())
		assert.Equal(t, contracts.RoleUser, msg.Role)
		assert.Empty(t, msg.ContextID)
	})

	t.Run("parts keep insertion order", func(t *testing.T) {
		msg := NewEnvelope(contracts.RoleAgent).
			WithText("first").
			WithData("k", 1).
			WithText("second").
			Build()

		require.Len(t, msg.Parts, 3)
		assert.Equal(t, contracts.PartKindText, msg.Parts[0].Kind)
		assert.Equal(t, contracts.PartKindData, msg.Parts[1].Kind)
		assert.Equal(t, "second", msg.Parts[2].Text)
	})

	t.Run("context and task are set", func(t *testing.T) {
		msg := NewEnvelope(contracts.RoleAgent).WithContext("ctx-1").WithTask("task-1").Build()
		assert.Equal(t, "ctx-1", msg.ContextID)
		assert.Equal(t, "task-1", msg.TaskID)
	})

	t.Run("ids are unique per build", func(t *testing.T) {
		b := NewEnvelope(contracts.RoleAgent).WithText("x")
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			id := b.Build().MessageID
			assert.False(t, seen[id])
			seen[id] = true
		}
	})

	t.Run("built messages do not share parts", func(t *testing.T) {
		b := NewEnvelope(contracts.RoleAgent).WithText("a")
		first := b.Build()
		b.WithText("b")
		second := b.Build()

		assert.Len(t, first.Parts, 1)
		assert.Len(t, second.Parts, 2)
	})

	t.Run("custom id and timestamp are kept", func(t *testing.T) {
		ts := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		msg := NewEnvelope(contracts.RoleAgent).WithMessageID("fixed").WithTimestamp(ts).Build()
		assert.Equal(t, "fixed", msg.MessageID)
		assert.Equal(t, ts, msg.Timestamp)
	})
}

func TestNewReply(t *testing.T) {
	request := NewEnvelope(contracts.RoleUser).WithContext("ctx-9").WithTask("task-9").Build()
	reply := NewReply(request).WithText("ok").Build()

	assert.Equal(t, contracts.RoleAgent, reply.Role)
	assert.Equal(t, "ctx-9", reply.ContextID)
	assert.Equal(t, "task-9", reply.TaskID)
	assert.NotEqual(t, request.MessageID, reply.MessageID)
}

func TestErrorReply(t *testing.T) {
	request := NewEnvelope(contracts.RoleUser).WithContext("ctx-1").Build()
	reply := ErrorReply(request, contracts.Validation("merchant", "missing intent"))

	assert.Equal(t, "ctx-1", reply.ContextID)
	err := ReplyError(reply)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrValidation))
}

func TestJSONSerializer(t *testing.T) {
	s := NewJSONSerializer()

	t.Run("round trip keeps parts", func(t *testing.T) {
		msg := NewEnvelope(contracts.RoleAgent).
			WithText("summary").
			WithData("items", []string{"a", "b"}).
			WithContext("ctx").
			Build()

		data, err := s.Serialize(msg)
		require.NoError(t, err)

		decoded, err := s.Deserialize(data)
		require.NoError(t, err)
		assert.Equal(t, msg.MessageID, decoded.MessageID)
		assert.Equal(t, "summary", AllText(decoded))
		v, ok := FindData(decoded, "items")
		require.True(t, ok)
		assert.Equal(t, []any{"a", "b"}, v)
	})

	t.Run("nil and empty input fail", func(t *testing.T) {
		_, err := s.Serialize(nil)
		assert.Error(t, err)
		_, err = s.Deserialize(nil)
		assert.Error(t, err)
		_, err = s.Deserialize([]byte("{"))
		assert.Error(t, err)
	})
}

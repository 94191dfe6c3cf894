package shopping

import (
	"context"
	"fmt"
)

// Conversation produces the shopping agent's conversational reply. It is an
// external capability; the orchestrator only needs the reply text.
type Conversation interface {
	Reply(ctx context.Context, history []Turn) (string, error)
}

// ConversationFunc adapts a function to Conversation
type ConversationFunc func(ctx context.Context, history []Turn) (string, error)

// Reply implements Conversation
func (f ConversationFunc) Reply(ctx context.Context, history []Turn) (string, error) {
	return f(ctx, history)
}

// ScriptedConversation acknowledges the latest user turn
type ScriptedConversation struct{}

// Reply implements Conversation
func (ScriptedConversation) Reply(_ context.Context, history []Turn) (string, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Type == TurnUser {
			return fmt.Sprintf("Looking for packages matching %q.", history[i].Text), nil
		}
	}
	return "What are you looking for?", nil
}

package shopping

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/schema"
	"github.com/glimte/mandate-go/settlement"
)

// State is a step of the shopping transaction
type State string

const (
	StateIdle                  State = "idle"
	StateIntentGathering       State = "intent_gathering"
	StateCartsOffered          State = "carts_offered"
	StatePaymentMethodsOffered State = "payment_methods_offered"
	StatePaymentMandateSigned  State = "payment_mandate_signed"
	StatePaymentSettled        State = "payment_settled"
	StatePaymentFailed         State = "payment_failed"
	StateAborted               State = "aborted"
)

// Terminal reports whether no further operation is accepted
func (s State) Terminal() bool {
	return s == StatePaymentSettled || s == StateAborted
}

// TurnType tags who spoke in a conversation turn
type TurnType string

const (
	TurnUser  TurnType = "user"
	TurnAgent TurnType = "agent"
)

// Turn is one entry of the conversation history
type Turn struct {
	Type TurnType  `json:"type"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Session is the externalized transaction state. The orchestrator keeps no
// copy; every operation takes a session and returns the next one.
type Session struct {
	Version          string                    `json:"version"`
	ContextID        string                    `json:"context_id,omitempty"`
	State            State                     `json:"state"`
	History          []Turn                    `json:"history"`
	Intent           *contracts.IntentMandate  `json:"intent,omitempty"`
	Carts            []contracts.CartMandate   `json:"carts"`
	SelectedCartID   string                    `json:"selected_cart_id,omitempty"`
	PaymentMethods   []contracts.PaymentMethod `json:"payment_methods"`
	SelectedMethodID string                    `json:"selected_method_id,omitempty"`
	PaymentMandate   *contracts.PaymentMandate `json:"payment_mandate,omitempty"`
	Attempts         int                       `json:"attempts"`
	Receipt          *settlement.Receipt       `json:"receipt,omitempty"`
}

// NewSession returns an idle session with no context id
func NewSession() Session {
	return Session{
		Version: schema.SessionVersion,
		State:   StateIdle,
		History: []Turn{},
	}
}

// UserText joins every user turn in order
func (s Session) UserText() string {
	parts := make([]string, 0, len(s.History))
	for _, t := range s.History {
		if t.Type == TurnUser {
			parts = append(parts, strings.TrimSpace(t.Text))
		}
	}
	return strings.Join(parts, " ")
}

// Cart returns the offered cart with id
func (s Session) Cart(id string) (contracts.CartMandate, bool) {
	for _, c := range s.Carts {
		if c.ID() == id {
			return c, true
		}
	}
	return contracts.CartMandate{}, false
}

// SelectedCart returns the cart the user picked
func (s Session) SelectedCart() (contracts.CartMandate, bool) {
	if s.SelectedCartID == "" {
		return contracts.CartMandate{}, false
	}
	return s.Cart(s.SelectedCartID)
}

// Method returns the offered payment method with id
func (s Session) Method(id string) (contracts.PaymentMethod, bool) {
	for _, m := range s.PaymentMethods {
		if m.ID == id {
			return m, true
		}
	}
	return contracts.PaymentMethod{}, false
}

// LastReply returns the text of the latest agent turn
func (s Session) LastReply() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Type == TurnAgent {
			return s.History[i].Text
		}
	}
	return ""
}

func (s Session) clone() Session {
	out := s
	out.History = append([]Turn{}, s.History...)
	out.Carts = append([]contracts.CartMandate(nil), s.Carts...)
	out.PaymentMethods = append([]contracts.PaymentMethod(nil), s.PaymentMethods...)
	if s.Intent != nil {
		intent := *s.Intent
		out.Intent = &intent
	}
	if s.PaymentMandate != nil {
		pm := *s.PaymentMandate
		out.PaymentMandate = &pm
	}
	if s.Receipt != nil {
		r := *s.Receipt
		out.Receipt = &r
	}
	return out
}

func (s *Session) say(turn TurnType, text string, at time.Time) {
	s.History = append(s.History, Turn{Type: turn, Text: text, At: at.UTC()})
}

// MarshalSession encodes a session for the caller to hold between calls
func MarshalSession(s Session) ([]byte, error) {
	if s.Version == "" {
		s.Version = schema.SessionVersion
	}
	if s.History == nil {
		s.History = []Turn{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return data, nil
}

// UnmarshalSession decodes and validates a session payload. Unknown turn
// tags, states or unsupported versions are validation errors.
func UnmarshalSession(data []byte) (Session, error) {
	if err := schema.CheckSession(data); err != nil {
		return Session{}, err
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, contracts.Validation("decode session", "%v", err)
	}
	if err := schema.CheckVersion(s.Version); err != nil {
		return Session{}, err
	}
	for i, t := range s.History {
		switch t.Type {
		case TurnUser, TurnAgent:
		default:
			return Session{}, contracts.Validation("decode session", "turn %d has unknown type %q", i, t.Type)
		}
	}
	return s, nil
}

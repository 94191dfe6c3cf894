// Package identity decides which calling agents an agent trusts.
package identity

import (
	"context"
	"sync"

	"github.com/glimte/mandate-go/contracts"
)

// Scopes granted to callers
const (
	ScopeCartRequest     = "cart:request"
	ScopePaymentMethods  = "payment:methods"
	ScopePaymentInitiate = "payment:initiate"
)

// DefaultShoppingAgentID is the identity the demo shopping agent presents
const DefaultShoppingAgentID = "trusted_shopping_agent"

// Credential is the identity an agent presents on every call
type Credential struct {
	AgentID string
	Scopes  []string
}

// NewShoppingAgentCredential returns a credential holding every shopping scope
func NewShoppingAgentCredential(agentID string) Credential {
	return Credential{
		AgentID: agentID,
		Scopes:  []string{ScopeCartRequest, ScopePaymentMethods, ScopePaymentInitiate},
	}
}

// HasScope reports whether the credential was granted scope
func (c Credential) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Verifier resolves a caller id to a trusted credential
type Verifier interface {
	VerifyCaller(ctx context.Context, callerID string) (*Credential, error)
}

// AllowList trusts a fixed set of credentials
type AllowList struct {
	mu      sync.RWMutex
	callers map[string]Credential
}

// NewAllowList creates an allow list
func NewAllowList(creds ...Credential) *AllowList {
	a := &AllowList{callers: make(map[string]Credential, len(creds))}
	for _, c := range creds {
		a.callers[c.AgentID] = c
	}
	return a
}

// Trust adds or replaces a credential
func (a *AllowList) Trust(c Credential) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callers[c.AgentID] = c
}

// Revoke removes a credential
func (a *AllowList) Revoke(agentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.callers, agentID)
}

// VerifyCaller implements Verifier
func (a *AllowList) VerifyCaller(ctx context.Context, callerID string) (*Credential, error) {
	if callerID == "" {
		return nil, contracts.Unauthorized("verify caller", "missing caller identity")
	}

	a.mu.RLock()
	cred, ok := a.callers[callerID]
	a.mu.RUnlock()
	if !ok {
		return nil, contracts.Unauthorized("verify caller", "caller %q is not trusted", callerID)
	}
	cred.Scopes = append([]string(nil), cred.Scopes...)
	return &cred, nil
}

// Require verifies the caller and checks it holds scope
func Require(ctx context.Context, v Verifier, callerID, scope string) (*Credential, error) {
	cred, err := v.VerifyCaller(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if !cred.HasScope(scope) {
		return nil, contracts.Unauthorized("verify caller", "caller %q lacks scope %s", cred.AgentID, scope)
	}
	return cred, nil
}

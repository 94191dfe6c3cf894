// Package contracts provides the wire types shared by every agent in the mandate network.
//
// This package defines:
//   - Message: the agent-to-agent envelope (ordered text/data parts, context id)
//   - IntentMandate, CartMandate, PaymentMandate: the signed mandate chain
//   - PaymentRequest and PaymentMethod: the payment data model
//   - MandateError: the error taxonomy shared across agent boundaries
//
// All types serialize to the JSON wire shape exchanged between agents, so a
// value decoded from an envelope digests identically to the value that was signed.
package contracts

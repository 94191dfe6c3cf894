// Package messaging provides the envelope plumbing agents use to talk to each other.
//
// This package implements:
//   - EnvelopeBuilder: fluent construction of agent messages (text and data parts)
//   - Reader helpers: FindData, AllText, DecodeData, ReplyError
//   - Handler and Transport: the contract every binding (in-process, HTTP, AMQP) fulfils
//   - Peer: request/reply client that tracks outstanding requests per context id
//
// Example usage:
//
//	msg := messaging.NewEnvelope(contracts.RoleUser).
//		WithText("find me a beach holiday").
//		WithData(contracts.KeyIntentMandate, intent).
//		WithContext(contextID).
//		Build()
//
//	reply, err := peer.Request(ctx, "merchant", msg)
//
// The builder performs no validation of payload shape; it is a structural
// container. Lookup of a data key returns the first part that holds it.
package messaging

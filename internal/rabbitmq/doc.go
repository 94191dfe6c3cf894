// Package rabbitmq manages the broker connection behind the RabbitMQ agent
// transport: dialing with exponential backoff, reconnecting when the broker
// drops the connection and notifying listeners of state changes.
package rabbitmq

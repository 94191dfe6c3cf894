package rabbitmq

import (
	"fmt"
	"strconv"
	"time"

	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// ReplyQueue is the broker's direct reply-to pseudo queue
	ReplyQueue = "amq.rabbitmq.reply-to"

	// QueuePrefix prefixes every agent's request queue
	QueuePrefix = "agents."

	typeMessage = "a2a.message"
	typeError   = "a2a.error"
)

// QueueName returns the request queue an agent consumes from
func QueueName(agent string) string {
	return QueuePrefix + agent
}

func encodeRequest(s *messaging.JSONSerializer, msg *contracts.Message, deadline time.Time) (amqp.Publishing, error) {
	body, err := s.Serialize(msg)
	if err != nil {
		return amqp.Publishing{}, err
	}
	pub := amqp.Publishing{
		ContentType:   "application/json",
		MessageId:     msg.MessageID,
		CorrelationId: msg.MessageID,
		ReplyTo:       ReplyQueue,
		Type:          typeMessage,
		Timestamp:     msg.Timestamp,
		Body:          body,
	}
	if !deadline.IsZero() {
		ttl := time.Until(deadline).Milliseconds()
		if ttl < 1 {
			ttl = 1
		}
		pub.Expiration = strconv.FormatInt(ttl, 10)
	}
	return pub, nil
}

// encodeReply answers request; a handler error becomes an error reply
// carrying an error data part.
func encodeReply(s *messaging.JSONSerializer, request *contracts.Message, correlationID string, reply *contracts.Message, handlerErr error) (amqp.Publishing, error) {
	typ := typeMessage
	if handlerErr != nil {
		reply = messaging.ErrorReply(request, handlerErr)
		typ = typeError
	}
	body, err := s.Serialize(reply)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		MessageId:     reply.MessageID,
		CorrelationId: correlationID,
		Type:          typ,
		Timestamp:     reply.Timestamp,
		Body:          body,
	}, nil
}

func decodeReply(s *messaging.JSONSerializer, d amqp.Delivery) (*contracts.Message, error) {
	msg, err := s.Deserialize(d.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}
	if err := messaging.ReplyError(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

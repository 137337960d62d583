package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/investec-adapter/internal/investec"
	"github.com/Checker-Finance/investec-adapter/internal/metrics"
)

// Command asks the adapter to perform one banking call.
type Command struct {
	CorrelationID string          `json:"correlation_id"`
	ClientID      string          `json:"client_id"`
	Destination   string          `json:"destination"`
	Params        investec.Params `json:"params"`
}

// Reply answers a Command. Error is set instead of Body when the call failed.
type Reply struct {
	CorrelationID string          `json:"correlation_id"`
	ClientID      string          `json:"client_id"`
	Destination   string          `json:"destination"`
	URL           string          `json:"url,omitempty"`
	Status        int             `json:"status,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// BankingService is the part of investec.Service the consumer drives.
type BankingService interface {
	AccessBanking(ctx context.Context, clientID, destination string, p investec.Params) investec.Result
}

// Channel is the subset of *amqp.Channel the consumer uses.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Consumer serves banking commands from a RabbitMQ queue and answers on each
// message's reply_to queue.
type Consumer struct {
	conn    *amqp.Connection
	channel Channel
	service BankingService
	queue   string
	logger  *zap.Logger
	timeout time.Duration
	done    chan struct{}
}

// NewConsumer dials url and opens a channel.
func NewConsumer(url, queue string, service BankingService, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c := newConsumer(channel, queue, service, logger)
	c.conn = conn
	return c, nil
}

func newConsumer(ch Channel, queue string, service BankingService, logger *zap.Logger) *Consumer {
	return &Consumer{
		channel: ch,
		service: service,
		queue:   queue,
		logger:  logger,
		timeout: 60 * time.Second,
		done:    make(chan struct{}),
	}
}

// Start declares the command queue and consumes it in the background.
func (c *Consumer) Start(ctx context.Context) error {
	if _, err := c.channel.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.queue, err)
	}
	if err := c.channel.Qos(8, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", c.queue, err)
	}

	c.logger.Info("rabbitmq.consumer.started", zap.String("queue", c.queue))
	go c.consume(ctx, msgs)
	return nil
}

func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("rabbitmq.consumer.channel_closed", zap.String("queue", c.queue))
				return
			}
			c.process(ctx, msg)
		}
	}
}

// process handles one delivery. Malformed commands are dropped; a reply that
// cannot be published is requeued.
func (c *Consumer) process(ctx context.Context, msg amqp.Delivery) {
	reply, err := c.Handle(ctx, msg.Body)
	if err != nil {
		metrics.IncAMQPCommand("invalid", "rejected")
		c.logger.Error("rabbitmq.command.invalid", zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}
	if reply.CorrelationID == "" {
		reply.CorrelationID = msg.CorrelationId
	}

	if msg.ReplyTo != "" {
		if err := c.publishReply(ctx, msg.ReplyTo, reply); err != nil {
			c.logger.Error("rabbitmq.reply.publish_failed",
				zap.String("reply_to", msg.ReplyTo),
				zap.String("correlation_id", reply.CorrelationID),
				zap.Error(err))
			_ = msg.Nack(false, true)
			return
		}
	}
	_ = msg.Ack(false)
}

// Handle decodes a command body and runs it. The returned error is only for
// bodies that are not a command; banking failures are reported in Reply.Error.
func (c *Consumer) Handle(ctx context.Context, body []byte) (*Reply, error) {
	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	if strings.TrimSpace(cmd.ClientID) == "" {
		return nil, fmt.Errorf("decode command: missing client_id")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res := c.service.AccessBanking(callCtx, cmd.ClientID, cmd.Destination, cmd.Params)
	reply := &Reply{
		CorrelationID: cmd.CorrelationID,
		ClientID:      cmd.ClientID,
		Destination:   cmd.Destination,
		URL:           res.URL,
		Status:        res.StatusCode,
		Body:          res.Body,
	}
	if res.Err != nil {
		reply.Error = res.Err.Error()
		metrics.IncAMQPCommand(destinationLabel(cmd.Destination), "error")
		c.logger.Warn("rabbitmq.command.failed",
			zap.String("client", cmd.ClientID),
			zap.String("destination", cmd.Destination),
			zap.Error(res.Err))
		return reply, nil
	}

	metrics.IncAMQPCommand(destinationLabel(cmd.Destination), "ok")
	return reply, nil
}

// destinationLabel keeps the metric label set bounded to known destinations.
func destinationLabel(name string) string {
	d, err := investec.ParseDestination(name)
	if err != nil {
		return "invalid"
	}
	return d.String()
}

func (c *Consumer) publishReply(ctx context.Context, replyTo string, reply *Reply) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return c.channel.PublishWithContext(ctx,
		"",      // default exchange
		replyTo, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: reply.CorrelationID,
			Timestamp:     time.Now().UTC(),
			Body:          body,
		},
	)
}

// Close stops consumption and closes the channel and connection.
func (c *Consumer) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}

	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

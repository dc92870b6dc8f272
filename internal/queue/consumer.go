package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"
)

// SessionLogFile is the file the consumer appends events to inside its
// log directory.
const SessionLogFile = "session.log"

// Consumer reads SessionEvents from the queue and appends one line per
// event to LogDir/session.log. Malformed messages are rejected without
// requeue so a bad payload cannot cause a tight redelivery loop.
type Consumer struct {
	URL    string
	Queue  string
	LogDir string
	Logger *slog.Logger
}

// Run dials the broker with capped exponential backoff and consumes until
// ctx is cancelled, reconnecting whenever the delivery stream ends.
func (c *Consumer) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			break
		}
		err = c.consume(ctx, conn)
		_ = conn.Close()
		if err != nil && ctx.Err() == nil {
			c.Logger.Warn("session consumer: consume loop ended, reconnecting", "error", err)
		}
	}
	return ctx.Err()
}

func (c *Consumer) dial(ctx context.Context) (*amqp.Connection, error) {
	backoff := retry.WithCappedDuration(30*time.Second, retry.NewExponential(time.Second))

	var conn *amqp.Connection
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		conn, err = amqp.Dial(c.URL)
		if err != nil {
			c.Logger.Warn("session consumer: dial failed", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	return conn, err
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Logger.Warn("session consumer: set QoS failed", "error", err)
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.Logger.Info("session consumer: consuming", "queue", c.Queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.HandleMessage(d.Body); err != nil {
				c.Logger.Error("session consumer: handle message failed", "error", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleMessage decodes one delivery body and appends it to the log file.
func (c *Consumer) HandleMessage(body []byte) error {
	var ev SessionEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" || ev.UserID == "" {
		return errors.New("event missing type or user_id")
	}
	if err := os.MkdirAll(c.LogDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.LogDir, err)
	}
	f, err := os.OpenFile(filepath.Join(c.LogDir, SessionLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(ev.LogLine()); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

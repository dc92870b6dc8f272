package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/oops"
)

const (
	// dialTimeout bounds the TCP connect and the AMQP handshake.
	dialTimeout    = 3 * time.Second
	publishTimeout = 5 * time.Second
)

var (
	// ErrPublisherFull is returned when the outbound buffer has no room.
	ErrPublisherFull = errors.New("event buffer full")
	// ErrPublisherClosed is returned after Close.
	ErrPublisherClosed = errors.New("event publisher closed")
)

// AMQPPublisher publishes SessionEvents as persistent JSON messages to a
// durable queue on the default exchange. Publish only enqueues; a single
// worker goroutine owns the broker connection, opens it lazily and
// reopens it on the next event after a failure. A slow or unreachable
// broker therefore never blocks the caller.
type AMQPPublisher struct {
	url    string
	queue  string
	logger *slog.Logger

	pending chan SessionEvent
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once

	// owned by the worker
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher starts the worker. buffer is the number of events that
// may wait for the broker before new ones are dropped.
func NewAMQPPublisher(url, queue string, buffer int, logger *slog.Logger) *AMQPPublisher {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &AMQPPublisher{
		url:     url,
		queue:   queue,
		logger:  logger,
		pending: make(chan SessionEvent, buffer),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish queues ev without waiting for the broker. It fails with
// ErrPublisherFull when the buffer is full and ErrPublisherClosed after Close.
func (p *AMQPPublisher) Publish(ctx context.Context, ev SessionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.ctx.Err() != nil {
		return oops.Code("EVENT_PUBLISHER_CLOSED").Wrap(ErrPublisherClosed)
	}
	select {
	case p.pending <- ev:
		return nil
	default:
		return oops.Code("EVENT_BUFFER_FULL").With("queue", p.queue).With("type", ev.Type).Wrap(ErrPublisherFull)
	}
}

// Close stops the worker, waits for it and releases the broker connection.
// Events still buffered are dropped.
func (p *AMQPPublisher) Close() error {
	p.once.Do(func() {
		p.cancel()
		<-p.done
		if n := len(p.pending); n > 0 {
			p.logger.Warn("event publisher: dropping buffered events on close", "count", n)
		}
	})
	return nil
}

func (p *AMQPPublisher) run() {
	defer close(p.done)
	defer p.reset()

	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.pending:
			if err := p.send(ev); err != nil && p.ctx.Err() == nil {
				p.logger.Warn("event publisher: publish failed, event dropped",
					"type", ev.Type, "user_id", ev.UserID, "error", err)
			}
		}
	}
}

func (p *AMQPPublisher) send(ev SessionEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return oops.Code("EVENT_MARSHAL_FAILED").Wrap(err)
	}

	ch, err := p.channel()
	if err != nil {
		return oops.Code("EVENT_BROKER_UNAVAILABLE").With("queue", p.queue).Wrap(err)
	}

	ctx, cancel := context.WithTimeout(p.ctx, publishTimeout)
	defer cancel()
	err = ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Type:         ev.Type,
			Body:         body,
		})
	if err != nil {
		p.reset()
		return oops.Code("EVENT_PUBLISH_FAILED").With("queue", p.queue).With("type", ev.Type).Wrap(err)
	}
	return nil
}

func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      p.dial,
	})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn, p.ch = conn, ch
	p.logger.Info("event publisher connected", "queue", p.queue)
	return ch, nil
}

// dial is amqp.DefaultDial made cancellable by Close.
func (p *AMQPPublisher) dial(network, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(p.ctx, network, addr)
	if err != nil {
		return nil, err
	}
	// amqp clears the deadline once the handshake completes
	if err := conn.SetDeadline(time.Now().Add(dialTimeout)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

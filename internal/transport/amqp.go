// Package transport implements the AMQP wiring for the collector: a
// durable topic exchange for published snapshots, a response exchange for
// control-plane replies, and a durable queue the control-plane consumer
// reads from. Reconnection uses the same exponential-backoff loop shape as
// the teacher's WebSocket client, generalized from a single long-lived
// connection to a connection that also owns channels and a consumer.
package transport

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	baseReconnectDelay   = 2 * time.Second
	maxReconnectDelay    = time.Minute
	maxReconnectAttempts = 10
)

// Config describes how to reach the broker and which topology to declare.
type Config struct {
	URL             string
	DataExchange    string
	ControlQueue    string
	ResponseExchange string
}

// Handler processes one raw control-command message body. Bound to
// controlplane.ControlPlane.HandleMessage by the caller; kept as a plain
// func type here so this package never imports controlplane.
type Handler func(body []byte)

// AMQP owns the broker connection and implements both publisher.Transport
// (PublishData) and controlplane.Responder (PublishResponse).
type AMQP struct {
	cfg Config
	log zerolog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	handler     Handler
	stopChan    chan struct{}
	stopped     bool
	reconnecting bool
	wg          sync.WaitGroup
}

// New constructs an AMQP transport. Connect must be called before use.
func New(cfg Config, log zerolog.Logger) *AMQP {
	return &AMQP{
		cfg:      cfg,
		log:      log.With().Str("component", "amqp_transport").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Connect dials the broker, declares the topology (both exchanges durable,
// the control queue durable), and -- if handler is non-nil -- starts
// consuming the control queue in the background. Reconnection on a lost
// connection is automatic and transparent to callers of PublishData /
// PublishResponse, which simply fail fast while disconnected.
func (a *AMQP) Connect(handler Handler) error {
	a.mu.Lock()
	a.handler = handler
	a.mu.Unlock()

	if err := a.connect(); err != nil {
		a.log.Warn().Err(err).Msg("initial AMQP connection failed, will retry in background")
		go a.reconnectLoop()
		return err
	}
	return nil
}

func (a *AMQP) connect() error {
	conn, err := amqp.Dial(a.cfg.URL)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	if err := declareTopology(ch, a.cfg); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp topology: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.channel = ch
	handler := a.handler
	a.mu.Unlock()

	closeNotify := conn.NotifyClose(make(chan *amqp.Error, 1))
	a.wg.Add(1)
	go a.watchConnection(closeNotify)

	if handler != nil {
		if err := a.startConsumer(ch, handler); err != nil {
			return fmt.Errorf("amqp consume: %w", err)
		}
	}

	a.log.Info().Str("url", redactURL(a.cfg.URL)).Msg("connected to AMQP broker")
	return nil
}

func declareTopology(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.DataExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare data exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.ResponseExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare response exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.ControlQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare control queue: %w", err)
	}
	return nil
}

func (a *AMQP) startConsumer(ch *amqp.Channel, handler Handler) error {
	deliveries, err := ch.Consume(a.cfg.ControlQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for d := range deliveries {
			handler(d.Body)
			if err := d.Ack(false); err != nil {
				a.log.Warn().Err(err).Msg("failed to ack control message")
			}
		}
	}()
	return nil
}

// watchConnection waits for the broker connection to close unexpectedly
// and, unless Stop was called, kicks off the reconnect loop.
func (a *AMQP) watchConnection(closeNotify chan *amqp.Error) {
	defer a.wg.Done()
	err, ok := <-closeNotify
	a.mu.RLock()
	stopped := a.stopped
	a.mu.RUnlock()
	if stopped {
		return
	}
	if ok {
		a.log.Warn().Err(err).Msg("AMQP connection closed unexpectedly")
	}
	go a.reconnectLoop()
}

func (a *AMQP) reconnectLoop() {
	a.mu.Lock()
	if a.reconnecting || a.stopped {
		a.mu.Unlock()
		return
	}
	a.reconnecting = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.reconnecting = false
		a.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-a.stopChan:
			return
		default:
		}

		attempt++
		delay := backoffDelay(attempt)
		a.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("attempting to reconnect to AMQP broker")

		select {
		case <-time.After(delay):
		case <-a.stopChan:
			return
		}

		if err := a.connect(); err != nil {
			a.log.Error().Err(err).Int("attempt", attempt).Msg("AMQP reconnect failed")
			continue
		}
		a.log.Info().Int("attempt", attempt).Msg("reconnected to AMQP broker")
		return
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

// PublishData publishes one batched snapshot message to the data exchange.
// Routing key is "snapshot.<messageType>" (e.g. "snapshot.tickers",
// "snapshot.funding_rates"), per spec.md §6; a consumer binding with "#"
// still receives every type, but each publish carries its own specific key.
func (a *AMQP) PublishData(messageType string, body []byte) error {
	return a.publish(a.cfg.DataExchange, dataRoutingKey(messageType), body, amqp.Persistent)
}

func dataRoutingKey(messageType string) string {
	return "snapshot." + messageType
}

// PublishResponse publishes a control-plane reply to the response exchange
// under the given routing key ("control.response.<command>").
func (a *AMQP) PublishResponse(routingKey string, body []byte) error {
	return a.publish(a.cfg.ResponseExchange, routingKey, body, amqp.Transient)
}

func (a *AMQP) publish(exchange, routingKey string, body []byte, deliveryMode uint8) error {
	a.mu.RLock()
	ch := a.channel
	a.mu.RUnlock()

	if ch == nil {
		return fmt.Errorf("amqp: not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: deliveryMode,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Close stops the reconnect loop and releases the channel and connection.
func (a *AMQP) Close() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	close(a.stopChan)

	// The watcher and consumer goroutines only return once the connection
	// and channel are closed, so close those before waiting on them.
	a.mu.Lock()
	ch, conn := a.channel, a.conn
	a.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	a.wg.Wait()
	return err
}

// redactURL hides a possible password in an amqp:// URL before logging it.
func redactURL(url string) string {
	at := -1
	for i := 0; i < len(url); i++ {
		if url[i] == '@' {
			at = i
			break
		}
	}
	if at == -1 {
		return url
	}
	scheme := "amqp://"
	if len(url) > 8 && url[:8] == "amqps://" {
		scheme = "amqps://"
	}
	return scheme + "***:***" + url[at:]
}

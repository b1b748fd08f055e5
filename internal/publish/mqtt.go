// Package publish mirrors session annotation sets and failure notifications
// to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dgnsrekt/chartsync/internal/session"
)

const (
	queueSize         = 128
	connectTimeout    = 30 * time.Second
	publishTimeout    = 10 * time.Second
	disconnectQuiesce = 250
)

// Conn is the subset of mqtt.Client the publisher needs.
type Conn interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Config holds broker settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// Dial connects to the broker with automatic reconnects.
func Dial(ctx context.Context, cfg Config) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		slog.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(disconnectQuiesce)
		return nil, ctx.Err()
	case <-time.After(connectTimeout):
		client.Disconnect(disconnectQuiesce)
		return nil, fmt.Errorf("mqtt connect timeout: %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return client, nil
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type annotationSet struct {
	Symbol      string              `json:"symbol"`
	At          time.Time           `json:"at"`
	Annotations []session.ShapeView `json:"annotations"`
}

type notificationMessage struct {
	Symbol string    `json:"symbol"`
	At     time.Time `json:"at"`
	session.Notification
}

// Publisher implements session.Sink. User annotation sets are published
// retained to <topic>/<symbol>/annotations whenever they change; warning
// and error notifications go to <topic>/<symbol>/notifications.
type Publisher struct {
	conn  Conn
	topic string
	queue chan message
	done  chan struct{}

	mu     sync.Mutex
	last   map[string]string
	closed bool
}

// NewPublisher starts the delivery worker.
func NewPublisher(conn Conn, topic string) *Publisher {
	p := &Publisher{
		conn:  conn,
		topic: strings.TrimSuffix(topic, "/"),
		queue: make(chan message, queueSize),
		done:  make(chan struct{}),
		last:  make(map[string]string),
	}
	go p.run()
	return p
}

// Publish implements session.Sink.
func (p *Publisher) Publish(u session.Update) {
	switch u.Kind {
	case session.UpdateShapes:
		p.publishAnnotations(u)
	case session.UpdateNotification:
		if u.Notification == nil || u.Notification.Level == "info" {
			return
		}
		payload, err := json.Marshal(notificationMessage{Symbol: u.Symbol, At: u.At, Notification: *u.Notification})
		if err != nil {
			slog.Warn("mqtt encode failed", "symbol", u.Symbol, "error", err)
			return
		}
		p.enqueue(message{topic: p.topicFor(u.Symbol, "notifications"), payload: payload})
	}
}

func (p *Publisher) publishAnnotations(u session.Update) {
	user := make([]session.ShapeView, 0, len(u.Shapes))
	for _, v := range u.Shapes {
		if !v.SystemManaged {
			user = append(user, v)
		}
	}
	fingerprint, err := json.Marshal(user)
	if err != nil {
		slog.Warn("mqtt encode failed", "symbol", u.Symbol, "error", err)
		return
	}

	p.mu.Lock()
	unchanged := p.last[u.Symbol] == string(fingerprint)
	if !unchanged {
		p.last[u.Symbol] = string(fingerprint)
	}
	p.mu.Unlock()
	if unchanged {
		return
	}

	payload, err := json.Marshal(annotationSet{Symbol: u.Symbol, At: u.At, Annotations: user})
	if err != nil {
		slog.Warn("mqtt encode failed", "symbol", u.Symbol, "error", err)
		return
	}
	p.enqueue(message{topic: p.topicFor(u.Symbol, "annotations"), retained: true, payload: payload})
}

func (p *Publisher) topicFor(symbol, leaf string) string {
	return p.topic + "/" + symbol + "/" + leaf
}

func (p *Publisher) enqueue(m message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- m:
	default:
		slog.Warn("mqtt queue full, dropping message", "topic", m.topic)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for m := range p.queue {
		if !p.conn.IsConnected() {
			slog.Debug("mqtt not connected, dropping message", "topic", m.topic)
			continue
		}
		token := p.conn.Publish(m.topic, 0, m.retained, m.payload)
		if !token.WaitTimeout(publishTimeout) {
			slog.Warn("mqtt publish timeout", "topic", m.topic)
			continue
		}
		if err := token.Error(); err != nil {
			slog.Warn("mqtt publish failed", "topic", m.topic, "error", err)
		}
	}
}

// Close drains the queue and disconnects.
func (p *Publisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
	p.conn.Disconnect(disconnectQuiesce)
}

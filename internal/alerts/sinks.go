package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/digital-twin-engine/internal/domain"
)

// Publisher fans an alert out to every configured sink after routing its
// text fields through the PHI sanitizer. Sink failures are logged and never
// fail the refresh that produced the alert.
type Publisher struct {
	sanitizer domain.Sanitizer
	log       *logrus.Logger
	sinks     []domain.AlertSink
}

// NewPublisher creates an alert publisher.
func NewPublisher(sanitizer domain.Sanitizer, logger *logrus.Logger, sinks ...domain.AlertSink) *Publisher {
	return &Publisher{sanitizer: sanitizer, log: logger, sinks: sinks}
}

// Publish sanitizes and delivers one alert to all sinks.
func (p *Publisher) Publish(ctx context.Context, alert domain.AlertRecord) {
	alert.Reason = p.sanitizer.Sanitize(alert.Reason)
	alert.Detail = p.sanitizer.Sanitize(alert.Detail)

	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, alert); err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"sink":     sink.Name(),
				"alert_id": alert.AlertID,
			}).Error("Failed to deliver alert")
		}
	}
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	log *logrus.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{log: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(ctx context.Context, alert domain.AlertRecord) error {
	entry := s.log.WithFields(logrus.Fields{
		"alert_id":   alert.AlertID,
		"patient_id": alert.PatientID,
		"severity":   alert.Severity,
		"reason":     alert.Reason,
		"count":      alert.Count,
	})
	switch alert.Severity {
	case domain.SeverityCritical:
		entry.Error(alert.Detail)
	case domain.SeverityUrgent:
		entry.Warn(alert.Detail)
	default:
		entry.Info(alert.Detail)
	}
	return nil
}

// WebhookSink posts alerts as JSON to a configured endpoint.
type WebhookSink struct {
	client *resty.Client
	url    string
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		client: resty.New().SetTimeout(timeout),
		url:    url,
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Publish(ctx context.Context, alert domain.AlertRecord) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(alert).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("posting alert webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode())
	}
	return nil
}

// WebSocketSink streams alerts over a persistent websocket connection,
// dialed lazily and redialed after write failures.
type WebSocketSink struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketSink creates a websocket sink for the given endpoint.
func NewWebSocketSink(url string) *WebSocketSink {
	return &WebSocketSink{url: url}
}

func (s *WebSocketSink) Name() string { return "websocket" }

func (s *WebSocketSink) Publish(ctx context.Context, alert domain.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			return fmt.Errorf("dialing alert websocket: %w", err)
		}
		s.conn = conn
	}
	if err := s.conn.WriteJSON(alert); err != nil {
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("writing alert to websocket: %w", err)
	}
	return nil
}

// Close shuts the websocket connection down.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// RedisSink publishes alerts on a redis channel for downstream consumers.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink creates a redis pub/sub sink.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, alert domain.AlertRecord) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("publishing alert to redis: %w", err)
	}
	return nil
}

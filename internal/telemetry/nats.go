package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is used when the NATS section names no subject
const DefaultSubject = "watch-and-recover.items"

// Item is the JSON document published for every key/value pair
type Item struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
	Clock int64  `json:"clock"`
}

// NATSSink publishes items to a NATS subject
type NATSSink struct {
	nc      *nats.Conn
	subject string
	host    string
	timeout time.Duration
}

// NewNATSSink connects to url and publishes to subject
func NewNATSSink(url, subject string, timeout time.Duration) (*NATSSink, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	nc, err := nats.Connect(url,
		nats.Name("watch-and-recover"),
		nats.Timeout(timeout),
		nats.MaxReconnects(3),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return &NATSSink{
		nc:      nc,
		subject: subject,
		host:    host,
		timeout: timeout,
	}, nil
}

func encodeItem(host, key, value string, now time.Time) ([]byte, error) {
	return json.Marshal(Item{
		Host:  host,
		Key:   key,
		Value: value,
		Clock: now.Unix(),
	})
}

// Send implements Sink
func (s *NATSSink) Send(ctx context.Context, key, value string) error {
	data, err := encodeItem(s.host, key, value, time.Now())
	if err != nil {
		return &SendError{Key: key, Err: fmt.Errorf("marshal item: %w", err)}
	}
	if err := s.nc.Publish(s.subject, data); err != nil {
		return &SendError{Key: key, Diagnostic: s.nc.Status().String(), Err: err}
	}
	return nil
}

// Close flushes pending items and closes the connection
func (s *NATSSink) Close() error {
	defer s.nc.Close()
	if err := s.nc.FlushTimeout(s.timeout); err != nil {
		return fmt.Errorf("flushing NATS: %w", err)
	}
	return nil
}

package nats_wrapper

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type NatsConfig struct {
	URL            string `yaml:"url"`
	Stream         string `yaml:"stream"`
	SubjectPrefix  string `yaml:"subject_prefix"`
	Durable        string `yaml:"durable"`
	MaxAgeHours    int    `yaml:"max_age_hours"`
	ConnectTimeout int    `yaml:"connect_timeout_seconds"`
}

// Enabled reports whether a server url is configured.
func (c *NatsConfig) Enabled() bool {
	return c != nil && c.URL != ""
}

// Subjects returns the wildcard subject the stream captures.
func (c *NatsConfig) Subjects() string {
	return c.SubjectPrefix + ".>"
}

// InitJetStream connects to NATS and makes sure the configured stream exists.
func InitJetStream(cfg *NatsConfig) (*nats.Conn, nats.JetStreamContext, error) {
	timeout := time.Duration(cfg.ConnectTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				zap.S().Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			zap.S().Infof("nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}

	maxAge := time.Duration(cfg.MaxAgeHours) * time.Hour
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}

	_, err = js.StreamInfo(cfg.Stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subjects()},
			MaxAge:   maxAge,
			Storage:  nats.FileStorage,
		})
	}
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}

	zap.S().Debugf("jetstream ready stream=%s subjects=%s", cfg.Stream, cfg.Subjects())
	return nc, js, nil
}

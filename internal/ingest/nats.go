package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"qgnotify/internal/config"
	"qgnotify/internal/domain"
)

const analysisStreamMaxAge = 24 * time.Hour

// NATSSubscriber consumes analyses via JetStream queue consumer and forwards to sink.
// Params: NATS connection, JetStream queue subscription, and analysis sink.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber creates JetStream queue consumer for analysis ingestion.
// Params: ingest NATS config, sink, and optional logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.NATSIngestConfig, sink AnalysisSink, logger *slog.Logger) (*NATSSubscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(strings.Join(cfg.URL, ","), nats.Name("qgnotify-ingest"))
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}
	if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
		nc.Close()
		return nil, err
	}

	subscriber := &NATSSubscriber{
		nc:     nc,
		logger: logger,
	}
	ackWait := time.Duration(cfg.AckWaitSec) * time.Second
	nackDelay := time.Duration(cfg.NackDelayMS) * time.Millisecond
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, func(message *nats.Msg) {
		analysis, decodeErr := domain.DecodeAnalysis(message.Data)
		if decodeErr != nil {
			logger.Warn("nats ingest decode failed", "subject", message.Subject, "error", decodeErr.Error())
			subscriber.ackMessage(message, "decode")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), ackWait)
		handleErr := sink.HandleAnalysis(ctx, SourceNATS, analysis)
		cancel()
		if handleErr != nil {
			var settingsErr *config.SettingsError
			if errors.As(handleErr, &settingsErr) {
				logger.Error("nats ingest rejected by notification settings",
					"subject", message.Subject,
					"project_key", analysis.Project.Key,
					"error", handleErr.Error(),
				)
				subscriber.termMessage(message, "settings")
				return
			}
			logger.Error("nats ingest handle failed", "subject", message.Subject, "error", handleErr.Error())
			subscriber.nackMessage(message, nackDelay)
			return
		}
		subscriber.ackMessage(message, "processed")
	}, subOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

// ensureStream creates the analysis stream when it does not exist yet.
// Params: JetStream context, stream name, and subject.
// Returns: stream create/lookup error.
func ensureStream(js nats.JetStreamContext, streamName, subject string) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    analysisStreamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}

// ackMessage acknowledges processed/invalid message and logs ack failures.
// Params: JetStream message and short reason.
// Returns: none.
func (s *NATSSubscriber) ackMessage(message *nats.Msg, reason string) {
	if message == nil {
		return
	}
	if err := message.Ack(); err != nil {
		s.logger.Warn("nats ingest ack failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// termMessage stops redelivery of a message the current settings cannot handle.
// Params: JetStream message and short reason.
// Returns: none.
func (s *NATSSubscriber) termMessage(message *nats.Msg, reason string) {
	if message == nil {
		return
	}
	if err := message.Term(); err != nil {
		s.logger.Warn("nats ingest term failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver message and logs nack failures.
// Params: JetStream message and optional delay.
// Returns: none.
func (s *NATSSubscriber) nackMessage(message *nats.Msg, delay time.Duration) {
	if message == nil {
		return
	}
	var err error
	if delay > 0 {
		err = message.NakWithDelay(delay)
	} else {
		err = message.Nak()
	}
	if err != nil {
		s.logger.Warn("nats ingest nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close stops NATS subscription and closes connection.
// Params: none.
// Returns: close error from subscription drain.
func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}

// Publish sends one analysis to the ingest subject.
// Params: JetStream context, subject, and analysis.
// Returns: encode or publish error.
func Publish(js nats.JetStreamContext, subject string, analysis domain.Analysis) error {
	body, err := analysis.Encode()
	if err != nil {
		return err
	}
	if _, err := js.Publish(subject, body); err != nil {
		return fmt.Errorf("publish analysis %q: %w", subject, err)
	}
	return nil
}

// Publisher sends analyses to the ingest stream.
// Params: NATS connection and JetStream context bound to the ingest subject.
// Returns: publish handle for CLI and tests.
type Publisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// NewPublisher connects to NATS and makes sure the ingest stream exists.
// Params: ingest NATS config.
// Returns: publisher or connection/stream error.
func NewPublisher(cfg config.NATSIngestConfig) (*Publisher, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","), nats.Name("qgnotify-publisher"))
	if err != nil {
		return nil, fmt.Errorf("connect nats publisher: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for publisher: %w", err)
	}
	if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
		nc.Close()
		return nil, err
	}
	return &Publisher{nc: nc, js: js, subject: cfg.Subject}, nil
}

// Publish sends one analysis to the configured subject.
func (p *Publisher) Publish(analysis domain.Analysis) error {
	return Publish(p.js, p.subject, analysis)
}

// Close closes publisher connection.
func (p *Publisher) Close() {
	p.nc.Close()
}

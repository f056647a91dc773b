package stream

import (
	"context"
	"log/slog"
)

type Appender interface {
	Append(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error)
}

// Publisher appends envelopes to one stream with approximate length trimming.
type Publisher struct {
	log      *slog.Logger
	appender Appender
	stream   string
	maxLen   int64
}

func NewPublisher(log *slog.Logger, appender Appender, stream string, maxLen int64) *Publisher {
	return &Publisher{log: log, appender: appender, stream: stream, maxLen: maxLen}
}

// Publish wraps payload in an envelope (generating the id when empty) and
// appends it. It returns the envelope id.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload any, id string) (string, error) {
	env, err := NewEnvelope(eventType, payload, id)
	if err != nil {
		return "", err
	}
	if err := p.PublishEnvelope(ctx, env); err != nil {
		return "", err
	}
	return env.ID, nil
}

func (p *Publisher) PublishEnvelope(ctx context.Context, env Envelope) error {
	seq, err := p.appender.Append(ctx, p.stream, p.maxLen, env.Values())
	if err != nil {
		p.log.Error("event publish failed", "event_id", env.ID, "type", env.Type, "err", err)
		return err
	}
	p.log.Debug("event published", "event_id", env.ID, "type", env.Type, "stream_id", seq)
	return nil
}

func (p *Publisher) Stream() string { return p.stream }

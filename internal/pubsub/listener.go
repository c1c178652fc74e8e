package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Sink receives decoded job updates. Implemented by the websocket
// connection manager.
type Sink interface {
	SendToJob(ctx context.Context, jobID string, eventType string, data map[string]any)
}

// wsEventTypes maps broker update types onto websocket event names.
var wsEventTypes = map[MessageType]string{
	MessageStatus:   "job_status",
	MessageProgress: "job_progress",
	MessageComplete: "job_complete",
	MessageError:    "job_error",
}

// Listener subscribes to the job update channel and re-dispatches every
// message through the local sink.
type Listener struct {
	client *redis.Client
	sink   Sink
	logger *slog.Logger

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewListener(client *redis.Client, sink Sink, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		client:    client,
		sink:      sink,
		logger:    logger,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (l *Listener) Run(ctx context.Context) error {
	defer close(l.stoppedCh)

	sub := l.client.Subscribe(ctx, Channel)
	defer sub.Close() //nolint:errcheck

	// Force the SUBSCRIBE round trip so subscription errors surface here
	// instead of as an empty channel.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "listening for job updates", "channel", Channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopCh:
			l.logger.InfoContext(ctx, "job update listener stopping")
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			l.handle(ctx, m.Payload)
		}
	}
}

func (l *Listener) Stop() {
	close(l.stopCh)
	<-l.stoppedCh
}

func (l *Listener) handle(ctx context.Context, payload string) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		l.logger.ErrorContext(ctx, "invalid job update payload", "error", err)
		return
	}

	eventType, ok := wsEventTypes[msg.MessageType]
	if !ok {
		l.logger.WarnContext(ctx, "unknown job update type", "message_type", msg.MessageType, "job_id", msg.JobID)
		return
	}

	l.logger.DebugContext(ctx, "received job update", "job_id", msg.JobID, "message_type", msg.MessageType)
	l.sink.SendToJob(ctx, msg.JobID, eventType, msg.Data)
}

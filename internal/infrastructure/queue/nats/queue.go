package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/file-converter/internal/infrastructure/resilience"
)

const (
	headerJobID       = "Job-Id"
	headerPublishedAt = "Published-At"
	drainTimeout      = 30 * time.Second
)

// Queue carries conversion job ids over a NATS subject. Every subscriber
// joins one queue group, so a job reaches exactly one worker.
type Queue struct {
	conn     *nats.Conn
	subject  string
	group    string
	workers  int
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	QueueGroup     string
	// Workers is the number of jobs one process handles concurrently.
	Workers  int
	Executor *resilience.Executor
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 60
	}
	if o.QueueGroup == "" {
		o.QueueGroup = "converters"
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func New(url, subject string, options Options) (*Queue, error) {
	options = options.withDefaults()
	logger := options.Logger.With("component", "nats_queue", "subject", subject)

	conn, err := nats.Connect(url,
		nats.Name("file-converter"),
		nats.Timeout(options.ConnectTimeout),
		nats.ReconnectWait(options.ReconnectWait),
		nats.MaxReconnects(options.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		group:    options.QueueGroup,
		workers:  options.Workers,
		executor: options.Executor,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Ping reports whether the connection is usable.
func (q *Queue) Ping(context.Context) error {
	if q.conn == nil || !q.conn.IsConnected() {
		return unavailable("nats ping", nats.ErrConnectionClosed)
	}
	return nil
}

func jobMessage(subject, jobID string, now time.Time) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Header.Set(headerJobID, jobID)
	msg.Header.Set(headerPublishedAt, now.UTC().Format(time.RFC3339Nano))
	msg.Data = []byte(jobID)
	return msg
}

// jobIDFromMsg prefers the header and falls back to the payload for
// publishers that send a bare id.
func jobIDFromMsg(msg *nats.Msg) string {
	if msg.Header != nil {
		if id := strings.TrimSpace(msg.Header.Get(headerJobID)); id != "" {
			return id
		}
	}
	return strings.TrimSpace(string(msg.Data))
}

func (q *Queue) PublishJob(ctx context.Context, jobID string) error {
	msg := jobMessage(q.subject, jobID, time.Now())
	err := q.executor.Execute(ctx, "nats.publish", func(context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}, classifyNATSError)
	return markUnavailable(err)
}

// SubscribeJobs blocks until ctx is done, then drains in-flight messages.
// NATS runs each subscription's callbacks serially, so concurrency comes
// from one subscription per worker.
func (q *Queue) SubscribeJobs(ctx context.Context, handler func(context.Context, string) error) error {
	subs := make([]*nats.Subscription, 0, q.workers)
	for i := 0; i < q.workers; i++ {
		sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
			if ctx.Err() != nil {
				return
			}
			jobID := jobIDFromMsg(msg)
			if jobID == "" {
				q.logger.Warn("job_message_without_id")
				return
			}
			if err := handler(context.WithoutCancel(ctx), jobID); err != nil {
				q.logger.Error("job_handler_failed", "job_id", jobID, "error", err)
			}
		})
		if err != nil {
			drainAll(subs, q.logger)
			return fmt.Errorf("nats subscribe: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := q.conn.Flush(); err != nil {
		drainAll(subs, q.logger)
		return fmt.Errorf("nats flush: %w", err)
	}
	q.logger.Info("nats_subscribed", "queue_group", q.group, "workers", q.workers)

	<-ctx.Done()
	drainAll(subs, q.logger)
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func drainAll(subs []*nats.Subscription, logger *slog.Logger) {
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *nats.Subscription) {
			defer wg.Done()
			if err := sub.Drain(); err != nil {
				logger.Warn("nats_drain_failed", "error", err)
				return
			}
			deadline := time.Now().Add(drainTimeout)
			for sub.IsValid() && time.Now().Before(deadline) {
				time.Sleep(20 * time.Millisecond)
			}
		}(sub)
	}
	wg.Wait()
}

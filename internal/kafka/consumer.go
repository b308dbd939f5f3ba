package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"

	"github.com/petportre/orders-service/internal/application"
	"github.com/petportre/orders-service/internal/domain"
	"github.com/petportre/orders-service/internal/logger"
	"github.com/petportre/orders-service/internal/normalize"
)

type ConsumerConfig struct {
	Brokers string
	Topic   string
	GroupID string
}

// Ingester is the part of application.OrdersService the consumer drives.
type Ingester interface {
	Ingest(ctx context.Context, raw []byte, opts ...normalize.Option) (application.IngestResult, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// StartConsumer reads raw storefront payloads from the ingest topic and feeds
// them through the same ingestion path as the webhook. The returned reader is
// closed when ctx is done; done is closed once the loop has exited.
func StartConsumer(ctx context.Context, svc Ingester, cfg ConsumerConfig) (*kafka.Reader, <-chan struct{}) {
	brokers := strings.Split(cfg.Brokers, ",")

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		GroupID:         cfg.GroupID,
		Topic:           cfg.Topic,
		MinBytes:        1,
		MaxBytes:        10e6,
		CommitInterval:  0,
		StartOffset:     kafka.FirstOffset,
		ReadLagInterval: -1,
	})

	logger.Info("kafka consumer starting", "brokers", cfg.Brokers, "topic", cfg.Topic, "group", cfg.GroupID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer r.Close()
		consume(ctx, r, svc)
	}()
	return r, done
}

const fetchBackoff = 300 * time.Millisecond

func consume(ctx context.Context, r messageReader, svc Ingester) {
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka fetch error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchBackoff):
			}
			continue
		}
		logger.Debug("payload fetched", "partition", m.Partition, "offset", m.Offset)

		if err := handle(ctx, svc, m); err != nil {
			// only reachable on shutdown; the message is redelivered
			logger.Warn("kafka ingest abandoned", "offset", m.Offset, "err", err)
			return
		}

		if err := r.CommitMessages(ctx, m); err != nil {
			logger.Warn("kafka commit failed", "err", err)
		} else {
			logger.Debug("kafka committed", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset)
		}
	}
}

// handle retries store failures until ctx ends. Rejected payloads are not
// retried: the service has already archived them as order.rejected.
func handle(ctx context.Context, svc Ingester, m kafka.Message) error {
	backoff := retry.WithCappedDuration(10*time.Second, retry.NewExponential(fetchBackoff))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := svc.Ingest(ctx, m.Value, channelOption(m)...)
		var ne *domain.NormalizationError
		switch {
		case errors.As(err, &ne):
			logger.Warn("kafka payload rejected, skip and commit", "offset", m.Offset, "err", err)
			return nil
		case err != nil:
			logger.Warn("kafka ingest failed, will retry", "offset", m.Offset, "err", err)
			return retry.RetryableError(err)
		}
		logger.Info("order ingested from kafka", "order", res.Channel+":"+res.OrderNumber, "inserted", res.Inserted)
		return nil
	})
}

// channelOption honours a "channel" header set by the producing side.
func channelOption(m kafka.Message) []normalize.Option {
	for _, h := range m.Headers {
		if h.Key == "channel" && len(h.Value) > 0 {
			return []normalize.Option{normalize.WithChannel(strings.ToLower(string(h.Value)))}
		}
	}
	return nil
}

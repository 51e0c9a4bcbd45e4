// Package pubsub pushes accepted ticks and winning candle series onto
// Redis channels so dashboard processes can follow the feed without
// polling the REST API.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"vega-market/internal/metrics"
	"vega-market/internal/models"
)

type Publisher struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewPublisher(client *redis.Client, logger *logrus.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// PublishTick publishes one accepted tick to its per-key channel.
func (p *Publisher) PublishTick(ctx context.Context, tick models.Tick) error {
	data, err := json.Marshal(tick.ToResponse())
	if err != nil {
		metrics.PublishFailures.WithLabelValues("tick").Inc()
		return err
	}

	channel := "vega:market:tick:" + tick.Key
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		metrics.PublishFailures.WithLabelValues("tick").Inc()
		return err
	}
	metrics.PublishSuccess.WithLabelValues("tick").Inc()
	return nil
}

// PublishSeries publishes a candle series to its key+timeframe channel.
func (p *Publisher) PublishSeries(ctx context.Context, series models.CandleSeries) error {
	data, err := json.Marshal(series)
	if err != nil {
		metrics.PublishFailures.WithLabelValues("candle").Inc()
		return err
	}

	channel := fmt.Sprintf("vega:market:candles:%s:%s", series.Key, series.Timeframe)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		metrics.PublishFailures.WithLabelValues("candle").Inc()
		return err
	}
	metrics.PublishSuccess.WithLabelValues("candle").Inc()
	return nil
}

// PublishSnapshot publishes the whole ticker table to the firehose
// channel consumers use for initial dashboard state.
func (p *Publisher) PublishSnapshot(ctx context.Context, ticks []models.Tick) error {
	responses := make([]*models.TickResponse, 0, len(ticks))
	for i := range ticks {
		responses = append(responses, ticks[i].ToResponse())
	}
	data, err := json.Marshal(responses)
	if err != nil {
		metrics.PublishFailures.WithLabelValues("snapshot").Inc()
		return err
	}

	if err := p.client.Publish(ctx, "vega:market:ticker:all", data).Err(); err != nil {
		metrics.PublishFailures.WithLabelValues("snapshot").Inc()
		return err
	}
	metrics.PublishSuccess.WithLabelValues("snapshot").Inc()
	return nil
}

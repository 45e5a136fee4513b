package game

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	tiers   metric.Int64Counter
	sources metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter("github.com/thebtf/twentyq/internal/game")
	m := &metrics{}

	var err error
	m.tiers, err = meter.Int64Counter("twentyq.question.tier",
		metric.WithDescription("Questions served, by fallback tier"))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create question tier counter")
	}
	m.sources, err = meter.Int64Counter("twentyq.guess.source",
		metric.WithDescription("Guesses made, by source"))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create guess source counter")
	}
	return m
}

func (m *metrics) question(ctx context.Context, tier Tier) {
	if m.tiers != nil {
		m.tiers.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", string(tier))))
	}
}

func (m *metrics) guess(ctx context.Context, source GuessSource) {
	if m.sources != nil {
		m.sources.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(source))))
	}
}

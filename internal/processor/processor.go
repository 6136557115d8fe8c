package processor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/pagelab/internal/config"
	"github.com/gosight/pagelab/internal/storage"
	"github.com/gosight/pagelab/internal/transformer"
)

// Sink is the warehouse the processor flushes into.
type Sink interface {
	InsertPageViews(ctx context.Context, rows []storage.PageViewRow) error
	InsertConversions(ctx context.Context, rows []storage.ConversionRow) error
}

// EventProcessor processes events from Kafka and writes them to ClickHouse
type EventProcessor struct {
	sink     Sink
	batchCfg config.BatchConfig

	// Event buffers
	pageViewBuffer   []storage.PageViewRow
	conversionBuffer []storage.ConversionRow

	mu        sync.Mutex
	lastFlush time.Time
	ticker    *time.Ticker
	done      chan struct{}
}

// NewEventProcessor creates a new event processor
func NewEventProcessor(sink Sink, batchCfg config.BatchConfig) *EventProcessor {
	p := &EventProcessor{
		sink:             sink,
		batchCfg:         batchCfg,
		pageViewBuffer:   make([]storage.PageViewRow, 0, batchCfg.Size),
		conversionBuffer: make([]storage.ConversionRow, 0, 100),
		lastFlush:        time.Now(),
		done:             make(chan struct{}),
	}

	// Start flush ticker
	p.ticker = time.NewTicker(batchCfg.FlushInterval)
	go p.flushLoop()

	return p
}

// Process processes a single event
func (p *EventProcessor) Process(ctx context.Context, event map[string]interface{}) error {
	// Transform to ClickHouse rows
	result, err := transformer.TransformEvent(event)
	if err != nil {
		return err
	}

	// Add to buffers
	p.mu.Lock()
	if result.PageView != nil {
		p.pageViewBuffer = append(p.pageViewBuffer, *result.PageView)
	}
	if result.Conversion != nil {
		p.conversionBuffer = append(p.conversionBuffer, *result.Conversion)
	}
	shouldFlush := len(p.pageViewBuffer)+len(p.conversionBuffer) >= p.batchCfg.Size
	p.mu.Unlock()

	// Flush if buffer full
	if shouldFlush {
		p.Flush()
	}

	return nil
}

func (p *EventProcessor) flushLoop() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.Flush()
		}
	}
}

// Flush writes all buffered data to ClickHouse
func (p *EventProcessor) Flush() {
	p.mu.Lock()

	// Check if there's anything to flush
	if len(p.pageViewBuffer) == 0 && len(p.conversionBuffer) == 0 {
		p.mu.Unlock()
		return
	}

	// Get current buffers and create new ones
	pageViews := p.pageViewBuffer
	conversions := p.conversionBuffer

	p.pageViewBuffer = make([]storage.PageViewRow, 0, p.batchCfg.Size)
	p.conversionBuffer = make([]storage.ConversionRow, 0, 100)
	p.lastFlush = time.Now()
	p.mu.Unlock()

	ctx := context.Background()
	start := time.Now()

	// Insert page views
	if len(pageViews) > 0 {
		if err := p.sink.InsertPageViews(ctx, pageViews); err != nil {
			log.Error().Err(err).Int("count", len(pageViews)).Msg("Failed to insert page views")
		} else {
			log.Info().
				Int("count", len(pageViews)).
				Dur("duration", time.Since(start)).
				Msg("Flushed page views to ClickHouse")
		}
	}

	// Insert conversions
	if len(conversions) > 0 {
		if err := p.sink.InsertConversions(ctx, conversions); err != nil {
			log.Error().Err(err).Int("count", len(conversions)).Msg("Failed to insert conversions")
		} else {
			log.Debug().Int("count", len(conversions)).Msg("Flushed conversions to ClickHouse")
		}
	}
}

// Stop stops the processor
func (p *EventProcessor) Stop() {
	p.ticker.Stop()
	close(p.done)
	p.Flush() // Final flush
}

// Package pipeline orchestrates bag ingestion: opening the bag store,
// processing each cataloged topic in order, and reporting progress and a
// terminal status. A pipeline instance handles exactly one bag on a
// single goroutine; errors never escape Run, they resolve to a Failed
// status observable through the progress surface.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/bagworks/bagproc/bagproc/bag"
	"github.com/bagworks/bagproc/bagproc/catalog"
	"github.com/bagworks/bagproc/bagproc/frames"
	"github.com/bagworks/bagproc/bagproc/gateway"
)

// ErrCancelled marks a cooperative abort. The pipeline resolves to Failed
// with this as the reason; already-persisted batches stay valid.
var ErrCancelled = errors.New("ingestion cancelled")

// Options configures one ingestion pipeline.
type Options struct {
	BagID   int64
	BagDir  string
	OutRoot string // frames are written under <OutRoot>/frames
	Quality int    // JPEG quality for extracted frames
	Catalog *catalog.Catalog
	Gateway gateway.Gateway
}

// Pipeline ingests one bag end to end.
type Pipeline struct {
	opts     Options
	tracker  *tracker
	outcomes []*TopicOutcome
}

func New(opts Options) *Pipeline {
	return &Pipeline{
		opts:    opts,
		tracker: newTracker(opts.BagID),
	}
}

// Status returns a copy of the pipeline's current progress record.
func (p *Pipeline) Status() Progress {
	return p.tracker.Snapshot()
}

// Notifications exposes the bounded progress stream.
func (p *Pipeline) Notifications() <-chan Progress {
	return p.tracker.Notifications()
}

// Outcomes returns the per-topic outcomes accumulated so far. Valid once
// the pipeline is terminal.
func (p *Pipeline) Outcomes() []*TopicOutcome {
	return p.outcomes
}

// Run drives the bag to a terminal state. It never returns an error past
// its boundary: connection failures, cancellation and unclassified topic
// errors all resolve to StatusFailed with a diagnostic message.
func (p *Pipeline) Run(ctx context.Context) {
	// Backstop: a panic anywhere in topic processing resolves to Failed
	// instead of crashing the worker goroutine.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bag ingestion panicked", "bag", p.opts.BagID, "panic", r)
			p.fail(fmt.Errorf("internal error: %v", r))
		}
	}()

	p.tracker.set(StatusConnecting, 0, "opening bag store")

	store, err := bag.Open(p.opts.BagDir)
	if err != nil {
		slog.Error("failed to open bag store", "bag", p.opts.BagID, "dir", p.opts.BagDir, "error", err)
		p.tracker.set(StatusFailed, 0, fmt.Sprintf("failed to open bag store: %v", err))
		return
	}
	defer store.Close()

	p.tracker.set(StatusProcessing, 0, "processing topics")

	// The worklist comes from the bag itself: every recorded topic the
	// catalog recognizes, exactly or by prefix, in kind order.
	descriptors, err := store.ListTopics(ctx)
	if err != nil {
		p.fail(err)
		return
	}
	byName := make(map[string]*bag.TopicDescriptor, len(descriptors))
	names := make([]string, 0, len(descriptors))
	for i := range descriptors {
		byName[descriptors[i].Name] = &descriptors[i]
		names = append(names, descriptors[i].Name)
	}

	tp := &topicProcessor{
		store: store,
		gate:  p.opts.Gateway,
		bagID: p.opts.BagID,
		writer: frames.NewWriter(
			filepath.Join(p.opts.OutRoot, "frames"), p.opts.Quality),
	}

	entries := p.opts.Catalog.Plan(names)
	total := len(entries)

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			p.fail(ErrCancelled)
			return
		}

		desc := byName[entry.Topic]
		base := float64(i) / float64(total)
		span := 1.0 / float64(total)

		var outcome *TopicOutcome
		switch entry.Kind {
		case catalog.KindCamera:
			outcome, err = tp.processCamera(ctx, desc, func(sub float64) {
				p.tracker.setFraction(base + sub*span)
			})
		case catalog.KindPose:
			outcome, err = tp.processPose(ctx, desc)
		case catalog.KindImu:
			outcome, err = tp.processImu(ctx, desc)
		}
		if err != nil {
			p.fail(err)
			return
		}

		p.outcomes = append(p.outcomes, outcome)
		p.tracker.setFraction(float64(i+1) / float64(total))
	}

	if err := p.opts.Gateway.UpdateBagProcessed(ctx, p.opts.BagID, true); err != nil {
		p.fail(err)
		return
	}

	p.tracker.set(StatusCompleted, 1.0, "bag processing completed")
	slog.Info("bag ingestion completed", "bag", p.opts.BagID, "topics", len(p.outcomes))
}

func (p *Pipeline) fail(err error) {
	if errors.Is(err, context.Canceled) {
		err = ErrCancelled
	}
	slog.Error("bag ingestion failed", "bag", p.opts.BagID, "error", err)
	p.tracker.mu.Lock()
	fraction := p.tracker.cur.Fraction
	p.tracker.mu.Unlock()
	p.tracker.set(StatusFailed, fraction, err.Error())
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/RoaringBitmap/roaring"

	"github.com/bagworks/bagproc/bagproc/bag"
	"github.com/bagworks/bagproc/bagproc/codec"
	"github.com/bagworks/bagproc/bagproc/frames"
	"github.com/bagworks/bagproc/bagproc/gateway"
)

// subProgressInterval is how often a camera topic reports sub-progress,
// in messages, so long topics do not starve the observer.
const subProgressInterval = 10

// TopicOutcome aggregates per-message results for one processed topic.
// Skipped messages are recorded explicitly instead of being silently
// dropped: per-reason counters plus the set of skipped row indexes.
type TopicOutcome struct {
	Topic     string
	Attempted int
	Decoded   int
	ByReason  map[string]int
	Skipped   *roaring.Bitmap
}

func newTopicOutcome(topic string) *TopicOutcome {
	return &TopicOutcome{
		Topic:    topic,
		ByReason: make(map[string]int),
		Skipped:  roaring.New(),
	}
}

// skippable reports whether a message-level failure is absorbed by the
// topic rather than failing the bag.
func skippable(err error) bool {
	return errors.Is(err, codec.ErrTruncatedPayload) ||
		errors.Is(err, codec.ErrUnknownMessageType) ||
		errors.Is(err, codec.ErrUnsupportedEncoding) ||
		errors.Is(err, codec.ErrUnsupportedImagePayload) ||
		errors.Is(err, frames.ErrEncodeFailure)
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, codec.ErrTruncatedPayload):
		return "truncated_payload"
	case errors.Is(err, codec.ErrUnknownMessageType):
		return "unknown_message_type"
	case errors.Is(err, codec.ErrUnsupportedEncoding):
		return "unsupported_encoding"
	case errors.Is(err, codec.ErrUnsupportedImagePayload):
		return "unsupported_image_payload"
	case errors.Is(err, frames.ErrEncodeFailure):
		return "encode_failure"
	default:
		return "other"
	}
}

func (o *TopicOutcome) recordSkip(index int, err error) {
	o.ByReason[skipReason(err)]++
	o.Skipped.Add(uint32(index))
}

// topicProcessor drives one topic end to end: ordered reads, decode,
// artifact materialization and persistence.
type topicProcessor struct {
	store  *bag.Store
	gate   gateway.Gateway
	writer *frames.Writer
	bagID  int64
}

// processCamera extracts every decodable frame of a camera topic, writes
// them as JPEG files and persists the batch. Sequence numbers are 0-based
// over successfully decoded frames; the first decoded frame becomes the
// topic's cover image.
func (tp *topicProcessor) processCamera(ctx context.Context, desc *bag.TopicDescriptor, subProgress func(float64)) (*TopicOutcome, error) {
	stats, err := tp.store.Stats(ctx, desc.ID)
	if err != nil {
		return nil, err
	}

	outcome := newTopicOutcome(desc.Name)
	var records []gateway.FrameRecord
	coverPath := ""

	for msg, err := range tp.store.Messages(ctx, desc.ID) {
		if err != nil {
			return nil, err
		}

		index := outcome.Attempted
		outcome.Attempted++

		if index%subProgressInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if subProgress != nil && stats.MessageCount > 0 {
				subProgress(float64(index) / float64(stats.MessageCount))
			}
		}

		timestamp := float64(msg.Timestamp) / 1e9

		raster, err := codec.DecodeImage(desc.Type, msg.Data)
		if err != nil {
			if skippable(err) {
				outcome.recordSkip(index, err)
				slog.Debug("skipping frame", "topic", desc.Name, "index", index, "error", err)
				continue
			}
			return nil, err
		}

		frame, err := tp.writer.Write(desc.Name, timestamp, raster)
		if err != nil {
			if skippable(err) {
				outcome.recordSkip(index, err)
				slog.Debug("skipping frame", "topic", desc.Name, "index", index, "error", err)
				continue
			}
			return nil, err
		}

		if coverPath == "" {
			coverPath = frame.Path
		}
		records = append(records, gateway.FrameRecord{
			Timestamp:      timestamp,
			SequenceNumber: outcome.Decoded,
			FilePath:       frame.Path,
			Width:          frame.Width,
			Height:         frame.Height,
		})
		outcome.Decoded++
	}

	topicID, err := tp.gate.CreateTopic(ctx, tp.bagID, desc.Name, desc.Type,
		stats.MessageCount, stats.Frequency(), coverPath)
	if err != nil {
		return nil, fmt.Errorf("failed to persist topic %s: %w", desc.Name, err)
	}
	for i := range records {
		records[i].TopicID = topicID
	}
	if err := tp.gate.BulkInsertFrames(ctx, records); err != nil {
		return nil, fmt.Errorf("failed to persist frames for %s: %w", desc.Name, err)
	}

	slog.Info("processed camera topic", "topic", desc.Name,
		"messages", stats.MessageCount, "frames", outcome.Decoded,
		"skipped", outcome.Skipped.GetCardinality())
	return outcome, nil
}

// processPose decodes every pose message into a batch, skipping decode
// failures, and persists the batch plus the topic record.
func (tp *topicProcessor) processPose(ctx context.Context, desc *bag.TopicDescriptor) (*TopicOutcome, error) {
	stats, err := tp.store.Stats(ctx, desc.ID)
	if err != nil {
		return nil, err
	}

	outcome := newTopicOutcome(desc.Name)
	var records []gateway.PoseRecord

	for msg, err := range tp.store.Messages(ctx, desc.ID) {
		if err != nil {
			return nil, err
		}
		index := outcome.Attempted
		outcome.Attempted++

		sample, err := codec.DecodePose(msg.Data)
		if err != nil {
			if skippable(err) {
				outcome.recordSkip(index, err)
				continue
			}
			return nil, err
		}

		records = append(records, gateway.PoseRecord{
			BagID:     tp.bagID,
			Timestamp: float64(msg.Timestamp) / 1e9,
			X:         sample.Position.X,
			Y:         sample.Position.Y,
			Z:         sample.Position.Z,
			QX:        sample.Orientation.Imag,
			QY:        sample.Orientation.Jmag,
			QZ:        sample.Orientation.Kmag,
			QW:        sample.Orientation.Real,
		})
		outcome.Decoded++
	}

	if err := tp.gate.BulkInsertPoseSamples(ctx, records); err != nil {
		return nil, fmt.Errorf("failed to persist pose samples for %s: %w", desc.Name, err)
	}
	if _, err := tp.gate.CreateTopic(ctx, tp.bagID, desc.Name, desc.Type,
		stats.MessageCount, stats.Frequency(), ""); err != nil {
		return nil, fmt.Errorf("failed to persist topic %s: %w", desc.Name, err)
	}

	slog.Info("processed pose topic", "topic", desc.Name,
		"messages", stats.MessageCount, "samples", outcome.Decoded)
	return outcome, nil
}

// processImu is symmetric to processPose for inertial samples.
func (tp *topicProcessor) processImu(ctx context.Context, desc *bag.TopicDescriptor) (*TopicOutcome, error) {
	stats, err := tp.store.Stats(ctx, desc.ID)
	if err != nil {
		return nil, err
	}

	outcome := newTopicOutcome(desc.Name)
	var records []gateway.ImuRecord

	for msg, err := range tp.store.Messages(ctx, desc.ID) {
		if err != nil {
			return nil, err
		}
		index := outcome.Attempted
		outcome.Attempted++

		sample, err := codec.DecodeImu(msg.Data)
		if err != nil {
			if skippable(err) {
				outcome.recordSkip(index, err)
				continue
			}
			return nil, err
		}

		records = append(records, gateway.ImuRecord{
			BagID:     tp.bagID,
			Timestamp: float64(msg.Timestamp) / 1e9,
			AngularX:  sample.AngularVelocity.X,
			AngularY:  sample.AngularVelocity.Y,
			AngularZ:  sample.AngularVelocity.Z,
			LinearX:   sample.LinearAcceleration.X,
			LinearY:   sample.LinearAcceleration.Y,
			LinearZ:   sample.LinearAcceleration.Z,
		})
		outcome.Decoded++
	}

	if err := tp.gate.BulkInsertImuSamples(ctx, records); err != nil {
		return nil, fmt.Errorf("failed to persist imu samples for %s: %w", desc.Name, err)
	}
	if _, err := tp.gate.CreateTopic(ctx, tp.bagID, desc.Name, desc.Type,
		stats.MessageCount, stats.Frequency(), ""); err != nil {
		return nil, fmt.Errorf("failed to persist topic %s: %w", desc.Name, err)
	}

	slog.Info("processed imu topic", "topic", desc.Name,
		"messages", stats.MessageCount, "samples", outcome.Decoded)
	return outcome, nil
}

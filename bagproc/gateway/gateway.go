// Package gateway persists ingestion artifacts: bag bookkeeping, topic
// records and bulk sample batches. The pipeline only depends on the
// Gateway interface; each call is transactional on its own, with no
// cross-call atomicity required.
package gateway

import (
	"context"
	"time"

	"github.com/bagworks/bagproc/bagproc/bag"
)

// Bag is one registered recording.
type Bag struct {
	ID           int64
	Filename     string
	Filepath     string
	Size         int64
	Duration     float64
	StartTime    float64
	EndTime      float64
	MessageCount int64
	Processed    bool
	CreatedAt    time.Time
}

// FrameRecord is one persisted camera frame.
type FrameRecord struct {
	TopicID        int64
	Timestamp      float64 // seconds
	SequenceNumber int     // 0-based among decoded frames of the topic
	FilePath       string  // relative to the bag output root
	Width          int
	Height         int
}

// PoseRecord is one persisted pose sample.
type PoseRecord struct {
	BagID     int64
	Timestamp float64
	X, Y, Z   float64
	QX, QY    float64
	QZ, QW    float64
}

// ImuRecord is one persisted inertial sample.
type ImuRecord struct {
	BagID     int64
	Timestamp float64
	AngularX  float64
	AngularY  float64
	AngularZ  float64
	LinearX   float64
	LinearY   float64
	LinearZ   float64
}

// Gateway is the persistence collaborator of the ingestion pipeline. Bulk
// inserts are no-ops on empty batches.
type Gateway interface {
	CreateBag(ctx context.Context, filename, filepath string, size int64, meta *bag.BagMetadata) (int64, error)
	GetBag(ctx context.Context, bagID int64) (*Bag, error)
	UpdateBagProcessed(ctx context.Context, bagID int64, processed bool) error

	CreateTopic(ctx context.Context, bagID int64, name, messageType string,
		messageCount int64, frequency float64, coverImagePath string) (int64, error)

	BulkInsertFrames(ctx context.Context, records []FrameRecord) error
	BulkInsertPoseSamples(ctx context.Context, records []PoseRecord) error
	BulkInsertImuSamples(ctx context.Context, records []ImuRecord) error

	AssignTags(ctx context.Context, bagID int64, tagIDs []int64) error

	Close() error
}

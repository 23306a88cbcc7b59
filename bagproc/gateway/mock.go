package gateway

import (
	"context"
	"sync"

	"github.com/bagworks/bagproc/bagproc/bag"
)

// MockGateway is an in-memory Gateway for tests and dry runs.
type MockGateway struct {
	mu sync.Mutex

	Bags        map[int64]*Bag
	Topics      map[int64]MockTopic
	Frames      []FrameRecord
	Poses       []PoseRecord
	Imus        []ImuRecord
	TagsByBag   map[int64][]int64
	nextBagID   int64
	nextTopicID int64
}

// MockTopic captures the arguments of one CreateTopic call.
type MockTopic struct {
	BagID          int64
	Name           string
	MessageType    string
	MessageCount   int64
	Frequency      float64
	CoverImagePath string
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		Bags:      make(map[int64]*Bag),
		Topics:    make(map[int64]MockTopic),
		TagsByBag: make(map[int64][]int64),
	}
}

func (m *MockGateway) CreateBag(ctx context.Context, filename, filepath string, size int64, meta *bag.BagMetadata) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextBagID++
	m.Bags[m.nextBagID] = &Bag{
		ID:           m.nextBagID,
		Filename:     filename,
		Filepath:     filepath,
		Size:         size,
		Duration:     meta.Duration,
		StartTime:    meta.StartTime,
		EndTime:      meta.EndTime,
		MessageCount: meta.MessageCount,
	}
	return m.nextBagID, nil
}

func (m *MockGateway) GetBag(ctx context.Context, bagID int64) (*Bag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Bags[bagID]
	if !ok {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

func (m *MockGateway) UpdateBagProcessed(ctx context.Context, bagID int64, processed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.Bags[bagID]; ok {
		b.Processed = processed
	}
	return nil
}

func (m *MockGateway) CreateTopic(ctx context.Context, bagID int64, name, messageType string,
	messageCount int64, frequency float64, coverImagePath string,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTopicID++
	m.Topics[m.nextTopicID] = MockTopic{
		BagID:          bagID,
		Name:           name,
		MessageType:    messageType,
		MessageCount:   messageCount,
		Frequency:      frequency,
		CoverImagePath: coverImagePath,
	}
	return m.nextTopicID, nil
}

func (m *MockGateway) BulkInsertFrames(ctx context.Context, records []FrameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Frames = append(m.Frames, records...)
	return nil
}

func (m *MockGateway) BulkInsertPoseSamples(ctx context.Context, records []PoseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Poses = append(m.Poses, records...)
	return nil
}

func (m *MockGateway) BulkInsertImuSamples(ctx context.Context, records []ImuRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Imus = append(m.Imus, records...)
	return nil
}

func (m *MockGateway) AssignTags(ctx context.Context, bagID int64, tagIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TagsByBag[bagID] = append([]int64(nil), tagIDs...)
	return nil
}

func (m *MockGateway) Close() error {
	return nil
}

package bag

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/tursodatabase/go-libsql"
)

// Errors fatal to opening or reading a bag store.
var (
	ErrStoreNotFound = errors.New("bag store file not found")
	ErrConnection    = errors.New("bag store connection failed")
	ErrTopicNotFound = errors.New("topic not found in bag")
)

// TopicDescriptor is one topic's static identity inside a bag.
type TopicDescriptor struct {
	ID                  int64
	Name                string
	Type                string
	SerializationFormat string
}

// RawMessage is one stored message row: a nanosecond timestamp and the
// opaque serialized payload.
type RawMessage struct {
	TopicID   int64
	Timestamp int64
	Data      []byte
}

// TopicStats aggregates the stored rows of one topic.
type TopicStats struct {
	MessageCount int64
	FirstTime    int64 // nanoseconds
	LastTime     int64 // nanoseconds
}

// Frequency returns messages per second over the topic's time span.
// Topics with no span (zero or one message, or identical first/last
// timestamps) have frequency 0, never NaN or Inf.
func (s TopicStats) Frequency() float64 {
	duration := float64(s.LastTime-s.FirstTime) / 1e9
	if duration <= 0 {
		return 0
	}
	return float64(s.MessageCount) / duration
}

// BagMetadata summarizes a whole bag store.
type BagMetadata struct {
	Topics       []TopicDescriptor
	MessageCount int64
	StartTime    float64 // seconds
	EndTime      float64 // seconds
	Duration     float64 // seconds
}

// Store is an open connection to one bag's embedded relational store.
type Store struct {
	db   *sql.DB
	path string
}

// Open locates the store file inside a bag directory and connects to it.
// The file is addressed as <dirname>_0.db3, falling back to <dirname>.db3;
// absence of both is ErrStoreNotFound.
func Open(dir string) (*Store, error) {
	base := filepath.Base(filepath.Clean(dir))
	candidates := []string{
		filepath.Join(dir, base+"_0.db3"),
		filepath.Join(dir, base+".db3"),
	}

	var storePath string
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			storePath = candidate
			break
		}
	}
	if storePath == "" {
		return nil, fmt.Errorf("%w: no store file in %s", ErrStoreNotFound, dir)
	}

	db, err := sql.Open("libsql", "file:"+storePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	slog.Debug("opened bag store", "path", storePath)
	return &Store{db: db, path: storePath}, nil
}

// Path returns the resolved store file path.
func (s *Store) Path() string {
	return s.path
}

// ListTopics returns the descriptors of every topic recorded in the bag.
func (s *Store) ListTopics(ctx context.Context) ([]TopicDescriptor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, serialization_format FROM topics`)
	if err != nil {
		return nil, fmt.Errorf("failed to query topics: %w", err)
	}
	defer rows.Close()

	var topics []TopicDescriptor
	for rows.Next() {
		var t TopicDescriptor
		if err := rows.Scan(&t.ID, &t.Name, &t.Type, &t.SerializationFormat); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return topics, nil
}

// Topic returns the descriptor for a topic by name, or ErrTopicNotFound.
func (s *Store) Topic(ctx context.Context, name string) (*TopicDescriptor, error) {
	var t TopicDescriptor
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, serialization_format FROM topics WHERE name = ?`,
		name).Scan(&t.ID, &t.Name, &t.Type, &t.SerializationFormat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTopicNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query topic %s: %w", name, err)
	}
	return &t, nil
}

// Messages returns a lazy sequence of the topic's stored messages ordered
// by ascending timestamp. The sequence is forward-only but restartable:
// each range over it issues a fresh query.
func (s *Store) Messages(ctx context.Context, topicID int64) iter.Seq2[RawMessage, error] {
	return func(yield func(RawMessage, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT timestamp, data FROM messages WHERE topic_id = ? ORDER BY timestamp`,
			topicID)
		if err != nil {
			yield(RawMessage{}, fmt.Errorf("failed to query messages: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			msg := RawMessage{TopicID: topicID}
			if err := rows.Scan(&msg.Timestamp, &msg.Data); err != nil {
				yield(RawMessage{}, fmt.Errorf("failed to scan message: %w", err))
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(RawMessage{}, fmt.Errorf("row iteration error: %w", err))
		}
	}
}

// Stats returns the stored-row count and time span for one topic.
func (s *Store) Stats(ctx context.Context, topicID int64) (TopicStats, error) {
	var stats TopicStats
	var first, last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM messages WHERE topic_id = ?`,
		topicID).Scan(&stats.MessageCount, &first, &last)
	if err != nil {
		return TopicStats{}, fmt.Errorf("failed to query topic stats: %w", err)
	}
	stats.FirstTime = first.Int64
	stats.LastTime = last.Int64
	return stats, nil
}

// Metadata summarizes the bag: its topics, total message count and time span.
func (s *Store) Metadata(ctx context.Context) (*BagMetadata, error) {
	topics, err := s.ListTopics(ctx)
	if err != nil {
		return nil, err
	}

	var count int64
	var start, end sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM messages`).
		Scan(&count, &start, &end)
	if err != nil {
		return nil, fmt.Errorf("failed to query bag stats: %w", err)
	}

	meta := &BagMetadata{
		Topics:       topics,
		MessageCount: count,
		StartTime:    float64(start.Int64) / 1e9,
		EndTime:      float64(end.Int64) / 1e9,
	}
	meta.Duration = meta.EndTime - meta.StartTime
	return meta, nil
}

// Close closes the store connection.
func (s *Store) Close() error {
	return s.db.Close()
}

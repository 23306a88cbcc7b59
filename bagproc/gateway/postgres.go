package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/bagworks/bagproc/bagproc/bag"
)

// PostgresGateway implements Gateway against a Postgres database using
// COPY-based bulk inserts.
type PostgresGateway struct {
	db *sql.DB
}

// NewPostgresGateway connects to Postgres and ensures the schema exists.
func NewPostgresGateway(dsn string) (*PostgresGateway, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open gateway connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach gateway database: %w", err)
	}

	g := &PostgresGateway{db: db}
	if err := g.init(); err != nil {
		db.Close()
		return nil, err
	}
	return g, nil
}

func (g *PostgresGateway) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS bags (
			id BIGSERIAL PRIMARY KEY,
			filename TEXT NOT NULL,
			filepath TEXT NOT NULL,
			size BIGINT,
			duration DOUBLE PRECISION,
			start_time DOUBLE PRECISION,
			end_time DOUBLE PRECISION,
			message_count BIGINT,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS topics (
			id BIGSERIAL PRIMARY KEY,
			bag_id BIGINT REFERENCES bags(id),
			name TEXT NOT NULL,
			message_type TEXT,
			message_count BIGINT,
			frequency DOUBLE PRECISION,
			cover_image_path TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS frames (
			id BIGSERIAL PRIMARY KEY,
			topic_id BIGINT REFERENCES topics(id),
			timestamp DOUBLE PRECISION,
			sequence_number INTEGER,
			file_path TEXT,
			width INTEGER,
			height INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS pose_data (
			id BIGSERIAL PRIMARY KEY,
			bag_id BIGINT REFERENCES bags(id),
			timestamp DOUBLE PRECISION,
			x DOUBLE PRECISION, y DOUBLE PRECISION, z DOUBLE PRECISION,
			qx DOUBLE PRECISION, qy DOUBLE PRECISION,
			qz DOUBLE PRECISION, qw DOUBLE PRECISION
		)`,
		`CREATE TABLE IF NOT EXISTS imu_data (
			id BIGSERIAL PRIMARY KEY,
			bag_id BIGINT REFERENCES bags(id),
			timestamp DOUBLE PRECISION,
			angular_x DOUBLE PRECISION, angular_y DOUBLE PRECISION, angular_z DOUBLE PRECISION,
			linear_x DOUBLE PRECISION, linear_y DOUBLE PRECISION, linear_z DOUBLE PRECISION
		)`,
		`CREATE TABLE IF NOT EXISTS tags (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT,
			color TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS bag_tags (
			bag_id BIGINT REFERENCES bags(id),
			tag_id BIGINT REFERENCES tags(id),
			PRIMARY KEY (bag_id, tag_id)
		)`,
	}
	for _, stmt := range schema {
		if _, err := g.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (g *PostgresGateway) CreateBag(ctx context.Context, filename, filepath string, size int64, meta *bag.BagMetadata) (int64, error) {
	var id int64
	err := g.db.QueryRowContext(ctx,
		`INSERT INTO bags (filename, filepath, size, duration, start_time, end_time, message_count, processed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		 RETURNING id`,
		filename, filepath, size, meta.Duration, meta.StartTime, meta.EndTime, meta.MessageCount).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert bag: %w", err)
	}
	return id, nil
}

func (g *PostgresGateway) GetBag(ctx context.Context, bagID int64) (*Bag, error) {
	var b Bag
	err := g.db.QueryRowContext(ctx,
		`SELECT id, filename, filepath, size, duration, start_time, end_time, message_count, processed, created_at
		 FROM bags WHERE id = $1`, bagID).
		Scan(&b.ID, &b.Filename, &b.Filepath, &b.Size, &b.Duration,
			&b.StartTime, &b.EndTime, &b.MessageCount, &b.Processed, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bag %d: %w", bagID, err)
	}
	return &b, nil
}

func (g *PostgresGateway) UpdateBagProcessed(ctx context.Context, bagID int64, processed bool) error {
	_, err := g.db.ExecContext(ctx,
		`UPDATE bags SET processed = $1 WHERE id = $2`, processed, bagID)
	if err != nil {
		return fmt.Errorf("failed to update bag %d: %w", bagID, err)
	}
	return nil
}

func (g *PostgresGateway) CreateTopic(ctx context.Context, bagID int64, name, messageType string,
	messageCount int64, frequency float64, coverImagePath string,
) (int64, error) {
	var cover sql.NullString
	if coverImagePath != "" {
		cover = sql.NullString{String: coverImagePath, Valid: true}
	}

	var id int64
	err := g.db.QueryRowContext(ctx,
		`INSERT INTO topics (bag_id, name, message_type, message_count, frequency, cover_image_path)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		bagID, name, messageType, messageCount, frequency, cover).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert topic %s: %w", name, err)
	}
	return id, nil
}

// copyBatch streams rows into a table via COPY inside one transaction.
func (g *PostgresGateway) copyBatch(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback() // Will be a no-op if transaction is committed

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return fmt.Errorf("failed to prepare copy into %s: %w", table, err)
	}
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to queue row for %s: %w", table, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush copy into %s: %w", table, err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy into %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	slog.Debug("batch persisted", "table", table, "rows", len(rows))
	return nil
}

func (g *PostgresGateway) BulkInsertFrames(ctx context.Context, records []FrameRecord) error {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.TopicID, r.Timestamp, r.SequenceNumber, r.FilePath, r.Width, r.Height}
	}
	return g.copyBatch(ctx, "frames",
		[]string{"topic_id", "timestamp", "sequence_number", "file_path", "width", "height"}, rows)
}

func (g *PostgresGateway) BulkInsertPoseSamples(ctx context.Context, records []PoseRecord) error {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.BagID, r.Timestamp, r.X, r.Y, r.Z, r.QX, r.QY, r.QZ, r.QW}
	}
	return g.copyBatch(ctx, "pose_data",
		[]string{"bag_id", "timestamp", "x", "y", "z", "qx", "qy", "qz", "qw"}, rows)
}

func (g *PostgresGateway) BulkInsertImuSamples(ctx context.Context, records []ImuRecord) error {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.BagID, r.Timestamp, r.AngularX, r.AngularY, r.AngularZ, r.LinearX, r.LinearY, r.LinearZ}
	}
	return g.copyBatch(ctx, "imu_data",
		[]string{"bag_id", "timestamp", "angular_x", "angular_y", "angular_z", "linear_x", "linear_y", "linear_z"}, rows)
}

func (g *PostgresGateway) AssignTags(ctx context.Context, bagID int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tag transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bag_tags WHERE bag_id = $1`, bagID); err != nil {
		return fmt.Errorf("failed to clear tags for bag %d: %w", bagID, err)
	}
	for _, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bag_tags (bag_id, tag_id) VALUES ($1, $2)`, bagID, tagID); err != nil {
			return fmt.Errorf("failed to assign tag %d to bag %d: %w", tagID, bagID, err)
		}
	}
	return tx.Commit()
}

func (g *PostgresGateway) Close() error {
	return g.db.Close()
}

package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/fullscreen-triangle/morphine/internal/wire"
)

// TombstoneSink persists a stream's final Summary when it is cleaned up,
// so a stream's aggregate history survives past Cleanup/Sweep. Rows
// are upserted by stream_id; the schema is created idempotently on
// open.
type TombstoneSink struct {
	db *sql.DB
}

// OpenTombstoneSink opens (creating if necessary) a SQLite database at
// path and ensures its schema exists.
func OpenTombstoneSink(path string) (*TombstoneSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open tombstone db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS stream_tombstones (
			stream_id           TEXT PRIMARY KEY,
			total_frames        INTEGER,
			total_detections    INTEGER,
			avg_processing_time DOUBLE,
			detection_rate      DOUBLE,
			pose_rate           DOUBLE,
			error_rate          DOUBLE,
			avg_fps             DOUBLE,
			max_speed           DOUBLE,
			p95_speed           DOUBLE,
			started_at          DOUBLE,
			ended_at            DOUBLE
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create tombstone schema: %w", err)
	}

	return &TombstoneSink{db: db}, nil
}

// Close releases the underlying database handle.
func (t *TombstoneSink) Close() error {
	return t.db.Close()
}

// Put upserts sum as the tombstone record for its stream_id.
func (t *TombstoneSink) Put(sum wire.Summary) error {
	_, err := t.db.Exec(`
		INSERT INTO stream_tombstones (
			stream_id, total_frames, total_detections, avg_processing_time,
			detection_rate, pose_rate, error_rate, avg_fps, max_speed,
			p95_speed, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stream_id) DO UPDATE SET
			total_frames        = excluded.total_frames,
			total_detections    = excluded.total_detections,
			avg_processing_time = excluded.avg_processing_time,
			detection_rate      = excluded.detection_rate,
			pose_rate           = excluded.pose_rate,
			error_rate          = excluded.error_rate,
			avg_fps             = excluded.avg_fps,
			max_speed           = excluded.max_speed,
			p95_speed           = excluded.p95_speed,
			started_at          = excluded.started_at,
			ended_at            = excluded.ended_at
	`,
		sum.StreamID, sum.TotalFrames, sum.TotalDetections, sum.AvgProcessingTime,
		sum.DetectionRate, sum.PoseRate, sum.ErrorRate, sum.AvgFPS, sum.MaxSpeed,
		sum.P95Speed, sum.StartedAt, sum.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("put tombstone: %w", err)
	}
	return nil
}

// Get returns the tombstoned summary for streamID, or sql.ErrNoRows if
// none was ever recorded.
func (t *TombstoneSink) Get(streamID string) (wire.Summary, error) {
	var sum wire.Summary
	sum.StreamID = streamID
	row := t.db.QueryRow(`
		SELECT total_frames, total_detections, avg_processing_time,
		       detection_rate, pose_rate, error_rate, avg_fps, max_speed,
		       p95_speed, started_at, ended_at
		FROM stream_tombstones WHERE stream_id = ?
	`, streamID)
	err := row.Scan(
		&sum.TotalFrames, &sum.TotalDetections, &sum.AvgProcessingTime,
		&sum.DetectionRate, &sum.PoseRate, &sum.ErrorRate, &sum.AvgFPS,
		&sum.MaxSpeed, &sum.P95Speed, &sum.StartedAt, &sum.EndedAt,
	)
	if err != nil {
		return wire.Summary{}, err
	}
	sum.Status = "inactive"
	return sum, nil
}

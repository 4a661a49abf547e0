package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository reads and writes the ledger.
type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run, videos []Video) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	ListVideos(ctx context.Context, runID string) ([]Video, error)
	CountRuns(ctx context.Context, status string) (int, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, input, model, command, frames_json, videos_json, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Mode, run.Input, run.Model, nullString(run.Command), nullString(run.FramesJSON),
		nullString(run.VideosJSON), run.Status, run.StartedAt.UTC().Format(time.RFC3339))
	return err
}

// FinishRun stores the run's final state and its videos in one transaction.
func (r *SQLiteRepository) FinishRun(ctx context.Context, run *Run, videos []Video) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var finished sql.NullString
	if run.FinishedAt != nil {
		finished = sql.NullString{String: run.FinishedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE runs SET status = ?, succeeded = ?, failed = ?, condition = ?, error = ?,
			frames_json = ?, videos_json = ?, finished_at = ?
		WHERE id = ?
	`, run.Status, run.Succeeded, run.Failed, nullString(run.Condition), nullString(run.Error),
		nullString(run.FramesJSON), nullString(run.VideosJSON), finished, run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}

	for _, v := range videos {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO video_jobs (run_id, video_path, rel_path, frame_count, fps, state, output_video, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, v.Path, nullString(v.RelPath), v.FrameCount, v.FPS, v.State,
			nullString(v.OutputVideo), nullString(v.Error)); err != nil {
			return fmt.Errorf("insert video: %w", err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, mode, input, model, command, frames_json, videos_json, status,
	succeeded, failed, condition, error, started_at, finished_at`

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRepository) ListVideos(ctx context.Context, runID string) ([]Video, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, video_path, rel_path, frame_count, fps, state, output_video, error
		FROM video_jobs WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []Video
	for rows.Next() {
		var v Video
		var rel, out, errMsg sql.NullString
		if err := rows.Scan(&v.RunID, &v.Path, &rel, &v.FrameCount, &v.FPS, &v.State, &out, &errMsg); err != nil {
			return nil, err
		}
		v.RelPath = rel.String
		v.OutputVideo = out.String
		v.Error = errMsg.String
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (r *SQLiteRepository) CountRuns(ctx context.Context, status string) (int, error) {
	var count int
	var err error
	if status == "" {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&count)
	} else {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE status = ?`, status).Scan(&count)
	}
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var command, framesJSON, videosJSON, condition, errMsg, finished sql.NullString
	var started string

	if err := s.Scan(&run.ID, &run.Mode, &run.Input, &run.Model, &command, &framesJSON, &videosJSON,
		&run.Status, &run.Succeeded, &run.Failed, &condition, &errMsg, &started, &finished); err != nil {
		return nil, err
	}

	run.Command = command.String
	run.FramesJSON = framesJSON.String
	run.VideosJSON = videosJSON.String
	run.Condition = condition.String
	run.Error = errMsg.String
	run.StartedAt, _ = time.Parse(time.RFC3339, started)
	if finished.Valid {
		t, err := time.Parse(time.RFC3339, finished.String)
		if err == nil {
			run.FinishedAt = &t
		}
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bobarin/framecast/internal/models"
)

const exportJobColumns = `
	session_id, job_id, total_frames, fps, audio_path, status,
	progress_percent, result_handle, error_message, created_at, updated_at`

func (db *DB) CreateExportJob(ctx context.Context, job *models.ExportJob) error {
	query := `
		INSERT INTO export_jobs (session_id, audio_path, status)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(ctx, query, job.SessionID, job.AudioPath, job.Status).
		Scan(&job.CreatedAt, &job.UpdatedAt)
}

// GetExportJobBySession looks a job up by its upload session.
func (db *DB) GetExportJobBySession(ctx context.Context, sessionID uuid.UUID) (*models.ExportJob, error) {
	return db.getExportJob(ctx, "session_id", sessionID)
}

// GetExportJob looks a job up by the id handed out at finalize.
func (db *DB) GetExportJob(ctx context.Context, jobID uuid.UUID) (*models.ExportJob, error) {
	return db.getExportJob(ctx, "job_id", jobID)
}

func (db *DB) getExportJob(ctx context.Context, column string, id uuid.UUID) (*models.ExportJob, error) {
	query := `SELECT` + exportJobColumns + ` FROM export_jobs WHERE ` + column + ` = $1`

	job := &models.ExportJob{}
	var jobID uuid.NullUUID
	err := db.QueryRowContext(ctx, query, id).Scan(
		&job.SessionID, &jobID, &job.TotalFrames, &job.FPS, &job.AudioPath,
		&job.Status, &job.ProgressPercent, &job.ResultHandle, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("export job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export job: %w", err)
	}
	if jobID.Valid {
		job.JobID = &jobID.UUID
	}
	return job, nil
}

// MarkRendering moves a queued session to rendering on its first chunk.
func (db *DB) MarkRendering(ctx context.Context, sessionID uuid.UUID) error {
	query := `
		UPDATE export_jobs
		SET status = $1, updated_at = now()
		WHERE session_id = $2 AND status = $3
	`
	_, err := db.ExecContext(ctx, query, models.JobStatusRendering, sessionID, models.JobStatusQueued)
	return err
}

// FinalizeExportJob assigns the job id and frame parameters. It fails with
// ErrNotFound when the session is unknown or was already finalized.
func (db *DB) FinalizeExportJob(ctx context.Context, sessionID, jobID uuid.UUID, fps, totalFrames int) error {
	query := `
		UPDATE export_jobs
		SET job_id = $1, fps = $2, total_frames = $3, status = $4,
			progress_percent = 0, updated_at = now()
		WHERE session_id = $5 AND job_id IS NULL
	`
	res, err := db.ExecContext(ctx, query, jobID, fps, totalFrames, models.JobStatusQueued, sessionID)
	if err != nil {
		return fmt.Errorf("failed to finalize export job: %w", err)
	}
	return expectOne(res, sessionID)
}

func (db *DB) UpdateExportProgress(ctx context.Context, jobID uuid.UUID, status models.JobStatus, progress float64) error {
	query := `
		UPDATE export_jobs
		SET status = $1, progress_percent = $2, updated_at = now()
		WHERE job_id = $3
	`
	_, err := db.ExecContext(ctx, query, status, progress, jobID)
	return err
}

func (db *DB) CompleteExportJob(ctx context.Context, jobID uuid.UUID, resultHandle string) error {
	query := `
		UPDATE export_jobs
		SET status = $1, progress_percent = 100, result_handle = $2, updated_at = now()
		WHERE job_id = $3
	`
	res, err := db.ExecContext(ctx, query, models.JobStatusComplete, resultHandle, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete export job: %w", err)
	}
	return expectOne(res, jobID)
}

func (db *DB) FailExportJob(ctx context.Context, jobID uuid.UUID, errorMessage string) error {
	query := `
		UPDATE export_jobs
		SET status = $1, error_message = $2, updated_at = now()
		WHERE job_id = $3
	`
	_, err := db.ExecContext(ctx, query, models.JobStatusFailed, errorMessage, jobID)
	return err
}

func expectOne(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("export job %s: %w", id, ErrNotFound)
	}
	return nil
}

// Package storage implements the Postgres persistence layer backing C6
// (fingerprints) and C10 (job status, global speakers, transcript
// segments). Grounded on the teacher's storage.StorageManager: sql.Open over
// lib/pq, an initSchema() that runs idempotent CREATE TABLE IF NOT EXISTS
// statements followed by a separate slice of CREATE INDEX IF NOT EXISTS
// statements, and upserts via ON CONFLICT ... DO UPDATE SET.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/meridianvoice/transcribe-worker/internal/errs"
	"github.com/meridianvoice/transcribe-worker/internal/models"
)

// Manager owns the Postgres connection pool and every table under the
// transcribe schema (§3.1).
type Manager struct {
	db *sql.DB
}

// New opens the Postgres connection and ensures the schema exists.
func New(postgresURL string) (*Manager, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, errs.New("storage.New", errs.Fatal, fmt.Errorf("opening postgres connection: %w", err))
	}
	if err := db.Ping(); err != nil {
		return nil, errs.New("storage.New", errs.Transient, fmt.Errorf("pinging postgres: %w", err))
	}

	m := &Manager{db: db}
	if err := m.initSchema(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) Close() error { return m.db.Close() }

var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS transcribe`,
	`CREATE TABLE IF NOT EXISTS transcribe.jobs (
		job_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		audio_id TEXT NOT NULL,
		status TEXT NOT NULL,
		progress DOUBLE PRECISION NOT NULL DEFAULT 0,
		status_message TEXT NOT NULL DEFAULT '',
		processed_chunks INTEGER NOT NULL DEFAULT 0,
		total_chunks INTEGER NOT NULL DEFAULT 0,
		config JSONB NOT NULL DEFAULT '{}',
		result JSONB,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transcribe.user_fingerprints (
		user_id TEXT PRIMARY KEY,
		embedding JSONB NOT NULL,
		quality_score DOUBLE PRECISION NOT NULL,
		audio_count INTEGER NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transcribe.global_speakers (
		job_id TEXT NOT NULL REFERENCES transcribe.jobs(job_id) ON DELETE CASCADE,
		global_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		representative_embedding JSONB,
		confidence DOUBLE PRECISION NOT NULL,
		segment_count INTEGER NOT NULL,
		PRIMARY KEY (job_id, global_id)
	)`,
	`CREATE TABLE IF NOT EXISTS transcribe.transcript_segments (
		job_id TEXT NOT NULL REFERENCES transcribe.jobs(job_id) ON DELETE CASCADE,
		segment_index INTEGER NOT NULL,
		start_sec DOUBLE PRECISION NOT NULL,
		end_sec DOUBLE PRECISION NOT NULL,
		text TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		global_speaker_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		word_timestamps JSONB,
		PRIMARY KEY (job_id, segment_index)
	)`,
}

var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_jobs_user_audio ON transcribe.jobs (user_id, audio_id)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON transcribe.jobs (status)`,
	`CREATE INDEX IF NOT EXISTS idx_segments_job ON transcribe.transcript_segments (job_id, start_sec)`,
}

func (m *Manager) initSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := m.db.Exec(stmt); err != nil {
			return errs.New("storage.initSchema", errs.Fatal, fmt.Errorf("executing schema statement: %w", err))
		}
	}
	for _, stmt := range indexStatements {
		if _, err := m.db.Exec(stmt); err != nil {
			return errs.New("storage.initSchema", errs.Fatal, fmt.Errorf("executing index statement: %w", err))
		}
	}
	return nil
}

// StoreJob creates or refreshes a job's row, carrying its (possibly
// updated) config and resetting per-run counters.
func (m *Manager) StoreJob(ctx context.Context, jobID string, job models.AudioJob) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return errs.New("storage.StoreJob", errs.Fatal, err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO transcribe.jobs (job_id, user_id, audio_id, status, progress, status_message, processed_chunks, total_chunks, config, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			status_message = EXCLUDED.status_message,
			processed_chunks = EXCLUDED.processed_chunks,
			total_chunks = EXCLUDED.total_chunks,
			config = EXCLUDED.config,
			updated_at = now()
	`, jobID, job.UserID, job.AudioID, job.Status, job.Progress, job.StatusMessage, job.ProcessedChunks, job.TotalChunks, cfg)
	if err != nil {
		return errs.New("storage.StoreJob", errs.Transient, fmt.Errorf("upserting job: %w", err))
	}
	return nil
}

// UpdateJobStatus transitions a job's status and, for the error path,
// records the failure message (§4.10).
func (m *Manager) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, progress float64, message string, errMessage string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE transcribe.jobs
		SET status = $2, progress = $3, status_message = $4, error_message = NULLIF($5, ''), updated_at = now()
		WHERE job_id = $1
	`, jobID, status, progress, message, errMessage)
	if err != nil {
		return errs.New("storage.UpdateJobStatus", errs.Transient, fmt.Errorf("updating job status: %w", err))
	}
	return nil
}

// StoreResult persists the final global speakers and merged transcript
// segments for a completed job, inside one transaction.
func (m *Manager) StoreResult(ctx context.Context, jobID string, speakers []models.GlobalSpeaker, result models.MergeResult) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.New("storage.StoreResult", errs.Transient, fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	for _, s := range speakers {
		embedding, err := json.Marshal(s.RepresentativeEmbedding)
		if err != nil {
			return errs.New("storage.StoreResult", errs.Fatal, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transcribe.global_speakers (job_id, global_id, display_name, representative_embedding, confidence, segment_count)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (job_id, global_id) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				representative_embedding = EXCLUDED.representative_embedding,
				confidence = EXCLUDED.confidence,
				segment_count = EXCLUDED.segment_count
		`, jobID, s.GlobalID, s.DisplayName, embedding, s.Confidence, s.SegmentCount); err != nil {
			return errs.New("storage.StoreResult", errs.Transient, fmt.Errorf("upserting global speaker: %w", err))
		}
	}

	for i, seg := range result.Segments {
		words, err := json.Marshal(seg.WordTimestamps)
		if err != nil {
			return errs.New("storage.StoreResult", errs.Fatal, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transcribe.transcript_segments (job_id, segment_index, start_sec, end_sec, text, confidence, global_speaker_id, provider, word_timestamps)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (job_id, segment_index) DO UPDATE SET
				start_sec = EXCLUDED.start_sec,
				end_sec = EXCLUDED.end_sec,
				text = EXCLUDED.text,
				confidence = EXCLUDED.confidence,
				global_speaker_id = EXCLUDED.global_speaker_id,
				provider = EXCLUDED.provider,
				word_timestamps = EXCLUDED.word_timestamps
		`, jobID, i, seg.StartSec, seg.EndSec, seg.Text, seg.Confidence, seg.GlobalSpeakerID, seg.Provider, words); err != nil {
			return errs.New("storage.StoreResult", errs.Transient, fmt.Errorf("upserting transcript segment: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.New("storage.StoreResult", errs.Transient, fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// Get implements fingerprint.Store.
func (m *Manager) Get(ctx context.Context, userID string) (models.Fingerprint, bool, error) {
	var (
		embeddingJSON []byte
		fp            models.Fingerprint
	)
	row := m.db.QueryRowContext(ctx, `
		SELECT embedding, quality_score, audio_count, updated_at
		FROM transcribe.user_fingerprints WHERE user_id = $1
	`, userID)
	if err := row.Scan(&embeddingJSON, &fp.QualityScore, &fp.AudioCount, &fp.LastUpdated); err != nil {
		if err == sql.ErrNoRows {
			return models.Fingerprint{}, false, nil
		}
		return models.Fingerprint{}, false, errs.New("storage.Get", errs.Transient, fmt.Errorf("querying fingerprint: %w", err))
	}
	if err := json.Unmarshal(embeddingJSON, &fp.Embedding); err != nil {
		return models.Fingerprint{}, false, errs.New("storage.Get", errs.Fatal, err)
	}
	return fp, true, nil
}

// Put implements fingerprint.Store.
func (m *Manager) Put(ctx context.Context, userID string, fp models.Fingerprint) error {
	embedding, err := json.Marshal(fp.Embedding)
	if err != nil {
		return errs.New("storage.Put", errs.Fatal, err)
	}
	if fp.LastUpdated.IsZero() {
		fp.LastUpdated = time.Now()
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO transcribe.user_fingerprints (user_id, embedding, quality_score, audio_count, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			quality_score = EXCLUDED.quality_score,
			audio_count = EXCLUDED.audio_count,
			updated_at = EXCLUDED.updated_at
	`, userID, embedding, fp.QualityScore, fp.AudioCount, fp.LastUpdated)
	if err != nil {
		return errs.New("storage.Put", errs.Transient, fmt.Errorf("upserting fingerprint: %w", err))
	}
	return nil
}

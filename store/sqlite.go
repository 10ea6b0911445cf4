// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore implements the Store interface on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite result database at the given path.
// A blank path opens an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open result database: %w", err)
	}
	// Sequential writers only; a single connection keeps in-memory databases coherent.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS models (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			endpoint TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			no_tool_support INTEGER NOT NULL DEFAULT 0,
			function_score REAL NOT NULL DEFAULT 0,
			writer_score REAL NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS test_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_id TEXT NOT NULL,
			group_name TEXT NOT NULL,
			work_folder TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			passed INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS test_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES test_runs(id),
			number INTEGER NOT NULL,
			name TEXT NOT NULL,
			input TEXT NOT NULL DEFAULT '',
			output TEXT NOT NULL DEFAULT '',
			passed INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS test_assets (
			id TEXT PRIMARY KEY,
			step_id INTEGER NOT NULL REFERENCES test_steps(id),
			kind TEXT NOT NULL,
			path TEXT NOT NULL DEFAULT '',
			linked_entity_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS story_evaluations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			story_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			total INTEGER NOT NULL DEFAULT 0,
			breakdown TEXT NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_model_group ON test_runs(model_id, group_name)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_run ON test_steps(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assets_step ON test_assets(step_id)`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_story ON story_evaluations(story_id)`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_model ON story_evaluations(model_id)`,
	}
	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return fmt.Errorf("failed to initialize result database: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) SyncModels(ctx context.Context, models []ModelRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, model := range models {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO models (id, provider, endpoint, enabled) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET provider = excluded.provider, endpoint = excluded.endpoint, enabled = excluded.enabled`,
			model.ID, model.Provider, model.Endpoint, boolToInt(model.Enabled)); err != nil {
			return fmt.Errorf("failed to sync model '%s': %w", model.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetEnabledModels(ctx context.Context) ([]ModelRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, endpoint, enabled, no_tool_support, function_score, writer_score
		FROM models WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer rows.Close()

	var models []ModelRecord
	for rows.Next() {
		model, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, model)
	}
	return models, rows.Err()
}

func (s *SQLiteStore) GetModel(ctx context.Context, id string) (ModelRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, endpoint, enabled, no_tool_support, function_score, writer_score
		FROM models WHERE id = ?`, id)
	model, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model, fmt.Errorf("%w: model '%s'", ErrNotFound, id)
	}
	return model, err
}

func (s *SQLiteStore) MarkNoToolSupport(ctx context.Context, modelID string) error {
	return s.execOnModel(ctx, modelID, `UPDATE models SET no_tool_support = 1 WHERE id = ?`)
}

func (s *SQLiteStore) ClearNoToolSupport(ctx context.Context, modelID string) error {
	return s.execOnModel(ctx, modelID, `UPDATE models SET no_tool_support = 0 WHERE id = ?`)
}

func (s *SQLiteStore) UpdateFunctionScore(ctx context.Context, modelID string, score float64) error {
	return s.execOnModel(ctx, modelID, `UPDATE models SET function_score = ? WHERE id = ?`, score)
}

func (s *SQLiteStore) UpdateWriterScore(ctx context.Context, modelID string, score float64) error {
	return s.execOnModel(ctx, modelID, `UPDATE models SET writer_score = ? WHERE id = ?`, score)
}

// execOnModel runs an update statement whose last placeholder is the model id.
func (s *SQLiteStore) execOnModel(ctx context.Context, modelID string, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, append(args, modelID)...)
	if err != nil {
		return fmt.Errorf("failed to update model '%s': %w", modelID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: model '%s'", ErrNotFound, modelID)
	}
	return nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, modelID string, group string, workFolder string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO test_runs (model_id, group_name, work_folder, started_at) VALUES (?, ?, ?, ?)`,
		modelID, group, workFolder, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to create run: %w", err)
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID int64, passed bool, durationMS int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE test_runs SET passed = ?, duration_ms = ?, finished_at = ? WHERE id = ?`,
		boolToInt(passed), durationMS, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to finalize run %d: %w", runID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: run %d", ErrNotFound, runID)
	}
	return nil
}

func (s *SQLiteStore) LatestRun(ctx context.Context, modelID string, group string) (TestRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, model_id, group_name, work_folder, started_at, finished_at, passed, duration_ms, notes
		FROM test_runs WHERE model_id = ? AND group_name = ? ORDER BY id DESC LIMIT 1`, modelID, group)

	var run TestRun
	var passed int
	// finished_at is selected raw and defaulted in Go: a COALESCE expression
	// carries no declared column type, so the driver would return TEXT.
	var finishedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.ModelID, &run.Group, &run.WorkFolder, &run.StartedAt, &finishedAt, &passed, &run.DurationMS, &run.Notes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, fmt.Errorf("%w: no runs for model '%s' group '%s'", ErrNotFound, modelID, group)
		}
		return run, fmt.Errorf("failed to query latest run: %w", err)
	}
	run.Passed = passed != 0
	run.FinishedAt = run.StartedAt
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return run, nil
}

func (s *SQLiteStore) ModelGroups(ctx context.Context, modelID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT group_name FROM test_runs WHERE model_id = ? ORDER BY group_name`, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query model groups: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var group string
		if err := rows.Scan(&group); err != nil {
			return nil, fmt.Errorf("failed to scan group name: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

func (s *SQLiteStore) AddStep(ctx context.Context, runID int64, number int, name string, input string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO test_steps (run_id, number, name, input) VALUES (?, ?, ?, ?)`,
		runID, number, name, input)
	if err != nil {
		return 0, fmt.Errorf("failed to add step: %w", err)
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateStepResult(ctx context.Context, stepID int64, passed bool, output string, errText string, durationMS int64) error {
	var errValue sql.NullString
	if errText != "" {
		errValue = sql.NullString{String: errText, Valid: true}
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE test_steps SET passed = ?, output = ?, error = ?, duration_ms = ? WHERE id = ?`,
		boolToInt(passed), output, errValue, durationMS, stepID)
	if err != nil {
		return fmt.Errorf("failed to update step %d: %w", stepID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: step %d", ErrNotFound, stepID)
	}
	return nil
}

func (s *SQLiteStore) RunSteps(ctx context.Context, runID int64) ([]TestStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, number, name, input, output, passed, COALESCE(error, ''), duration_ms
		FROM test_steps WHERE run_id = ? ORDER BY number`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run steps: %w", err)
	}
	defer rows.Close()

	var steps []TestStep
	for rows.Next() {
		var step TestStep
		var passed int
		if err := rows.Scan(&step.ID, &step.RunID, &step.Number, &step.Name, &step.Input, &step.Output, &passed, &step.Error, &step.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.Passed = passed != 0
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *SQLiteStore) AddAsset(ctx context.Context, asset TestAsset) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO test_assets (id, step_id, kind, path, linked_entity_id) VALUES (?, ?, ?, ?, ?)`,
		asset.ID, asset.StepID, asset.Kind, asset.Path, asset.LinkedEntityID); err != nil {
		return fmt.Errorf("failed to add asset: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StepAssets(ctx context.Context, stepID int64) ([]TestAsset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, step_id, kind, path, linked_entity_id FROM test_assets WHERE step_id = ?`, stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step assets: %w", err)
	}
	defer rows.Close()

	var assets []TestAsset
	for rows.Next() {
		var asset TestAsset
		if err := rows.Scan(&asset.ID, &asset.StepID, &asset.Kind, &asset.Path, &asset.LinkedEntityID); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func (s *SQLiteStore) AddStoryEvaluation(ctx context.Context, eval StoryEvaluation) error {
	breakdown, err := json.Marshal(eval.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation breakdown: %w", err)
	}
	createdAt := eval.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO story_evaluations (story_id, model_id, agent_id, total, breakdown, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		eval.StoryID, eval.ModelID, eval.AgentID, eval.Total, string(breakdown), eval.Error, createdAt); err != nil {
		return fmt.Errorf("failed to add story evaluation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StoryEvaluationsByStory(ctx context.Context, storyID string) ([]StoryEvaluation, error) {
	return s.queryEvaluations(ctx, `WHERE story_id = ?`, storyID)
}

func (s *SQLiteStore) StoryEvaluationsByModel(ctx context.Context, modelID string) ([]StoryEvaluation, error) {
	return s.queryEvaluations(ctx, `WHERE model_id = ?`, modelID)
}

func (s *SQLiteStore) queryEvaluations(ctx context.Context, where string, arg interface{}) ([]StoryEvaluation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, story_id, model_id, agent_id, total, breakdown, error, created_at
		FROM story_evaluations `+where+` ORDER BY id`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query story evaluations: %w", err)
	}
	defer rows.Close()

	var evals []StoryEvaluation
	for rows.Next() {
		var eval StoryEvaluation
		var breakdown string
		if err := rows.Scan(&eval.ID, &eval.StoryID, &eval.ModelID, &eval.AgentID, &eval.Total, &breakdown, &eval.Error, &eval.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan story evaluation: %w", err)
		}
		if err := json.Unmarshal([]byte(breakdown), &eval.Breakdown); err != nil {
			return nil, fmt.Errorf("failed to decode evaluation breakdown: %w", err)
		}
		evals = append(evals, eval)
	}
	return evals, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanModel(row interface{ Scan(...interface{}) error }) (ModelRecord, error) {
	var model ModelRecord
	var enabled, noTools int
	if err := row.Scan(&model.ID, &model.Provider, &model.Endpoint, &enabled, &noTools, &model.FunctionScore, &model.WriterScore); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model, err
		}
		return model, fmt.Errorf("failed to scan model: %w", err)
	}
	model.Enabled = enabled != 0
	model.NoToolSupport = noTools != 0
	return model, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

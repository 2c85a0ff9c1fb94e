// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kadirpekel/accord/pkg/config"

	// Database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Archive persists terminal sessions to SQL for later inspection.
// Supports PostgreSQL, MySQL, and SQLite via database/sql. Archival is
// best-effort: live sessions are never read back into the engine.
type Archive struct {
	db      *sql.DB
	dialect string // "postgres", "mysql", or "sqlite"
}

// archiveRow is the database shape of a session snapshot.
type archiveRow struct {
	ID               string
	ParentID         sql.NullString
	Status           string
	RecursionDepth   int
	DemandJSON       string // JSON-encoded DemandSnapshot
	ParticipantsJSON string // JSON-encoded []Participant
	PlanOutput       sql.NullString
	CenterRounds     int
	MaxCenterRounds  int
	TraceJSON        string // JSON-encoded []TraceEntry
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const (
	// SQL schema (compatible with all three databases)
	createArchiveSQL = `
CREATE TABLE IF NOT EXISTS negotiations (
    negotiation_id VARCHAR(255) PRIMARY KEY,
    parent_negotiation_id VARCHAR(255),
    status VARCHAR(50) NOT NULL,
    recursion_depth INT NOT NULL,
    demand_json TEXT,
    participants_json TEXT,
    plan_output TEXT,
    center_rounds INT NOT NULL,
    max_center_rounds INT NOT NULL,
    trace_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_negotiations_status ON negotiations(status);
CREATE INDEX IF NOT EXISTS idx_negotiations_parent ON negotiations(parent_negotiation_id);
CREATE INDEX IF NOT EXISTS idx_negotiations_updated_at ON negotiations(updated_at);
`
)

// NewArchive creates an archive over an open database connection.
func NewArchive(db *sql.DB, dialect string) (*Archive, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":
		// Valid
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	a := &Archive{db: db, dialect: dialect}
	if err := a.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return a, nil
}

// NewArchiveFromConfig opens the configured database and creates the
// archive over it.
func NewArchiveFromConfig(cfg *config.ArchiveConfig) (*Archive, error) {
	if cfg == nil {
		return nil, fmt.Errorf("archive configuration is required")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("archive dsn is required")
	}

	// Config uses "sqlite" but the go-sqlite3 driver registers as "sqlite3"
	driverName := string(cfg.Driver)
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewArchive(db, string(cfg.Driver))
}

func (a *Archive) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := a.db.ExecContext(ctx, createArchiveSQL)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save upserts a session snapshot. Update-then-insert keeps the
// statement portable across all three dialects.
func (a *Archive) Save(ctx context.Context, snap Snapshot) error {
	row, err := snapshotToRow(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	update := `
UPDATE negotiations
SET parent_negotiation_id = ?, status = ?, recursion_depth = ?, demand_json = ?,
    participants_json = ?, plan_output = ?, center_rounds = ?, max_center_rounds = ?,
    trace_json = ?, updated_at = ?
WHERE negotiation_id = ?
`
	if a.dialect == "postgres" {
		update = `
UPDATE negotiations
SET parent_negotiation_id = $1, status = $2, recursion_depth = $3, demand_json = $4,
    participants_json = $5, plan_output = $6, center_rounds = $7, max_center_rounds = $8,
    trace_json = $9, updated_at = $10
WHERE negotiation_id = $11
`
	}

	res, err := a.db.ExecContext(ctx, update,
		row.ParentID, row.Status, row.RecursionDepth, row.DemandJSON,
		row.ParticipantsJSON, row.PlanOutput, row.CenterRounds, row.MaxCenterRounds,
		row.TraceJSON, row.UpdatedAt, row.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	insert := `
INSERT INTO negotiations (negotiation_id, parent_negotiation_id, status, recursion_depth,
    demand_json, participants_json, plan_output, center_rounds, max_center_rounds,
    trace_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	if a.dialect == "postgres" {
		insert = `
INSERT INTO negotiations (negotiation_id, parent_negotiation_id, status, recursion_depth,
    demand_json, participants_json, plan_output, center_rounds, max_center_rounds,
    trace_json, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`
	}

	_, err = a.db.ExecContext(ctx, insert,
		row.ID, row.ParentID, row.Status, row.RecursionDepth,
		row.DemandJSON, row.ParticipantsJSON, row.PlanOutput, row.CenterRounds,
		row.MaxCenterRounds, row.TraceJSON, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Get loads one archived session by negotiation id.
func (a *Archive) Get(ctx context.Context, negotiationID string) (Snapshot, error) {
	query := `
SELECT negotiation_id, parent_negotiation_id, status, recursion_depth, demand_json,
    participants_json, plan_output, center_rounds, max_center_rounds, trace_json,
    created_at, updated_at
FROM negotiations
WHERE negotiation_id = ?
`
	if a.dialect == "postgres" {
		query = `
SELECT negotiation_id, parent_negotiation_id, status, recursion_depth, demand_json,
    participants_json, plan_output, center_rounds, max_center_rounds, trace_json,
    created_at, updated_at
FROM negotiations
WHERE negotiation_id = $1
`
	}

	var row archiveRow
	err := a.db.QueryRowContext(ctx, query, negotiationID).Scan(
		&row.ID, &row.ParentID, &row.Status, &row.RecursionDepth, &row.DemandJSON,
		&row.ParticipantsJSON, &row.PlanOutput, &row.CenterRounds, &row.MaxCenterRounds,
		&row.TraceJSON, &row.CreatedAt, &row.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return Snapshot{}, fmt.Errorf("negotiation not found: %s", negotiationID)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query negotiation: %w", err)
	}

	return rowToSnapshot(&row)
}

// List returns up to limit archived sessions, most recently updated
// first.
func (a *Archive) List(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
SELECT negotiation_id, parent_negotiation_id, status, recursion_depth, demand_json,
    participants_json, plan_output, center_rounds, max_center_rounds, trace_json,
    created_at, updated_at
FROM negotiations
ORDER BY updated_at DESC
LIMIT ?
`
	if a.dialect == "postgres" {
		query = `
SELECT negotiation_id, parent_negotiation_id, status, recursion_depth, demand_json,
    participants_json, plan_output, center_rounds, max_center_rounds, trace_json,
    created_at, updated_at
FROM negotiations
ORDER BY updated_at DESC
LIMIT $1
`
	}

	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list negotiations: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var row archiveRow
		if err := rows.Scan(
			&row.ID, &row.ParentID, &row.Status, &row.RecursionDepth, &row.DemandJSON,
			&row.ParticipantsJSON, &row.PlanOutput, &row.CenterRounds, &row.MaxCenterRounds,
			&row.TraceJSON, &row.CreatedAt, &row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan negotiation: %w", err)
		}
		snap, err := rowToSnapshot(&row)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

func snapshotToRow(snap Snapshot) (*archiveRow, error) {
	demandJSON, err := json.Marshal(snap.Demand)
	if err != nil {
		return nil, err
	}
	participantsJSON, err := json.Marshal(snap.Participants)
	if err != nil {
		return nil, err
	}
	traceJSON, err := json.Marshal(snap.Trace)
	if err != nil {
		return nil, err
	}

	row := &archiveRow{
		ID:               snap.NegotiationID,
		Status:           string(snap.Status),
		RecursionDepth:   snap.RecursionDepth,
		DemandJSON:       string(demandJSON),
		ParticipantsJSON: string(participantsJSON),
		CenterRounds:     snap.CenterRounds,
		MaxCenterRounds:  snap.MaxCenterRounds,
		TraceJSON:        string(traceJSON),
		CreatedAt:        snap.CreatedAt,
		UpdatedAt:        snap.UpdatedAt,
	}
	if snap.ParentNegotiationID != "" {
		row.ParentID = sql.NullString{String: snap.ParentNegotiationID, Valid: true}
	}
	if snap.PlanOutput != nil {
		row.PlanOutput = sql.NullString{String: *snap.PlanOutput, Valid: true}
	}
	return row, nil
}

func rowToSnapshot(row *archiveRow) (Snapshot, error) {
	snap := Snapshot{
		NegotiationID:   row.ID,
		Status:          Status(row.Status),
		RecursionDepth:  row.RecursionDepth,
		CenterRounds:    row.CenterRounds,
		MaxCenterRounds: row.MaxCenterRounds,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.ParentID.Valid {
		snap.ParentNegotiationID = row.ParentID.String
	}
	if row.PlanOutput.Valid {
		plan := row.PlanOutput.String
		snap.PlanOutput = &plan
	}
	if row.DemandJSON != "" {
		if err := json.Unmarshal([]byte(row.DemandJSON), &snap.Demand); err != nil {
			return Snapshot{}, fmt.Errorf("failed to decode demand: %w", err)
		}
	}
	if row.ParticipantsJSON != "" {
		if err := json.Unmarshal([]byte(row.ParticipantsJSON), &snap.Participants); err != nil {
			return Snapshot{}, fmt.Errorf("failed to decode participants: %w", err)
		}
	}
	if row.TraceJSON != "" {
		if err := json.Unmarshal([]byte(row.TraceJSON), &snap.Trace); err != nil {
			return Snapshot{}, fmt.Errorf("failed to decode trace: %w", err)
		}
	}
	return snap, nil
}

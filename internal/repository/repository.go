// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRule stores a rule with workspace isolation. Saving an existing id
// replaces the record in place, keeping rule identity stable across edits.
func (r *SQLRepository) SaveRule(ctx context.Context, workspaceID string, rule *domain.Rule) error {
	if workspaceID == "" {
		return fmt.Errorf("%w: workspaceID is required", ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	criteria, _ := json.Marshal(rule.Criteria)
	interventions, _ := json.Marshal(rule.Interventions)
	excluded, _ := json.Marshal(rule.ExcludedDistrictIDs)
	coverage, _ := json.Marshal(rule.Coverage)

	allDistricts := 0
	if rule.AllDistricts {
		allDistricts = 1
	}
	visible := 0
	if rule.IsVisible() {
		visible = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rules (
			id, workspace_id, title, color, criteria, all_districts,
			expression, interventions, excluded_district_ids, visible,
			coverage, position, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, workspace_id) DO UPDATE SET
			title = excluded.title,
			color = excluded.color,
			criteria = excluded.criteria,
			all_districts = excluded.all_districts,
			expression = excluded.expression,
			interventions = excluded.interventions,
			excluded_district_ids = excluded.excluded_district_ids,
			visible = excluded.visible,
			coverage = excluded.coverage,
			position = excluded.position,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, workspaceID, rule.Title, rule.Color,
		string(criteria), allDistricts,
		rule.Expression, string(interventions), string(excluded), visible,
		string(coverage), rule.Position,
		now, now,
	)
	return err
}

// GetRule retrieves a rule by ID with workspace isolation.
func (r *SQLRepository) GetRule(ctx context.Context, workspaceID string, ruleID string) (*domain.Rule, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("%w: workspaceID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, workspace_id, title, color, criteria, all_districts,
			   expression, interventions, excluded_district_ids, visible,
			   coverage, position
		FROM rules
		WHERE workspace_id = ? AND id = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), workspaceID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules retrieves a workspace's rules in plan order.
func (r *SQLRepository) ListRules(ctx context.Context, workspaceID string) ([]*domain.Rule, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("%w: workspaceID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, workspace_id, title, color, criteria, all_districts,
			   expression, interventions, excluded_district_ids, visible,
			   coverage, position
		FROM rules
		WHERE workspace_id = ?
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plan []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		plan = append(plan, rule)
	}

	return plan, rows.Err()
}

// DeleteRule removes a rule with workspace isolation.
func (r *SQLRepository) DeleteRule(ctx context.Context, workspaceID string, ruleID string) error {
	if workspaceID == "" {
		return fmt.Errorf("%w: workspaceID is required", ErrInvalidInput)
	}

	query := `DELETE FROM rules WHERE workspace_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), workspaceID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveResolution stores a resolution snapshot with workspace isolation.
func (r *SQLRepository) SaveResolution(ctx context.Context, workspaceID string, res *domain.Resolution) error {
	if workspaceID == "" {
		return fmt.Errorf("%w: workspaceID is required", ErrInvalidInput)
	}
	if res == nil || res.ID == "" {
		return fmt.Errorf("%w: resolution id is required", ErrInvalidInput)
	}

	districts, _ := json.Marshal(res.Districts)
	metadata, _ := json.Marshal(res.Metadata)

	query := `
		INSERT INTO resolutions (
			id, workspace_id, policy, districts, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		res.ID, workspaceID, string(res.Policy),
		string(districts), res.Timestamp, string(metadata),
	)
	return err
}

// GetResolution retrieves a resolution snapshot by ID with workspace isolation.
func (r *SQLRepository) GetResolution(ctx context.Context, workspaceID string, resID string) (*domain.Resolution, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("%w: workspaceID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, workspace_id, policy, districts, timestamp, metadata
		FROM resolutions
		WHERE workspace_id = ? AND id = ?
	`

	res, err := scanResolution(r.db.QueryRowContext(ctx, r.rebind(query), workspaceID, resID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// LatestResolution retrieves the most recent resolution for a workspace.
func (r *SQLRepository) LatestResolution(ctx context.Context, workspaceID string) (*domain.Resolution, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("%w: workspaceID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, workspace_id, policy, districts, timestamp, metadata
		FROM resolutions
		WHERE workspace_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	res, err := scanResolution(r.db.QueryRowContext(ctx, r.rebind(query), workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// SaveMetricValues stores one metric's fetched per-org-unit values, replacing
// any prior copy for the workspace.
func (r *SQLRepository) SaveMetricValues(ctx context.Context, workspaceID string, metricTypeID int, values map[int]float64) error {
	if workspaceID == "" {
		return fmt.Errorf("%w: workspaceID is required", ErrInvalidInput)
	}

	encoded, _ := json.Marshal(values)

	query := `
		INSERT INTO metric_values (workspace_id, metric_type_id, org_unit_values, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workspace_id, metric_type_id) DO UPDATE SET
			org_unit_values = excluded.org_unit_values,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		workspaceID, metricTypeID, string(encoded), time.Now().UTC(),
	)
	return err
}

// GetMetricValues retrieves one metric's persisted per-org-unit values.
func (r *SQLRepository) GetMetricValues(ctx context.Context, workspaceID string, metricTypeID int) (map[int]float64, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("%w: workspaceID is required", ErrInvalidInput)
	}

	query := `
		SELECT org_unit_values
		FROM metric_values
		WHERE workspace_id = ? AND metric_type_id = ?
	`

	var encoded string
	err := r.db.QueryRowContext(ctx, r.rebind(query), workspaceID, metricTypeID).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var values map[int]float64
	if err := json.Unmarshal([]byte(encoded), &values); err != nil {
		return nil, fmt.Errorf("failed to parse metric values: %w", err)
	}
	return values, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var criteria, interventions, excluded string
	var coverage, expression sql.NullString
	var allDistricts, visible int

	if err := row.Scan(
		&rule.ID, &rule.WorkspaceID, &rule.Title, &rule.Color,
		&criteria, &allDistricts,
		&expression, &interventions, &excluded, &visible,
		&coverage, &rule.Position,
	); err != nil {
		return nil, err
	}

	rule.AllDistricts = allDistricts == 1
	rule.Expression = expression.String
	if visible == 0 {
		v := false
		rule.Visible = &v
	}

	json.Unmarshal([]byte(criteria), &rule.Criteria)
	json.Unmarshal([]byte(interventions), &rule.Interventions)
	json.Unmarshal([]byte(excluded), &rule.ExcludedDistrictIDs)
	if coverage.Valid {
		json.Unmarshal([]byte(coverage.String), &rule.Coverage)
	}

	return &rule, nil
}

func scanResolution(row rowScanner) (*domain.Resolution, error) {
	var res domain.Resolution
	var policy, districts, metadata string

	if err := row.Scan(
		&res.ID, &res.WorkspaceID, &policy,
		&districts, &res.Timestamp, &metadata,
	); err != nil {
		return nil, err
	}

	res.Policy = domain.Policy(policy)
	if err := json.Unmarshal([]byte(districts), &res.Districts); err != nil {
		return nil, fmt.Errorf("failed to parse resolution districts: %w", err)
	}
	json.Unmarshal([]byte(metadata), &res.Metadata)

	return &res, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

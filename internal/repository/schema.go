package repository

// Schema definitions for Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT NOT NULL,
    workspace_id TEXT NOT NULL,
    title TEXT NOT NULL,
    color TEXT NOT NULL,
    criteria TEXT NOT NULL,
    all_districts INTEGER NOT NULL DEFAULT 0,
    expression TEXT,
    interventions TEXT NOT NULL,
    excluded_district_ids TEXT,
    visible INTEGER NOT NULL DEFAULT 1,
    coverage TEXT,
    position INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, workspace_id)
);

CREATE INDEX IF NOT EXISTS idx_rules_workspace ON rules(workspace_id);
CREATE INDEX IF NOT EXISTS idx_rules_position ON rules(workspace_id, position);
`

const schemaResolutions = `
CREATE TABLE IF NOT EXISTS resolutions (
    id TEXT NOT NULL,
    workspace_id TEXT NOT NULL,
    policy TEXT NOT NULL,
    districts TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL,
    PRIMARY KEY (id, workspace_id)
);

CREATE INDEX IF NOT EXISTS idx_resolutions_workspace ON resolutions(workspace_id);
CREATE INDEX IF NOT EXISTS idx_resolutions_timestamp ON resolutions(workspace_id, timestamp);
`

const schemaMetricValues = `
CREATE TABLE IF NOT EXISTS metric_values (
    workspace_id TEXT NOT NULL,
    metric_type_id INTEGER NOT NULL,
    org_unit_values TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (workspace_id, metric_type_id)
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRules,
		schemaResolutions,
		schemaMetricValues,
	}
}

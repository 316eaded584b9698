package store

// SchemaVersion is the current store schema version
const SchemaVersion = 2

const schema = `
-- Region-partitioned key-value table. Each region is an independent
-- namespace; per-key writes are single statements and therefore atomic.
CREATE TABLE IF NOT EXISTS kv (
    region TEXT NOT NULL,
    key TEXT NOT NULL,
    value BLOB NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (region, key)
);

-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Migration represents a schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations contains all forward-only schema migrations in order
var Migrations = []Migration{
	{
		Version:     2,
		Description: "index kv by region and update time for prune scans",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_kv_region_updated ON kv(region, updated_at);`,
	},
}

package db

// PostgreSQL schema for curated content and owner settings

var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_content_records_table",
		Up: `
			CREATE TABLE IF NOT EXISTS content_records (
				id TEXT PRIMARY KEY,
				owner TEXT NOT NULL,
				url TEXT NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				summary TEXT NOT NULL DEFAULT '',
				quality_score INTEGER NOT NULL DEFAULT 0 CHECK (quality_score BETWEEN 0 AND 100),
				is_qualified BOOLEAN NOT NULL DEFAULT FALSE,
				analysis JSONB,
				submission_id TEXT,
				content_type TEXT NOT NULL DEFAULT '',
				source TEXT NOT NULL DEFAULT 'pipeline',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT content_records_owner_url_key UNIQUE (owner, url)
			);
			CREATE INDEX IF NOT EXISTS idx_content_records_owner_created_at ON content_records(owner, created_at DESC);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_content_records_owner_created_at;
			DROP TABLE IF EXISTS content_records;
		`,
	},
	{
		Version: 2,
		Name:    "create_threshold_settings_table",
		Up: `
			CREATE TABLE IF NOT EXISTS threshold_settings (
				owner TEXT PRIMARY KEY,
				threshold INTEGER NOT NULL CHECK (threshold BETWEEN 0 AND 100),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
		Down: `
			DROP TABLE IF EXISTS threshold_settings;
		`,
	},
	{
		Version: 3,
		Name:    "add_content_records_feed_indexes",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_content_records_owner_score ON content_records(owner, quality_score);
			CREATE INDEX IF NOT EXISTS idx_content_records_owner_type ON content_records(owner, content_type);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_content_records_owner_type;
			DROP INDEX IF EXISTS idx_content_records_owner_score;
		`,
	},
}

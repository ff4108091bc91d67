package sqlite

const historyTable = `
	CREATE TABLE history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('log', 'progress', 'phase-progress', 'workflow-progress', 'error', 'success', 'cancel')),
		phase_key TEXT,
		message TEXT NOT NULL,
		progress INTEGER,
		timestamp DATETIME NOT NULL,
		metadata TEXT
	);
`

// TaskMigrations is the schema of a task database.
func TaskMigrations() map[int]string {
	return map[int]string{
		1: `
			-- Singleton task row
			CREATE TABLE task (
				slot INTEGER PRIMARY KEY CHECK (slot = 1),
				id TEXT NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('pending', 'in-progress', 'success', 'failed', 'canceled')),
				progress INTEGER NOT NULL DEFAULT 0,
				metadata TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				completed_at DATETIME,
				failed_at DATETIME,
				canceled_at DATETIME
			);
		` + historyTable,
		2: `
			CREATE INDEX idx_history_type ON history(type);
		`,
	}
}

// WorkflowMigrations is the schema of a workflow database.
func WorkflowMigrations() map[int]string {
	return map[int]string{
		1: `
			-- Singleton workflow row
			CREATE TABLE workflow (
				slot INTEGER PRIMARY KEY CHECK (slot = 1),
				id TEXT NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('pending', 'in-progress', 'success', 'failed', 'canceled')),
				overall_progress INTEGER NOT NULL DEFAULT 0,
				expected_phase_count INTEGER NOT NULL DEFAULT 0,
				completed_phase_count INTEGER NOT NULL DEFAULT 0,
				active_phase_key TEXT,
				metadata TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				completed_at DATETIME,
				failed_at DATETIME,
				canceled_at DATETIME
			);

			-- parent_phase_key is not a foreign key; orphans are allowed
			CREATE TABLE phases (
				phase_key TEXT PRIMARY KEY,
				label TEXT NOT NULL DEFAULT '',
				weight REAL NOT NULL DEFAULT 0,
				status TEXT NOT NULL CHECK (status IN ('pending', 'in-progress', 'success', 'failed', 'canceled')),
				progress INTEGER NOT NULL DEFAULT 0,
				sort_order INTEGER NOT NULL,
				parent_phase_key TEXT,
				depth INTEGER NOT NULL DEFAULT 0,
				started_at DATETIME,
				updated_at DATETIME NOT NULL,
				completed_at DATETIME
			);

			CREATE INDEX idx_phases_sort_order ON phases(sort_order);
			CREATE INDEX idx_phases_parent ON phases(parent_phase_key);
		` + historyTable,
		2: `
			CREATE INDEX idx_history_type ON history(type);
			CREATE INDEX idx_history_phase_key ON history(phase_key);
		`,
	}
}

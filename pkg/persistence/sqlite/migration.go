package sqlite

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				state TEXT NOT NULL DEFAULT '{}',
				created TIMESTAMP NOT NULL,
				modified TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_workflows_type ON workflows(type);

			CREATE TABLE tasks (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				type TEXT NOT NULL CHECK (type IN ('human', 'machine')),
				status TEXT NOT NULL DEFAULT 'scheduled'
					CHECK (status IN ('scheduled', 'succeeded', 'failed', 'canceled')),
				is_exclusive BOOLEAN NOT NULL DEFAULT FALSE,
				created TIMESTAMP NOT NULL,
				modified TIMESTAMP NOT NULL,
				completed TIMESTAMP,
				completed_by TEXT,
				exception TEXT NOT NULL DEFAULT '',
				stacktrace TEXT NOT NULL DEFAULT '',
				CHECK ((completed IS NULL) = (status = 'scheduled'))
			);

			CREATE INDEX idx_tasks_workflow_status ON tasks(workflow_id, status);
			CREATE INDEX idx_tasks_created ON tasks(created);

			CREATE UNIQUE INDEX idx_tasks_live_exclusive ON tasks(workflow_id, name)
				WHERE status = 'scheduled' AND is_exclusive = TRUE;

			CREATE TABLE task_parents (
				child_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
				parent_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
				PRIMARY KEY (child_id, parent_id)
			);

			CREATE TABLE task_assignees (
				task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
				user_id TEXT NOT NULL,
				PRIMARY KEY (task_id, user_id)
			);
		`,
	}
}

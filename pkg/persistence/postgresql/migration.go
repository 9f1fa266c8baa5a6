package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id TEXT PRIMARY KEY,
				type VARCHAR(255) NOT NULL,
				state JSONB NOT NULL DEFAULT '{}'::jsonb,
				created TIMESTAMP WITH TIME ZONE NOT NULL,
				modified TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_type ON workflows(type);
			CREATE INDEX idx_workflows_created ON workflows(created);
			CREATE INDEX idx_workflows_modified ON workflows(modified);

			CREATE TABLE tasks (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				name VARCHAR(255) NOT NULL,
				type VARCHAR(50) NOT NULL CHECK (type IN ('human', 'machine')),
				status VARCHAR(50) NOT NULL DEFAULT 'scheduled'
					CHECK (status IN ('scheduled', 'succeeded', 'failed', 'canceled')),
				is_exclusive BOOLEAN NOT NULL DEFAULT FALSE,
				created TIMESTAMP WITH TIME ZONE NOT NULL,
				modified TIMESTAMP WITH TIME ZONE NOT NULL,
				completed TIMESTAMP WITH TIME ZONE,
				completed_by TEXT,
				exception TEXT NOT NULL DEFAULT '',
				stacktrace TEXT NOT NULL DEFAULT '',
				CHECK ((completed IS NULL) = (status = 'scheduled'))
			);

			CREATE INDEX idx_tasks_workflow_status ON tasks(workflow_id, status);
			CREATE INDEX idx_tasks_name ON tasks(name);
			CREATE INDEX idx_tasks_completed ON tasks(completed);
			CREATE INDEX idx_tasks_created ON tasks(created);

			-- At most one live join task per workflow and node.
			CREATE UNIQUE INDEX idx_tasks_live_exclusive ON tasks(workflow_id, name)
				WHERE status = 'scheduled' AND is_exclusive = TRUE;

			CREATE TABLE task_parents (
				child_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
				parent_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
				PRIMARY KEY (child_id, parent_id)
			);

			CREATE INDEX idx_task_parents_parent ON task_parents(parent_id);

			CREATE TABLE task_assignees (
				task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
				user_id TEXT NOT NULL,
				PRIMARY KEY (task_id, user_id)
			);

			CREATE INDEX idx_task_assignees_user ON task_assignees(user_id);
		`,
	}
}

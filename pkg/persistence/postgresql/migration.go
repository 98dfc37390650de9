package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id TEXT PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				owner VARCHAR(255) NOT NULL,
				settings JSONB NOT NULL DEFAULT '{}',
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_owner ON workflows(owner);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			CREATE TABLE workflow_versions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				version INTEGER NOT NULL,
				steps JSONB NOT NULL DEFAULT '[]',
				is_active BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (workflow_id, version)
			);

			-- at most one active version per workflow
			CREATE UNIQUE INDEX idx_workflow_versions_active ON workflow_versions(workflow_id) WHERE is_active;

			CREATE TABLE executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				workflow_version_id TEXT NOT NULL REFERENCES workflow_versions(id),
				trigger_id TEXT,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
				input JSONB NOT NULL DEFAULT '{}',
				output JSONB,
				error TEXT NOT NULL DEFAULT '',
				metadata JSONB,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT,
				retry_count INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_status ON executions(status);

			CREATE TABLE execution_steps (
				id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				step_id VARCHAR(255) NOT NULL,
				step_name VARCHAR(255) NOT NULL,
				step_type VARCHAR(50) NOT NULL,
				status VARCHAR(20) NOT NULL,
				input JSONB,
				output JSONB,
				error TEXT NOT NULL DEFAULT '',
				metadata JSONB,
				attempts INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT
			);

			CREATE INDEX idx_execution_steps_execution_id ON execution_steps(execution_id);

			CREATE TABLE execution_logs (
				id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				level VARCHAR(10) NOT NULL,
				message TEXT NOT NULL,
				metadata JSONB,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_execution_logs_execution_id ON execution_logs(execution_id, timestamp);
		`,
		2: `
			CREATE TABLE triggers (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				type VARCHAR(20) NOT NULL CHECK (type IN ('manual', 'webhook', 'schedule')),
				schedule VARCHAR(255) NOT NULL DEFAULT '',
				enabled BOOLEAN NOT NULL DEFAULT true,
				input_schema JSONB,
				metadata JSONB,
				next_due_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_triggers_type ON triggers(type);

			CREATE TABLE credentials (
				id TEXT PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				type VARCHAR(50) NOT NULL,
				owner_id VARCHAR(255) NOT NULL,
				ciphertext BYTEA NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_credentials_owner_id ON credentials(owner_id);
		`,
	}
}

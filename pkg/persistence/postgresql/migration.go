package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Definition versions are immutable snapshots keyed by (id, version)
			CREATE TABLE workflow_definitions (
				id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL,
				organization_id VARCHAR(255) NOT NULL DEFAULT '',
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				category VARCHAR(255) NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT true,
				trigger_type VARCHAR(100) NOT NULL DEFAULT '',
				trigger_config JSONB,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (id, version)
			);

			CREATE INDEX idx_workflow_definitions_organization_id ON workflow_definitions(organization_id);

			CREATE TABLE workflow_steps (
				workflow_id VARCHAR(255) NOT NULL,
				workflow_version INTEGER NOT NULL,
				id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				step_order INTEGER NOT NULL,
				step_type VARCHAR(50) NOT NULL,
				config JSONB DEFAULT '{}',
				is_required BOOLEAN NOT NULL DEFAULT false,
				timeout_minutes INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 0 CHECK (max_retries >= 0),
				retry_delay_seconds INTEGER NOT NULL DEFAULT 0,
				depends_on_steps JSONB DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (workflow_id, workflow_version, id),
				UNIQUE (workflow_id, workflow_version, step_order),
				FOREIGN KEY (workflow_id, workflow_version)
					REFERENCES workflow_definitions(id, version) ON DELETE CASCADE
			);

			CREATE TABLE workflow_instances (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				workflow_version INTEGER NOT NULL,
				organization_id VARCHAR(255) NOT NULL DEFAULT '',
				current_step_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'in_progress', 'waiting_approval', 'completed', 'failed', 'cancelled')),
				initiated_by VARCHAR(255) NOT NULL DEFAULT '',
				context_data JSONB,
				metadata JSONB,
				version BIGINT NOT NULL DEFAULT 1,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_instances_workflow_id ON workflow_instances(workflow_id);
			CREATE INDEX idx_workflow_instances_initiator ON workflow_instances(initiated_by, organization_id, created_at DESC);

			CREATE TABLE workflow_step_executions (
				id VARCHAR(255) PRIMARY KEY,
				instance_id VARCHAR(255) NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				step_id VARCHAR(255) NOT NULL,
				execution_order INTEGER NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'executing', 'completed', 'failed', 'skipped', 'waiting_input')),
				input_data JSONB,
				output_data JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				execution_time_ms BIGINT NOT NULL DEFAULT 0,
				retry_count INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_step_executions_instance ON workflow_step_executions(instance_id, execution_order);
			CREATE INDEX idx_workflow_step_executions_step ON workflow_step_executions(instance_id, step_id);
		`,
	}
}

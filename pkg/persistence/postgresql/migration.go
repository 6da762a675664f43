package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_templates (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				trigger_type VARCHAR(100) NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT true,
				steps JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_templates_tenant ON workflow_templates(tenant_id, created_at DESC);

			CREATE TABLE workflow_instances (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				template_id VARCHAR(255) NOT NULL,
				entity_type VARCHAR(100) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				current_step VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'active', 'completed', 'failed', 'paused')),
				context JSONB NOT NULL DEFAULT '{}',
				assigned_to VARCHAR(255) NOT NULL DEFAULT '',
				failure_reason TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_instances_tenant ON workflow_instances(tenant_id, started_at DESC);
			CREATE INDEX idx_workflow_instances_status ON workflow_instances(tenant_id, status);
			CREATE INDEX idx_workflow_instances_entity ON workflow_instances(tenant_id, entity_type, entity_id);

			CREATE TABLE workflow_approvals (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				instance_id VARCHAR(255) NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				step_id VARCHAR(255) NOT NULL,
				assignee VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
				approved_by VARCHAR(255) NOT NULL DEFAULT '',
				approved_at TIMESTAMP WITH TIME ZONE,
				rejected_by VARCHAR(255) NOT NULL DEFAULT '',
				rejected_at TIMESTAMP WITH TIME ZONE,
				comments TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- at most one open approval per step of an instance
			CREATE UNIQUE INDEX idx_workflow_approvals_pending
				ON workflow_approvals(instance_id, step_id) WHERE status = 'pending';
			CREATE INDEX idx_workflow_approvals_assignee ON workflow_approvals(tenant_id, assignee, status);

			CREATE TABLE workflow_events (
				seq BIGSERIAL PRIMARY KEY,
				id VARCHAR(255) NOT NULL UNIQUE,
				tenant_id VARCHAR(255) NOT NULL,
				instance_id VARCHAR(255) NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				event_type VARCHAR(50) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_events_instance ON workflow_events(tenant_id, instance_id, seq);
		`,
		2: `
			CREATE TABLE workflow_step_timeouts (
				tenant_id VARCHAR(255) NOT NULL,
				instance_id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (tenant_id, instance_id, step_id)
			);

			CREATE INDEX idx_workflow_step_timeouts_due ON workflow_step_timeouts(due_at);
		`,
	}
}

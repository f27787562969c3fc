package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(databaseURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

var migrations = []string{
	// Linked messaging accounts (user-level sessions)
	`CREATE TABLE IF NOT EXISTS linked_accounts (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL DEFAULT '',
		phone VARCHAR(50) NOT NULL DEFAULT '',
		app_id INT NOT NULL DEFAULT 0,
		app_hash VARCHAR(255) NOT NULL DEFAULT '',
		session_token TEXT,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		last_connected_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS staff_users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		telegram_id BIGINT UNIQUE NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		username VARCHAR(255) NOT NULL DEFAULT '',
		role VARCHAR(20) NOT NULL CHECK (role IN ('manager', 'agent')),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS agents (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		staff_id UUID UNIQUE NOT NULL REFERENCES staff_users(id) ON DELETE CASCADE,
		telegram_id BIGINT NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS agent_groups (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL,
		chat_id BIGINT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS admin_channels (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		chat_id BIGINT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_admin_channels_single_active ON admin_channels (is_active) WHERE is_active`,

	`CREATE TABLE IF NOT EXISTS leads (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		public_id VARCHAR(32) UNIQUE NOT NULL,
		origin VARCHAR(30) NOT NULL,
		client_name VARCHAR(255) NOT NULL,
		client_phone VARCHAR(50) NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL DEFAULT 'new',
		agent_id UUID REFERENCES agents(id) ON DELETE SET NULL,
		group_id UUID REFERENCES agent_groups(id) ON DELETE SET NULL,
		created_by UUID REFERENCES staff_users(id) ON DELETE SET NULL,
		source_account_id UUID REFERENCES linked_accounts(id) ON DELETE SET NULL,
		source_contact_id BIGINT,
		accepted_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		rejected_at TIMESTAMPTZ,
		deal_created_at TIMESTAMPTZ,
		contract_requested_at TIMESTAMPTZ,
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW(),
		CONSTRAINT leads_agent_matches_status CHECK ((agent_id IS NULL) = (status = 'new'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_leads_agent_status ON leads (agent_id, status) WHERE deleted_at IS NULL`,

	// Imported conversation messages and screenshot attachments
	`CREATE TABLE IF NOT EXISTS lead_messages (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		lead_id UUID NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
		remote_id INT NOT NULL DEFAULT 0,
		sender_id BIGINT NOT NULL DEFAULT 0,
		kind VARCHAR(20) NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		media_path TEXT,
		mime_type VARCHAR(100) NOT NULL DEFAULT '',
		width INT NOT NULL DEFAULT 0,
		height INT NOT NULL DEFAULT 0,
		duration INT NOT NULL DEFAULT 0,
		sent_at TIMESTAMPTZ NOT NULL,
		position INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lead_messages_lead ON lead_messages (lead_id, position)`,

	// Per-chat wizard state, one row per (flow, chat)
	`CREATE TABLE IF NOT EXISTS bot_states (
		flow VARCHAR(30) NOT NULL,
		chat_id BIGINT NOT NULL,
		payload JSONB NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (flow, chat_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bot_states_expires ON bot_states (expires_at)`,
}

func Migrate(db *pgxpool.Pool) error {
	ctx := context.Background()

	for i, migration := range migrations {
		if _, err := db.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	return nil
}

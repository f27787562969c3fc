package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/naperu/estatebot/internal/domain"
)

type Repositories struct {
	db           *pgxpool.Pool
	Account      *AccountRepository
	Staff        *StaffRepository
	Agent        *AgentRepository
	Group        *GroupRepository
	AdminChannel *AdminChannelRepository
	Lead         *LeadRepository
	Wizard       *WizardRepository
}

func NewRepositories(db *pgxpool.Pool) *Repositories {
	return &Repositories{
		db:           db,
		Account:      &AccountRepository{db: db},
		Staff:        &StaffRepository{db: db},
		Agent:        &AgentRepository{db: db},
		Group:        &GroupRepository{db: db},
		AdminChannel: &AdminChannelRepository{db: db},
		Lead:         &LeadRepository{db: db},
		Wizard:       &WizardRepository{db: db},
	}
}

// AccountRepository handles linked messaging accounts
type AccountRepository struct {
	db *pgxpool.Pool
}

const accountColumns = `id, name, phone, app_id, app_hash, session_token, is_active, last_connected_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.LinkedAccount, error) {
	a := &domain.LinkedAccount{}
	err := row.Scan(&a.ID, &a.Name, &a.Phone, &a.AppID, &a.AppHash, &a.SessionToken, &a.IsActive,
		&a.LastConnectedAt, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *AccountRepository) Create(ctx context.Context, a *domain.LinkedAccount) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO linked_accounts (name, phone, app_id, app_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, a.Name, a.Phone, a.AppID, a.AppHash).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.LinkedAccount, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM linked_accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *AccountRepository) ListActive(ctx context.Context) ([]*domain.LinkedAccount, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM linked_accounts
		WHERE is_active AND session_token IS NOT NULL AND session_token <> ''
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*domain.LinkedAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *AccountRepository) SaveSession(ctx context.Context, id uuid.UUID, creds domain.Credentials, token string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE linked_accounts
		SET phone = $1, app_id = $2, app_hash = $3, session_token = $4, is_active = TRUE, updated_at = NOW()
		WHERE id = $5
	`, creds.Phone, creds.AppID, creds.AppHash, token, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("linked account %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *AccountRepository) MarkConnected(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE linked_accounts SET last_connected_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *AccountRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE linked_accounts SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// StaffRepository handles bot operators
type StaffRepository struct {
	db *pgxpool.Pool
}

func (r *StaffRepository) Create(ctx context.Context, s *domain.StaffUser) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO staff_users (telegram_id, name, username, role, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, s.TelegramID, s.Name, s.Username, s.Role, s.IsActive).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (r *StaffRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*domain.StaffUser, error) {
	s := &domain.StaffUser{}
	err := r.db.QueryRow(ctx, `
		SELECT id, telegram_id, name, username, role, is_active, created_at, updated_at
		FROM staff_users WHERE telegram_id = $1
	`, telegramID).Scan(&s.ID, &s.TelegramID, &s.Name, &s.Username, &s.Role, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// AgentRepository handles lead-handling identities
type AgentRepository struct {
	db *pgxpool.Pool
}

func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	a := &domain.Agent{}
	err := r.db.QueryRow(ctx, `
		SELECT id, staff_id, telegram_id, name, created_at FROM agents WHERE id = $1
	`, id).Scan(&a.ID, &a.StaffID, &a.TelegramID, &a.Name, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *AgentRepository) GetByStaffID(ctx context.Context, staffID uuid.UUID) (*domain.Agent, error) {
	a := &domain.Agent{}
	err := r.db.QueryRow(ctx, `
		SELECT id, staff_id, telegram_id, name, created_at FROM agents WHERE staff_id = $1
	`, staffID).Scan(&a.ID, &a.StaffID, &a.TelegramID, &a.Name, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *AgentRepository) GetOrCreate(ctx context.Context, staff *domain.StaffUser) (*domain.Agent, error) {
	a := &domain.Agent{}
	err := r.db.QueryRow(ctx, `
		INSERT INTO agents (staff_id, telegram_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (staff_id) DO UPDATE SET telegram_id = EXCLUDED.telegram_id, name = EXCLUDED.name
		RETURNING id, staff_id, telegram_id, name, created_at
	`, staff.ID, staff.TelegramID, staff.DisplayName()).Scan(&a.ID, &a.StaffID, &a.TelegramID, &a.Name, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert agent: %w", err)
	}
	return a, nil
}

// GroupRepository handles agent group channels
type GroupRepository struct {
	db *pgxpool.Pool
}

func (r *GroupRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AgentGroup, error) {
	g := &domain.AgentGroup{}
	err := r.db.QueryRow(ctx, `
		SELECT id, name, chat_id, is_active, created_at FROM agent_groups WHERE id = $1
	`, id).Scan(&g.ID, &g.Name, &g.ChatID, &g.IsActive, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

func (r *GroupRepository) ListActive(ctx context.Context) ([]*domain.AgentGroup, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, chat_id, is_active, created_at FROM agent_groups WHERE is_active ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*domain.AgentGroup
	for rows.Next() {
		g := &domain.AgentGroup{}
		if err := rows.Scan(&g.ID, &g.Name, &g.ChatID, &g.IsActive, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

type AdminChannelRepository struct {
	db *pgxpool.Pool
}

func (r *AdminChannelRepository) GetActive(ctx context.Context) (*domain.AdminChannel, error) {
	c := &domain.AdminChannel{}
	err := r.db.QueryRow(ctx, `
		SELECT id, chat_id, is_active, created_at FROM admin_channels WHERE is_active LIMIT 1
	`).Scan(&c.ID, &c.ChatID, &c.IsActive, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// LeadRepository handles leads and their imported conversation
type LeadRepository struct {
	db *pgxpool.Pool
}

const leadColumns = `id, public_id, origin, client_name, client_phone, note, status, agent_id, group_id, created_by,
	source_account_id, source_contact_id, accepted_at, completed_at, rejected_at, deal_created_at,
	contract_requested_at, deleted_at, created_at, updated_at`

func scanLead(row pgx.Row) (*domain.Lead, error) {
	l := &domain.Lead{}
	err := row.Scan(&l.ID, &l.PublicID, &l.Origin, &l.ClientName, &l.ClientPhone, &l.Note, &l.Status,
		&l.AgentID, &l.GroupID, &l.CreatedBy, &l.SourceAccountID, &l.SourceContactID,
		&l.AcceptedAt, &l.CompletedAt, &l.RejectedAt, &l.DealCreatedAt, &l.ContractRequestedAt,
		&l.DeletedAt, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (r *LeadRepository) Create(ctx context.Context, lead *domain.Lead, messages []*domain.ImportedMessage) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if lead.Status == "" {
		lead.Status = domain.LeadStatusNew
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO leads (public_id, origin, client_name, client_phone, note, status, agent_id, group_id,
			created_by, source_account_id, source_contact_id, accepted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`, lead.PublicID, lead.Origin, lead.ClientName, lead.ClientPhone, lead.Note, lead.Status, lead.AgentID,
		lead.GroupID, lead.CreatedBy, lead.SourceAccountID, lead.SourceContactID, lead.AcceptedAt,
	).Scan(&lead.ID, &lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert lead: %w", err)
	}

	if len(messages) > 0 {
		rows := make([][]interface{}, 0, len(messages))
		for i, m := range messages {
			if m.ID == uuid.Nil {
				m.ID = uuid.New()
			}
			m.LeadID = lead.ID
			m.Position = i
			rows = append(rows, []interface{}{
				m.ID, m.LeadID, m.RemoteID, m.SenderID, string(m.Kind), m.Body, m.MediaPath,
				m.MimeType, m.Width, m.Height, m.Duration, m.SentAt, m.Position,
			})
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"lead_messages"}, []string{
			"id", "lead_id", "remote_id", "sender_id", "kind", "body", "media_path",
			"mime_type", "width", "height", "duration", "sent_at", "position",
		}, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to insert lead messages: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *LeadRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	l, err := scanLead(r.db.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (r *LeadRepository) Accept(ctx context.Context, leadID, agentID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE leads
		SET agent_id = $1, status = 'in_progress', accepted_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND agent_id IS NULL AND status = 'new' AND deleted_at IS NULL
	`, agentID, leadID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *LeadRepository) Transition(ctx context.Context, leadID, agentID uuid.UUID, to domain.LeadStatus) (bool, error) {
	if !to.IsClosing() {
		return false, fmt.Errorf("transition to %q: %w", to, domain.ErrInvalidInput)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE leads
		SET status = $1::text,
			completed_at = CASE WHEN $1::text = 'completed' THEN NOW() ELSE completed_at END,
			rejected_at = CASE WHEN $1::text = 'rejected' THEN NOW() ELSE rejected_at END,
			deal_created_at = CASE WHEN $1::text = 'deal_created' THEN NOW() ELSE deal_created_at END,
			updated_at = NOW()
		WHERE id = $2 AND agent_id = $3 AND status = 'in_progress' AND deleted_at IS NULL
	`, string(to), leadID, agentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *LeadRepository) MarkContractRequested(ctx context.Context, leadID, agentID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE leads SET contract_requested_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND agent_id = $2 AND status = 'in_progress' AND deleted_at IS NULL
	`, leadID, agentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

var editableColumns = map[string]string{
	domain.LeadFieldClientName:  "client_name",
	domain.LeadFieldClientPhone: "client_phone",
	domain.LeadFieldNote:        "note",
}

func (r *LeadRepository) UpdateField(ctx context.Context, leadID uuid.UUID, field, value string) (string, error) {
	column, ok := editableColumns[field]
	if !ok {
		return "", fmt.Errorf("field %q: %w", field, domain.ErrInvalidInput)
	}
	var old string
	err := r.db.QueryRow(ctx, `
		WITH prev AS (SELECT `+column+` AS value FROM leads WHERE id = $2 AND deleted_at IS NULL FOR UPDATE)
		UPDATE leads SET `+column+` = $1, updated_at = NOW()
		FROM prev
		WHERE leads.id = $2
		RETURNING prev.value
	`, value, leadID).Scan(&old)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("lead %s: %w", leadID, domain.ErrNotFound)
	}
	return old, err
}

func (r *LeadRepository) ListByAgent(ctx context.Context, agentID uuid.UUID, status domain.LeadStatus) ([]*domain.Lead, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+leadColumns+` FROM leads
		WHERE agent_id = $1 AND status = $2 AND deleted_at IS NULL
		ORDER BY accepted_at DESC NULLS LAST
		LIMIT 50
	`, agentID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []*domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func (r *LeadRepository) ListMessages(ctx context.Context, leadID uuid.UUID) ([]*domain.ImportedMessage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, lead_id, remote_id, sender_id, kind, body, media_path, mime_type, width, height, duration,
			sent_at, position, created_at
		FROM lead_messages WHERE lead_id = $1
		ORDER BY position
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.ImportedMessage
	for rows.Next() {
		m := &domain.ImportedMessage{}
		if err := rows.Scan(&m.ID, &m.LeadID, &m.RemoteID, &m.SenderID, &m.Kind, &m.Body, &m.MediaPath,
			&m.MimeType, &m.Width, &m.Height, &m.Duration, &m.SentAt, &m.Position, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *LeadRepository) CountByStatus(ctx context.Context) (map[domain.LeadStatus]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM leads WHERE deleted_at IS NULL GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.LeadStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.LeadStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *LeadRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE leads SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}

// WizardRepository persists per-chat wizard state as JSON
type WizardRepository struct {
	db *pgxpool.Pool
}

func (r *WizardRepository) Get(ctx context.Context, flow domain.Flow, chatID int64) (*domain.WizardState, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `
		SELECT payload FROM bot_states WHERE flow = $1 AND chat_id = $2 AND expires_at > NOW()
	`, string(flow), chatID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	st := &domain.WizardState{}
	if err := json.Unmarshal(payload, st); err != nil {
		return nil, fmt.Errorf("failed to decode wizard state: %w", err)
	}
	return st, nil
}

func (r *WizardRepository) Put(ctx context.Context, st *domain.WizardState) error {
	if !st.Valid() {
		return fmt.Errorf("wizard payload does not match flow %q: %w", st.Flow, domain.ErrInvalidInput)
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode wizard state: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO bot_states (flow, chat_id, payload, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (flow, chat_id) DO UPDATE
		SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at, updated_at = NOW()
	`, string(st.Flow), st.ChatID, payload, st.ExpiresAt)
	return err
}

func (r *WizardRepository) Delete(ctx context.Context, flow domain.Flow, chatID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM bot_states WHERE flow = $1 AND chat_id = $2`, string(flow), chatID)
	return err
}

func (r *WizardRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM bot_states WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var (
	_ domain.AccountStore      = (*AccountRepository)(nil)
	_ domain.StaffStore        = (*StaffRepository)(nil)
	_ domain.AgentStore        = (*AgentRepository)(nil)
	_ domain.GroupStore        = (*GroupRepository)(nil)
	_ domain.AdminChannelStore = (*AdminChannelRepository)(nil)
	_ domain.LeadStore         = (*LeadRepository)(nil)
	_ domain.WizardStore       = (*WizardRepository)(nil)
)

// Package memory holds in-process implementations of the domain stores.
// They are not persistent and only suit local runs and tests.
package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/domain"
)

// Stores bundles one of each in-memory store.
type Stores struct {
	Account      *AccountStore
	Staff        *StaffStore
	Agent        *AgentStore
	Group        *GroupStore
	AdminChannel *AdminChannelStore
	Lead         *LeadStore
	Wizard       *WizardStore
	Media        *MediaStore
}

func New() *Stores {
	return &Stores{
		Account:      NewAccountStore(),
		Staff:        NewStaffStore(),
		Agent:        NewAgentStore(),
		Group:        NewGroupStore(),
		AdminChannel: &AdminChannelStore{},
		Lead:         NewLeadStore(),
		Wizard:       NewWizardStore(time.Now),
		Media:        NewMediaStore(),
	}
}

type AccountStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]domain.LinkedAccount
}

func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[uuid.UUID]domain.LinkedAccount)}
}

func (s *AccountStore) Create(_ context.Context, a *domain.LinkedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	s.accounts[a.ID] = *a
	return nil
}

func (s *AccountStore) GetByID(_ context.Context, id uuid.UUID) (*domain.LinkedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *AccountStore) ListActive(_ context.Context) ([]*domain.LinkedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.LinkedAccount, 0, len(s.accounts))
	for _, a := range s.accounts {
		if a.IsActive && a.HasSession() {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *AccountStore) SaveSession(_ context.Context, id uuid.UUID, creds domain.Credentials, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("linked account %s: %w", id, domain.ErrNotFound)
	}
	a.Phone, a.AppID, a.AppHash = creds.Phone, creds.AppID, creds.AppHash
	a.SessionToken = &token
	a.IsActive = true
	a.UpdatedAt = time.Now()
	s.accounts[id] = a
	return nil
}

func (s *AccountStore) MarkConnected(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		now := time.Now()
		a.LastConnectedAt = &now
		s.accounts[id] = a
	}
	return nil
}

func (s *AccountStore) Deactivate(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		a.IsActive = false
		s.accounts[id] = a
	}
	return nil
}

type StaffStore struct {
	mu    sync.RWMutex
	staff map[int64]domain.StaffUser
}

func NewStaffStore() *StaffStore {
	return &StaffStore{staff: make(map[int64]domain.StaffUser)}
}

func (s *StaffStore) Create(_ context.Context, u *domain.StaffUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.staff[u.TelegramID]; exists {
		return fmt.Errorf("staff user %d already exists", u.TelegramID)
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	s.staff[u.TelegramID] = *u
	return nil
}

func (s *StaffStore) GetByTelegramID(_ context.Context, telegramID int64) (*domain.StaffUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.staff[telegramID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

type AgentStore struct {
	mu      sync.Mutex
	agents  map[uuid.UUID]domain.Agent
	byStaff map[uuid.UUID]uuid.UUID
}

func NewAgentStore() *AgentStore {
	return &AgentStore{
		agents:  make(map[uuid.UUID]domain.Agent),
		byStaff: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *AgentStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *AgentStore) GetByStaffID(_ context.Context, staffID uuid.UUID) (*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byStaff[staffID]
	if !ok {
		return nil, nil
	}
	a := s.agents[id]
	return &a, nil
}

func (s *AgentStore) GetOrCreate(_ context.Context, staff *domain.StaffUser) (*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byStaff[staff.ID]; ok {
		a := s.agents[id]
		return &a, nil
	}
	a := domain.Agent{
		ID:         uuid.New(),
		StaffID:    staff.ID,
		TelegramID: staff.TelegramID,
		Name:       staff.DisplayName(),
		CreatedAt:  time.Now(),
	}
	s.agents[a.ID] = a
	s.byStaff[staff.ID] = a.ID
	return &a, nil
}

type GroupStore struct {
	mu     sync.RWMutex
	groups map[uuid.UUID]domain.AgentGroup
}

func NewGroupStore() *GroupStore {
	return &GroupStore{groups: make(map[uuid.UUID]domain.AgentGroup)}
}

// Add registers a group, assigning an id when missing.
func (s *GroupStore) Add(g *domain.AgentGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	g.CreatedAt = time.Now()
	s.groups[g.ID] = *g
}

func (s *GroupStore) GetByID(_ context.Context, id uuid.UUID) (*domain.AgentGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (s *GroupStore) ListActive(_ context.Context) ([]*domain.AgentGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.AgentGroup, 0, len(s.groups))
	for _, g := range s.groups {
		if g.IsActive {
			g := g
			out = append(out, &g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type AdminChannelStore struct {
	mu      sync.RWMutex
	channel *domain.AdminChannel
	lookups int
}

// Set replaces the active admin channel. A zero chat id clears it.
func (s *AdminChannelStore) Set(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chatID == 0 {
		s.channel = nil
		return
	}
	s.channel = &domain.AdminChannel{ID: uuid.New(), ChatID: chatID, IsActive: true, CreatedAt: time.Now()}
}

func (s *AdminChannelStore) GetActive(_ context.Context) (*domain.AdminChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.channel == nil {
		return nil, nil
	}
	c := *s.channel
	return &c, nil
}

// Lookups counts GetActive calls.
func (s *AdminChannelStore) Lookups() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookups
}

type LeadStore struct {
	mu       sync.Mutex
	leads    map[uuid.UUID]domain.Lead
	messages map[uuid.UUID][]domain.ImportedMessage
}

func NewLeadStore() *LeadStore {
	return &LeadStore{
		leads:    make(map[uuid.UUID]domain.Lead),
		messages: make(map[uuid.UUID][]domain.ImportedMessage),
	}
}

func (s *LeadStore) Create(_ context.Context, lead *domain.Lead, messages []*domain.ImportedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	if lead.Status == "" {
		lead.Status = domain.LeadStatusNew
	}
	if (lead.AgentID == nil) != (lead.Status == domain.LeadStatusNew) {
		return fmt.Errorf("lead agent does not match status %q: %w", lead.Status, domain.ErrInvalidInput)
	}
	now := time.Now()
	lead.CreatedAt, lead.UpdatedAt = now, now
	s.leads[lead.ID] = *lead

	stored := make([]domain.ImportedMessage, 0, len(messages))
	for i, m := range messages {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.LeadID = lead.ID
		m.Position = i
		m.CreatedAt = now
		stored = append(stored, *m)
	}
	s.messages[lead.ID] = stored
	return nil
}

func (s *LeadStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok || l.DeletedAt != nil {
		return nil, nil
	}
	return &l, nil
}

func (s *LeadStore) Accept(_ context.Context, leadID, agentID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok || l.DeletedAt != nil || l.AgentID != nil || l.Status != domain.LeadStatusNew {
		return false, nil
	}
	now := time.Now()
	l.AgentID = &agentID
	l.Status = domain.LeadStatusInProgress
	l.AcceptedAt = &now
	l.UpdatedAt = now
	s.leads[leadID] = l
	return true, nil
}

func (s *LeadStore) Transition(_ context.Context, leadID, agentID uuid.UUID, to domain.LeadStatus) (bool, error) {
	if !to.IsClosing() {
		return false, fmt.Errorf("transition to %q: %w", to, domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok || l.DeletedAt != nil || l.AgentID == nil || *l.AgentID != agentID || l.Status != domain.LeadStatusInProgress {
		return false, nil
	}
	now := time.Now()
	l.Status = to
	switch to {
	case domain.LeadStatusCompleted:
		l.CompletedAt = &now
	case domain.LeadStatusRejected:
		l.RejectedAt = &now
	case domain.LeadStatusDealCreated:
		l.DealCreatedAt = &now
	}
	l.UpdatedAt = now
	s.leads[leadID] = l
	return true, nil
}

func (s *LeadStore) MarkContractRequested(_ context.Context, leadID, agentID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok || l.DeletedAt != nil || l.AgentID == nil || *l.AgentID != agentID || l.Status != domain.LeadStatusInProgress {
		return false, nil
	}
	now := time.Now()
	l.ContractRequestedAt = &now
	l.UpdatedAt = now
	s.leads[leadID] = l
	return true, nil
}

func (s *LeadStore) UpdateField(_ context.Context, leadID uuid.UUID, field, value string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok || l.DeletedAt != nil {
		return "", fmt.Errorf("lead %s: %w", leadID, domain.ErrNotFound)
	}
	var old string
	switch field {
	case domain.LeadFieldClientName:
		old, l.ClientName = l.ClientName, value
	case domain.LeadFieldClientPhone:
		old, l.ClientPhone = l.ClientPhone, value
	case domain.LeadFieldNote:
		old, l.Note = l.Note, value
	default:
		return "", fmt.Errorf("field %q: %w", field, domain.ErrInvalidInput)
	}
	l.UpdatedAt = time.Now()
	s.leads[leadID] = l
	return old, nil
}

func (s *LeadStore) ListByAgent(_ context.Context, agentID uuid.UUID, status domain.LeadStatus) ([]*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Lead
	for _, l := range s.leads {
		if l.DeletedAt == nil && l.AgentID != nil && *l.AgentID == agentID && l.Status == status {
			l := l
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *LeadStore) ListMessages(_ context.Context, leadID uuid.UUID) ([]*domain.ImportedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.messages[leadID]
	out := make([]*domain.ImportedMessage, len(stored))
	for i := range stored {
		m := stored[i]
		out[i] = &m
	}
	return out, nil
}

func (s *LeadStore) CountByStatus(_ context.Context) (map[domain.LeadStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.LeadStatus]int)
	for _, l := range s.leads {
		if l.DeletedAt == nil {
			counts[l.Status]++
		}
	}
	return counts, nil
}

func (s *LeadStore) SoftDelete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leads[id]; ok && l.DeletedAt == nil {
		now := time.Now()
		l.DeletedAt = &now
		s.leads[id] = l
	}
	return nil
}

// All returns every non-deleted lead.
func (s *LeadStore) All() []*domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		if l.DeletedAt == nil {
			l := l
			out = append(out, &l)
		}
	}
	return out
}

type wizardKey struct {
	flow   domain.Flow
	chatID int64
}

type WizardStore struct {
	mu     sync.Mutex
	states map[wizardKey][]byte
	now    func() time.Time
	writes int
}

func NewWizardStore(now func() time.Time) *WizardStore {
	return &WizardStore{states: make(map[wizardKey][]byte), now: now}
}

func (s *WizardStore) Get(_ context.Context, flow domain.Flow, chatID int64) (*domain.WizardState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.states[wizardKey{flow, chatID}]
	if !ok {
		return nil, nil
	}
	st, err := decodeWizard(data)
	if err != nil {
		return nil, err
	}
	if st.Expired(s.now()) {
		return nil, nil
	}
	return st, nil
}

func (s *WizardStore) Put(_ context.Context, st *domain.WizardState) error {
	if !st.Valid() {
		return fmt.Errorf("wizard payload does not match flow %q: %w", st.Flow, domain.ErrInvalidInput)
	}
	data, err := encodeWizard(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[wizardKey{st.Flow, st.ChatID}] = data
	s.writes++
	return nil
}

func (s *WizardStore) Delete(_ context.Context, flow domain.Flow, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, wizardKey{flow, chatID})
	return nil
}

func (s *WizardStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, data := range s.states {
		st, err := decodeWizard(data)
		if err != nil || st.Expired(now) {
			delete(s.states, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored rows, expired ones included.
func (s *WizardStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// CountForChat returns how many flows hold a row for chatID.
func (s *WizardStore) CountForChat(chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.states {
		if k.chatID == chatID {
			n++
		}
	}
	return n
}

type MediaStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMediaStore() *MediaStore {
	return &MediaStore{files: make(map[string][]byte)}
}

func (s *MediaStore) Save(_ context.Context, dir domain.MediaDir, filename string, data []byte, _ string) (string, error) {
	key := path.Join(string(dir), filename)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.files[key]; exists {
		return "", fmt.Errorf("media %s already exists", key)
	}
	s.files[key] = append([]byte(nil), data...)
	return key, nil
}

func (s *MediaStore) Open(_ context.Context, p string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[p]
	if !ok {
		return nil, fmt.Errorf("media %s: %w", p, domain.ErrNotFound)
	}
	return data, nil
}

// Paths lists stored keys in lexical order.
func (s *MediaStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.files))
	for k := range s.files {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var (
	_ domain.AccountStore      = (*AccountStore)(nil)
	_ domain.StaffStore        = (*StaffStore)(nil)
	_ domain.AgentStore        = (*AgentStore)(nil)
	_ domain.GroupStore        = (*GroupStore)(nil)
	_ domain.AdminChannelStore = (*AdminChannelStore)(nil)
	_ domain.LeadStore         = (*LeadStore)(nil)
	_ domain.WizardStore       = (*WizardStore)(nil)
	_ domain.MediaStore        = (*MediaStore)(nil)
)

// Writes counts Put calls.
func (s *WizardStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

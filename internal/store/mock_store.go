// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject storage faults

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
// QuotaErr and SafetyErr, when set, are returned from every quota or
// safety operation so tests can exercise fail-open/fail-closed paths.
type MockStore struct {
	mu           sync.Mutex
	accounts     map[string]*UserAccount
	daily        map[string]*dailyCounter
	minute       map[string]*minuteCounter
	scoped       map[string]int // keyed by "table:userID:scopeID"
	intervention map[string]*InterventionRecord
	recovery     map[string]*RecoveryRecord
	crisisEvents map[string][]*CrisisEvent
	threads      map[string]*Thread
	messages     map[string][]*Message
	llmConfigs   map[string]*LLMConfig

	QuotaErr  error
	SafetyErr error
}

type dailyCounter struct {
	day   string
	count int
}

type minuteCounter struct {
	windowStart time.Time
	count       int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		accounts:     make(map[string]*UserAccount),
		daily:        make(map[string]*dailyCounter),
		minute:       make(map[string]*minuteCounter),
		scoped:       make(map[string]int),
		intervention: make(map[string]*InterventionRecord),
		recovery:     make(map[string]*RecoveryRecord),
		crisisEvents: make(map[string][]*CrisisEvent),
		threads:      make(map[string]*Thread),
		messages:     make(map[string][]*Message),
		llmConfigs:   make(map[string]*LLMConfig),
	}
}

// EnsureAccount returns the account, creating it with tier FREE if missing.
func (m *MockStore) EnsureAccount(ctx context.Context, userID string, anonymous bool) (*UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.accounts[userID]; ok {
		copied := *a
		return &copied, nil
	}

	now := time.Now().UTC()
	a := &UserAccount{
		UserID:    userID,
		Tier:      TierFree,
		Anonymous: anonymous,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.accounts[userID] = a
	copied := *a
	return &copied, nil
}

// GetAccount retrieves an account by user ID.
func (m *MockStore) GetAccount(ctx context.Context, userID string) (*UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *a
	return &copied, nil
}

// UpdateAccount overwrites an account's mutable fields.
func (m *MockStore) UpdateAccount(ctx context.Context, account *UserAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.accounts[account.UserID]
	if !ok {
		return ErrNotFound
	}
	existing.Tier = account.Tier
	existing.Anonymous = account.Anonymous
	existing.Exempt = account.Exempt
	existing.Unlocked = account.Unlocked
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementTrialUsed admits one trial request under the lock, so the check
// and increment are a single decision.
func (m *MockStore) IncrementTrialUsed(ctx context.Context, userID string, limit int) (*Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if a.TrialRequestsUsed >= limit {
		return &Admission{Allowed: false, Count: a.TrialRequestsUsed}, nil
	}
	a.TrialRequestsUsed++
	return &Admission{Allowed: true, Count: a.TrialRequestsUsed}, nil
}

// IncrementDaily admits one request against the daily pool.
func (m *MockStore) IncrementDaily(ctx context.Context, userID, day string, limit int) (*Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QuotaErr != nil {
		return nil, m.QuotaErr
	}

	c, ok := m.daily[userID]
	if !ok || c.day != day {
		c = &dailyCounter{day: day}
		m.daily[userID] = c
	}
	if c.count >= limit {
		return &Admission{Allowed: false, Count: c.count}, nil
	}
	c.count++
	return &Admission{Allowed: true, Count: c.count}, nil
}

// IncrementMinute admits one request against the per-minute window.
func (m *MockStore) IncrementMinute(ctx context.Context, userID string, now time.Time, limit int) (*Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QuotaErr != nil {
		return nil, m.QuotaErr
	}

	c, ok := m.minute[userID]
	if !ok || now.Sub(c.windowStart) >= time.Minute {
		c = &minuteCounter{windowStart: now.UTC()}
		m.minute[userID] = c
	}
	if c.count >= limit {
		return &Admission{Allowed: false, Count: c.count, WindowStart: c.windowStart}, nil
	}
	c.count++
	return &Admission{Allowed: true, Count: c.count, WindowStart: c.windowStart}, nil
}

// IncrementEntryAnalysis admits one analysis against the per-entry ceiling.
func (m *MockStore) IncrementEntryAnalysis(ctx context.Context, userID, entryID string, limit int) (*Admission, error) {
	return m.incrementScoped("entry", userID, entryID, limit)
}

// IncrementThreadMessages admits one message against the per-thread ceiling.
func (m *MockStore) IncrementThreadMessages(ctx context.Context, userID, threadID string, limit int) (*Admission, error) {
	return m.incrementScoped("thread", userID, threadID, limit)
}

func (m *MockStore) incrementScoped(kind, userID, scopeID string, limit int) (*Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QuotaErr != nil {
		return nil, m.QuotaErr
	}

	key := kind + ":" + userID + ":" + scopeID
	count := m.scoped[key]
	if count >= limit {
		return &Admission{Allowed: false, Count: count}, nil
	}
	m.scoped[key] = count + 1
	return &Admission{Allowed: true, Count: count + 1}, nil
}

// GetUsage returns a snapshot of the user's counters.
func (m *MockStore) GetUsage(ctx context.Context, userID string) (*UsageSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QuotaErr != nil {
		return nil, m.QuotaErr
	}

	snap := &UsageSnapshot{UserID: userID}
	if c, ok := m.daily[userID]; ok {
		snap.Day = c.day
		snap.DailyCount = c.count
	}
	if c, ok := m.minute[userID]; ok {
		snap.MinuteCount = c.count
		snap.WindowStart = c.windowStart
	}
	return snap, nil
}

// GetIntervention retrieves the intervention record for a user.
func (m *MockStore) GetIntervention(ctx context.Context, userID string) (*InterventionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SafetyErr != nil {
		return nil, m.SafetyErr
	}

	rec, ok := m.intervention[userID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

// SaveIntervention upserts the intervention record for a user.
func (m *MockStore) SaveIntervention(ctx context.Context, record *InterventionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SafetyErr != nil {
		return m.SafetyErr
	}

	copied := *record
	copied.UpdatedAt = time.Now().UTC()
	m.intervention[record.UserID] = &copied
	return nil
}

// GetRecovery retrieves the recovery record for a user.
func (m *MockStore) GetRecovery(ctx context.Context, userID string) (*RecoveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SafetyErr != nil {
		return nil, m.SafetyErr
	}

	rec, ok := m.recovery[userID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

// SaveRecovery upserts the recovery record for a user.
func (m *MockStore) SaveRecovery(ctx context.Context, record *RecoveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SafetyErr != nil {
		return m.SafetyErr
	}

	copied := *record
	copied.UpdatedAt = time.Now().UTC()
	m.recovery[record.UserID] = &copied
	return nil
}

// AppendCrisisEvent stores a crisis audit record.
func (m *MockStore) AppendCrisisEvent(ctx context.Context, event *CrisisEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SafetyErr != nil {
		return m.SafetyErr
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	copied := *event
	m.crisisEvents[event.UserID] = append(m.crisisEvents[event.UserID], &copied)
	return nil
}

// ListCrisisEvents returns events most-recent-first, at most limit.
func (m *MockStore) ListCrisisEvents(ctx context.Context, userID string, limit int) ([]*CrisisEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SafetyErr != nil {
		return nil, m.SafetyErr
	}

	events := make([]*CrisisEvent, len(m.crisisEvents[userID]))
	copy(events, m.crisisEvents[userID])
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// CountCrisisEventsSince counts events at or after since.
func (m *MockStore) CountCrisisEventsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SafetyErr != nil {
		return 0, m.SafetyErr
	}

	count := 0
	for _, ev := range m.crisisEvents[userID] {
		if !ev.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// CreateThread stores a new thread.
func (m *MockStore) CreateThread(ctx context.Context, thread *Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[thread.ID]; ok {
		return ErrDuplicateThread
	}

	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	if thread.UpdatedAt.IsZero() {
		thread.UpdatedAt = now
	}
	copied := *thread
	m.threads[thread.ID] = &copied
	return nil
}

// GetThread retrieves a thread by ID.
func (m *MockStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *t
	if t.ActiveFlow != nil {
		flow := *t.ActiveFlow
		copied.ActiveFlow = &flow
	}
	return &copied, nil
}

// AppendMessage stores a message and bumps the thread's message count.
func (m *MockStore) AppendMessage(ctx context.Context, message *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	copied := *message
	m.messages[message.ThreadID] = append(m.messages[message.ThreadID], &copied)

	if t, ok := m.threads[message.ThreadID]; ok {
		t.MessageCount++
		t.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// GetMessages retrieves a thread's messages in chronological order.
func (m *MockStore) GetMessages(ctx context.Context, threadID string, limit int) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]*Message, len(m.messages[threadID]))
	copy(msgs, m.messages[threadID])
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// SetActiveFlow overwrites the thread's flow cursor.
func (m *MockStore) SetActiveFlow(ctx context.Context, threadID string, flow *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	if flow == nil {
		t.ActiveFlow = nil
	} else {
		copied := *flow
		t.ActiveFlow = &copied
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// GetLLMConfig retrieves a user's model override.
func (m *MockStore) GetLLMConfig(ctx context.Context, userID string) (*LLMConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.llmConfigs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *cfg
	return &copied, nil
}

// PutLLMConfig upserts a user's model override.
func (m *MockStore) PutLLMConfig(ctx context.Context, cfg *LLMConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *cfg
	copied.UpdatedAt = time.Now().UTC()
	m.llmConfigs[cfg.UserID] = &copied
	return nil
}

// DeleteLLMConfig removes a user's model override.
func (m *MockStore) DeleteLLMConfig(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.llmConfigs[userID]; !ok {
		return ErrNotFound
	}
	delete(m.llmConfigs, userID)
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements the full Store interface.
var _ Store = (*MockStore)(nil)

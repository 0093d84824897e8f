// ABOUTME: Store interface and data types for haven-gateway persistence
// ABOUTME: Defines account, quota, safety, thread, and model-config documents

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when trying to create a thread that already exists
var ErrDuplicateThread = errors.New("thread already exists")

// Tier constants for subscription classes
const (
	TierFree = "FREE"
	TierPaid = "PAID"
)

// UserAccount is the per-user identity document. Accounts are created
// lazily on first contact with tier FREE.
type UserAccount struct {
	UserID            string
	Tier              string // FREE or PAID
	Anonymous         bool
	Exempt            bool // bypasses all quota limits
	Unlocked          bool // explicit per-account quota unlock
	TrialRequestsUsed int  // anonymous accounts only
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Bypass reports whether this account skips quota checks entirely.
func (a *UserAccount) Bypass() bool {
	return a.Exempt || a.Unlocked || a.Tier == TierPaid
}

// InterventionRecord is the per-user crisis escalation document.
// Level 3 is only meaningful while LimitedModeUntil is in the future;
// expiry is lazy, evaluated on read.
type InterventionRecord struct {
	UserID           string
	Level            int
	LimitedModeUntil *time.Time
	LastCrisisAt     *time.Time
	UpdatedAt        time.Time
}

// RecoveryRecord tracks post-crisis cooldown per user. The recovery phase
// itself is never stored; it is projected from LastCrisisAt at read time.
type RecoveryRecord struct {
	UserID         string
	CooldownActive bool
	LastCrisisAt   *time.Time
	UpdatedAt      time.Time
}

// CrisisEvent is an audit record of a single crisis-positive assessment,
// attached to the originating entry or thread.
type CrisisEvent struct {
	ID               string
	UserID           string
	EntryID          string // originating entry/thread, may be empty
	Score            float64
	Level            string // classifier level: none, low, moderate, high
	DetectedPatterns []string
	Confidence       float64
	CreatedAt        time.Time
}

// Thread represents a conversation thread owned by a user. Messages are
// append-only; ActiveFlow is the only mutable non-append field and holds
// the serialized configuration-flow cursor while a flow is in progress.
type Thread struct {
	ID           string
	UserID       string
	MessageCount int
	ActiveFlow   *string // JSON-encoded flow state, nil when no flow active
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single message within a thread.
type Message struct {
	ID        string
	ThreadID  string
	Role      string
	Content   string
	CreatedAt time.Time
}

// LLMConfig is a user's persisted model override. Exactly one of
// APIKeySealed or UseProjectKey is meaningful.
type LLMConfig struct {
	UserID        string
	Provider      string
	ModelID       string
	APIKeySealed  string // encrypted at rest, empty when UseProjectKey
	UseProjectKey bool
	AccountID     string // required by providers with account-scoped auth
	UpdatedAt     time.Time
}

// Admission is the outcome of a conditional counter increment. When the
// increment was rejected, Count holds the usage that caused the rejection.
type Admission struct {
	Allowed     bool
	Count       int
	WindowStart time.Time
}

// UsageSnapshot is a read-only projection of a user's quota counters.
type UsageSnapshot struct {
	UserID      string
	Day         string
	DailyCount  int
	MinuteCount int
	WindowStart time.Time
}

// AccountStore manages user account documents.
type AccountStore interface {
	// EnsureAccount returns the account for userID, creating it with tier
	// FREE when it does not exist yet.
	EnsureAccount(ctx context.Context, userID string, anonymous bool) (*UserAccount, error)
	GetAccount(ctx context.Context, userID string) (*UserAccount, error)
	UpdateAccount(ctx context.Context, account *UserAccount) error
	// IncrementTrialUsed admits one trial request for an anonymous account,
	// rejecting once limit is reached.
	IncrementTrialUsed(ctx context.Context, userID string, limit int) (*Admission, error)
}

// QuotaStore manages per-user usage counters. Every increment is a single
// atomic check-and-increment against the given limit.
type QuotaStore interface {
	IncrementDaily(ctx context.Context, userID, day string, limit int) (*Admission, error)
	IncrementMinute(ctx context.Context, userID string, now time.Time, limit int) (*Admission, error)
	IncrementEntryAnalysis(ctx context.Context, userID, entryID string, limit int) (*Admission, error)
	IncrementThreadMessages(ctx context.Context, userID, threadID string, limit int) (*Admission, error)
	GetUsage(ctx context.Context, userID string) (*UsageSnapshot, error)
}

// SafetyStore manages intervention state, recovery state, and crisis audit
// events.
type SafetyStore interface {
	GetIntervention(ctx context.Context, userID string) (*InterventionRecord, error)
	SaveIntervention(ctx context.Context, record *InterventionRecord) error
	GetRecovery(ctx context.Context, userID string) (*RecoveryRecord, error)
	SaveRecovery(ctx context.Context, record *RecoveryRecord) error
	AppendCrisisEvent(ctx context.Context, event *CrisisEvent) error
	// ListCrisisEvents returns events most-recent-first, at most limit.
	ListCrisisEvents(ctx context.Context, userID string, limit int) ([]*CrisisEvent, error)
	CountCrisisEventsSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// ThreadStore manages conversation threads and their append-only messages.
type ThreadStore interface {
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	AppendMessage(ctx context.Context, message *Message) error
	GetMessages(ctx context.Context, threadID string, limit int) ([]*Message, error)
	// SetActiveFlow overwrites the thread's flow cursor. Last write wins;
	// single-flight per thread is assumed at the client.
	SetActiveFlow(ctx context.Context, threadID string, flow *string) error
}

// LLMConfigStore manages per-user model overrides.
type LLMConfigStore interface {
	GetLLMConfig(ctx context.Context, userID string) (*LLMConfig, error)
	PutLLMConfig(ctx context.Context, cfg *LLMConfig) error
	DeleteLLMConfig(ctx context.Context, userID string) error
}

// Store is the full persistence interface for the gateway.
type Store interface {
	AccountStore
	QuotaStore
	SafetyStore
	ThreadStore
	LLMConfigStore

	Close() error
}

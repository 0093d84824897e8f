// ABOUTME: HTTP handlers and the response envelope for the gateway API
// ABOUTME: Every /api/message response uses the same envelope shape

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/havenjournal/haven-gateway/internal/auth"
	"github.com/havenjournal/haven-gateway/internal/fault"
	"github.com/havenjournal/haven-gateway/internal/store"
)

// MessageRequest is the body of POST /api/message. RequestID, when set,
// makes the request idempotent within a short window: a retried id is
// rejected instead of consuming another quota slot.
type MessageRequest struct {
	OperationType string `json:"operationType"`
	Content       string `json:"content"`
	ThreadID      string `json:"threadId,omitempty"`
	EntryID       string `json:"entryId,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
}

// Envelope is the uniform /api/message response. Exactly one of Message,
// QuotaError, or Error carries the payload; the flags describe why.
// The serving model is deliberately absent: clients never learn which
// provider answered.
type Envelope struct {
	Allowed           bool         `json:"allowed"`
	Message           string       `json:"message,omitempty"`
	ThreadID          string       `json:"threadId,omitempty"`
	CrisisDetected    bool         `json:"crisisDetected,omitempty"`
	CrisisLevel       string       `json:"crisisLevel,omitempty"`
	InterventionLevel int          `json:"interventionLevel,omitempty"`
	RequiresAck       bool         `json:"requiresAck,omitempty"`
	LimitedMode       bool         `json:"limitedMode,omitempty"`
	LimitedModeUntil  *time.Time   `json:"limitedModeUntil,omitempty"`
	QuotaError        *fault.Error `json:"quotaError,omitempty"`
	Error             *fault.Error `json:"error,omitempty"`
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFault(w, fault.InvalidArgument("invalid request body"))
		return
	}
	if req.Content == "" {
		writeFault(w, fault.InvalidArgument("content is required"))
		return
	}
	if req.OperationType == "" {
		req.OperationType = "chat"
	}

	env := g.process(r.Context(), identity, &req)

	status := http.StatusOK
	if env.Error != nil {
		status = env.Error.Code.HTTPStatus()
	}
	writeJSON(w, status, env)
}

func (g *Gateway) handleUsage(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context())

	account, err := g.store.EnsureAccount(r.Context(), identity.UserID, identity.Anonymous)
	if err != nil {
		g.logger.Error("loading account for usage failed", "user_id", identity.UserID, "error", err)
		writeFault(w, fault.Internal("could not load usage"))
		return
	}

	snapshot, err := g.store.GetUsage(r.Context(), identity.UserID)
	if err != nil {
		g.logger.Error("loading usage failed", "user_id", identity.UserID, "error", err)
		writeFault(w, fault.Internal("could not load usage"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":      snapshot.UserID,
		"tier":        account.Tier,
		"bypass":      account.Bypass(),
		"day":         snapshot.Day,
		"dailyCount":  snapshot.DailyCount,
		"dailyLimit":  g.config.Quota.DailyLimit,
		"minuteCount": snapshot.MinuteCount,
		"minuteLimit": g.config.Quota.PerMinuteLimit,
	})
}

func (g *Gateway) handleAdminGetAccount(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	account, err := g.store.GetAccount(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeFault(w, fault.InvalidArgument("unknown account %q", userID))
		return
	}
	if err != nil {
		g.logger.Error("loading account failed", "user_id", userID, "error", err)
		writeFault(w, fault.Internal("could not load account"))
		return
	}

	writeJSON(w, http.StatusOK, accountView(account))
}

func (g *Gateway) handleAdminSetTier(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	var body struct {
		Tier string `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFault(w, fault.InvalidArgument("invalid request body"))
		return
	}
	if body.Tier != store.TierFree && body.Tier != store.TierPaid {
		writeFault(w, fault.InvalidArgument("tier must be %s or %s", store.TierFree, store.TierPaid))
		return
	}

	account, err := g.store.GetAccount(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeFault(w, fault.InvalidArgument("unknown account %q", userID))
		return
	}
	if err != nil {
		g.logger.Error("loading account failed", "user_id", userID, "error", err)
		writeFault(w, fault.Internal("could not update account"))
		return
	}

	account.Tier = body.Tier
	if err := g.store.UpdateAccount(r.Context(), account); err != nil {
		g.logger.Error("updating account failed", "user_id", userID, "error", err)
		writeFault(w, fault.Internal("could not update account"))
		return
	}

	g.logger.Info("tier updated", "user_id", userID, "tier", body.Tier)
	writeJSON(w, http.StatusOK, accountView(account))
}

func (g *Gateway) handleAdminSetExempt(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	var body struct {
		Exempt bool `json:"exempt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFault(w, fault.InvalidArgument("invalid request body"))
		return
	}

	account, err := g.store.GetAccount(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeFault(w, fault.InvalidArgument("unknown account %q", userID))
		return
	}
	if err != nil {
		g.logger.Error("loading account failed", "user_id", userID, "error", err)
		writeFault(w, fault.Internal("could not update account"))
		return
	}

	account.Exempt = body.Exempt
	if err := g.store.UpdateAccount(r.Context(), account); err != nil {
		g.logger.Error("updating account failed", "user_id", userID, "error", err)
		writeFault(w, fault.Internal("could not update account"))
		return
	}

	g.logger.Info("exempt flag updated", "user_id", userID, "exempt", body.Exempt)
	writeJSON(w, http.StatusOK, accountView(account))
}

func (g *Gateway) handleAdminCrisisEvents(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeFault(w, fault.InvalidArgument("limit must be a positive integer"))
			return
		}
		limit = n
	}

	events, err := g.store.ListCrisisEvents(r.Context(), userID, limit)
	if err != nil {
		g.logger.Error("listing crisis events failed", "user_id", userID, "error", err)
		writeFault(w, fault.Internal("could not list crisis events"))
		return
	}

	views := make([]map[string]any, 0, len(events))
	for _, e := range events {
		views = append(views, map[string]any{
			"id":               e.ID,
			"entryId":          e.EntryID,
			"score":            e.Score,
			"level":            e.Level,
			"detectedPatterns": e.DetectedPatterns,
			"confidence":       e.Confidence,
			"createdAt":        e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

func accountView(a *store.UserAccount) map[string]any {
	return map[string]any{
		"userId":            a.UserID,
		"tier":              a.Tier,
		"anonymous":         a.Anonymous,
		"exempt":            a.Exempt,
		"unlocked":          a.Unlocked,
		"trialRequestsUsed": a.TrialRequestsUsed,
		"createdAt":         a.CreatedAt,
		"updatedAt":         a.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFault(w http.ResponseWriter, ferr *fault.Error) {
	writeJSON(w, ferr.Code.HTTPStatus(), map[string]any{"error": ferr})
}

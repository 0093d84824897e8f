// ABOUTME: The admission pipeline for one message: identity, safety, quota, routing
// ABOUTME: Stage order is fixed; each stage can short-circuit with an envelope

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/havenjournal/haven-gateway/internal/auth"
	"github.com/havenjournal/haven-gateway/internal/fault"
	"github.com/havenjournal/haven-gateway/internal/flow"
	"github.com/havenjournal/haven-gateway/internal/intervention"
	"github.com/havenjournal/haven-gateway/internal/modelrouter"
	"github.com/havenjournal/haven-gateway/internal/quota"
	"github.com/havenjournal/haven-gateway/internal/store"
)

var knownOperations = map[string]modelrouter.Operation{
	"chat":              modelrouter.OpChat,
	"analysis":          modelrouter.OpAnalysis,
	"deep_reflection":   modelrouter.OpDeepReflection,
	"monthly_summary":   modelrouter.OpMonthlySummary,
	"prompt_generation": modelrouter.OpPromptGen,
}

// process runs one message through the full pipeline and always returns an
// envelope. Stage order: account, trial admission, limited-mode gate, active
// configuration flow, flow intent, crisis classification, quota, routing.
func (g *Gateway) process(ctx context.Context, identity *auth.Identity, req *MessageRequest) *Envelope {
	op, ok := knownOperations[req.OperationType]
	if !ok {
		return &Envelope{Error: fault.InvalidArgument("unknown operation type %q", req.OperationType)}
	}

	if req.RequestID != "" && g.replays.Seen(identity.UserID+":"+req.RequestID) {
		return &Envelope{Error: fault.InvalidArgument("duplicate request %q", req.RequestID)}
	}

	account, err := g.store.EnsureAccount(ctx, identity.UserID, identity.Anonymous)
	if err != nil {
		g.logger.Error("ensuring account failed", "user_id", identity.UserID, "error", err)
		return &Envelope{Error: fault.Internal("could not load account")}
	}

	if account.Anonymous {
		adm, err := g.store.IncrementTrialUsed(ctx, account.UserID, g.config.Quota.TrialLimit)
		if err != nil {
			g.logger.Error("trial admission failed", "user_id", account.UserID, "error", err)
			return &Envelope{Error: fault.Internal("could not process request")}
		}
		if !adm.Allowed {
			return &Envelope{Error: fault.PermissionDenied(
				"trial limit reached (%d requests), please create an account", g.config.Quota.TrialLimit)}
		}
	}

	// Limited-mode gate. Reads fail closed: if we cannot know whether the
	// user is in limited mode, we behave as if a standard intervention fired.
	active, err := g.resolver.Active(ctx, account.UserID)
	if err != nil {
		g.logger.Error("reading intervention state failed, failing closed",
			"user_id", account.UserID, "error", err)
		return g.blockedEnvelope(g.resolver.ResolveFailClosed(account.UserID), req.ThreadID)
	}
	if active != nil {
		return g.blockedEnvelope(active, req.ThreadID)
	}

	thread, env := g.resolveThread(ctx, account, req, op)
	if env != nil {
		return env
	}

	if thread != nil && thread.ActiveFlow != nil {
		return g.advanceFlow(ctx, account, thread, req.Content)
	}
	if thread != nil && op == modelrouter.OpChat && flow.Detect(req.Content) {
		return g.startFlow(ctx, account, thread, req.Content)
	}

	assessment, err := g.classifier.Classify(ctx, req.Content)
	var decision *intervention.Decision
	if err != nil {
		g.logger.Error("classifier call failed", "user_id", account.UserID, "error", err)
		decision = g.resolver.ResolveFailClosed(account.UserID)
	} else {
		decision, err = g.resolver.Resolve(ctx, account.UserID, g.sourceID(req, thread), assessment)
		if err != nil {
			g.logger.Error("resolving intervention failed, failing closed",
				"user_id", account.UserID, "error", err)
			decision = g.resolver.ResolveFailClosed(account.UserID)
		}
	}
	if decision.Blocking() {
		g.persistTurn(ctx, thread, req.Content, decision.Response)
		return g.blockedEnvelope(decision, threadID(thread))
	}

	result := g.limiter.Check(ctx, account, quota.Scope{
		EntryID:  req.EntryID,
		ThreadID: threadID(thread),
	})
	if !result.Allowed {
		return &Envelope{ThreadID: threadID(thread), QuotaError: result.Err}
	}

	text, err := g.generate(ctx, account, op, req.Content)
	if err != nil {
		if ferr := fault.As(err); ferr != nil {
			return &Envelope{ThreadID: threadID(thread), Error: ferr}
		}
		g.logger.Error("generation failed", "user_id", account.UserID, "error", err)
		return &Envelope{ThreadID: threadID(thread), Error: fault.Internal("could not process request")}
	}

	g.persistTurn(ctx, thread, req.Content, text)
	return &Envelope{
		Allowed:  true,
		Message:  text,
		ThreadID: threadID(thread),
	}
}

// resolveThread loads or creates the conversation thread for chat requests.
// Non-chat operations do not carry threads. A thread owned by another user
// is indistinguishable from a missing one.
func (g *Gateway) resolveThread(ctx context.Context, account *store.UserAccount, req *MessageRequest, op modelrouter.Operation) (*store.Thread, *Envelope) {
	if op != modelrouter.OpChat {
		return nil, nil
	}

	if req.ThreadID == "" {
		thread := &store.Thread{
			ID:     uuid.New().String(),
			UserID: account.UserID,
		}
		if err := g.store.CreateThread(ctx, thread); err != nil {
			g.logger.Error("creating thread failed", "user_id", account.UserID, "error", err)
			return nil, &Envelope{Error: fault.Internal("could not create conversation")}
		}
		return thread, nil
	}

	thread, err := g.store.GetThread(ctx, req.ThreadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &Envelope{Error: fault.InvalidArgument("unknown thread %q", req.ThreadID)}
	}
	if err != nil {
		g.logger.Error("loading thread failed", "thread_id", req.ThreadID, "error", err)
		return nil, &Envelope{Error: fault.Internal("could not load conversation")}
	}
	if thread.UserID != account.UserID {
		return nil, &Envelope{Error: fault.InvalidArgument("unknown thread %q", req.ThreadID)}
	}
	return thread, nil
}

// startFlow opens a configuration flow on the thread.
func (g *Gateway) startFlow(ctx context.Context, account *store.UserAccount, thread *store.Thread, content string) *Envelope {
	outcome := flow.Start(g.catalog)

	raw, err := flow.Marshal(outcome.State)
	if err != nil {
		g.logger.Error("encoding flow state failed", "thread_id", thread.ID, "error", err)
		return &Envelope{Error: fault.Internal("could not start configuration")}
	}
	if err := g.store.SetActiveFlow(ctx, thread.ID, &raw); err != nil {
		g.logger.Error("saving flow state failed", "thread_id", thread.ID, "error", err)
		return &Envelope{Error: fault.Internal("could not start configuration")}
	}

	g.logger.Info("configuration flow started", "user_id", account.UserID, "thread_id", thread.ID)
	g.persistTurn(ctx, thread, content, outcome.Reply)
	return &Envelope{Allowed: true, Message: outcome.Reply, ThreadID: thread.ID}
}

// advanceFlow applies one message to the thread's active configuration flow.
// A completed flow is validated live before anything is persisted; a failed
// validation keeps the previous cursor so the user can retry the last answer.
func (g *Gateway) advanceFlow(ctx context.Context, account *store.UserAccount, thread *store.Thread, content string) *Envelope {
	state, err := flow.Unmarshal(*thread.ActiveFlow)
	if err != nil {
		g.logger.Error("corrupt flow state, clearing", "thread_id", thread.ID, "error", err)
		g.clearFlow(ctx, thread)
		return &Envelope{Allowed: true, ThreadID: thread.ID,
			Message: "Something went wrong with the configuration. Say \"change my model\" to start over."}
	}

	outcome := flow.Advance(state, content, g.catalog)

	switch {
	case outcome.Canceled:
		g.clearFlow(ctx, thread)

	case outcome.Completion != nil:
		reply, ok := g.commitConfig(ctx, account, outcome.Completion)
		if !ok {
			// Cursor stays where it was; the user retries the same step.
			g.persistTurn(ctx, thread, content, reply)
			return &Envelope{Allowed: true, Message: reply, ThreadID: thread.ID}
		}
		g.clearFlow(ctx, thread)
		outcome.Reply = reply

	default:
		raw, err := flow.Marshal(outcome.State)
		if err != nil {
			g.logger.Error("encoding flow state failed", "thread_id", thread.ID, "error", err)
			return &Envelope{Error: fault.Internal("could not save configuration progress")}
		}
		if err := g.store.SetActiveFlow(ctx, thread.ID, &raw); err != nil {
			g.logger.Error("saving flow state failed", "thread_id", thread.ID, "error", err)
			return &Envelope{Error: fault.Internal("could not save configuration progress")}
		}
	}

	g.persistTurn(ctx, thread, content, outcome.Reply)
	return &Envelope{Allowed: true, Message: outcome.Reply, ThreadID: thread.ID}
}

// commitConfig validates a finished flow against the live provider and, on
// success, seals the key and persists the override. Returns the user-facing
// reply and whether the configuration was saved.
func (g *Gateway) commitConfig(ctx context.Context, account *store.UserAccount, c *flow.Completion) (string, bool) {
	cfg := &store.LLMConfig{
		UserID:        account.UserID,
		Provider:      c.Provider,
		ModelID:       c.ModelID,
		AccountID:     c.AccountID,
		UseProjectKey: c.UseProjectKey,
	}

	if err := g.router.ValidateConfig(ctx, cfg, c.APIKey); err != nil {
		if ferr := fault.As(err); ferr != nil {
			return ferr.Message + " Please try again, or say \"cancel\".", false
		}
		g.logger.Error("validating configuration failed", "user_id", account.UserID, "error", err)
		return "I could not verify that configuration right now. Please try again, or say \"cancel\".", false
	}

	if !c.UseProjectKey {
		sealed, err := g.cipher.Seal(c.APIKey)
		if err != nil {
			g.logger.Error("sealing api key failed", "user_id", account.UserID, "error", err)
			return "I could not store that key securely. Please try again, or say \"cancel\".", false
		}
		cfg.APIKeySealed = sealed
	}

	if err := g.store.PutLLMConfig(ctx, cfg); err != nil {
		g.logger.Error("saving model configuration failed", "user_id", account.UserID, "error", err)
		return "I could not save that configuration. Please try again, or say \"cancel\".", false
	}

	g.logger.Info("model configuration saved",
		"user_id", account.UserID,
		"provider", cfg.Provider,
		"model", cfg.ModelID,
		"project_key", cfg.UseProjectKey,
	)
	return fmt.Sprintf("Done. Your requests will now use %s (%s).", cfg.Provider, cfg.ModelID), true
}

// generate selects a route for the account and runs generation with
// failover. A saved override the catalog no longer recognizes, or a sealed
// key that fails to open, falls back to the tier defaults.
func (g *Gateway) generate(ctx context.Context, account *store.UserAccount, op modelrouter.Operation, prompt string) (string, error) {
	override, err := g.store.GetLLMConfig(ctx, account.UserID)
	if errors.Is(err, store.ErrNotFound) {
		override = nil
	} else if err != nil {
		g.logger.Warn("loading model override failed, using defaults",
			"user_id", account.UserID, "error", err)
		override = nil
	}

	var openedKey string
	if override != nil && !override.UseProjectKey {
		openedKey, err = g.cipher.Open(override.APIKeySealed)
		if err != nil {
			g.logger.Error("opening sealed api key failed, using defaults",
				"user_id", account.UserID, "error", err)
			override = nil
		}
	}

	decision, err := g.router.Select(account.Tier, op, override, openedKey)
	if err != nil && override != nil {
		g.logger.Warn("saved override unusable, using defaults",
			"user_id", account.UserID, "error", err)
		decision, err = g.router.Select(account.Tier, op, nil, "")
	}
	if err != nil {
		return "", err
	}

	text, served, err := g.router.Generate(ctx, decision, prompt)
	if err != nil {
		return "", err
	}

	// The serving model is logged for operators but never returned to the
	// client.
	g.logger.Info("request served",
		"user_id", account.UserID,
		"operation", string(op),
		"provider", served.Provider,
		"model", served.ModelID,
		"source", decision.Source,
	)
	return text, nil
}

// persistTurn appends the user message and the reply to the thread. Append
// failures are logged; the response the user already saw is not withdrawn.
func (g *Gateway) persistTurn(ctx context.Context, thread *store.Thread, userContent, reply string) {
	if thread == nil {
		return
	}

	msgs := []*store.Message{
		{ID: uuid.New().String(), ThreadID: thread.ID, Role: store.RoleUser, Content: userContent},
	}
	if reply != "" {
		msgs = append(msgs, &store.Message{
			ID: uuid.New().String(), ThreadID: thread.ID, Role: store.RoleAssistant, Content: reply,
		})
	}
	for _, m := range msgs {
		if err := g.store.AppendMessage(ctx, m); err != nil {
			g.logger.Error("appending message failed", "thread_id", thread.ID, "error", err)
			return
		}
	}
}

func (g *Gateway) clearFlow(ctx context.Context, thread *store.Thread) {
	if err := g.store.SetActiveFlow(ctx, thread.ID, nil); err != nil {
		g.logger.Error("clearing flow state failed", "thread_id", thread.ID, "error", err)
	}
}

// sourceID names the entry or thread a crisis event originated from.
func (g *Gateway) sourceID(req *MessageRequest, thread *store.Thread) string {
	if req.EntryID != "" {
		return req.EntryID
	}
	return threadID(thread)
}

func (g *Gateway) blockedEnvelope(d *intervention.Decision, thrID string) *Envelope {
	env := &Envelope{
		ThreadID:          thrID,
		Message:           d.Response,
		CrisisDetected:    d.CrisisDetected,
		CrisisLevel:       d.CrisisLevel,
		InterventionLevel: d.Level,
		RequiresAck:       d.RequiresAck,
		LimitedMode:       d.LimitedMode,
	}
	if d.LimitedModeUntil != nil {
		until := d.LimitedModeUntil.Truncate(time.Second)
		env.LimitedModeUntil = &until
	}
	return env
}

func threadID(t *store.Thread) string {
	if t == nil {
		return ""
	}
	return t.ID
}

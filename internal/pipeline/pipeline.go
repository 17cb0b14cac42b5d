// Package pipeline wires extraction, decision, and storage into the one
// evaluation path used by both live traffic and the replay harness. The
// transports (HTTP, MCP) and the harness all call Evaluate; nothing else
// renders decisions.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/turnguard/turnguard/internal/alert"
	"github.com/turnguard/turnguard/internal/audit"
	"github.com/turnguard/turnguard/internal/extract"
	"github.com/turnguard/turnguard/internal/model"
	"github.com/turnguard/turnguard/internal/policy"
	"github.com/turnguard/turnguard/internal/redact"
	"github.com/turnguard/turnguard/internal/store"
)

// Pipeline evaluates turns against the policy over a session store.
type Pipeline struct {
	mu         sync.RWMutex // guards cfg/runner swap on hot reload
	cfg        *policy.Config
	policyHash string
	runner     *extract.Runner
	classifier extract.Classifier
	redactor   *redact.Redactor
	alerts     *alert.Dispatcher

	store    store.Store
	locks    store.Locks
	auditLog *audit.Log
}

// New creates a pipeline over the given store with the given policy.
func New(cfg *policy.Config, policyHash string, st store.Store) *Pipeline {
	if cfg == nil {
		cfg = policy.DefaultConfig()
	}
	// Config validation already compiled these; an error here means the
	// config was constructed by hand with a bad pattern, and redaction is
	// skipped rather than half-applied.
	redactor, _ := redact.NewRedactor(cfg.Redaction)
	return &Pipeline{
		cfg:        cfg,
		policyHash: policyHash,
		runner:     extract.NewRunner(cfg),
		redactor:   redactor,
		alerts:     alert.NewDispatcher(cfg.Alerts),
		store:      st,
	}
}

// WithClassifier attaches the external classifier capability.
func (p *Pipeline) WithClassifier(c extract.Classifier) *Pipeline {
	p.classifier = c
	p.runner.WithClassifier(c)
	return p
}

// WithAuditLog records every rendered decision to the hash-chained log.
func (p *Pipeline) WithAuditLog(l *audit.Log) *Pipeline {
	p.auditLog = l
	return p
}

// SetPolicy atomically swaps the policy config. Called by the hot-reloader
// on file change; in-flight evaluations finish under the config they started
// with.
func (p *Pipeline) SetPolicy(cfg *policy.Config, policyHash string) {
	runner := extract.NewRunner(cfg)
	if p.classifier != nil {
		runner.WithClassifier(p.classifier)
	}
	redactor, _ := redact.NewRedactor(cfg.Redaction)

	p.mu.Lock()
	p.cfg = cfg
	p.policyHash = policyHash
	p.runner = runner
	p.redactor = redactor
	p.alerts = alert.NewDispatcher(cfg.Alerts)
	p.mu.Unlock()
}

// PolicyHash returns the hash of the currently loaded policy config.
func (p *Pipeline) PolicyHash() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.policyHash
}

// Evaluate renders exactly one decision for the turn and commits it together
// with the turn and the updated session state. Concurrent calls for the same
// session serialize; distinct sessions do not block each other.
//
// Once a decision is committed it stands: a caller that abandons the request
// afterwards gets no undo, the audit trail reflects what was decided.
func (p *Pipeline) Evaluate(ctx context.Context, turn model.Turn) (model.Decision, error) {
	if err := model.ValidateTurn(turn); err != nil {
		return model.Decision{}, err
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	lock := p.locks.For(turn.SessionID)
	lock.Lock()
	defer lock.Unlock()

	st, err := p.store.Snapshot(turn.SessionID)
	if err != nil {
		return model.Decision{}, err
	}

	// Ordering is rejected before extraction or decision: the session must
	// be left exactly as it was.
	if turn.TurnID <= st.LastTurnID {
		return model.Decision{}, model.OutOfOrderTurn(turn.SessionID, turn.TurnID, st.LastTurnID)
	}

	p.mu.RLock()
	cfg := p.cfg
	runner := p.runner
	redactor := p.redactor
	hash := p.policyHash
	p.mu.RUnlock()

	// A latched session skips extraction entirely: the verdict is already
	// determined and extractor cost would be wasted.
	var signals []model.Signal
	if !st.Latched() {
		signals = runner.Run(ctx, turn, st.Turns)
	}

	// Extractors saw the raw content; only the persisted copy is scrubbed.
	// Decide appends the turn into session history, so redacting here keeps
	// identifiers out of the store, the audit trail, and every future
	// extraction window.
	if redactor != nil {
		turn.Content, _ = redactor.Redact(turn.Content)
	}

	dec, next := policy.Decide(turn, signals, st, cfg)

	if err := p.store.Commit(next, turn, dec); err != nil {
		return model.Decision{}, err
	}

	p.record(turn, dec, next, hash)
	return dec, nil
}

// Check renders a decision without committing anything: no turn append, no
// state mutation, no audit entry. Used by the dry-run surfaces.
func (p *Pipeline) Check(ctx context.Context, turn model.Turn) (model.Decision, error) {
	if err := model.ValidateTurn(turn); err != nil {
		return model.Decision{}, err
	}

	st, err := p.store.Snapshot(turn.SessionID)
	if err != nil {
		return model.Decision{}, err
	}
	if turn.TurnID <= st.LastTurnID {
		return model.Decision{}, model.OutOfOrderTurn(turn.SessionID, turn.TurnID, st.LastTurnID)
	}

	p.mu.RLock()
	cfg := p.cfg
	runner := p.runner
	p.mu.RUnlock()

	var signals []model.Signal
	if !st.Latched() {
		signals = runner.Run(ctx, turn, st.Turns)
	}
	dec, _ := policy.Decide(turn, signals, st, cfg)
	return dec, nil
}

// Session returns a read-only snapshot for the query surface.
func (p *Pipeline) Session(sessionID string) (model.SessionState, error) {
	return p.store.Snapshot(sessionID)
}

// Sessions lists known sessions for the query surface.
func (p *Pipeline) Sessions(limit int) ([]store.SessionSummary, error) {
	return p.store.Sessions(limit)
}

func (p *Pipeline) record(turn model.Turn, dec model.Decision, st model.SessionState, policyHash string) {
	if p.auditLog != nil {
		// Audit failures are logged by the audit layer; a decision that was
		// rendered and committed is never rolled back over them.
		_ = p.auditLog.Record(audit.Entry{
			SessionID:  turn.SessionID,
			TurnID:     turn.TurnID,
			Role:       string(turn.Role),
			Verdict:    string(dec.Verdict),
			ReasonCode: dec.ReasonCode,
			Risk:       st.Risk,
			Status:     string(st.Status),
			PolicyHash: policyHash,
		})
	}

	p.mu.RLock()
	dispatcher := p.alerts
	p.mu.RUnlock()
	if dispatcher != nil && dec.Verdict != model.VerdictAllow {
		dispatcher.Dispatch(alert.Event{
			Timestamp:  dec.CreatedAt.Format(time.RFC3339),
			SessionID:  turn.SessionID,
			TurnID:     turn.TurnID,
			Verdict:    string(dec.Verdict),
			ReasonCode: dec.ReasonCode,
			Risk:       st.Risk,
			Status:     string(st.Status),
			PolicyHash: policyHash,
		})
	}
}

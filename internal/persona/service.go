// Package persona exposes the one inbound operation of the control core:
// process a user turn against a session's persisted persona state.
package persona

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/easeaico/persona-core/internal/core"
	"github.com/easeaico/persona-core/internal/emotion"
	"github.com/easeaico/persona-core/internal/metamemory"
	"github.com/easeaico/persona-core/internal/repository"
	"github.com/easeaico/persona-core/internal/safety"
	"github.com/easeaico/persona-core/internal/trait"
)

// ErrSessionBusy is returned when a session already has a turn in flight.
// Same-session turns are serialized; different sessions run in parallel.
var ErrSessionBusy = errors.New("session has a turn in flight")

// TraitStore persists per-session persona state.
type TraitStore interface {
	Get(ctx context.Context, sessionID string) (repository.Snapshot, bool, error)
	Put(ctx context.Context, sessionID string, snap repository.Snapshot) error
}

// HistoryStore persists completed exchanges and serves similarity recall.
type HistoryStore interface {
	AddTurn(ctx context.Context, t repository.Turn, embedding []float32) error
	SearchSimilar(ctx context.Context, sessionID string, embedding []float32, topK int, threshold float64) ([]repository.RecalledTurn, error)
}

// GrowthLog appends completed turns to the meta-memory log.
type GrowthLog interface {
	Append(entries ...metamemory.Entry) error
}

// Embedder is optional; when nil, turns are stored without embeddings and
// recall is disabled.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
}

// Options tunes recall.
type Options struct {
	RecallTopK      int
	RecallThreshold float64
}

// TurnResult is what the caller gets back. A reply is always present;
// StorageErr reports persistence failures separately from reply quality.
type TurnResult struct {
	TurnID     string
	Reply      string
	State      string
	Traits     trait.Vector
	Emotion    emotion.State
	Profile    emotion.Profile
	Safety     *safety.Report
	Degraded   bool
	StorageErr error
	Meta       map[string]any
}

// Service runs the persona control core for incoming turns.
type Service struct {
	machine    *core.Machine
	classifier safety.Classifier
	traits     TraitStore
	history    HistoryStore
	growth     GrowthLog
	embedder   Embedder
	opts       Options

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

// NewService wires the control core to its collaborators. embedder may be nil.
func NewService(machine *core.Machine, classifier safety.Classifier, traits TraitStore, history HistoryStore, growth GrowthLog, embedder Embedder, opts Options) *Service {
	if classifier == nil {
		classifier = safety.NewKeywordClassifier()
	}
	if opts.RecallTopK <= 0 {
		opts.RecallTopK = 3
	}
	if opts.RecallThreshold <= 0 {
		opts.RecallThreshold = 0.7
	}
	return &Service{
		machine:    machine,
		classifier: classifier,
		traits:     traits,
		history:    history,
		growth:     growth,
		embedder:   embedder,
		opts:       opts,
		sessions:   make(map[string]*sync.Mutex),
	}
}

// ProcessTurn runs one external request end to end: load prior state,
// classify, run the internal cycle, persist. The reply is returned even
// when persistence fails; those failures surface in TurnResult.StorageErr.
func (s *Service) ProcessTurn(ctx context.Context, sessionID, input string) (TurnResult, error) {
	if sessionID == "" {
		return TurnResult{}, fmt.Errorf("session id is required")
	}

	lock := s.sessionLock(sessionID)
	if !lock.TryLock() {
		return TurnResult{}, ErrSessionBusy
	}
	defer lock.Unlock()

	var storageErrs []error

	snap, _, err := s.traits.Get(ctx, sessionID)
	if err != nil {
		// Degrade to defaults rather than refusing the turn, but report it.
		slog.Error("failed to load trait snapshot", "session", sessionID, "error", err)
		storageErrs = append(storageErrs, err)
		snap = repository.DefaultSnapshot()
	}

	report, err := s.classifier.Classify(ctx, input)
	if err != nil {
		slog.Warn("safety classifier failed, allowing turn", "session", sessionID, "error", err)
		report = safety.AllowAll()
	}

	tc := core.NewTurnContext(sessionID, input, snap.Traits, snap.Emotion, snap.ReflectCount, snap.TokenUsage, &report)
	if lines := s.recallLines(ctx, sessionID, input); len(lines) > 0 {
		tc.Meta[core.MetaKeyRecall] = lines
	}

	s.machine.Run(ctx, tc)

	degraded, _ := tc.Meta[core.MetaKeyDegraded].(bool)
	result := TurnResult{
		TurnID:   tc.TurnID,
		Reply:    tc.Output,
		State:    tc.Current.String(),
		Traits:   tc.Traits,
		Emotion:  tc.Emotion,
		Profile:  emotion.Synthesize(tc.Traits, tc.Current.Mode(), tc.Safety, tc.ReflectCount),
		Safety:   tc.Safety,
		Degraded: degraded,
		Meta:     tc.Meta,
	}

	// A cancelled request must not commit anything into shared stores.
	if ctx.Err() != nil {
		return result, nil
	}

	if err := s.persist(ctx, tc); err != nil {
		storageErrs = append(storageErrs, err)
	}
	result.StorageErr = errors.Join(storageErrs...)
	return result, nil
}

// persist fans the finished turn out to the trait store, the turn history,
// and the growth log. Each failure is collected, none aborts the others.
func (s *Service) persist(ctx context.Context, tc *core.TurnContext) error {
	var errs []error

	snap := repository.Snapshot{
		Traits:       tc.Traits,
		Emotion:      tc.Emotion,
		ReflectCount: tc.ReflectCount,
		TokenUsage:   tc.TokenUsage,
	}
	if err := s.traits.Put(ctx, tc.SessionID, snap); err != nil {
		slog.Error("failed to persist trait snapshot", "session", tc.SessionID, "error", err)
		errs = append(errs, err)
	}

	if tc.Output != "" {
		var embedding []float32
		if s.embedder != nil {
			vec, err := s.embedder.EmbedDocument(ctx, tc.Input+"\n"+tc.Output)
			if err != nil {
				slog.Warn("failed to embed turn, storing without embedding", "session", tc.SessionID, "error", err)
			} else {
				embedding = vec
			}
		}
		turn := repository.Turn{
			SessionID: tc.SessionID,
			Message:   tc.Input,
			Reply:     tc.Output,
			State:     tc.Current.String(),
		}
		if err := s.history.AddTurn(ctx, turn, embedding); err != nil {
			slog.Error("failed to persist turn history", "session", tc.SessionID, "error", err)
			errs = append(errs, err)
		}

		introspection, _ := tc.Meta[core.MetaKeyIntrospection].(string)
		entry := metamemory.Entry{
			Timestamp:     tc.Timestamp,
			Message:       tc.Input,
			Reply:         tc.Output,
			Introspection: introspection,
			Traits:        tc.Traits,
		}
		if err := s.growth.Append(entry); err != nil {
			slog.Error("failed to append growth log", "session", tc.SessionID, "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// RecallSimilar retrieves past turns of the session by embedding similarity.
// It returns nil when no embedder is configured.
func (s *Service) RecallSimilar(ctx context.Context, sessionID, query string, k int) ([]repository.RecalledTurn, error) {
	if s.embedder == nil || query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = s.opts.RecallTopK
	}
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed recall query: %w", err)
	}
	return s.history.SearchSimilar(ctx, sessionID, vec, k, s.opts.RecallThreshold)
}

// recallLines renders recalled turns for the prompt. Recall faults never
// block a turn.
func (s *Service) recallLines(ctx context.Context, sessionID, input string) []string {
	recalled, err := s.RecallSimilar(ctx, sessionID, input, s.opts.RecallTopK)
	if err != nil {
		slog.Warn("similarity recall failed", "session", sessionID, "error", err)
		return nil
	}
	lines := make([]string, 0, len(recalled))
	for _, r := range recalled {
		lines = append(lines, fmt.Sprintf("%s — %s", r.Message, r.Reply))
	}
	return lines
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, found := s.sessions[sessionID]
	if !found {
		lock = &sync.Mutex{}
		s.sessions[sessionID] = lock
	}
	return lock
}

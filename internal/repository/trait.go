package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/easeaico/persona-core/internal/emotion"
	"github.com/easeaico/persona-core/internal/trait"
)

type traitSnapshotModel struct {
	SessionID    string `gorm:"primaryKey"`
	Calm         float64
	Empathy      float64
	Curiosity    float64
	Tension      float64
	Warmth       float64
	Hesitation   float64
	ReflectCount int
	TokenUsage   int
	UpdatedAt    time.Time
}

func (traitSnapshotModel) TableName() string {
	return "trait_snapshots"
}

// Snapshot is the persisted per-session persona state.
type Snapshot struct {
	Traits       trait.Vector
	Emotion      emotion.State
	ReflectCount int
	TokenUsage   int
	UpdatedAt    time.Time
}

// DefaultSnapshot is the state of a session that has never spoken.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Traits:  trait.Neutral(),
		Emotion: emotion.Rest(),
	}
}

// TraitRepo accesses trait snapshot data.
type TraitRepo struct {
	db *gorm.DB
}

// NewTraitRepo returns a TraitRepo.
func NewTraitRepo(db *gorm.DB) *TraitRepo {
	return &TraitRepo{db: db}
}

// Get loads the snapshot for a session. The second return value is false
// when the session has no snapshot yet.
func (r *TraitRepo) Get(ctx context.Context, sessionID string) (Snapshot, bool, error) {
	var record traitSnapshotModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultSnapshot(), false, nil
	}
	if err != nil {
		return DefaultSnapshot(), false, fmt.Errorf("failed to load trait snapshot: %w", err)
	}

	return Snapshot{
		Traits:       trait.Normalize(trait.Vector{Calm: record.Calm, Empathy: record.Empathy, Curiosity: record.Curiosity}),
		Emotion:      emotion.State{Tension: record.Tension, Warmth: record.Warmth, Hesitation: record.Hesitation}.Normalize(),
		ReflectCount: record.ReflectCount,
		TokenUsage:   record.TokenUsage,
		UpdatedAt:    record.UpdatedAt,
	}, true, nil
}

// Put upserts the snapshot for a session.
func (r *TraitRepo) Put(ctx context.Context, sessionID string, snap Snapshot) error {
	traits := trait.Normalize(snap.Traits)
	emo := snap.Emotion.Normalize()
	record := traitSnapshotModel{
		SessionID:    sessionID,
		Calm:         traits.Calm,
		Empathy:      traits.Empathy,
		Curiosity:    traits.Curiosity,
		Tension:      emo.Tension,
		Warmth:       emo.Warmth,
		Hesitation:   emo.Hesitation,
		ReflectCount: snap.ReflectCount,
		TokenUsage:   snap.TokenUsage,
		UpdatedAt:    time.Now(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			UpdateAll: true,
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert trait snapshot: %w", err)
	}
	return nil
}

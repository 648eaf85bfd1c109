package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

type turnModel struct {
	ID        int
	SessionID string
	Message   string
	Reply     string
	State     string
	Embedding *pgvector.Vector `gorm:"type:vector"`
	CreatedAt time.Time
}

func (turnModel) TableName() string {
	return "turn_history"
}

// Turn is one completed exchange.
type Turn struct {
	ID        int
	SessionID string
	Message   string
	Reply     string
	State     string
	CreatedAt time.Time
}

// RecalledTurn is a past exchange retrieved by similarity.
type RecalledTurn struct {
	Message    string
	Reply      string
	Similarity float64
	CreatedAt  time.Time
}

// HistoryRepo accesses turn history data.
type HistoryRepo struct {
	db *gorm.DB
}

// NewHistoryRepo returns a HistoryRepo.
func NewHistoryRepo(db *gorm.DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// AddTurn stores one exchange, with an optional embedding for recall.
func (r *HistoryRepo) AddTurn(ctx context.Context, t Turn, embedding []float32) error {
	var vector *pgvector.Vector
	if len(embedding) > 0 {
		v := pgvector.NewVector(embedding)
		vector = &v
	}
	record := turnModel{
		SessionID: t.SessionID,
		Message:   t.Message,
		Reply:     t.Reply,
		State:     t.State,
		Embedding: vector,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}

// RecentTurns returns the newest turns for a session, oldest first.
func (r *HistoryRepo) RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	var records []turnModel
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query turn history: %w", err)
	}

	results := make([]Turn, 0, len(records))
	for _, record := range records {
		results = append(results, Turn{
			ID:        record.ID,
			SessionID: record.SessionID,
			Message:   record.Message,
			Reply:     record.Reply,
			State:     record.State,
			CreatedAt: record.CreatedAt,
		})
	}

	// Oldest -> newest
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// SearchSimilar retrieves past turns by cosine similarity.
func (r *HistoryRepo) SearchSimilar(ctx context.Context, sessionID string, embedding []float32, topK int, threshold float64) ([]RecalledTurn, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	query := `
		SELECT message, reply, created_at, 1 - (embedding <=> $1) AS similarity
		FROM turn_history
		WHERE session_id = $2
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) > $3
		ORDER BY similarity DESC
		LIMIT $4`

	vector := pgvector.NewVector(embedding)
	var results []RecalledTurn
	if err := r.db.WithContext(ctx).
		Raw(query, vector, sessionID, threshold, topK).
		Scan(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to search similar turns: %w", err)
	}
	return results, nil
}

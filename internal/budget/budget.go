// Package budget tracks per-user and per-session spend against configured
// caps. Admission is advisory and happens before a call; charging is
// authoritative and happens after, from actual token counts.
package budget

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"appkernel/internal/ai"
	"appkernel/internal/logging"
	"appkernel/internal/metrics"
)

// LedgerEntry is one recorded charge, persisted for spend reporting.
type LedgerEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"index;not null" json:"user_id"`
	SessionID string    `gorm:"index" json:"session_id"`
	ModelID   string    `json:"model_id"`
	TokensIn  int64     `json:"tokens_in"`
	TokensOut int64     `json:"tokens_out"`
	CostUSD   float64   `json:"cost_usd"`
	CreatedAt time.Time `json:"created_at"`
}

// Estimate is the advisory pre-call cost guess handed to Admit.
type Estimate struct {
	UserID    string
	SessionID string
	ModelID   string
	CostUSD   float64
}

// Charge is the authoritative post-call record.
type Charge struct {
	UserID    string
	SessionID string
	ModelID   string
	TokensIn  int
	TokensOut int
	CostUSD   float64
}

// Remaining reports headroom under both caps. A negative value means the cap
// is switched off.
type Remaining struct {
	DailyUSD   float64 `json:"daily_usd"`
	SessionUSD float64 `json:"session_usd"`
}

// Summary aggregates a user's spend over a window.
type Summary struct {
	UserID      string  `json:"user_id"`
	TotalCost   float64 `json:"total_cost_usd"`
	TokensIn    int64   `json:"tokens_in"`
	TokensOut   int64   `json:"tokens_out"`
	EntryCount  int64   `json:"entry_count"`
	WindowHours int     `json:"window_hours"`
}

// Engine enforces caps over the persisted ledger.
type Engine struct {
	db            *gorm.DB
	dailyCapUSD   float64 // <= 0 disables
	sessionCapUSD float64 // <= 0 disables
}

// New creates a budget engine and migrates its schema.
func New(db *gorm.DB, dailyCapUSD, sessionCapUSD float64) (*Engine, error) {
	if err := db.AutoMigrate(&LedgerEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate budget ledger: %w", err)
	}
	return &Engine{db: db, dailyCapUSD: dailyCapUSD, sessionCapUSD: sessionCapUSD}, nil
}

// Admit checks whether the estimated cost fits under both caps. A denial is
// a typed budget error that the fallback engine surfaces unchanged.
func (e *Engine) Admit(est Estimate) error {
	rem, err := e.Remaining(est.UserID, est.SessionID)
	if err != nil {
		return err
	}

	if e.dailyCapUSD > 0 && est.CostUSD > rem.DailyUSD {
		logging.L().Warn("admission denied by daily cap",
			zap.String("user_id", est.UserID),
			zap.Float64("estimate_usd", est.CostUSD),
			zap.Float64("remaining_usd", rem.DailyUSD))
		metrics.Get().RecordBudgetDenial("daily")
		return ai.NewError(ai.KindBudget, "", est.ModelID,
			fmt.Errorf("daily budget exceeded: estimate $%.6f, remaining $%.6f", est.CostUSD, rem.DailyUSD))
	}
	if e.sessionCapUSD > 0 && est.SessionID != "" && est.CostUSD > rem.SessionUSD {
		metrics.Get().RecordBudgetDenial("session")
		return ai.NewError(ai.KindBudget, "", est.ModelID,
			fmt.Errorf("session budget exceeded: estimate $%.6f, remaining $%.6f", est.CostUSD, rem.SessionUSD))
	}
	return nil
}

// Record persists an authoritative charge.
func (e *Engine) Record(c Charge) error {
	if c.UserID == "" {
		return errors.New("charge requires a user id")
	}
	entry := LedgerEntry{
		UserID:    c.UserID,
		SessionID: c.SessionID,
		ModelID:   c.ModelID,
		TokensIn:  int64(c.TokensIn),
		TokensOut: int64(c.TokensOut),
		CostUSD:   c.CostUSD,
		CreatedAt: time.Now(),
	}
	if err := e.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to record charge: %w", err)
	}
	return nil
}

// Remaining returns the headroom under each cap for the user and session.
func (e *Engine) Remaining(userID, sessionID string) (Remaining, error) {
	rem := Remaining{DailyUSD: -1, SessionUSD: -1}

	if e.dailyCapUSD > 0 {
		spent, err := e.spentSince(userID, "", time.Now().Add(-24*time.Hour))
		if err != nil {
			return rem, err
		}
		rem.DailyUSD = e.dailyCapUSD - spent
		if rem.DailyUSD < 0 {
			rem.DailyUSD = 0
		}
	}

	if e.sessionCapUSD > 0 && sessionID != "" {
		spent, err := e.spentSince(userID, sessionID, time.Time{})
		if err != nil {
			return rem, err
		}
		rem.SessionUSD = e.sessionCapUSD - spent
		if rem.SessionUSD < 0 {
			rem.SessionUSD = 0
		}
	}

	return rem, nil
}

// Summarize aggregates spend for a user over the last windowHours.
func (e *Engine) Summarize(userID string, windowHours int) (Summary, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	since := time.Now().Add(-time.Duration(windowHours) * time.Hour)

	var row struct {
		TotalCost  float64
		TokensIn   int64
		TokensOut  int64
		EntryCount int64
	}
	err := e.db.Model(&LedgerEntry{}).
		Select("COALESCE(SUM(cost_usd),0) as total_cost, COALESCE(SUM(tokens_in),0) as tokens_in, COALESCE(SUM(tokens_out),0) as tokens_out, COUNT(*) as entry_count").
		Where("user_id = ? AND created_at >= ?", userID, since).
		Scan(&row).Error
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize spend: %w", err)
	}

	return Summary{
		UserID:      userID,
		TotalCost:   row.TotalCost,
		TokensIn:    row.TokensIn,
		TokensOut:   row.TokensOut,
		EntryCount:  row.EntryCount,
		WindowHours: windowHours,
	}, nil
}

func (e *Engine) spentSince(userID, sessionID string, since time.Time) (float64, error) {
	q := e.db.Model(&LedgerEntry{}).Where("user_id = ?", userID)
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}

	var total float64
	if err := q.Select("COALESCE(SUM(cost_usd),0)").Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return total, nil
}

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"riskgate/internal/profile"
)

// Store persists closed trades and decision audits in SQLite.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history store: empty database path")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&ClosedTrade{}, &DecisionAudit{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a little read parallelism for the HTTP status
	// endpoints while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordClosedTrade appends one closed trade.
func (s *Store) RecordClosedTrade(ctx context.Context, t ClosedTrade) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("history store not initialized")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(&t).Error
}

// TradeResultsSince returns selector inputs for trades closed at or after
// the cutoff, oldest first.
func (s *Store) TradeResultsSince(ctx context.Context, cutoff time.Time) ([]profile.TradeResult, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("history store not initialized")
	}
	var rows []ClosedTrade
	if err := s.db.WithContext(ctx).
		Where("closed_at >= ?", cutoff).
		Order("closed_at asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]profile.TradeResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, profile.TradeResult{
			Symbol:     r.Symbol,
			ClosedAt:   r.ClosedAt,
			Profit:     r.Profit,
			RiskAmount: r.RiskAmount,
		})
	}
	return out, nil
}

// RealizedPnLSince sums the profit of trades closed at or after the cutoff,
// feeding the daily-loss breaker.
func (s *Store) RealizedPnLSince(ctx context.Context, cutoff time.Time) (float64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("history store not initialized")
	}
	var total float64
	err := s.db.WithContext(ctx).Model(&ClosedTrade{}).
		Where("closed_at >= ?", cutoff).
		Select("COALESCE(SUM(profit), 0)").
		Scan(&total).Error
	return total, err
}

// RecentClosedTrades returns the newest trades for status reporting.
func (s *Store) RecentClosedTrades(ctx context.Context, limit int) ([]ClosedTrade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("history store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []ClosedTrade
	err := s.db.WithContext(ctx).Order("closed_at desc").Limit(limit).Find(&rows).Error
	return rows, err
}

// RecordAudit persists one decision audit. The detail payload is stored as
// JSON; a fresh trace id is assigned when the caller left it empty.
func (s *Store) RecordAudit(ctx context.Context, a DecisionAudit, detail any) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("history store not initialized")
	}
	if a.TraceID == "" {
		a.TraceID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("history store: marshal audit detail: %w", err)
		}
		a.Detail = datatypes.JSON(raw)
	}
	return s.db.WithContext(ctx).Create(&a).Error
}

// RecentAudits returns the newest audits, optionally filtered by kind.
func (s *Store) RecentAudits(ctx context.Context, kind string, limit int) ([]DecisionAudit, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("history store not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var rows []DecisionAudit
	err := q.Find(&rows).Error
	return rows, err
}

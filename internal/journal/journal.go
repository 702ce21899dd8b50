package journal

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

// Trade is one closed spot trade or one completed grid round trip.
type Trade struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	WorkerID   string    `gorm:"size:64;index;not null" json:"workerId"`
	Kind       string    `gorm:"size:16;not null" json:"kind"`
	Symbol     string    `gorm:"size:32;not null" json:"symbol"`
	EntryPrice float64   `json:"entryPrice"`
	ExitPrice  float64   `json:"exitPrice"`
	Qty        float64   `json:"qty"`
	PnL        float64   `json:"pnl"`
	Fees       float64   `json:"fees"`
	Reason     string    `gorm:"size:32" json:"reason"`
	OpenedAt   time.Time `json:"openedAt"`
	ClosedAt   time.Time `gorm:"index" json:"closedAt"`
}

func (Trade) TableName() string { return "trades" }

// Recorder stores closed trades. Callers log failures and carry on.
type Recorder interface {
	Record(ctx context.Context, trade Trade) error
	List(ctx context.Context, workerID string, limit int) ([]Trade, error)
}

// GormJournal keeps trades in PostgreSQL.
type GormJournal struct {
	db *gorm.DB
}

// NewGormJournal migrates the trades table.
func NewGormJournal(ctx context.Context, db *gorm.DB) (*GormJournal, error) {
	if db == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "gorm journal db")
	}
	if err := db.WithContext(ctx).AutoMigrate(&Trade{}); err != nil {
		return nil, errors.Wrap(err, "migrate trades")
	}
	return &GormJournal{db: db}, nil
}

func (j *GormJournal) Record(ctx context.Context, trade Trade) error {
	trade.ID = 0
	if err := j.db.WithContext(ctx).Create(&trade).Error; err != nil {
		return errors.Wrapf(err, "record trade %s", trade.WorkerID)
	}
	return nil
}

func (j *GormJournal) List(ctx context.Context, workerID string, limit int) ([]Trade, error) {
	var trades []Trade
	q := j.db.WithContext(ctx).Order("closed_at DESC")
	if workerID != "" {
		q = q.Where("worker_id = ?", workerID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&trades).Error; err != nil {
		return nil, errors.Wrap(err, "list trades")
	}
	return trades, nil
}

// MemoryJournal keeps trades in memory, newest last.
type MemoryJournal struct {
	mu     sync.Mutex
	trades []Trade
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Record(_ context.Context, trade Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	trade.ID = uint(len(j.trades) + 1)
	j.trades = append(j.trades, trade)
	return nil
}

// List returns trades newest first.
func (j *MemoryJournal) List(_ context.Context, workerID string, limit int) ([]Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Trade
	for i := len(j.trades) - 1; i >= 0; i-- {
		if workerID != "" && j.trades[i].WorkerID != workerID {
			continue
		}
		out = append(out, j.trades[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

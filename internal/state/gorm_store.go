package state

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

type checkpointRow struct {
	Key       string `gorm:"primaryKey;size:191"`
	Kind      string `gorm:"size:32;not null"`
	Version   uint16 `gorm:"not null"`
	Body      []byte `gorm:"not null"`
	Checksum  int64  `gorm:"not null"`
	UpdatedAt time.Time
}

func (checkpointRow) TableName() string { return "checkpoints" }

// GormStore keeps checkpoints in a PostgreSQL table. Save is a single upsert.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the checkpoints table.
func NewGormStore(ctx context.Context, db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "gorm store db")
	}
	if err := db.WithContext(ctx).AutoMigrate(&checkpointRow{}); err != nil {
		return nil, errors.Wrapf(exception.ErrStoreUnavailable, "migrate checkpoints: %v", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Save(ctx context.Context, rec Record) error {
	if err := ValidateKey(rec.Key); err != nil {
		return err
	}
	row := checkpointRow{
		Key:       rec.Key,
		Kind:      rec.Kind,
		Version:   rec.Version,
		Body:      rec.Body,
		Checksum:  int64(rec.Checksum),
		UpdatedAt: rec.UpdatedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "version", "body", "checksum", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Wrapf(exception.ErrStoreUnavailable, "upsert %s: %v", rec.Key, err)
	}
	return nil
}

func (s *GormStore) Load(ctx context.Context, key string) (Record, error) {
	var row checkpointRow
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Record{}, errors.Wrapf(exception.ErrCheckpointNotFound, "key %s", key)
		}
		return Record{}, errors.Wrapf(exception.ErrStoreUnavailable, "load %s: %v", key, err)
	}
	rec := Record{
		Version:   row.Version,
		Key:       row.Key,
		Kind:      row.Kind,
		Body:      row.Body,
		Checksum:  uint64(row.Checksum),
		UpdatedAt: row.UpdatedAt,
	}
	if err := rec.Verify(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *GormStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&checkpointRow{}).
		Where("key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Order("key").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, errors.Wrapf(exception.ErrStoreUnavailable, "list %s: %v", prefix, err)
	}
	return keys, nil
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&checkpointRow{}).Error
	if err != nil {
		return errors.Wrapf(exception.ErrStoreUnavailable, "delete %s: %v", key, err)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

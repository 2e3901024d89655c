package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/GoPolymarket/logbridge/internal/model"
	"gorm.io/gorm"
)

// ClientLog is the persisted form of a resolved LogRecord.
type ClientLog struct {
	ID          uint      `gorm:"primaryKey"`
	Level       int       `gorm:"index"`
	LevelName   string    `gorm:"size:16"`
	Category    string    `gorm:"size:255;index"`
	Message     string    `gorm:"type:text"`
	Permutation string    `gorm:"size:64;index"`
	RemoteAddr  string    `gorm:"size:64"`
	ClientTime  int64     `gorm:"column:client_time"`
	Fields      string    `gorm:"type:text"`
	Throwable   string    `gorm:"type:text"`
	ReceivedAt  time.Time `gorm:"index"`
}

func (ClientLog) TableName() string { return "client_logs" }

type RecordRepo struct {
	db *gorm.DB
}

func NewRecordRepo(db *gorm.DB) *RecordRepo {
	return &RecordRepo{db: db}
}

func (r *RecordRepo) Migrate() error {
	return r.db.AutoMigrate(&ClientLog{})
}

// Log implements sink.Sink.
func (r *RecordRepo) Log(ctx context.Context, rec *model.LogRecord) error {
	if rec == nil {
		return nil
	}
	row, err := toClientLog(rec)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(row).Error
}

// RecordFilter narrows List. Zero values match everything.
type RecordFilter struct {
	MinLevel    model.Level
	Category    string
	Permutation string
	Since       time.Time
	Limit       int
}

func (r *RecordRepo) List(ctx context.Context, f RecordFilter) ([]*model.LogRecord, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Model(&ClientLog{}).Where("level >= ?", int(f.MinLevel))
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Permutation != "" {
		q = q.Where("permutation = ?", f.Permutation)
	}
	if !f.Since.IsZero() {
		q = q.Where("received_at >= ?", f.Since)
	}

	var rows []ClientLog
	if err := q.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.LogRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Cleanup deletes records received before the cutoff.
func (r *RecordRepo) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("received_at < ?", before).Delete(&ClientLog{})
	return res.RowsAffected, res.Error
}

func toClientLog(rec *model.LogRecord) (*ClientLog, error) {
	row := &ClientLog{
		Level:       int(rec.Level),
		LevelName:   rec.Level.String(),
		Category:    rec.Category,
		Message:     rec.Message,
		Permutation: rec.Permutation,
		RemoteAddr:  rec.Get(model.FieldRemoteAddr),
		ClientTime:  rec.ClientTime,
		ReceivedAt:  rec.ReceivedAt,
	}
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = time.Now()
	}
	if len(rec.Fields) > 0 {
		b, err := json.Marshal(rec.Fields)
		if err != nil {
			return nil, err
		}
		row.Fields = string(b)
	}
	if rec.Throwable != nil {
		b, err := json.Marshal(rec.Throwable)
		if err != nil {
			return nil, err
		}
		row.Throwable = string(b)
	}
	return row, nil
}

func (c *ClientLog) toRecord() (*model.LogRecord, error) {
	rec := &model.LogRecord{
		Level:       model.Level(c.Level),
		Message:     c.Message,
		Category:    c.Category,
		ClientTime:  c.ClientTime,
		Permutation: c.Permutation,
		ReceivedAt:  c.ReceivedAt,
	}
	if c.Fields != "" {
		if err := json.Unmarshal([]byte(c.Fields), &rec.Fields); err != nil {
			return nil, err
		}
	}
	if c.Throwable != "" {
		rec.Throwable = &model.ThrowableChain{}
		if err := json.Unmarshal([]byte(c.Throwable), rec.Throwable); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

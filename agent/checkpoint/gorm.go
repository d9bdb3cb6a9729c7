package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/klapom/aegisrag/agent/state"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CheckpointModel 检查点表结构
type CheckpointModel struct {
	ID        string    `gorm:"primaryKey;size:36"`
	SessionID string    `gorm:"index:idx_checkpoint_session_created,priority:1;size:255;not null"`
	Partial   bool      `gorm:"not null;default:false"`
	Payload   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index:idx_checkpoint_session_created,priority:2;not null"`
}

// TableName 实现 gorm.Tabler
func (CheckpointModel) TableName() string { return "rag_checkpoints" }

// GormStore 关系数据库检查点存储（postgres / mysql / sqlite）
type GormStore struct {
	db     *gorm.DB
	max    int
	logger *zap.Logger
}

// NewGormStore 创建数据库检查点存储。表结构由迁移创建；autoMigrate 仅用于开发环境。
func NewGormStore(db *gorm.DB, autoMigrate bool, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if autoMigrate {
		if err := db.AutoMigrate(&CheckpointModel{}); err != nil {
			return nil, fmt.Errorf("failed to migrate checkpoint table: %w", err)
		}
	}
	return &GormStore{
		db:     db,
		max:    DefaultMaxPerSession,
		logger: logger.With(zap.String("store", "gorm_checkpoint")),
	}, nil
}

// Save 插入检查点，并删除超出上限的旧检查点
func (s *GormStore) Save(ctx context.Context, sessionID string, st *state.QueryState) error {
	cp, err := newCheckpoint(sessionID, st)
	if err != nil {
		return err
	}
	data, err := encode(cp)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := CheckpointModel{
			ID:        cp.ID,
			SessionID: sessionID,
			Partial:   cp.Partial,
			Payload:   string(data),
			CreatedAt: cp.CreatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}

		var ids []string
		if err := tx.Model(&CheckpointModel{}).
			Where("session_id = ?", sessionID).
			Order("created_at DESC").
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("failed to prune checkpoints: %w", err)
		}
		if len(ids) > s.max {
			if err := tx.Where("id IN ?", ids[s.max:]).Delete(&CheckpointModel{}).Error; err != nil {
				return fmt.Errorf("failed to prune checkpoints: %w", err)
			}
		}
		return nil
	})
}

// Load 加载最新检查点
func (s *GormStore) Load(ctx context.Context, sessionID string) (*state.QueryState, error) {
	var rows []CheckpointModel
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	cp, err := decode([]byte(rows[0].Payload))
	if err != nil {
		return nil, err
	}
	return cp.State, nil
}

// List 列出检查点（新的在前）
func (s *GormStore) List(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	var rows []CheckpointModel
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	out := make([]Checkpoint, 0, len(rows))
	for _, r := range rows {
		cp, err := decode([]byte(r.Payload))
		if err != nil {
			s.logger.Warn("skipping corrupt checkpoint", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}

// Clear 删除会话的全部检查点
func (s *GormStore) Clear(ctx context.Context, sessionID string) (bool, error) {
	res := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&CheckpointModel{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to clear checkpoints: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/utils"
)

type CallRepository interface {
	Create(ctx context.Context, c *models.Call) error
	GetByID(ctx context.Context, id string) (*models.Call, error)
	GetByRoomID(ctx context.Context, roomID string) (*models.Call, error)
	// ActiveBetween returns active calls between a and b in either direction.
	ActiveBetween(ctx context.Context, a, b string) ([]models.Call, error)
	// SaveTransition persists the lifecycle fields of c only if the stored
	// status still equals expected. Otherwise it returns utils.ErrStaleWrite.
	SaveTransition(ctx context.Context, c *models.Call, expected models.CallStatus) error
	AppendICE(ctx context.Context, callID string, entry models.ICECandidate) (*models.Call, error)
	AppendQuality(ctx context.Context, callID string, entry models.QualitySample) (*models.Call, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]models.Call, error)
}

type callRepo struct {
	db *gorm.DB
}

func NewCallRepo(db *gorm.DB) CallRepository {
	return &callRepo{db: db}
}

func (r *callRepo) Create(ctx context.Context, c *models.Call) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *callRepo) GetByID(ctx context.Context, id string) (*models.Call, error) {
	return r.take(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *callRepo) GetByRoomID(ctx context.Context, roomID string) (*models.Call, error) {
	return r.take(r.db.WithContext(ctx).Where("room_id = ?", roomID))
}

func (r *callRepo) take(q *gorm.DB) (*models.Call, error) {
	var c models.Call
	err := q.Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *callRepo) ActiveBetween(ctx context.Context, a, b string) ([]models.Call, error) {
	var rows []models.Call
	err := r.db.WithContext(ctx).
		Where("((caller_id = ? AND receiver_id = ?) OR (caller_id = ? AND receiver_id = ?)) AND status IN ?",
			a, b, b, a, models.ActiveStatuses).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *callRepo) SaveTransition(ctx context.Context, c *models.Call, expected models.CallStatus) error {
	c.UpdatedAt = time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Call{}).
		Where("id = ? AND status = ?", c.ID, expected).
		Updates(map[string]any{
			"status":           c.Status,
			"start_time":       c.StartTime,
			"end_time":         c.EndTime,
			"duration_seconds": c.DurationSeconds,
			"answer_sdp":       c.AnswerSDP,
			"rejection_reason": c.RejectionReason,
			"updated_at":       c.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrStaleWrite
	}
	return nil
}

func (r *callRepo) AppendICE(ctx context.Context, callID string, entry models.ICECandidate) (*models.Call, error) {
	return r.appendLog(ctx, callID, func(c *models.Call) (string, any, error) {
		if err := c.AppendICE(entry); err != nil {
			return "", nil, err
		}
		return "ice_candidates", c.ICECandidates, nil
	})
}

func (r *callRepo) AppendQuality(ctx context.Context, callID string, entry models.QualitySample) (*models.Call, error) {
	return r.appendLog(ctx, callID, func(c *models.Call) (string, any, error) {
		if err := c.AppendQuality(entry); err != nil {
			return "", nil, err
		}
		return "quality_metrics", c.QualityMetrics, nil
	})
}

// forUpdate row-locks the read so concurrent appends to the same call
// serialize instead of overwriting each other.
func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

func (r *callRepo) appendLog(ctx context.Context, callID string, mutate func(c *models.Call) (string, any, error)) (*models.Call, error) {
	var out *models.Call
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := r.take(forUpdate(tx).Where("id = ?", callID))
		if err != nil {
			return err
		}
		col, val, err := mutate(c)
		if err != nil {
			return err
		}
		c.UpdatedAt = time.Now().UTC()
		if err := tx.Model(&models.Call{}).
			Where("id = ?", callID).
			Updates(map[string]any{col: val, "updated_at": c.UpdatedAt}).Error; err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (r *callRepo) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]models.Call, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Call
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []models.CallStatus{models.CallInitiated, models.CallRinging}, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

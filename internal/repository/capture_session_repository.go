package repository

import (
	"context"
	"exam_capture_backend/internal/model"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// CaptureSessionRepository 会话存取。token→id 映射不可变，
// 放进 Redis 供 5 秒级轮询命中，TTL 跟会话有效期一致。
type CaptureSessionRepository struct {
	DB    *gorm.DB
	Redis *redis.Client
	ctx   context.Context
}

func NewCaptureSessionRepository(db *gorm.DB, rdb *redis.Client) *CaptureSessionRepository {
	return &CaptureSessionRepository{DB: db, Redis: rdb, ctx: context.Background()}
}

func (r *CaptureSessionRepository) tokenKey(token string) string {
	return "capture:token:" + token
}

func (r *CaptureSessionRepository) Create(session *model.CaptureSession) error {
	if err := r.DB.Create(session).Error; err != nil {
		return err
	}
	if r.Redis != nil {
		ttl := time.Until(session.ExpiresAt)
		if ttl > 0 {
			r.Redis.Set(r.ctx, r.tokenKey(session.Token), session.ID, ttl)
		}
	}
	return nil
}

func (r *CaptureSessionRepository) FindByID(id string) (*model.CaptureSession, error) {
	var session model.CaptureSession
	err := r.DB.First(&session, "id = ?", id).Error
	return &session, err
}

func (r *CaptureSessionRepository) FindByToken(token string) (*model.CaptureSession, error) {
	if r.Redis != nil {
		if id, err := r.Redis.Get(r.ctx, r.tokenKey(token)).Result(); err == nil && id != "" {
			return r.FindByID(id)
		}
	}

	var session model.CaptureSession
	err := r.DB.Where("token = ?", token).First(&session).Error
	return &session, err
}

func (r *CaptureSessionRepository) Update(session *model.CaptureSession) error {
	return r.DB.Save(session).Error
}

func (r *CaptureSessionRepository) UpdateStatus(id string, status model.CaptureStatus, errorMessage string) error {
	return r.DB.Model(&model.CaptureSession{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "error_message": errorMessage}).Error
}

// CancelExpired 兜底回收：把过期还没走完流程的会话置为 cancelled。
// processing 状态不碰，识别中的会话由流水线自己收尾。
func (r *CaptureSessionRepository) CancelExpired(now time.Time) (int64, error) {
	res := r.DB.Model(&model.CaptureSession{}).
		Where("expires_at < ? AND status IN ?", now, []model.CaptureStatus{model.CapturePending, model.CaptureUploaded}).
		Update("status", model.CaptureCancelled)
	return res.RowsAffected, res.Error
}

// --- 批量会话 ---

func (r *CaptureSessionRepository) CreateMulti(multi *model.MultiCaptureSession, entries []model.RosterEntry) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(multi).Error; err != nil {
			return err
		}
		for i := range entries {
			entries[i].MultiSessionID = multi.ID
			if err := tx.Create(&entries[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *CaptureSessionRepository) FindMultiByToken(token string) (*model.MultiCaptureSession, error) {
	var multi model.MultiCaptureSession
	err := r.DB.Where("token = ?", token).First(&multi).Error
	return &multi, err
}

func (r *CaptureSessionRepository) FindMultiByID(id string) (*model.MultiCaptureSession, error) {
	var multi model.MultiCaptureSession
	err := r.DB.First(&multi, "id = ?", id).Error
	return &multi, err
}

func (r *CaptureSessionRepository) UpdateMulti(multi *model.MultiCaptureSession) error {
	return r.DB.Save(multi).Error
}

func (r *CaptureSessionRepository) ListEntries(multiSessionID string) ([]model.RosterEntry, error) {
	var entries []model.RosterEntry
	err := r.DB.Where("multi_session_id = ?", multiSessionID).Order("created_at asc").Find(&entries).Error
	return entries, err
}

func (r *CaptureSessionRepository) FindEntry(multiSessionID, studentID string) (*model.RosterEntry, error) {
	var entry model.RosterEntry
	err := r.DB.Where("multi_session_id = ? AND student_id = ?", multiSessionID, studentID).First(&entry).Error
	return &entry, err
}

func (r *CaptureSessionRepository) UpdateEntry(entry *model.RosterEntry) error {
	return r.DB.Save(entry).Error
}

package service

import (
	"bytes"
	"context"
	"exam_capture_backend/internal/model"
	"exam_capture_backend/internal/util"
	"exam_capture_backend/pkg/logger"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ObjectUploader 上传面，由 StorageService 实现
type ObjectUploader interface {
	Upload(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error)
}

// StagedImage 已缓冲但尚未提交的图片
type StagedImage struct {
	Name        string
	ContentType string
	Data        []byte
}

// CaptureService 拍照端的暂存与提交。暂存只进内存缓冲，
// 不碰会话；Commit 全量成功才改会话，任何一张失败整体放弃。
type CaptureService struct {
	Storage  ObjectUploader
	Sessions *SessionService

	mu      sync.Mutex
	staged  map[string][]StagedImage
	counter int
}

func NewCaptureService(storage ObjectUploader, sessions *SessionService) *CaptureService {
	return &CaptureService{
		Storage:  storage,
		Sessions: sessions,
		staged:   make(map[string][]StagedImage),
	}
}

func stageKey(token, studentID string) string {
	if studentID == "" {
		return token
	}
	return token + "/" + studentID
}

// Stage 缓冲一张图片，校验 MIME 必须是图片
func (s *CaptureService) Stage(token, studentID, name string, data []byte) error {
	if _, err := util.ValidateMimeType(bytes.NewReader(data), []string{util.MimeImage}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := stageKey(token, studentID)
	s.staged[key] = append(s.staged[key], StagedImage{
		Name:        util.SanitizeFilename(name),
		ContentType: http.DetectContentType(data),
		Data:        data,
	})
	return nil
}

// StagedCount 当前缓冲张数
func (s *CaptureService) StagedCount(token, studentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged[stageKey(token, studentID)])
}

// Discard 丢弃缓冲（取消/过期时调用）
func (s *CaptureService) Discard(token, studentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.staged, stageKey(token, studentID))
}

// Commit 把缓冲整体上传到 captures/{token}/ 下，全部成功后
// 追加路径并把会话迁移到 uploaded。
func (s *CaptureService) Commit(ctx context.Context, session *model.CaptureSession) error {
	s.mu.Lock()
	images := s.staged[stageKey(session.Token, "")]
	s.mu.Unlock()

	if len(images) == 0 {
		return util.ErrNoImages
	}

	keys, err := s.uploadAll(ctx, fmt.Sprintf("captures/%s", session.Token), images)
	if err != nil {
		// 全有或全无：不追加路径，不动状态
		return err
	}

	if err := s.Sessions.MarkUploaded(session, keys); err != nil {
		return err
	}

	s.Discard(session.Token, "")
	logger.Log.Info("capture committed",
		zap.String("session_id", session.ID),
		zap.Int("images", len(keys)))
	return nil
}

// CommitEntry 批量会话里单个学生的提交，只动自己的槽位
func (s *CaptureService) CommitEntry(ctx context.Context, token string, entry *model.RosterEntry, update func(*model.RosterEntry) error) error {
	s.mu.Lock()
	images := s.staged[stageKey(token, entry.StudentID)]
	s.mu.Unlock()

	if len(images) == 0 {
		return util.ErrNoImages
	}
	if entry.Status != model.CapturePending {
		return util.ErrInvalidTransition
	}

	keys, err := s.uploadAll(ctx, fmt.Sprintf("captures/%s/%s", token, entry.StudentID), images)
	if err != nil {
		return err
	}

	entry.UploadedImages = append(entry.UploadedImages, keys...)
	entry.Status = model.CaptureUploaded
	if err := update(entry); err != nil {
		return err
	}

	s.Discard(token, entry.StudentID)
	return nil
}

func (s *CaptureService) uploadAll(ctx context.Context, prefix string, images []StagedImage) ([]string, error) {
	now := time.Now().Unix()
	keys := make([]string, 0, len(images))

	for i, img := range images {
		key := fmt.Sprintf("%s/%d_%d_%s", prefix, now, i, img.Name)
		if _, err := s.Storage.Upload(ctx, key, bytes.NewReader(img.Data), int64(len(img.Data)), img.ContentType); err != nil {
			logger.Log.Error("image upload failed, aborting commit",
				zap.String("key", key), zap.Error(err))
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

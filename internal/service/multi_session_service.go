package service

import (
	"context"
	"errors"
	"exam_capture_backend/internal/model"
	"exam_capture_backend/internal/util"
	"exam_capture_backend/pkg/logger"
	"exam_capture_backend/pkg/monitoring"
	"io"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MultiSessionStore 批量会话持久化，由 repository.CaptureSessionRepository 实现
type MultiSessionStore interface {
	CreateMulti(multi *model.MultiCaptureSession, entries []model.RosterEntry) error
	FindMultiByToken(token string) (*model.MultiCaptureSession, error)
	FindMultiByID(id string) (*model.MultiCaptureSession, error)
	UpdateMulti(multi *model.MultiCaptureSession) error
	ListEntries(multiSessionID string) ([]model.RosterEntry, error)
	FindEntry(multiSessionID, studentID string) (*model.RosterEntry, error)
	UpdateEntry(entry *model.RosterEntry) error
}

// SweepResult 一次批量处理的汇总，失败按学生隔离
type SweepResult struct {
	Processed int               `json:"processed"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// MultiSessionService 整班共用一个令牌的批量拍照。每个学生独立
// 上传、独立演进自己的槽位；学生端轮询只看自己的槽位。
type MultiSessionService struct {
	Store      MultiSessionStore
	Students   StudentStore
	Reconcile  *ReconcileService
	Extraction ExtractionClient
	Storage    ObjectDownloader
	TTL        time.Duration

	Now func() time.Time
}

func NewMultiSessionService(store MultiSessionStore, students StudentStore, reconcile *ReconcileService, extraction ExtractionClient, storage ObjectDownloader, ttl time.Duration) *MultiSessionService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MultiSessionService{
		Store:      store,
		Students:   students,
		Reconcile:  reconcile,
		Extraction: extraction,
		Storage:    storage,
		TTL:        ttl,
		Now:        time.Now,
	}
}

// Create 建批量会话：名册里每个学生建档并挂上试卷关联
func (s *MultiSessionService) Create(examID string, roster []StudentIdentity) (*model.MultiCaptureSession, []model.RosterEntry, error) {
	if len(roster) == 0 {
		return nil, nil, util.ErrRosterEmpty
	}

	entries := make([]model.RosterEntry, 0, len(roster))
	for _, identity := range roster {
		if identity.Name == "" && identity.StudentNumber == "" {
			return nil, nil, util.ErrIdentityRequired
		}
		student, err := s.Students.FindOrCreate(identity.Name, identity.StudentNumber)
		if err != nil {
			return nil, nil, err
		}
		se, err := s.Students.FindOrCreateStudentExam(examID, student.ID)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, model.RosterEntry{
			StudentID:      student.ID,
			StudentExamID:  se.ID,
			DisplayName:    student.DisplayName,
			StudentNumber:  student.StudentNumber,
			Status:         model.CapturePending,
			UploadedImages: []string{},
		})
	}

	multi := &model.MultiCaptureSession{
		Token:     uuid.New().String(),
		ExamID:    examID,
		Status:    model.CapturePending,
		ExpiresAt: s.Now().Add(s.TTL),
	}

	if err := s.Store.CreateMulti(multi, entries); err != nil {
		return nil, nil, err
	}

	logger.Log.Info("multi capture session created",
		zap.String("session_id", multi.ID),
		zap.String("exam_id", examID),
		zap.Int("roster_size", len(entries)))
	return multi, entries, nil
}

func (s *MultiSessionService) LookupByToken(token string) (*model.MultiCaptureSession, error) {
	multi, err := s.Store.FindMultiByToken(token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrSessionNotFound
		}
		return nil, err
	}
	if multi.ExpiresAt.Before(s.Now()) {
		return nil, util.ErrSessionExpired
	}
	return multi, nil
}

// EntryFor 学生在批量会话里自己的槽位
func (s *MultiSessionService) EntryFor(multi *model.MultiCaptureSession, studentID string) (*model.RosterEntry, error) {
	entry, err := s.Store.FindEntry(multi.ID, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrStudentNotInRoster
		}
		return nil, err
	}
	return entry, nil
}

// Ready 全员 uploaded 才算就绪
func (s *MultiSessionService) Ready(multiSessionID string) (bool, []model.RosterEntry, error) {
	entries, err := s.Store.ListEntries(multiSessionID)
	if err != nil {
		return false, nil, err
	}

	for _, e := range entries {
		if e.Status != model.CaptureUploaded {
			return false, entries, nil
		}
	}
	return len(entries) > 0, entries, nil
}

// ProcessEntry 处理单个学生：识别加对账，寻址用该学生自己的
// student_exam_id。失败只写回自己的槽位。
func (s *MultiSessionService) ProcessEntry(ctx context.Context, examID string, entry *model.RosterEntry) error {
	if entry.Status != model.CaptureUploaded {
		return util.ErrInvalidTransition
	}

	entry.Status = model.CaptureProcessing
	if err := s.Store.UpdateEntry(entry); err != nil {
		return err
	}

	err := s.extractAndReconcile(ctx, examID, entry)
	if err != nil {
		entry.Status = model.CaptureFailed
		entry.ErrorMessage = err.Error()
		if updateErr := s.Store.UpdateEntry(entry); updateErr != nil {
			logger.Log.Error("roster entry failure write rejected",
				zap.String("entry_id", entry.ID), zap.Error(updateErr))
		}
		monitoring.SessionsFinished.WithLabelValues(string(model.CaptureFailed)).Inc()
		return err
	}

	entry.Status = model.CaptureCompleted
	entry.ErrorMessage = ""
	if err := s.Store.UpdateEntry(entry); err != nil {
		return err
	}
	monitoring.SessionsFinished.WithLabelValues(string(model.CaptureCompleted)).Inc()
	return nil
}

// Sweep 扫一遍名册，把所有 uploaded 未处理的槽位并发处理完。
// 学生之间互不阻塞，单个失败不影响其他人。
func (s *MultiSessionService) Sweep(ctx context.Context, multiSessionID string) (*SweepResult, error) {
	multi, err := s.Store.FindMultiByID(multiSessionID)
	if err != nil {
		return nil, err
	}

	entries, err := s.Store.ListEntries(multiSessionID)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Errors: make(map[string]string)}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := range entries {
		entry := entries[i]
		if entry.Status != model.CaptureUploaded {
			result.Skipped++
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.ProcessEntry(ctx, multi.ExamID, &entry)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors[entry.StudentID] = err.Error()
				return
			}
			result.Processed++
		}()
	}
	wg.Wait()

	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result, nil
}

func (s *MultiSessionService) extractAndReconcile(ctx context.Context, examID string, entry *model.RosterEntry) error {
	skeleton, err := s.Reconcile.BuildSkeleton(examID)
	if err != nil {
		return err
	}

	images := make([]SubmissionImage, 0, len(entry.UploadedImages))
	for _, key := range entry.UploadedImages {
		rc, err := s.Storage.Download(ctx, key)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
		images = append(images, SubmissionImage{Name: path.Base(key), Data: data})
	}

	res, err := s.Extraction.Submit(ctx, images, skeleton)
	if err != nil {
		return err
	}

	_, err = s.Reconcile.Run(ctx, entry.StudentExamID, examID, res)
	return err
}

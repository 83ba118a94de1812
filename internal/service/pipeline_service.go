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

	"go.uber.org/zap"
)

// ExtractionClient 识别网关，由 ExtractionService 实现
type ExtractionClient interface {
	Submit(ctx context.Context, images []SubmissionImage, skeleton ExamSkeleton) (*ExtractionResult, error)
}

// ObjectDownloader 从对象存储取答卷图，由 StorageService 实现
type ObjectDownloader interface {
	Download(ctx context.Context, filename string) (io.ReadCloser, error)
}

// PipelineService 把监视、识别、对账串成一条流水线：
// 会话创建后起一个监视，等到 uploaded 就推进 processing→completed/failed。
// 监视超时只停监视，不动会话状态。
type PipelineService struct {
	Sessions   *SessionService
	Reconcile  *ReconcileService
	Extraction ExtractionClient
	Storage    ObjectDownloader
	Watcher    *PollWatcher

	mu      sync.Mutex
	watches map[string]*WatchHandle
}

func NewPipelineService(sessions *SessionService, reconcile *ReconcileService, extraction ExtractionClient, storage ObjectDownloader, watcher *PollWatcher) *PipelineService {
	return &PipelineService{
		Sessions:   sessions,
		Reconcile:  reconcile,
		Extraction: extraction,
		Storage:    storage,
		Watcher:    watcher,
		watches:    make(map[string]*WatchHandle),
	}
}

// StartWatch 为会话启动状态监视
func (s *PipelineService) StartWatch(sessionID string) {
	fetch := func() (model.CaptureStatus, error) {
		session, err := s.Sessions.Refresh(sessionID)
		if err != nil {
			return "", err
		}
		return session.Status, nil
	}

	handle := s.Watcher.Watch(fetch,
		func() {
			s.dropWatch(sessionID)
			s.Process(context.Background(), sessionID)
		},
		func() {
			// 超时只停监视；会话留在当前状态，用户可重新发起
			s.dropWatch(sessionID)
			logger.Log.Info("capture watch timed out", zap.String("session_id", sessionID))
		},
	)

	s.mu.Lock()
	s.watches[sessionID] = handle
	s.mu.Unlock()
}

// StopWatch 页面离开/会话取消时显式停表，不留孤儿定时器
func (s *PipelineService) StopWatch(sessionID string) {
	s.mu.Lock()
	handle, ok := s.watches[sessionID]
	delete(s.watches, sessionID)
	s.mu.Unlock()

	if ok {
		handle.Stop()
	}
}

func (s *PipelineService) dropWatch(sessionID string) {
	s.mu.Lock()
	delete(s.watches, sessionID)
	s.mu.Unlock()
}

// Process 推进一条已上传会话：下载图片 → 识别 → 对账。
// 识别调用不随监视取消而中断；返回后若发现会话已被取消，
// 丢弃结果不落库。
func (s *PipelineService) Process(ctx context.Context, sessionID string) {
	session, err := s.Sessions.Refresh(sessionID)
	if err != nil {
		logger.Log.Error("pipeline: session load failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	if err := s.Sessions.Transition(session, model.CaptureProcessing); err != nil {
		// 已被别处推进或取消
		logger.Log.Warn("pipeline: session not processable",
			zap.String("session_id", sessionID),
			zap.String("status", string(session.Status)))
		return
	}

	res, err := s.extract(ctx, session)
	if err != nil {
		s.failSession(session, err)
		return
	}

	// 取消抑制：识别期间会话被取消的话，结果直接丢弃
	current, err := s.Sessions.Refresh(sessionID)
	if err == nil && current.Status == model.CaptureCancelled {
		logger.Log.Info("pipeline: session cancelled mid-flight, discarding extraction result",
			zap.String("session_id", sessionID))
		return
	}

	if _, err := s.Reconcile.Run(ctx, session.StudentExamID, session.ExamID, res); err != nil {
		s.failSession(session, err)
		return
	}

	if err := s.Sessions.Transition(session, model.CaptureCompleted); err != nil {
		logger.Log.Error("pipeline: completed transition failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	monitoring.SessionsFinished.WithLabelValues(string(model.CaptureCompleted)).Inc()
}

func (s *PipelineService) extract(ctx context.Context, session *model.CaptureSession) (*ExtractionResult, error) {
	skeleton, err := s.Reconcile.BuildSkeleton(session.ExamID)
	if err != nil {
		return nil, err
	}

	images := make([]SubmissionImage, 0, len(session.UploadedImages))
	for _, key := range session.UploadedImages {
		rc, err := s.Storage.Download(ctx, key)
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		images = append(images, SubmissionImage{Name: path.Base(key), Data: data})
	}

	return s.Extraction.Submit(ctx, images, skeleton)
}

func (s *PipelineService) failSession(session *model.CaptureSession, cause error) {
	var svcErr *util.ServiceError
	switch {
	case errors.Is(cause, util.ErrExtractionTimeout):
		logger.Log.Error("pipeline: extraction timed out", zap.String("session_id", session.ID))
	case errors.As(cause, &svcErr):
		logger.Log.Error("pipeline: extraction service error",
			zap.String("session_id", session.ID),
			zap.Int("upstream_status", svcErr.Status))
	default:
		logger.Log.Error("pipeline: session failed", zap.String("session_id", session.ID), zap.Error(cause))
	}

	if err := s.Sessions.Fail(session, cause.Error()); err != nil {
		logger.Log.Error("pipeline: failed transition rejected", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	monitoring.SessionsFinished.WithLabelValues(string(model.CaptureFailed)).Inc()
}

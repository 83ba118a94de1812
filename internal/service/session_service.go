package service

import (
	"errors"
	"exam_capture_backend/internal/config"
	"exam_capture_backend/internal/model"
	"exam_capture_backend/internal/util"
	"exam_capture_backend/pkg/logger"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SessionStore 会话持久化接口，由 repository.CaptureSessionRepository 实现
type SessionStore interface {
	Create(session *model.CaptureSession) error
	FindByID(id string) (*model.CaptureSession, error)
	FindByToken(token string) (*model.CaptureSession, error)
	Update(session *model.CaptureSession) error
	UpdateStatus(id string, status model.CaptureStatus, errorMessage string) error
}

// StudentStore 学生与学生-试卷关联，由 repository.StudentRepository 实现
type StudentStore interface {
	FindOrCreate(name, number string) (*model.Student, error)
	FindByID(id string) (*model.Student, error)
	FindOrCreateStudentExam(examID, studentID string) (*model.StudentExam, error)
	FindStudentExam(id string) (*model.StudentExam, error)
	UpdateStudentExam(se *model.StudentExam) error
}

// StudentIdentity 创建会话时的学生身份，姓名或学号至少填一个
type StudentIdentity struct {
	StudentID     string `json:"studentId"`
	Name          string `json:"name"`
	StudentNumber string `json:"studentNumber"`
}

// 状态机：pending→uploaded→processing→{completed,failed}，任意状态可 cancel
var allowedTransitions = map[model.CaptureStatus][]model.CaptureStatus{
	model.CapturePending:    {model.CaptureUploaded, model.CaptureCancelled},
	model.CaptureUploaded:   {model.CaptureProcessing, model.CaptureCancelled},
	model.CaptureProcessing: {model.CaptureCompleted, model.CaptureFailed, model.CaptureCancelled},
	model.CaptureCompleted:  {model.CaptureCancelled},
	model.CaptureFailed:     {model.CaptureCancelled},
}

func transitionAllowed(from, to model.CaptureStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type SessionService struct {
	Sessions SessionStore
	Students StudentStore
	TTL      time.Duration

	// Now 可注入，测试里固定时钟
	Now func() time.Time
}

func NewSessionService(sessions SessionStore, students StudentStore, cfg *config.Config) *SessionService {
	ttl := time.Hour
	if cfg != nil && cfg.Capture.SessionTTLMinutes > 0 {
		ttl = cfg.Capture.SessionTTLMinutes
	}
	return &SessionService{
		Sessions: sessions,
		Students: students,
		TTL:      ttl,
		Now:      time.Now,
	}
}

// Create 建立拍照会话：找/建学生档案和学生-试卷关联，生成一次性令牌
func (s *SessionService) Create(examID string, identity StudentIdentity) (*model.CaptureSession, error) {
	var student *model.Student
	var err error

	if identity.StudentID != "" {
		student, err = s.Students.FindByID(identity.StudentID)
		if err != nil {
			return nil, err
		}
	} else {
		if identity.Name == "" && identity.StudentNumber == "" {
			return nil, util.ErrIdentityRequired
		}
		student, err = s.Students.FindOrCreate(identity.Name, identity.StudentNumber)
		if err != nil {
			return nil, err
		}
	}

	se, err := s.Students.FindOrCreateStudentExam(examID, student.ID)
	if err != nil {
		return nil, err
	}

	session := &model.CaptureSession{
		Token:          uuid.New().String(),
		ExamID:         examID,
		StudentID:      student.ID,
		StudentExamID:  se.ID,
		Status:         model.CapturePending,
		UploadedImages: []string{},
		ExpiresAt:      s.Now().Add(s.TTL),
	}

	if err := s.Sessions.Create(session); err != nil {
		return nil, err
	}

	logger.Log.Info("capture session created",
		zap.String("session_id", session.ID),
		zap.String("exam_id", examID),
		zap.String("student_id", student.ID))
	return session, nil
}

// LookupByToken 过期判定先于状态：即使落库状态还不是终态，
// expiresAt 过了就按过期处理。
func (s *SessionService) LookupByToken(token string) (*model.CaptureSession, error) {
	session, err := s.Sessions.FindByToken(token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrSessionNotFound
		}
		return nil, err
	}

	if session.Expired(s.Now()) {
		return nil, util.ErrSessionExpired
	}
	return session, nil
}

// Transition 校验并持久化状态迁移，非法边返回错误且状态不变
func (s *SessionService) Transition(session *model.CaptureSession, to model.CaptureStatus) error {
	if !transitionAllowed(session.Status, to) {
		return util.ErrInvalidTransition
	}

	if err := s.Sessions.UpdateStatus(session.ID, to, session.ErrorMessage); err != nil {
		return err
	}
	session.Status = to
	return nil
}

// Fail 终态 failed，同时落错误信息，轮询端据此展示失败原因
func (s *SessionService) Fail(session *model.CaptureSession, message string) error {
	if !transitionAllowed(session.Status, model.CaptureFailed) {
		return util.ErrInvalidTransition
	}
	if err := s.Sessions.UpdateStatus(session.ID, model.CaptureFailed, message); err != nil {
		return err
	}
	session.Status = model.CaptureFailed
	session.ErrorMessage = message
	return nil
}

func (s *SessionService) Cancel(session *model.CaptureSession) error {
	return s.Transition(session, model.CaptureCancelled)
}

// MarkUploaded 追加图片并迁移到 uploaded。图片列表终态前只追加。
func (s *SessionService) MarkUploaded(session *model.CaptureSession, imageKeys []string) error {
	if !transitionAllowed(session.Status, model.CaptureUploaded) {
		return util.ErrInvalidTransition
	}

	session.UploadedImages = append(session.UploadedImages, imageKeys...)
	session.Status = model.CaptureUploaded
	return s.Sessions.Update(session)
}

// Refresh 只读取当前状态，供轮询使用
func (s *SessionService) Refresh(sessionID string) (*model.CaptureSession, error) {
	return s.Sessions.FindByID(sessionID)
}

package model

import "time"

type CaptureStatus string

const (
	CapturePending    CaptureStatus = "pending"
	CaptureUploaded   CaptureStatus = "uploaded"
	CaptureProcessing CaptureStatus = "processing"
	CaptureCompleted  CaptureStatus = "completed"
	CaptureFailed     CaptureStatus = "failed"
	CaptureCancelled  CaptureStatus = "cancelled"
)

// Terminal 终态后图片列表和状态都不再变化（cancel 除外，cancel 本身即终态）
func (s CaptureStatus) Terminal() bool {
	return s == CaptureCompleted || s == CaptureFailed || s == CaptureCancelled
}

// CaptureSession 拍照上传会话。Token 通过链接/二维码分享到手机端，
// 会话一小时后过期。
type CaptureSession struct {
	UUIDBase
	Token         string        `gorm:"size:64;uniqueIndex;not null" json:"token"`
	ExamID        string        `gorm:"index;type:varchar(36);not null" json:"examId"`
	StudentID     string        `gorm:"type:varchar(36)" json:"studentId,omitempty"`
	StudentExamID string        `gorm:"index;type:varchar(36)" json:"studentExamId,omitempty"`
	Status        CaptureStatus `gorm:"size:20;default:'pending'" json:"status"`
	// UploadedImages 存对象存储内的键，终态前只追加
	UploadedImages []string  `gorm:"serializer:json;type:json" json:"uploadedImages"`
	ExpiresAt      time.Time `gorm:"index" json:"expiresAt"`
	ErrorMessage   string    `gorm:"type:text" json:"errorMessage,omitempty"`
}

func (CaptureSession) TableName() string {
	return "capture_sessions"
}

func (s *CaptureSession) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// MultiCaptureSession 多人共用一个令牌的批量拍照会话
type MultiCaptureSession struct {
	UUIDBase
	Token     string        `gorm:"size:64;uniqueIndex;not null" json:"token"`
	ExamID    string        `gorm:"index;type:varchar(36);not null" json:"examId"`
	Status    CaptureStatus `gorm:"size:20;default:'pending'" json:"status"`
	ExpiresAt time.Time     `gorm:"index" json:"expiresAt"`
}

func (MultiCaptureSession) TableName() string {
	return "multi_capture_sessions"
}

// RosterEntry 批量会话里单个学生的槽位，状态独立演进
type RosterEntry struct {
	UUIDBase
	MultiSessionID string        `gorm:"index;type:varchar(36);not null" json:"multiSessionId"`
	StudentID      string        `gorm:"index;type:varchar(36);not null" json:"studentId"`
	StudentExamID  string        `gorm:"index;type:varchar(36);not null" json:"studentExamId"`
	DisplayName    string        `gorm:"size:100" json:"displayName"`
	StudentNumber  string        `gorm:"size:50" json:"studentNumber"`
	Status         CaptureStatus `gorm:"size:20;default:'pending'" json:"status"`
	UploadedImages []string      `gorm:"serializer:json;type:json" json:"uploadedImages"`
	ErrorMessage   string        `gorm:"type:text" json:"errorMessage,omitempty"`
}

func (RosterEntry) TableName() string {
	return "roster_entries"
}

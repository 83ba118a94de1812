package util

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound    = errors.New("用户不存在")
	ErrEmailRegistered = errors.New("该邮箱已被注册")
	ErrExamNotFound    = errors.New("exam not found")

	// 会话相关
	ErrIdentityRequired  = errors.New("student name or number is required")
	ErrSessionNotFound   = errors.New("capture session not found")
	ErrSessionExpired    = errors.New("capture session expired")
	ErrInvalidTransition = errors.New("illegal session status transition")
	ErrNoImages          = errors.New("no images staged for commit")

	// 批量会话
	ErrRosterEmpty        = errors.New("roster must contain at least one student")
	ErrStudentNotInRoster = errors.New("student not in roster")
	ErrRosterNotReady     = errors.New("roster has entries that are not uploaded yet")

	// 识别服务
	ErrExtractionTimeout = errors.New("extraction request exceeded deadline")
	ErrArchiveFormat     = errors.New("extraction archive has no usable manifest")
)

// ServiceError 识别服务返回非 2xx 时带回上游诊断信息
type ServiceError struct {
	Status int
	Body   string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("extraction service error (status %d): %s", e.Status, e.Body)
}

// PersistenceError 对账过程中写库失败。批量插入不回滚已提交批次，
// 错误要带上操作名方便定位。
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

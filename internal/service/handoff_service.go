package service

import (
	"exam_capture_backend/internal/config"
	"exam_capture_backend/internal/model"
	"fmt"
	"net/url"
	"time"
)

// HandoffPayload 前端把 URL 渲染成二维码，手机扫码打开拍照页
type HandoffPayload struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type HandoffService struct {
	BaseURL string
}

func NewHandoffService(cfg *config.Config) *HandoffService {
	return &HandoffService{BaseURL: cfg.Capture.BaseURL}
}

// ShareLink 令牌作为 query 参数拼进拍照页地址
func (s *HandoffService) ShareLink(session *model.CaptureSession) HandoffPayload {
	return HandoffPayload{
		URL:       fmt.Sprintf("%s/capture?token=%s", s.BaseURL, url.QueryEscape(session.Token)),
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
	}
}

// MultiShareLink 批量会话整班共用一个令牌，学生在拍照页里挑自己
func (s *HandoffService) MultiShareLink(multi *model.MultiCaptureSession) HandoffPayload {
	return HandoffPayload{
		URL:       fmt.Sprintf("%s/capture?token=%s&mode=multi", s.BaseURL, url.QueryEscape(multi.Token)),
		Token:     multi.Token,
		ExpiresAt: multi.ExpiresAt,
	}
}

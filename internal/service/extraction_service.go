package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"exam_capture_backend/internal/config"
	"exam_capture_backend/internal/util"
	"exam_capture_backend/pkg/monitoring"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"path"
	"strings"
	"time"
)

// ExamSkeleton 发给识别服务的最小试卷骨架：只有题号和小题文本，
// 不带内部ID、分值和既有答案。服务按原文回显这些键。
type ExamSkeleton struct {
	Questions []SkeletonQuestion `json:"questions"`
}

type SkeletonQuestion struct {
	QuestionNumber string                `json:"question_number"`
	SubQuestions   []SkeletonSubQuestion `json:"sub_questions"`
}

type SkeletonSubQuestion struct {
	SubQTextContent string `json:"sub_q_text_content"`
}

// ExtractionManifest 识别服务返回的结构化清单，以人工编写的
// 文本为键（服务不知道内部ID）
type ExtractionManifest struct {
	Questions []ManifestQuestion `json:"questions"`
}

type ManifestQuestion struct {
	QuestionNumber string                `json:"question_number"`
	SubQuestions   []ManifestSubQuestion `json:"sub_questions"`
}

type ManifestSubQuestion struct {
	SubQTextContent string         `json:"sub_q_text_content"`
	StudentAnswers  ManifestAnswer `json:"student_answers"`
}

type ManifestAnswer struct {
	AnswerText   string `json:"answer_text"`
	AnswerVisual string `json:"answer_visual,omitempty"`
}

// SubmissionImage 提交给识别服务的一张答卷图
type SubmissionImage struct {
	Name string
	Data []byte
}

// ExtractionResult 解包后的归档：一个清单 + 若干媒体文件（按纯文件名索引）
type ExtractionResult struct {
	Manifest ExtractionManifest
	Media    map[string][]byte
}

type ExtractionService struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	httpc   *http.Client
}

func NewExtractionService(cfg config.ExtractionConfig) *ExtractionService {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		// 识别耗时长，首包等待放宽，整体截止由请求上下文控制
		ResponseHeaderTimeout: 0,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
	}

	timeout := cfg.TimeoutMinutes
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &ExtractionService{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Timeout: timeout,
		httpc: &http.Client{
			Timeout:   0,
			Transport: tr,
		},
	}
}

// WithHTTPClient 覆盖内部 HTTP 客户端（测试用）
func (s *ExtractionService) WithHTTPClient(c *http.Client) *ExtractionService {
	if c != nil {
		s.httpc = c
	}
	return s
}

// Submit 上传答卷图和试卷骨架，拿回识别归档。
// 超时硬中断并区别于上游非 2xx 的 ServiceError。
func (s *ExtractionService) Submit(ctx context.Context, images []SubmissionImage, skeleton ExamSkeleton) (*ExtractionResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, img := range images {
		part, err := writer.CreateFormFile("images", img.Name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, err
		}
	}

	skeletonJSON, err := json.Marshal(skeleton)
	if err != nil {
		return nil, err
	}
	if err := writer.WriteField("skeleton", string(skeletonJSON)); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", s.BaseURL+"/v1/extract", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	start := time.Now()
	resp, err := s.httpc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, util.ErrExtractionTimeout
		}
		return nil, err
	}
	defer resp.Body.Close()

	archive, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, util.ErrExtractionTimeout
		}
		return nil, err
	}
	monitoring.ExtractionDuration.Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &util.ServiceError{Status: resp.StatusCode, Body: string(archive)}
	}

	return parseArchive(archive)
}

// parseArchive 清单按 .json 后缀定位（服务端文件名不固定），
// 必须恰好一个，其余条目当媒体文件按纯文件名索引。
func parseArchive(data []byte) (*ExtractionResult, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrArchiveFormat, err)
	}

	var manifestData []byte
	media := make(map[string][]byte)

	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", util.ErrArchiveFormat, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", util.ErrArchiveFormat, err)
		}

		if strings.HasSuffix(entry.Name, ".json") {
			if manifestData != nil {
				return nil, util.ErrArchiveFormat
			}
			manifestData = content
			continue
		}
		media[path.Base(entry.Name)] = content
	}

	if manifestData == nil {
		return nil, util.ErrArchiveFormat
	}

	var manifest ExtractionManifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrArchiveFormat, err)
	}

	return &ExtractionResult{Manifest: manifest, Media: media}, nil
}

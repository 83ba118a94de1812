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
	"time"

	"go.uber.org/zap"
)

// 批量插入固定每批 100 条，限制单次写入负载
const answerBatchSize = 100

// AnswerStore 答案行的读写，由 repository.AnswerRepository 实现
type AnswerStore interface {
	DeleteByStudentExam(studentExamID string) error
	InsertBatch(answers []model.StudentAnswer) error
	ListByStudentExam(studentExamID string) ([]model.StudentAnswer, error)
}

// ExamStore 试卷结构读取与派生字段重算，由 repository.ExamRepository 实现
type ExamStore interface {
	FindByID(id string) (*model.Exam, error)
	ListQuestions(examID string) ([]model.ExamQuestion, error)
	ListSubQuestions(questionID string) ([]model.SubQuestion, error)
	CanonicalLookup(examID string) (map[string]map[string]string, error)
	RecalcTotalPoints(examID string) error
}

// AnswerObjectStore 答案图上传与陈旧对象清理
type AnswerObjectStore interface {
	Upload(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, filename string) error
}

// ReconcileSummary 一次对账的统计
type ReconcileSummary struct {
	Matched      int `json:"matched"`
	Unmatched    int `json:"unmatched"`
	MissingMedia int `json:"missingMedia"`
}

// ReconcileService 把识别清单按文本键对回库里的小题并落库。
// 匹配只做精确字符串比对：骨架发出去什么文本，服务就回显什么文本，
// 模糊匹配反而会错配。
type ReconcileService struct {
	Answers  AnswerStore
	Exams    ExamStore
	Students StudentStore
	Storage  AnswerObjectStore
}

func NewReconcileService(answers AnswerStore, exams ExamStore, students StudentStore, storage AnswerObjectStore) *ReconcileService {
	return &ReconcileService{
		Answers:  answers,
		Exams:    exams,
		Students: students,
		Storage:  storage,
	}
}

// BuildSkeleton 组装发给识别服务的最小骨架
func (s *ReconcileService) BuildSkeleton(examID string) (ExamSkeleton, error) {
	var skeleton ExamSkeleton

	questions, err := s.Exams.ListQuestions(examID)
	if err != nil {
		return skeleton, err
	}

	for _, q := range questions {
		subs, err := s.Exams.ListSubQuestions(q.ID)
		if err != nil {
			return skeleton, err
		}
		sq := SkeletonQuestion{QuestionNumber: q.QuestionNumber}
		for _, sub := range subs {
			sq.SubQuestions = append(sq.SubQuestions, SkeletonSubQuestion{SubQTextContent: sub.TextContent})
		}
		skeleton.Questions = append(skeleton.Questions, sq)
	}
	return skeleton, nil
}

// Run 对账主流程：解析键 → 回填答案图 → 全删全插 → 重算派生字段。
// 单条问题（没匹配上的小题、缺失的媒体文件）绝不让整批失败。
func (s *ReconcileService) Run(ctx context.Context, studentExamID, examID string, res *ExtractionResult) (*ReconcileSummary, error) {
	// 对账前现查，识别期间试卷若被改动，按最新结构匹配
	lookup, err := s.Exams.CanonicalLookup(examID)
	if err != nil {
		return nil, &util.PersistenceError{Op: "canonical lookup", Err: err}
	}

	summary := &ReconcileSummary{}
	now := time.Now().UnixNano()
	var answers []model.StudentAnswer
	live := make(map[string]bool)

	for _, q := range res.Manifest.Questions {
		byText := lookup[q.QuestionNumber]
		for _, sub := range q.SubQuestions {
			subID, ok := byText[sub.SubQTextContent]
			if !ok {
				// 匹配不上就丢弃并记日志，绝不猜
				summary.Unmatched++
				logger.Log.Warn("unmatched sub-question dropped",
					zap.String("question_number", q.QuestionNumber),
					zap.String("text", sub.SubQTextContent))
				continue
			}

			answer := model.StudentAnswer{
				StudentExamID: studentExamID,
				SubQuestionID: subID,
				AnswerText:    sub.StudentAnswers.AnswerText,
			}

			if name := sub.StudentAnswers.AnswerVisual; name != "" {
				visual, ok := s.attachVisual(ctx, studentExamID, name, res.Media, now)
				if ok {
					answer.AnswerVisual = &visual
					live[visual] = true
				} else {
					summary.MissingMedia++
				}
			}

			answers = append(answers, answer)
			summary.Matched++
		}
	}

	// 旧答案图的对象键留着，落库成功后再清。
	// 重跑可能撞出同名键，仍被引用的键不能清。
	stale := s.staleVisuals(studentExamID, live)

	if err := s.Answers.DeleteByStudentExam(studentExamID); err != nil {
		return nil, &util.PersistenceError{Op: "delete previous answers", Err: err}
	}

	for start := 0; start < len(answers); start += answerBatchSize {
		end := start + answerBatchSize
		if end > len(answers) {
			end = len(answers)
		}
		if err := s.Answers.InsertBatch(answers[start:end]); err != nil {
			// 已提交批次不回滚，重跑会话可恢复
			return nil, &util.PersistenceError{Op: fmt.Sprintf("insert answers batch %d", start/answerBatchSize), Err: err}
		}
	}

	if err := s.recalcAggregates(studentExamID, examID, len(answers)); err != nil {
		return nil, err
	}

	s.cleanupVisuals(stale)

	logger.Log.Info("reconciliation finished",
		zap.String("student_exam_id", studentExamID),
		zap.Int("matched", summary.Matched),
		zap.Int("unmatched", summary.Unmatched),
		zap.Int("missing_media", summary.MissingMedia))
	return summary, nil
}

// attachVisual 在归档里按精确文件名找媒体并上传。找不到就落纯文本答案，
// 一张图缺失不连累整批。
func (s *ReconcileService) attachVisual(ctx context.Context, studentExamID, name string, media map[string][]byte, ts int64) (string, bool) {
	data, ok := media[name]
	if !ok {
		logger.Log.Warn("manifest references missing media, persisting without visual",
			zap.String("filename", name))
		return "", false
	}

	key := fmt.Sprintf("answers/%s/%d_%s", studentExamID, ts, util.SanitizeFilename(name))
	if _, err := s.Storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), http.DetectContentType(data)); err != nil {
		logger.Log.Warn("answer visual upload failed, persisting without visual",
			zap.String("filename", name), zap.Error(err))
		return "", false
	}
	return key, true
}

func (s *ReconcileService) staleVisuals(studentExamID string, live map[string]bool) []string {
	previous, err := s.Answers.ListByStudentExam(studentExamID)
	if err != nil {
		return nil
	}
	var keys []string
	for _, a := range previous {
		if a.AnswerVisual != nil && *a.AnswerVisual != "" && !live[*a.AnswerVisual] {
			keys = append(keys, *a.AnswerVisual)
		}
	}
	return keys
}

// cleanupVisuals 尽力而为的陈旧对象清理，失败只记日志
func (s *ReconcileService) cleanupVisuals(keys []string) {
	if len(keys) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		for _, key := range keys {
			if err := s.Storage.Delete(ctx, key); err != nil {
				logger.Log.Warn("stale visual cleanup failed", zap.String("key", key), zap.Error(err))
			}
		}
	}()
}

func (s *ReconcileService) recalcAggregates(studentExamID, examID string, answered int) error {
	se, err := s.Students.FindStudentExam(studentExamID)
	if err != nil {
		return &util.PersistenceError{Op: "load student exam", Err: err}
	}
	se.AnsweredCount = answered
	se.Status = model.StudentExamCaptured
	if err := s.Students.UpdateStudentExam(se); err != nil {
		return &util.PersistenceError{Op: "update student exam aggregates", Err: err}
	}

	if err := s.Exams.RecalcTotalPoints(examID); err != nil {
		return &util.PersistenceError{Op: "recalc exam total points", Err: err}
	}
	return nil
}

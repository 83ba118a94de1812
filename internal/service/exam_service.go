package service

import (
	"errors"
	"exam_capture_backend/internal/model"
	"exam_capture_backend/internal/repository"
	"exam_capture_backend/internal/util"

	"gorm.io/gorm"
)

type ExamService struct {
	Repo *repository.ExamRepository
}

func NewExamService(repo *repository.ExamRepository) *ExamService {
	return &ExamService{Repo: repo}
}

type SubQuestionReq struct {
	TextContent string `json:"textContent" binding:"required"`
	Points      int    `json:"points"`
	Order       int    `json:"order"`
}

type ExamQuestionReq struct {
	QuestionNumber string           `json:"questionNumber" binding:"required"`
	Title          string           `json:"title"`
	Order          int              `json:"order"`
	SubQuestions   []SubQuestionReq `json:"subQuestions"`
}

type ExamReq struct {
	Title       string            `json:"title" binding:"required"`
	Subject     string            `json:"subject"`
	Description string            `json:"description"`
	Questions   []ExamQuestionReq `json:"questions"`
}

func (s *ExamService) CreateExam(creatorID uint, req ExamReq) (*model.Exam, error) {
	exam := &model.Exam{
		Title:       req.Title,
		Subject:     req.Subject,
		Description: req.Description,
		CreatorID:   creatorID,
	}

	questions := make([]model.ExamQuestion, len(req.Questions))
	subs := make(map[int][]model.SubQuestion)
	total := 0

	for i, qReq := range req.Questions {
		questions[i] = model.ExamQuestion{
			QuestionNumber: qReq.QuestionNumber,
			Title:          qReq.Title,
			Order:          qReq.Order,
		}
		for _, subReq := range qReq.SubQuestions {
			subs[i] = append(subs[i], model.SubQuestion{
				TextContent: subReq.TextContent,
				Points:      subReq.Points,
				Order:       subReq.Order,
			})
			total += subReq.Points
		}
	}
	exam.TotalPoints = total

	if err := s.Repo.CreateExam(exam, questions, subs); err != nil {
		return nil, err
	}
	return exam, nil
}

type ExamDetail struct {
	Exam      *model.Exam          `json:"exam"`
	Questions []ExamQuestionDetail `json:"questions"`
}

type ExamQuestionDetail struct {
	model.ExamQuestion
	SubQuestions []model.SubQuestion `json:"subQuestions"`
}

func (s *ExamService) GetExam(id string) (*ExamDetail, error) {
	exam, err := s.Repo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrExamNotFound
		}
		return nil, err
	}

	questions, err := s.Repo.ListQuestions(id)
	if err != nil {
		return nil, err
	}

	detail := &ExamDetail{Exam: exam}
	for _, q := range questions {
		subQuestions, err := s.Repo.ListSubQuestions(q.ID)
		if err != nil {
			return nil, err
		}
		detail.Questions = append(detail.Questions, ExamQuestionDetail{
			ExamQuestion: q,
			SubQuestions: subQuestions,
		})
	}
	return detail, nil
}

func (s *ExamService) ListExams(page, limit int) ([]model.Exam, int64, error) {
	return s.Repo.ListExams(page, limit)
}

package repository

import (
	"exam_capture_backend/internal/model"

	"gorm.io/gorm"
)

type ExamRepository struct {
	DB *gorm.DB
}

func NewExamRepository(db *gorm.DB) *ExamRepository {
	return &ExamRepository{DB: db}
}

func (r *ExamRepository) CreateExam(exam *model.Exam, questions []model.ExamQuestion, subs map[int][]model.SubQuestion) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(exam).Error; err != nil {
			return err
		}
		for i := range questions {
			questions[i].ExamID = exam.ID
			if err := tx.Create(&questions[i]).Error; err != nil {
				return err
			}
			for j := range subs[i] {
				subs[i][j].QuestionID = questions[i].ID
				if err := tx.Create(&subs[i][j]).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (r *ExamRepository) FindByID(id string) (*model.Exam, error) {
	var exam model.Exam
	err := r.DB.First(&exam, "id = ?", id).Error
	return &exam, err
}

func (r *ExamRepository) ListExams(page, limit int) ([]model.Exam, int64, error) {
	var total int64
	if err := r.DB.Model(&model.Exam{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var exams []model.Exam
	offset := (page - 1) * limit
	err := r.DB.Order("created_at desc").Offset(offset).Limit(limit).Find(&exams).Error
	return exams, total, err
}

func (r *ExamRepository) ListQuestions(examID string) ([]model.ExamQuestion, error) {
	var qs []model.ExamQuestion
	err := r.DB.Where("exam_id = ?", examID).Order("`order` asc, created_at asc").Find(&qs).Error
	return qs, err
}

func (r *ExamRepository) ListSubQuestions(questionID string) ([]model.SubQuestion, error) {
	var subs []model.SubQuestion
	err := r.DB.Where("question_id = ?", questionID).Order("`order` asc, created_at asc").Find(&subs).Error
	return subs, err
}

// CanonicalLookup 题号 → 小题文本 → 小题ID 的两级精确索引。
// 每次对账前重建，避免识别期间试卷被改动造成ID漂移。
func (r *ExamRepository) CanonicalLookup(examID string) (map[string]map[string]string, error) {
	type row struct {
		QuestionNumber string
		TextContent    string
		SubID          string
	}

	var rows []row
	err := r.DB.Table("sub_questions sq").
		Select("q.question_number, sq.text_content, sq.id as sub_id").
		Joins("JOIN exam_questions q ON sq.question_id = q.id").
		Where("q.exam_id = ? AND sq.deleted_at IS NULL AND q.deleted_at IS NULL", examID).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	lookup := make(map[string]map[string]string)
	for _, rw := range rows {
		byText, ok := lookup[rw.QuestionNumber]
		if !ok {
			byText = make(map[string]string)
			lookup[rw.QuestionNumber] = byText
		}
		byText[rw.TextContent] = rw.SubID
	}
	return lookup, nil
}

// RecalcTotalPoints 重算试卷总分（小题分值之和）
func (r *ExamRepository) RecalcTotalPoints(examID string) error {
	return r.DB.Model(&model.Exam{}).Where("id = ?", examID).
		Update("total_points", r.DB.Table("sub_questions sq").
			Select("COALESCE(SUM(sq.points), 0)").
			Joins("JOIN exam_questions q ON sq.question_id = q.id").
			Where("q.exam_id = ? AND sq.deleted_at IS NULL AND q.deleted_at IS NULL", examID)).Error
}

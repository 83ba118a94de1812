package repository

import (
	"exam_capture_backend/internal/model"

	"gorm.io/gorm"
)

type AnswerRepository struct {
	DB *gorm.DB
}

func NewAnswerRepository(db *gorm.DB) *AnswerRepository {
	return &AnswerRepository{DB: db}
}

func (r *AnswerRepository) DeleteByStudentExam(studentExamID string) error {
	return r.DB.Unscoped().Where("student_exam_id = ?", studentExamID).Delete(&model.StudentAnswer{}).Error
}

// InsertBatch 插入一批答案，批次大小由调用方控制
func (r *AnswerRepository) InsertBatch(answers []model.StudentAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	return r.DB.Create(&answers).Error
}

func (r *AnswerRepository) ListByStudentExam(studentExamID string) ([]model.StudentAnswer, error) {
	var answers []model.StudentAnswer
	err := r.DB.Where("student_exam_id = ?", studentExamID).Find(&answers).Error
	return answers, err
}

func (r *AnswerRepository) CountByStudentExam(studentExamID string) (int64, error) {
	var count int64
	err := r.DB.Model(&model.StudentAnswer{}).Where("student_exam_id = ?", studentExamID).Count(&count).Error
	return count, err
}

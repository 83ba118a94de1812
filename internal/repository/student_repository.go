package repository

import (
	"exam_capture_backend/internal/model"

	"gorm.io/gorm"
)

type StudentRepository struct {
	DB *gorm.DB
}

func NewStudentRepository(db *gorm.DB) *StudentRepository {
	return &StudentRepository{DB: db}
}

// FindOrCreate 先按学号找，找不到再按姓名找，都没有就建档
func (r *StudentRepository) FindOrCreate(name, number string) (*model.Student, error) {
	var student model.Student

	if number != "" {
		if err := r.DB.Where("student_number = ?", number).First(&student).Error; err == nil {
			return &student, nil
		}
	}
	if name != "" && number == "" {
		if err := r.DB.Where("display_name = ?", name).First(&student).Error; err == nil {
			return &student, nil
		}
	}

	student = model.Student{DisplayName: name, StudentNumber: number}
	err := r.DB.Create(&student).Error
	return &student, err
}

func (r *StudentRepository) FindByID(id string) (*model.Student, error) {
	var student model.Student
	err := r.DB.First(&student, "id = ?", id).Error
	return &student, err
}

func (r *StudentRepository) FindOrCreateStudentExam(examID, studentID string) (*model.StudentExam, error) {
	var se model.StudentExam
	err := r.DB.Where("exam_id = ? AND student_id = ?", examID, studentID).First(&se).Error
	if err == nil {
		return &se, nil
	}

	se = model.StudentExam{ExamID: examID, StudentID: studentID, Status: model.StudentExamPending}
	err = r.DB.Create(&se).Error
	return &se, err
}

func (r *StudentRepository) FindStudentExam(id string) (*model.StudentExam, error) {
	var se model.StudentExam
	err := r.DB.First(&se, "id = ?", id).Error
	return &se, err
}

func (r *StudentRepository) UpdateStudentExam(se *model.StudentExam) error {
	return r.DB.Save(se).Error
}

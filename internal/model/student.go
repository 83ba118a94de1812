package model

// Student 学生档案，姓名或学号至少要有一个
type Student struct {
	UUIDBase
	DisplayName   string `gorm:"size:100" json:"displayName"`
	StudentNumber string `gorm:"size:50;index" json:"studentNumber"`
	ClassName     string `gorm:"size:100" json:"className"`
}

func (Student) TableName() string {
	return "students"
}

type StudentExamStatus string

const (
	StudentExamPending  StudentExamStatus = "pending"
	StudentExamCaptured StudentExamStatus = "captured"
	StudentExamGraded   StudentExamStatus = "graded"
)

// StudentExam 学生-试卷关联，答案记录挂在它下面
type StudentExam struct {
	UUIDBase
	ExamID    string            `gorm:"index;type:varchar(36);not null" json:"examId"`
	StudentID string            `gorm:"index;type:varchar(36);not null" json:"studentId"`
	Status    StudentExamStatus `gorm:"size:20;default:'pending'" json:"status"`
	// AnsweredCount 为派生字段，对账写入后重算
	AnsweredCount int     `gorm:"default:0" json:"answeredCount"`
	TotalScore    float64 `gorm:"default:0" json:"totalScore"`
}

func (StudentExam) TableName() string {
	return "student_exams"
}

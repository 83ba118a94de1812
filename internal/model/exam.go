package model

// Exam 试卷
type Exam struct {
	UUIDBase
	Title       string `gorm:"size:255;not null" json:"title"`
	Subject     string `gorm:"size:100" json:"subject"`
	Description string `gorm:"type:text" json:"description"`
	// TotalPoints 为派生字段，由小题分值汇总而来，答案落库后重算
	TotalPoints int  `gorm:"default:0" json:"totalPoints"`
	CreatorID   uint `gorm:"index;type:bigint unsigned" json:"creatorId"`
}

func (Exam) TableName() string {
	return "exams"
}

// ExamQuestion 大题，QuestionNumber 为人工编写的题号文本（如 "3" 或 "三"）
type ExamQuestion struct {
	UUIDBase
	ExamID         string `gorm:"index;type:varchar(36);not null" json:"examId"`
	QuestionNumber string `gorm:"size:50;not null" json:"questionNumber"`
	Title          string `gorm:"type:text" json:"title"`
	Order          int    `gorm:"default:0" json:"order"`
}

func (ExamQuestion) TableName() string {
	return "exam_questions"
}

// SubQuestion 小题，TextContent 是与识别服务对账时使用的文本键
type SubQuestion struct {
	UUIDBase
	QuestionID  string `gorm:"index;type:varchar(36);not null" json:"questionId"`
	TextContent string `gorm:"type:text;not null" json:"textContent"`
	Points      int    `gorm:"default:0" json:"points"`
	Order       int    `gorm:"default:0" json:"order"`
}

func (SubQuestion) TableName() string {
	return "sub_questions"
}

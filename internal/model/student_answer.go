package model

// StudentAnswer 识别回填的答案记录。SubQuestionID 必须已解析，
// 未匹配到小题的识别结果不会落库。
type StudentAnswer struct {
	UUIDBase
	StudentExamID string  `gorm:"index;type:varchar(36);not null" json:"studentExamId"`
	SubQuestionID string  `gorm:"index;type:varchar(36);not null" json:"subQuestionId"`
	AnswerText    string  `gorm:"type:text" json:"answerText"`
	AnswerVisual  *string `gorm:"size:512" json:"answerVisual,omitempty"`
	Score         float64 `gorm:"default:0" json:"score"`
}

func (StudentAnswer) TableName() string {
	return "student_answers"
}

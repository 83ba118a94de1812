package service

import (
	"context"
	"errors"
	"exam_capture_backend/internal/model"
	"fmt"
	"io"
	"strings"
	"sync"

	"gorm.io/gorm"
)

// 测试替身集中放这里，各测试文件共用。

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.CaptureSession
	updates  int
	failNext error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*model.CaptureSession)}
}

func (f *fakeSessionStore) takeErr() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeSessionStore) Create(session *model.CaptureSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return err
	}
	if session.ID == "" {
		session.ID = fmt.Sprintf("session-%d", len(f.sessions)+1)
	}
	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f *fakeSessionStore) FindByID(id string) (*model.CaptureSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionStore) FindByToken(token string) (*model.CaptureSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		if session.Token == token {
			copied := *session
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeSessionStore) Update(session *model.CaptureSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return err
	}
	f.updates++
	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f *fakeSessionStore) UpdateStatus(id string, status model.CaptureStatus, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return err
	}
	session, ok := f.sessions[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	f.updates++
	session.Status = status
	session.ErrorMessage = errorMessage
	return nil
}

type fakeStudentStore struct {
	mu           sync.Mutex
	students     map[string]*model.Student
	studentExams map[string]*model.StudentExam
	seq          int
}

func newFakeStudentStore() *fakeStudentStore {
	return &fakeStudentStore{
		students:     make(map[string]*model.Student),
		studentExams: make(map[string]*model.StudentExam),
	}
}

func (f *fakeStudentStore) FindOrCreate(name, number string) (*model.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.students {
		if number != "" && s.StudentNumber == number {
			return s, nil
		}
		if number == "" && s.DisplayName == name {
			return s, nil
		}
	}
	f.seq++
	student := &model.Student{DisplayName: name, StudentNumber: number}
	student.ID = fmt.Sprintf("student-%d", f.seq)
	f.students[student.ID] = student
	return student, nil
}

func (f *fakeStudentStore) FindByID(id string) (*model.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	student, ok := f.students[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return student, nil
}

func (f *fakeStudentStore) FindOrCreateStudentExam(examID, studentID string) (*model.StudentExam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, se := range f.studentExams {
		if se.ExamID == examID && se.StudentID == studentID {
			return se, nil
		}
	}
	f.seq++
	se := &model.StudentExam{ExamID: examID, StudentID: studentID, Status: model.StudentExamPending}
	se.ID = fmt.Sprintf("student-exam-%d", f.seq)
	f.studentExams[se.ID] = se
	return se, nil
}

func (f *fakeStudentStore) FindStudentExam(id string) (*model.StudentExam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	se, ok := f.studentExams[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return se, nil
}

func (f *fakeStudentStore) UpdateStudentExam(se *model.StudentExam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.studentExams[se.ID] = se
	return nil
}

// fakeObjectStore 满足 ObjectUploader、ObjectDownloader 和 AnswerObjectStore。
// failAfter 为 n 时第 n+1 次上传开始报错，用来验证全有或全无。
type fakeObjectStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   int
	deleted   []string
	failAfter int
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte), failAfter: -1}
}

func (f *fakeObjectStore) Upload(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && f.uploads >= f.failAfter {
		return "", errors.New("storage unavailable")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	f.uploads++
	f.objects[filename] = data
	return filename, nil
}

func (f *fakeObjectStore) Download(ctx context.Context, filename string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[filename]
	if !ok {
		return nil, fmt.Errorf("object %s not found", filename)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, filename)
	f.deleted = append(f.deleted, filename)
	return nil
}

type fakeAnswerStore struct {
	mu         sync.Mutex
	answers    map[string][]model.StudentAnswer
	insertErr  error
	batchSizes []int
}

func newFakeAnswerStore() *fakeAnswerStore {
	return &fakeAnswerStore{answers: make(map[string][]model.StudentAnswer)}
}

func (f *fakeAnswerStore) DeleteByStudentExam(studentExamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.answers, studentExamID)
	return nil
}

func (f *fakeAnswerStore) InsertBatch(answers []model.StudentAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.batchSizes = append(f.batchSizes, len(answers))
	for _, a := range answers {
		f.answers[a.StudentExamID] = append(f.answers[a.StudentExamID], a)
	}
	return nil
}

func (f *fakeAnswerStore) ListByStudentExam(studentExamID string) ([]model.StudentAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.StudentAnswer(nil), f.answers[studentExamID]...), nil
}

type fakeExamStore struct {
	exam      *model.Exam
	questions []model.ExamQuestion
	subs      map[string][]model.SubQuestion
	recalced  int
}

func (f *fakeExamStore) FindByID(id string) (*model.Exam, error) {
	if f.exam == nil || f.exam.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return f.exam, nil
}

func (f *fakeExamStore) ListQuestions(examID string) ([]model.ExamQuestion, error) {
	return f.questions, nil
}

func (f *fakeExamStore) ListSubQuestions(questionID string) ([]model.SubQuestion, error) {
	return f.subs[questionID], nil
}

func (f *fakeExamStore) CanonicalLookup(examID string) (map[string]map[string]string, error) {
	lookup := make(map[string]map[string]string)
	for _, q := range f.questions {
		byText := make(map[string]string)
		for _, sub := range f.subs[q.ID] {
			byText[sub.TextContent] = sub.ID
		}
		lookup[q.QuestionNumber] = byText
	}
	return lookup, nil
}

func (f *fakeExamStore) RecalcTotalPoints(examID string) error {
	f.recalced++
	return nil
}

type fakeMultiStore struct {
	mu      sync.Mutex
	multis  map[string]*model.MultiCaptureSession
	entries map[string][]*model.RosterEntry
	seq     int
}

func newFakeMultiStore() *fakeMultiStore {
	return &fakeMultiStore{
		multis:  make(map[string]*model.MultiCaptureSession),
		entries: make(map[string][]*model.RosterEntry),
	}
}

func (f *fakeMultiStore) CreateMulti(multi *model.MultiCaptureSession, entries []model.RosterEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if multi.ID == "" {
		multi.ID = fmt.Sprintf("multi-%d", f.seq)
	}
	f.multis[multi.ID] = multi
	for i := range entries {
		f.seq++
		entries[i].ID = fmt.Sprintf("entry-%d", f.seq)
		entries[i].MultiSessionID = multi.ID
		copied := entries[i]
		f.entries[multi.ID] = append(f.entries[multi.ID], &copied)
	}
	return nil
}

func (f *fakeMultiStore) FindMultiByToken(token string) (*model.MultiCaptureSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.multis {
		if m.Token == token {
			return m, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeMultiStore) FindMultiByID(id string) (*model.MultiCaptureSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.multis[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return m, nil
}

func (f *fakeMultiStore) UpdateMulti(multi *model.MultiCaptureSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.multis[multi.ID] = multi
	return nil
}

func (f *fakeMultiStore) ListEntries(multiSessionID string) ([]model.RosterEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.RosterEntry, 0, len(f.entries[multiSessionID]))
	for _, e := range f.entries[multiSessionID] {
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeMultiStore) FindEntry(multiSessionID, studentID string) (*model.RosterEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries[multiSessionID] {
		if e.StudentID == studentID {
			copied := *e
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeMultiStore) UpdateEntry(entry *model.RosterEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.entries[entry.MultiSessionID] {
		if e.ID == entry.ID {
			copied := *entry
			f.entries[entry.MultiSessionID][i] = &copied
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// fakeExtraction 按学生图片内容返回预置结果
type fakeExtraction struct {
	mu      sync.Mutex
	result  *ExtractionResult
	err     error
	calls   int
	perCall func(images []SubmissionImage) (*ExtractionResult, error)
}

func (f *fakeExtraction) Submit(ctx context.Context, images []SubmissionImage, skeleton ExamSkeleton) (*ExtractionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.perCall != nil {
		return f.perCall(images)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

package service

import (
	"errors"
	"exam_capture_backend/internal/model"
	"exam_capture_backend/internal/util"
	"testing"
	"time"
)

func newSessionServiceForTest(store *fakeSessionStore, students *fakeStudentStore) *SessionService {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &SessionService{
		Sessions: store,
		Students: students,
		TTL:      time.Hour,
		Now:      func() time.Time { return base },
	}
}

func TestCreateSessionRequiresIdentity(t *testing.T) {
	svc := newSessionServiceForTest(newFakeSessionStore(), newFakeStudentStore())

	_, err := svc.Create("exam-1", StudentIdentity{})
	if !errors.Is(err, util.ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired, got %v", err)
	}
}

func TestCreateSessionInitialState(t *testing.T) {
	store := newFakeSessionStore()
	students := newFakeStudentStore()
	svc := newSessionServiceForTest(store, students)

	session, err := svc.Create("exam-1", StudentIdentity{Name: "张三", StudentNumber: "20260301"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if session.Token == "" {
		t.Error("expected a non-empty token")
	}
	if session.Status != model.CapturePending {
		t.Errorf("expected pending, got %s", session.Status)
	}
	if session.StudentExamID == "" {
		t.Error("expected student exam to be linked")
	}
	want := svc.Now().Add(time.Hour)
	if !session.ExpiresAt.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, session.ExpiresAt)
	}
	if len(session.UploadedImages) != 0 {
		t.Errorf("expected no images, got %d", len(session.UploadedImages))
	}
}

func TestCreateSessionReusesExistingStudent(t *testing.T) {
	store := newFakeSessionStore()
	students := newFakeStudentStore()
	svc := newSessionServiceForTest(store, students)

	first, err := svc.Create("exam-1", StudentIdentity{Name: "李四", StudentNumber: "1001"})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := svc.Create("exam-1", StudentIdentity{Name: "李四", StudentNumber: "1001"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}

	if first.StudentID != second.StudentID {
		t.Errorf("same student number must map to one profile: %s vs %s", first.StudentID, second.StudentID)
	}
	if first.StudentExamID != second.StudentExamID {
		t.Errorf("same exam+student must map to one student exam: %s vs %s", first.StudentExamID, second.StudentExamID)
	}
	if first.Token == second.Token {
		t.Error("each session must get its own token")
	}
}

func TestLookupByTokenNotFound(t *testing.T) {
	svc := newSessionServiceForTest(newFakeSessionStore(), newFakeStudentStore())

	_, err := svc.LookupByToken("no-such-token")
	if !errors.Is(err, util.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLookupByTokenExpiryBeatsStatus(t *testing.T) {
	store := newFakeSessionStore()
	svc := newSessionServiceForTest(store, newFakeStudentStore())

	session, err := svc.Create("exam-1", StudentIdentity{Name: "王五"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// 状态还是 pending，但时钟拨过期限后按过期处理
	svc.Now = func() time.Time { return session.ExpiresAt.Add(time.Second) }
	_, err = svc.LookupByToken(session.Token)
	if !errors.Is(err, util.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from model.CaptureStatus
		to   model.CaptureStatus
		ok   bool
	}{
		{model.CapturePending, model.CaptureUploaded, true},
		{model.CapturePending, model.CaptureCancelled, true},
		{model.CapturePending, model.CaptureProcessing, false},
		{model.CapturePending, model.CaptureCompleted, false},
		{model.CaptureUploaded, model.CaptureProcessing, true},
		{model.CaptureUploaded, model.CaptureCancelled, true},
		{model.CaptureUploaded, model.CaptureCompleted, false},
		{model.CaptureUploaded, model.CapturePending, false},
		{model.CaptureProcessing, model.CaptureCompleted, true},
		{model.CaptureProcessing, model.CaptureFailed, true},
		{model.CaptureProcessing, model.CaptureCancelled, true},
		{model.CaptureProcessing, model.CaptureUploaded, false},
		{model.CaptureCompleted, model.CaptureCancelled, true},
		{model.CaptureCompleted, model.CaptureProcessing, false},
		{model.CaptureFailed, model.CaptureCancelled, true},
		{model.CaptureFailed, model.CaptureUploaded, false},
		{model.CaptureCancelled, model.CaptureUploaded, false},
		{model.CaptureCancelled, model.CaptureCancelled, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			store := newFakeSessionStore()
			svc := newSessionServiceForTest(store, newFakeStudentStore())

			session := &model.CaptureSession{Status: tc.from}
			session.ID = "s1"
			store.sessions["s1"] = session

			err := svc.Transition(session, tc.to)
			if tc.ok {
				if err != nil {
					t.Fatalf("expected transition to succeed, got %v", err)
				}
				if session.Status != tc.to {
					t.Errorf("expected status %s, got %s", tc.to, session.Status)
				}
				return
			}
			if !errors.Is(err, util.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			if session.Status != tc.from {
				t.Errorf("illegal edge must leave status unchanged, got %s", session.Status)
			}
			stored, _ := store.FindByID("s1")
			if stored.Status != tc.from {
				t.Errorf("illegal edge must not be persisted, stored status %s", stored.Status)
			}
		})
	}
}

func TestMarkUploadedAppendsImages(t *testing.T) {
	store := newFakeSessionStore()
	svc := newSessionServiceForTest(store, newFakeStudentStore())

	session, err := svc.Create("exam-1", StudentIdentity{Name: "赵六"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.MarkUploaded(session, []string{"captures/t/1.jpg", "captures/t/2.jpg"}); err != nil {
		t.Fatalf("mark uploaded: %v", err)
	}

	if session.Status != model.CaptureUploaded {
		t.Errorf("expected uploaded, got %s", session.Status)
	}
	if len(session.UploadedImages) != 2 {
		t.Errorf("expected 2 images, got %d", len(session.UploadedImages))
	}

	// uploaded 之后不允许再补图
	err = svc.MarkUploaded(session, []string{"captures/t/3.jpg"})
	if !errors.Is(err, util.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after upload, got %v", err)
	}
	if len(session.UploadedImages) != 2 {
		t.Errorf("rejected append must not mutate image list, got %d", len(session.UploadedImages))
	}
}

func TestFailRecordsMessage(t *testing.T) {
	store := newFakeSessionStore()
	svc := newSessionServiceForTest(store, newFakeStudentStore())

	session := &model.CaptureSession{Status: model.CaptureProcessing}
	session.ID = "s1"
	store.sessions["s1"] = session

	if err := svc.Fail(session, "extraction service error (status 502): bad gateway"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	stored, _ := store.FindByID("s1")
	if stored.Status != model.CaptureFailed {
		t.Errorf("expected failed, got %s", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Error("expected error message to be persisted")
	}
}

func TestCancelFromEveryNonCancelledState(t *testing.T) {
	states := []model.CaptureStatus{
		model.CapturePending,
		model.CaptureUploaded,
		model.CaptureProcessing,
		model.CaptureCompleted,
		model.CaptureFailed,
	}

	for _, from := range states {
		store := newFakeSessionStore()
		svc := newSessionServiceForTest(store, newFakeStudentStore())

		session := &model.CaptureSession{Status: from}
		session.ID = "s1"
		store.sessions["s1"] = session

		if err := svc.Cancel(session); err != nil {
			t.Errorf("cancel from %s: %v", from, err)
		}
		if session.Status != model.CaptureCancelled {
			t.Errorf("cancel from %s left status %s", from, session.Status)
		}
	}
}

package service

import (
	"context"
	"errors"
	"exam_capture_backend/internal/model"
	"exam_capture_backend/internal/util"
	"testing"
	"time"
)

func multiFixture() (*MultiSessionService, *fakeMultiStore, *fakeStudentStore, *fakeObjectStore, *fakeExtraction) {
	store := newFakeMultiStore()
	students := newFakeStudentStore()
	storage := newFakeObjectStore()
	answers := newFakeAnswerStore()
	extraction := &fakeExtraction{result: &ExtractionResult{Media: map[string][]byte{}}}

	reconcile := NewReconcileService(answers, examFixture(), students, storage)
	svc := NewMultiSessionService(store, students, reconcile, extraction, storage, time.Hour)
	svc.Now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return svc, store, students, storage, extraction
}

func classRoster() []StudentIdentity {
	return []StudentIdentity{
		{Name: "张三", StudentNumber: "1001"},
		{Name: "李四", StudentNumber: "1002"},
		{Name: "王五", StudentNumber: "1003"},
	}
}

func TestCreateMultiRejectsEmptyRoster(t *testing.T) {
	svc, _, _, _, _ := multiFixture()

	_, _, err := svc.Create("exam-1", nil)
	if !errors.Is(err, util.ErrRosterEmpty) {
		t.Fatalf("expected ErrRosterEmpty, got %v", err)
	}
}

func TestCreateMultiRejectsAnonymousEntry(t *testing.T) {
	svc, _, _, _, _ := multiFixture()

	_, _, err := svc.Create("exam-1", []StudentIdentity{{Name: "张三"}, {}})
	if !errors.Is(err, util.ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired, got %v", err)
	}
}

func TestCreateMultiBuildsRosterSlots(t *testing.T) {
	svc, store, _, _, _ := multiFixture()

	multi, entries, err := svc.Create("exam-1", classRoster())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if multi.Token == "" {
		t.Error("expected shared token")
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 roster entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Status != model.CapturePending {
			t.Errorf("entry %s not pending: %s", e.StudentID, e.Status)
		}
		if e.StudentExamID == "" {
			t.Errorf("entry %s missing student exam link", e.StudentID)
		}
	}

	stored, err := store.ListEntries(multi.ID)
	if err != nil || len(stored) != 3 {
		t.Fatalf("roster not persisted: %v (%d entries)", err, len(stored))
	}
}

func TestEntryForUnknownStudent(t *testing.T) {
	svc, _, _, _, _ := multiFixture()

	multi, _, err := svc.Create("exam-1", classRoster())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.EntryFor(multi, "intruder")
	if !errors.Is(err, util.ErrStudentNotInRoster) {
		t.Fatalf("expected ErrStudentNotInRoster, got %v", err)
	}
}

func TestLookupByTokenExpired(t *testing.T) {
	svc, _, _, _, _ := multiFixture()

	multi, _, err := svc.Create("exam-1", classRoster())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	svc.Now = func() time.Time { return multi.ExpiresAt.Add(time.Minute) }
	_, err = svc.LookupByToken(multi.Token)
	if !errors.Is(err, util.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestReadyRequiresAllUploaded(t *testing.T) {
	svc, store, _, _, _ := multiFixture()

	multi, entries, err := svc.Create("exam-1", classRoster())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ready, _, err := svc.Ready(multi.ID)
	if err != nil || ready {
		t.Fatalf("fresh roster must not be ready (ready=%v, err=%v)", ready, err)
	}

	for i := range entries {
		e, _ := store.FindEntry(multi.ID, entries[i].StudentID)
		e.Status = model.CaptureUploaded
		store.UpdateEntry(e)
	}

	ready, _, err = svc.Ready(multi.ID)
	if err != nil || !ready {
		t.Fatalf("all-uploaded roster must be ready (ready=%v, err=%v)", ready, err)
	}
}

// 三个学生，两个已上传一个还没拍：sweep 处理两个、跳过一个，
// 其中一个识别失败只打到自己的槽位。
func TestSweepIsolatesFailures(t *testing.T) {
	svc, store, _, storage, extraction := multiFixture()

	multi, entries, err := svc.Create("exam-1", classRoster())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	goodResult := &ExtractionResult{
		Manifest: ExtractionManifest{
			Questions: []ManifestQuestion{
				{
					QuestionNumber: "3",
					SubQuestions: []ManifestSubQuestion{
						{SubQTextContent: "求下列方程的解", StudentAnswers: ManifestAnswer{AnswerText: "x=2"}},
					},
				},
			},
		},
		Media: map[string][]byte{},
	}

	// 第一个学生识别成功，第二个超时
	extraction.perCall = func(images []SubmissionImage) (*ExtractionResult, error) {
		if len(images) > 0 && images[0].Name == "bad.png" {
			return nil, util.ErrExtractionTimeout
		}
		return goodResult, nil
	}

	upload := func(studentID, imageName string) {
		key := "captures/" + multi.Token + "/" + studentID + "/" + imageName
		storage.objects[key] = pngBytes
		e, _ := store.FindEntry(multi.ID, studentID)
		e.Status = model.CaptureUploaded
		e.UploadedImages = []string{key}
		if err := store.UpdateEntry(e); err != nil {
			t.Fatalf("update entry: %v", err)
		}
	}
	upload(entries[0].StudentID, "good.png")
	upload(entries[1].StudentID, "bad.png")
	// entries[2] 还没上传

	result, err := svc.Sweep(context.Background(), multi.ID)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if result.Processed != 1 || result.Failed != 1 || result.Skipped != 1 {
		t.Fatalf("unexpected sweep result %+v", result)
	}
	if _, ok := result.Errors[entries[1].StudentID]; !ok {
		t.Errorf("failure not attributed to the failing student: %v", result.Errors)
	}

	ok, _ := store.FindEntry(multi.ID, entries[0].StudentID)
	if ok.Status != model.CaptureCompleted {
		t.Errorf("successful student must complete, got %s", ok.Status)
	}
	failed, _ := store.FindEntry(multi.ID, entries[1].StudentID)
	if failed.Status != model.CaptureFailed {
		t.Errorf("failing student must fail, got %s", failed.Status)
	}
	if failed.ErrorMessage == "" {
		t.Error("failing slot must carry an error message")
	}
	untouched, _ := store.FindEntry(multi.ID, entries[2].StudentID)
	if untouched.Status != model.CapturePending {
		t.Errorf("non-uploaded student must be skipped, got %s", untouched.Status)
	}
}

func TestProcessEntryRejectsNonUploaded(t *testing.T) {
	svc, _, _, _, _ := multiFixture()

	entry := &model.RosterEntry{Status: model.CapturePending}
	err := svc.ProcessEntry(context.Background(), "exam-1", entry)
	if !errors.Is(err, util.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

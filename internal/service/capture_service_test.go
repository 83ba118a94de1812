package service

import (
	"context"
	"errors"
	"exam_capture_backend/internal/model"
	"exam_capture_backend/internal/util"
	"strings"
	"testing"
	"time"
)

// 最小 PNG 魔数，足够过 MIME 嗅探
var pngBytes = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 16)...)

func newCaptureServiceForTest(storage *fakeObjectStore) (*CaptureService, *fakeSessionStore) {
	store := newFakeSessionStore()
	sessions := newSessionServiceForTest(store, newFakeStudentStore())
	return NewCaptureService(storage, sessions), store
}

func pendingSession(store *fakeSessionStore, token string) *model.CaptureSession {
	session := &model.CaptureSession{
		Token:          token,
		Status:         model.CapturePending,
		UploadedImages: []string{},
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	session.ID = "s-" + token
	store.sessions[session.ID] = session
	return session
}

func TestStageRejectsNonImage(t *testing.T) {
	svc, _ := newCaptureServiceForTest(newFakeObjectStore())

	err := svc.Stage("tok", "", "notes.txt", []byte("plain text, not an image"))
	if err == nil {
		t.Fatal("expected non-image payload to be rejected")
	}
	if svc.StagedCount("tok", "") != 0 {
		t.Error("rejected file must not be buffered")
	}
}

func TestStageSanitizesFilename(t *testing.T) {
	storage := newFakeObjectStore()
	svc, store := newCaptureServiceForTest(storage)
	session := pendingSession(store, "tok")

	if err := svc.Stage("tok", "", "page 1%20front.png", pngBytes); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := svc.Commit(context.Background(), session); err != nil {
		t.Fatalf("commit: %v", err)
	}

	key := session.UploadedImages[0]
	if strings.Contains(key, " ") || strings.Contains(key, "%20") {
		t.Errorf("stored key still contains unsafe runs: %s", key)
	}
	if !strings.Contains(key, "page_1_front.png") {
		t.Errorf("expected collapsed filename in key, got %s", key)
	}
}

func TestCommitWithoutImages(t *testing.T) {
	svc, store := newCaptureServiceForTest(newFakeObjectStore())
	session := pendingSession(store, "tok")

	err := svc.Commit(context.Background(), session)
	if !errors.Is(err, util.ErrNoImages) {
		t.Fatalf("expected ErrNoImages, got %v", err)
	}
	if session.Status != model.CapturePending {
		t.Errorf("empty commit must not change status, got %s", session.Status)
	}
}

func TestCommitUploadsAllAndMarksSession(t *testing.T) {
	storage := newFakeObjectStore()
	svc, store := newCaptureServiceForTest(storage)
	session := pendingSession(store, "tok")

	for _, name := range []string{"p1.png", "p2.png", "p3.png"} {
		if err := svc.Stage("tok", "", name, pngBytes); err != nil {
			t.Fatalf("stage %s: %v", name, err)
		}
	}

	if err := svc.Commit(context.Background(), session); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if session.Status != model.CaptureUploaded {
		t.Errorf("expected uploaded, got %s", session.Status)
	}
	if len(session.UploadedImages) != 3 {
		t.Errorf("expected 3 image keys, got %d", len(session.UploadedImages))
	}
	for _, key := range session.UploadedImages {
		if !strings.HasPrefix(key, "captures/tok/") {
			t.Errorf("key outside session prefix: %s", key)
		}
		if _, ok := storage.objects[key]; !ok {
			t.Errorf("key recorded but object missing: %s", key)
		}
	}
	if svc.StagedCount("tok", "") != 0 {
		t.Error("buffer must be cleared after successful commit")
	}
}

func TestCommitIsAllOrNothing(t *testing.T) {
	storage := newFakeObjectStore()
	storage.failAfter = 1 // 第二张开始失败
	svc, store := newCaptureServiceForTest(storage)
	session := pendingSession(store, "tok")

	for _, name := range []string{"p1.png", "p2.png"} {
		if err := svc.Stage("tok", "", name, pngBytes); err != nil {
			t.Fatalf("stage %s: %v", name, err)
		}
	}

	if err := svc.Commit(context.Background(), session); err == nil {
		t.Fatal("expected commit to fail when one upload fails")
	}

	if session.Status != model.CapturePending {
		t.Errorf("failed commit must not change status, got %s", session.Status)
	}
	if len(session.UploadedImages) != 0 {
		t.Errorf("failed commit must not record keys, got %v", session.UploadedImages)
	}
	// 缓冲保留，用户可重试
	if svc.StagedCount("tok", "") != 2 {
		t.Errorf("buffer must survive failed commit, got %d", svc.StagedCount("tok", ""))
	}
}

func TestDiscardDropsBuffer(t *testing.T) {
	svc, _ := newCaptureServiceForTest(newFakeObjectStore())

	if err := svc.Stage("tok", "", "p1.png", pngBytes); err != nil {
		t.Fatalf("stage: %v", err)
	}
	svc.Discard("tok", "")
	if svc.StagedCount("tok", "") != 0 {
		t.Error("discard must empty the buffer")
	}
}

func TestCommitEntryOnlyTouchesOwnSlot(t *testing.T) {
	storage := newFakeObjectStore()
	svc, _ := newCaptureServiceForTest(storage)

	entry := &model.RosterEntry{
		StudentID:      "student-1",
		Status:         model.CapturePending,
		UploadedImages: []string{},
	}
	entry.ID = "entry-1"

	if err := svc.Stage("tok", "student-1", "p1.png", pngBytes); err != nil {
		t.Fatalf("stage: %v", err)
	}
	// 另一个学生的缓冲不能被卷进来
	if err := svc.Stage("tok", "student-2", "other.png", pngBytes); err != nil {
		t.Fatalf("stage: %v", err)
	}

	var updated *model.RosterEntry
	err := svc.CommitEntry(context.Background(), "tok", entry, func(e *model.RosterEntry) error {
		updated = e
		return nil
	})
	if err != nil {
		t.Fatalf("commit entry: %v", err)
	}

	if updated == nil || updated.Status != model.CaptureUploaded {
		t.Fatal("entry must be marked uploaded through the update callback")
	}
	if len(entry.UploadedImages) != 1 {
		t.Errorf("expected 1 key, got %d", len(entry.UploadedImages))
	}
	if !strings.HasPrefix(entry.UploadedImages[0], "captures/tok/student-1/") {
		t.Errorf("key outside student prefix: %s", entry.UploadedImages[0])
	}
	if svc.StagedCount("tok", "student-2") != 1 {
		t.Error("sibling student buffer must be untouched")
	}
}

func TestCommitEntryRejectsNonPending(t *testing.T) {
	svc, _ := newCaptureServiceForTest(newFakeObjectStore())

	entry := &model.RosterEntry{StudentID: "student-1", Status: model.CaptureUploaded}
	if err := svc.Stage("tok", "student-1", "p1.png", pngBytes); err != nil {
		t.Fatalf("stage: %v", err)
	}

	err := svc.CommitEntry(context.Background(), "tok", entry, func(*model.RosterEntry) error { return nil })
	if !errors.Is(err, util.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

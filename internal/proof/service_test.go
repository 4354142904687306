package proof

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/models"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/sniff"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/storage"
)

const testMaxSize = 1 << 20

func webmClip() []byte {
	head := append([]byte{0x1A, 0x45, 0xDF, 0xA3, 0x42, 0x82, 0x88}, []byte("webm")...)
	return append(head, bytes.Repeat([]byte{0x42}, 256)...)
}

func mp4Clip() []byte {
	b := []byte{0x00, 0x00, 0x00, 0x18}
	b = append(b, []byte("ftypisom")...)
	b = append(b, []byte{0x00, 0x00, 0x02, 0x00}...)
	b = append(b, []byte("isomiso2mp41")...)
	return append(b, bytes.Repeat([]byte{0x17}, 256)...)
}

// fakeStore is an in-memory Store for service tests.
type fakeStore struct {
	records     map[string]*models.Proof
	failNextSet bool
}

func newFakeStore(refs ...string) *fakeStore {
	s := &fakeStore{records: make(map[string]*models.Proof)}
	for _, r := range refs {
		s.records[r] = &models.Proof{Ref: r, State: models.ProofStatePending}
	}
	return s
}

func (s *fakeStore) Get(_ context.Context, ref string) (*models.Proof, error) {
	p, ok := s.records[ref]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) MarkRecordingIssued(_ context.Context, ref string) error {
	if p, ok := s.records[ref]; ok && p.State != models.ProofStateUploaded {
		p.State = models.ProofStateRecordingIssued
	}
	return nil
}

func (s *fakeStore) SetUploaded(_ context.Context, ref, storagePath string, byteSize int64, durationSeconds int, recordedAt *time.Time, contentType string) error {
	if s.failNextSet {
		s.failNextSet = false
		return errors.New("write refused")
	}
	p := s.records[ref]
	p.State = models.ProofStateUploaded
	p.StoragePath = storagePath
	p.ByteSize = byteSize
	p.DurationSeconds = durationSeconds
	p.RecordedAt = recordedAt
	p.ContentType = contentType
	p.ErrorDetail = ""
	return nil
}

func (s *fakeStore) SetError(_ context.Context, ref, detail string) error {
	p := s.records[ref]
	p.State = models.ProofStateError
	p.StoragePath = ""
	p.ErrorDetail = detail
	return nil
}

func (s *fakeStore) SetArchived(_ context.Context, ref string) error {
	p := s.records[ref]
	if p.State == models.ProofStateUploaded {
		p.State = models.ProofStateArchived
	}
	return nil
}

func (s *fakeStore) SetOverride(_ context.Context, ref, actor, reason string, at time.Time) error {
	p := s.records[ref]
	p.OverrideActor = &actor
	p.OverrideReason = &reason
	p.OverrideAt = &at
	return nil
}

func (s *fakeStore) ClearArtifact(_ context.Context, ref string) error {
	p := s.records[ref]
	p.State = models.ProofStatePending
	p.StoragePath = ""
	p.ByteSize = 0
	p.ContentType = ""
	p.ErrorDetail = ""
	return nil
}

// captureSink records audit entries for assertions.
type captureSink struct {
	entries []models.AuditEntry
}

func (c *captureSink) Record(_ context.Context, e models.AuditEntry) {
	c.entries = append(c.entries, e)
}

func newTestService(t *testing.T, store Store) (*Service, *storage.Local, *captureSink) {
	t.Helper()
	files, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	sink := &captureSink{}
	return NewService(store, files, sink, testMaxSize, nil), files, sink
}

func TestServiceUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("stores a valid upload", func(t *testing.T) {
		store := newFakeStore("PSA-100")
		svc, files, sink := newTestService(t, store)

		p, err := svc.Upload(ctx, "PSA-100", bytes.NewReader(webmClip()), UploadParams{
			Filename: "clip.webm", DeclaredSize: int64(len(webmClip())), Source: "1.2.3.4",
		})
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		if p.State != models.ProofStateUploaded {
			t.Errorf("state = %s, want uploaded", p.State)
		}
		if p.ContentType != "video/webm" {
			t.Errorf("content type = %s, want video/webm", p.ContentType)
		}
		if !files.Exists("PSA-100-proof.webm") {
			t.Error("stored file missing")
		}
		if len(sink.entries) != 1 || sink.entries[0].Outcome != models.AuditOutcomeSuccess {
			t.Errorf("audit entries = %+v, want one success", sink.entries)
		}
	})

	t.Run("unknown reference", func(t *testing.T) {
		store := newFakeStore()
		svc, _, _ := newTestService(t, store)
		if _, err := svc.Upload(ctx, "PSA-404", bytes.NewReader(webmClip()), UploadParams{}); !errors.Is(err, ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("second upload conflicts and leaves the original untouched", func(t *testing.T) {
		store := newFakeStore("PSA-100")
		svc, files, sink := newTestService(t, store)

		first := webmClip()
		if _, err := svc.Upload(ctx, "PSA-100", bytes.NewReader(first), UploadParams{Filename: "a.webm", DeclaredSize: int64(len(first))}); err != nil {
			t.Fatalf("first upload: %v", err)
		}
		_, err := svc.Upload(ctx, "PSA-100", bytes.NewReader(mp4Clip()), UploadParams{Filename: "b.mp4", DeclaredSize: int64(len(mp4Clip()))})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("got %v, want ErrConflict", err)
		}
		got, err := os.ReadFile(filepath.Join(files.Dir(), "PSA-100-proof.webm"))
		if err != nil || !bytes.Equal(got, first) {
			t.Errorf("original artifact modified after rejected overwrite")
		}
		last := sink.entries[len(sink.entries)-1]
		if last.Outcome != models.AuditOutcomeDenied || last.Reason != "conflict" {
			t.Errorf("conflict audit = %+v", last)
		}
	})

	t.Run("staff replacement removes the superseded file", func(t *testing.T) {
		store := newFakeStore("PSA-100")
		svc, files, _ := newTestService(t, store)

		if _, err := svc.Upload(ctx, "PSA-100", bytes.NewReader(webmClip()), UploadParams{Filename: "a.webm"}); err != nil {
			t.Fatalf("first upload: %v", err)
		}
		p, err := svc.Upload(ctx, "PSA-100", bytes.NewReader(mp4Clip()), UploadParams{
			Filename: "b.mp4", Staff: true, StaffActor: "ops@example.com",
		})
		if err != nil {
			t.Fatalf("staff replacement: %v", err)
		}
		if p.ContentType != "video/mp4" || p.StoragePath != "PSA-100-proof.mp4" {
			t.Errorf("replacement record = %s %s", p.ContentType, p.StoragePath)
		}
		if files.Exists("PSA-100-proof.webm") {
			t.Error("superseded file still on disk")
		}
		if !files.Exists("PSA-100-proof.mp4") {
			t.Error("replacement file missing")
		}
	})

	t.Run("archived record refuses even staff upload", func(t *testing.T) {
		store := newFakeStore("PSA-100")
		store.records["PSA-100"].State = models.ProofStateArchived
		svc, files, _ := newTestService(t, store)

		_, err := svc.Upload(ctx, "PSA-100", bytes.NewReader(webmClip()), UploadParams{
			Filename: "a.webm", Staff: true, StaffActor: "ops@example.com",
		})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("got %v, want ErrConflict", err)
		}
		if files.Exists("PSA-100-proof.webm") {
			t.Error("upload bytes reached storage for an archived record")
		}
		p, _ := store.Get(ctx, "PSA-100")
		if p.State != models.ProofStateArchived {
			t.Errorf("state = %s, want archived unchanged", p.State)
		}
	})

	t.Run("rejected content records an error state", func(t *testing.T) {
		store := newFakeStore("PSA-100")
		svc, files, sink := newTestService(t, store)

		_, err := svc.Upload(ctx, "PSA-100", bytes.NewReader([]byte("<!DOCTYPE html><html></html>")), UploadParams{Filename: "x.bin"})
		if !errors.Is(err, sniff.ErrUnsupported) {
			t.Fatalf("got %v, want ErrUnsupported", err)
		}
		p, _ := store.Get(ctx, "PSA-100")
		if p.State != models.ProofStateError || p.ErrorDetail == "" {
			t.Errorf("record = %s %q, want error state with detail", p.State, p.ErrorDetail)
		}
		if files.Exists("PSA-100-proof.webm") || files.Exists("PSA-100-proof.bin") {
			t.Error("rejected bytes reached storage")
		}
		if sink.entries[len(sink.entries)-1].Outcome != models.AuditOutcomeDenied {
			t.Error("rejection not audited as denied")
		}
	})

	t.Run("dangerous declared extension is rejected before reading bytes", func(t *testing.T) {
		store := newFakeStore("PSA-100")
		svc, _, _ := newTestService(t, store)
		_, err := svc.Upload(ctx, "PSA-100", bytes.NewReader(webmClip()), UploadParams{Filename: "proof.html"})
		if !errors.Is(err, sniff.ErrDangerousExt) {
			t.Errorf("got %v, want ErrDangerousExt", err)
		}
	})

	t.Run("database failure rolls the new file back", func(t *testing.T) {
		store := newFakeStore("PSA-100")
		svc, files, _ := newTestService(t, store)

		store.failNextSet = true
		_, err := svc.Upload(ctx, "PSA-100", bytes.NewReader(webmClip()), UploadParams{Filename: "a.webm"})
		if !errors.Is(err, ErrStorage) {
			t.Fatalf("got %v, want ErrStorage", err)
		}
		if files.Exists("PSA-100-proof.webm") {
			t.Error("orphaned file left after failed state write")
		}
		p, _ := store.Get(ctx, "PSA-100")
		if p.State != models.ProofStatePending {
			t.Errorf("state = %s, want pending after rollback", p.State)
		}
	})
}

func TestServiceOverride(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a substantive reason", func(t *testing.T) {
		store := newFakeStore("PSA-100")
		svc, _, _ := newTestService(t, store)
		if _, err := svc.Override(ctx, "PSA-100", "ops@example.com", "ok", time.Now()); !errors.Is(err, ErrReasonTooShort) {
			t.Errorf("got %v, want ErrReasonTooShort", err)
		}
	})

	t.Run("clears gating without changing state", func(t *testing.T) {
		store := newFakeStore("PSA-100")
		svc, _, sink := newTestService(t, store)

		p, err := svc.Override(ctx, "PSA-100", "ops@example.com", "customer filmed on their own phone", time.Now())
		if err != nil {
			t.Fatalf("override: %v", err)
		}
		if p.State != models.ProofStatePending {
			t.Errorf("state = %s, want pending unchanged", p.State)
		}
		cleared, by := p.Cleared()
		if !cleared || by != "override" {
			t.Errorf("Cleared() = %v %q, want true override", cleared, by)
		}
		last := sink.entries[len(sink.entries)-1]
		if last.Event != models.AuditEventOverride || last.Source != "ops@example.com" {
			t.Errorf("override audit = %+v", last)
		}
	})
}

func TestServiceDelete(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore("PSA-100")
	svc, files, _ := newTestService(t, store)

	if _, err := svc.Upload(ctx, "PSA-100", bytes.NewReader(webmClip()), UploadParams{Filename: "a.webm"}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := svc.Delete(ctx, "PSA-100", "ops@example.com"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if files.Exists("PSA-100-proof.webm") {
		t.Error("file survived delete")
	}
	p, _ := store.Get(ctx, "PSA-100")
	if p == nil || p.State != models.ProofStatePending {
		t.Errorf("record after delete = %+v, want pending row preserved", p)
	}
}

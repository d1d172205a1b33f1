package localfs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

func newTestStore(t *testing.T, compress bool) *Store {
	t.Helper()
	s, err := New(t.TempDir(), Options{Compress: compress})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func putArtifact(t *testing.T, s *Store, id, format string, body []byte, expires time.Time) *domain.Artifact {
	t.Helper()
	meta, err := s.Put(context.Background(), domain.Artifact{
		ID:        id,
		SessionID: "sess-1",
		Filename:  "file." + format,
		Format:    format,
		Role:      domain.RoleUploaded,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expires,
	}, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Put(%s) error = %v", id, err)
	}
	return meta
}

func TestPutGetRoundTripWithCompression(t *testing.T) {
	s := newTestStore(t, true)
	body := []byte(strings.Repeat("plain text that compresses well\n", 200))

	meta := putArtifact(t, s, "a1", "txt", body, time.Now().Add(time.Hour))
	if meta.Size != int64(len(body)) {
		t.Fatalf("expected logical size %d, got %d", len(body), meta.Size)
	}
	if meta.Encoding != encodingZstd {
		t.Fatalf("expected zstd encoding, got %q", meta.Encoding)
	}
	if meta.Checksum == "" {
		t.Fatalf("expected checksum")
	}

	info, err := os.Stat(filepath.Join(s.basePath, "a1"+payloadSuffix))
	if err != nil {
		t.Fatalf("stat payload: %v", err)
	}
	if info.Size() >= int64(len(body)) {
		t.Fatalf("expected compressed payload smaller than %d, got %d", len(body), info.Size())
	}

	rc, got, err := s.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if !bytes.Equal(data, body) {
		t.Fatalf("payload mismatch")
	}
	if got.Filename != "file.txt" {
		t.Fatalf("unexpected metadata %+v", got)
	}
}

func TestPutSkipsCompressionForCompressedFormats(t *testing.T) {
	s := newTestStore(t, true)
	meta := putArtifact(t, s, "img", "png", []byte("\x89PNG\r\n\x1a\nrest"), time.Now().Add(time.Hour))
	if meta.Encoding != "" {
		t.Fatalf("expected raw encoding for png, got %q", meta.Encoding)
	}
}

func TestPutRejectsOverwriteAndBadIDs(t *testing.T) {
	s := newTestStore(t, false)
	putArtifact(t, s, "dup", "txt", []byte("one"), time.Now().Add(time.Hour))

	_, err := s.Put(context.Background(), domain.Artifact{ID: "dup", Format: "txt"}, strings.NewReader("two"))
	if err == nil {
		t.Fatalf("expected overwrite to fail")
	}

	_, err = s.Put(context.Background(), domain.Artifact{ID: "../escape", Format: "txt"}, strings.NewReader("x"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for path-like id, got %v", err)
	}
}

func TestPutSizeMismatchLeavesNoArtifact(t *testing.T) {
	s := newTestStore(t, false)
	_, err := s.Put(context.Background(), domain.Artifact{ID: "short", Format: "txt", Size: 10}, strings.NewReader("abc"))
	if err == nil {
		t.Fatalf("expected size mismatch error")
	}
	if _, err := s.Stat(context.Background(), "short"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after failed put, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t, false)
	putArtifact(t, s, "gone", "txt", []byte("bye"), time.Now().Add(time.Hour))

	for i := 0; i < 2; i++ {
		if err := s.Delete(context.Background(), "gone"); err != nil {
			t.Fatalf("Delete() #%d error = %v", i+1, err)
		}
	}
	if _, _, err := s.Get(context.Background(), "gone"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListExpiredPaginates(t *testing.T) {
	s := newTestStore(t, false)
	now := time.Now().UTC()
	putArtifact(t, s, "e1", "txt", []byte("1"), now.Add(-time.Minute))
	putArtifact(t, s, "e2", "txt", []byte("2"), now.Add(-time.Minute))
	putArtifact(t, s, "live", "txt", []byte("3"), now.Add(time.Hour))
	putArtifact(t, s, "e3", "txt", []byte("4"), now)

	page, err := s.ListExpired(context.Background(), now, "", 2)
	if err != nil {
		t.Fatalf("ListExpired() error = %v", err)
	}
	if len(page.IDs) != 2 || page.IDs[0] != "e1" || page.IDs[1] != "e2" || page.Next != "e2" {
		t.Fatalf("unexpected first page %+v", page)
	}

	page, err = s.ListExpired(context.Background(), now, page.Next, 2)
	if err != nil {
		t.Fatalf("ListExpired() error = %v", err)
	}
	if len(page.IDs) != 1 || page.IDs[0] != "e3" || page.Next != "" {
		t.Fatalf("unexpected second page %+v", page)
	}
}

func TestListExpiredReportsStaleOrphanPayloads(t *testing.T) {
	s := newTestStore(t, false)
	orphan := filepath.Join(s.basePath, "orphan"+payloadSuffix)
	if err := os.WriteFile(orphan, []byte("half written"), 0o640); err != nil {
		t.Fatalf("write orphan: %v", err)
	}
	fresh := filepath.Join(s.basePath, "fresh"+payloadSuffix+tmpSuffix)
	if err := os.WriteFile(fresh, []byte("in flight"), 0o640); err != nil {
		t.Fatalf("write fresh: %v", err)
	}
	old := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(orphan, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	page, err := s.ListExpired(context.Background(), time.Now(), "", 10)
	if err != nil {
		t.Fatalf("ListExpired() error = %v", err)
	}
	if len(page.IDs) != 1 || page.IDs[0] != "orphan" {
		t.Fatalf("expected only the stale orphan, got %+v", page.IDs)
	}

	if err := s.Delete(context.Background(), "orphan"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("expected orphan payload removed, got %v", err)
	}
}

func TestSidecarRecordsUploadedRole(t *testing.T) {
	s := newTestStore(t, false)
	putArtifact(t, s, "role-1", "pdf", []byte("%PDF-1.4"), time.Now().Add(time.Hour))

	raw, err := os.ReadFile(s.metaPath("role-1"))
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if !strings.Contains(string(raw), `"role":"uploaded"`) {
		t.Fatalf("sidecar should record the uploaded role, got %s", raw)
	}
}

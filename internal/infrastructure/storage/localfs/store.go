package localfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

const (
	payloadSuffix = ".bin"
	metaSuffix    = ".meta.json"
	tmpSuffix     = ".tmp"

	// orphanGrace keeps a payload without a sidecar out of ListExpired long
	// enough for an in-flight Put to commit it.
	orphanGrace = time.Hour
)

type Options struct {
	Compress      bool
	MetaCacheSize int
	MetaCacheTTL  time.Duration
	Logger        *slog.Logger
}

// Store keeps each artifact as a payload file plus a JSON metadata sidecar.
// The sidecar is written last; its presence is what makes an artifact exist.
type Store struct {
	basePath string
	compress bool
	cache    *expirable.LRU[string, domain.Artifact]
	logger   *slog.Logger
}

func New(basePath string, opts Options) (*Store, error) {
	if basePath == "" {
		basePath = "./data/artifacts"
	}
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	size := opts.MetaCacheSize
	if size <= 0 {
		size = 1024
	}
	ttl := opts.MetaCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		basePath: basePath,
		compress: opts.Compress,
		cache:    expirable.NewLRU[string, domain.Artifact](size, nil, ttl),
		logger:   logger.With("component", "artifact_store"),
	}, nil
}

func (s *Store) payloadPath(id string) string { return filepath.Join(s.basePath, id+payloadSuffix) }
func (s *Store) metaPath(id string) string    { return filepath.Join(s.basePath, id+metaSuffix) }

func validID(id string) error {
	if id == "" || !domain.ValidID(id) {
		return domain.WrapError(domain.ErrInvalidInput, "artifact store", fmt.Errorf("invalid artifact id %q", id))
	}
	return nil
}

// Put writes body under meta.ID and returns the committed metadata with
// size and checksum filled in. Existing artifacts are never overwritten.
func (s *Store) Put(ctx context.Context, meta domain.Artifact, body io.Reader) (*domain.Artifact, error) {
	if err := validID(meta.ID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.metaPath(meta.ID)); err == nil {
		return nil, fmt.Errorf("artifact %s already exists", meta.ID)
	}

	encoding := ""
	if shouldCompress(s.compress, meta.Format) {
		encoding = encodingZstd
	}

	hasher := sha256.New()
	counter := &countingReader{r: io.TeeReader(body, hasher)}
	err := atomicWrite(s.payloadPath(meta.ID), func(w io.Writer) error {
		return encodeTo(w, counter, encoding)
	})
	if err != nil {
		return nil, fmt.Errorf("write payload: %w", err)
	}

	if meta.Size > 0 && meta.Size != counter.n {
		_ = os.Remove(s.payloadPath(meta.ID))
		return nil, fmt.Errorf("payload size mismatch: declared %d, written %d", meta.Size, counter.n)
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(s.payloadPath(meta.ID))
		return nil, err
	}

	meta.Size = counter.n
	meta.Checksum = hex.EncodeToString(hasher.Sum(nil))
	meta.Encoding = encoding

	data, err := json.Marshal(meta)
	if err != nil {
		_ = os.Remove(s.payloadPath(meta.ID))
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	err = atomicWrite(s.metaPath(meta.ID), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		_ = os.Remove(s.payloadPath(meta.ID))
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	s.cache.Add(meta.ID, meta)
	s.logger.Debug("artifact_stored", "artifact_id", meta.ID, "size", meta.Size, "encoding", encoding)
	return &meta, nil
}

func (s *Store) Stat(_ context.Context, id string) (*domain.Artifact, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	if meta, ok := s.cache.Get(id); ok {
		return &meta, nil
	}

	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrNotFound, "stat artifact", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta domain.Artifact
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", id, err)
	}
	s.cache.Add(id, meta)
	return &meta, nil
}

// Get opens the artifact payload. The caller must close the reader.
func (s *Store) Get(ctx context.Context, id string) (io.ReadCloser, *domain.Artifact, error) {
	meta, err := s.Stat(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(s.payloadPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.cache.Remove(id)
			return nil, nil, domain.WrapError(domain.ErrNotFound, "open artifact", fmt.Errorf("id=%s", id))
		}
		return nil, nil, fmt.Errorf("open payload: %w", err)
	}
	rc, err := decodeFrom(f, meta.Encoding)
	if err != nil {
		return nil, nil, err
	}
	return rc, meta, nil
}

// Delete removes the sidecar first, which hides the artifact immediately,
// then the payload. Deleting a missing artifact is not an error.
func (s *Store) Delete(_ context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	s.cache.Remove(id)
	for _, path := range []string{
		s.metaPath(id),
		s.payloadPath(id),
		s.metaPath(id) + tmpSuffix,
		s.payloadPath(id) + tmpSuffix,
	} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// ListExpired returns up to limit artifact ids, ordered by id and strictly
// greater than cursor, whose expiry is at or before the given instant.
// Payloads left without a sidecar are reported once they are older than
// orphanGrace.
func (s *Store) ListExpired(ctx context.Context, before time.Time, cursor string, limit int) (domain.ExpiredPage, error) {
	if limit <= 0 {
		limit = 100
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return domain.ExpiredPage{}, fmt.Errorf("read storage dir: %w", err)
	}

	type entryState struct {
		meta     bool
		orphanAt time.Time
	}
	states := make(map[string]*entryState)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, kind := splitName(e.Name())
		if id == "" || id <= cursor {
			continue
		}
		st, ok := states[id]
		if !ok {
			st = &entryState{}
			states[id] = st
		}
		if kind == metaSuffix {
			st.meta = true
			continue
		}
		if info, err := e.Info(); err == nil && (st.orphanAt.IsZero() || info.ModTime().Before(st.orphanAt)) {
			st.orphanAt = info.ModTime()
		}
	}

	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var page domain.ExpiredPage
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return page, err
		}
		st := states[id]
		expired := false
		if st.meta {
			meta, err := s.Stat(ctx, id)
			switch {
			case err == nil:
				expired = meta.Expired(before)
			case domain.IsKind(err, domain.ErrNotFound):
				continue
			default:
				s.logger.Warn("artifact_metadata_unreadable", "artifact_id", id, "error", err)
				continue
			}
		} else {
			expired = !st.orphanAt.IsZero() && st.orphanAt.Before(before.Add(-orphanGrace))
		}
		if !expired {
			continue
		}
		page.IDs = append(page.IDs, id)
		if len(page.IDs) == limit {
			page.Next = id
			break
		}
	}
	return page, nil
}

// splitName maps a directory entry to its artifact id and the suffix kind
// (metaSuffix or payloadSuffix); temp files count as payload.
func splitName(name string) (string, string) {
	if trimmed, ok := strings.CutSuffix(name, tmpSuffix); ok {
		id, _ := splitName(trimmed)
		return id, payloadSuffix
	}
	switch {
	case strings.HasSuffix(name, metaSuffix):
		return strings.TrimSuffix(name, metaSuffix), metaSuffix
	case strings.HasSuffix(name, payloadSuffix):
		return strings.TrimSuffix(name, payloadSuffix), payloadSuffix
	default:
		return "", ""
	}
}

// atomicWrite writes through a temp file: write, fsync, rename.
func atomicWrite(path string, write func(io.Writer) error) error {
	tmpPath := path + tmpSuffix
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

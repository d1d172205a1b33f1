package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/file-converter/internal/core/domain"
	"github.com/kirillkom/file-converter/internal/core/ports"
	"github.com/kirillkom/file-converter/internal/core/registry"
)

// FormatRegistry is the part of the format registry the orchestrator needs.
type FormatRegistry interface {
	Lookup(id string) (domain.Format, bool)
	IsSupportedInput(id string) bool
	FormatForFilename(name string) (domain.Format, error)
	ResolveBackend(from, to string) (domain.BackendID, error)
	ValidateOptions(from, to domain.Format, opts domain.ConversionOptions) error
	Formats() []domain.Format
	Matrix() map[string][]string
	OptionsFor(from, to string) ([]domain.OptionSpec, error)
}

type ConversionConfig struct {
	MaxUploadBytes  int64
	MaxOutputBytes  int64
	BackendTimeouts map[domain.BackendID]time.Duration
	// WorkDir is the parent of per-conversion scratch directories.
	WorkDir string
}

const defaultBackendTimeout = 5 * time.Minute

type ConversionUseCase struct {
	registry FormatRegistry
	store    ports.ArtifactStore
	ledger   ports.SessionLedger
	backends map[domain.BackendID]ports.Converter
	recorder ports.ConversionRecorder
	cfg      ConversionConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewConversionUseCase(
	reg FormatRegistry,
	store ports.ArtifactStore,
	ledger ports.SessionLedger,
	backends []ports.Converter,
	recorder ports.ConversionRecorder,
	cfg ConversionConfig,
	logger *slog.Logger,
) *ConversionUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	byID := make(map[domain.BackendID]ports.Converter, len(backends))
	for _, b := range backends {
		byID[b.Declaration().ID] = b
	}
	return &ConversionUseCase{
		registry: reg,
		store:    store,
		ledger:   ledger,
		backends: byID,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (uc *ConversionUseCase) Upload(ctx context.Context, req domain.UploadRequest) (*domain.Artifact, error) {
	filename := sanitizeFilename(req.Filename)
	format, err := uc.registry.FormatForFilename(filename)
	if err != nil {
		return nil, err
	}

	data, err := readBounded(req.Body, uc.cfg.MaxUploadBytes)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, domain.NewFailure(domain.ErrInvalidInput, "file is empty")
	}
	if !registry.MatchesContent(format, data) {
		return nil, domain.NewFailure(domain.ErrInputCorrupt, "file content does not match the .%s extension", format.ID)
	}

	session, err := uc.openSession(ctx, req.Caller)
	if err != nil {
		return nil, err
	}

	meta := domain.Artifact{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Filename:  filename,
		Format:    format.ID,
		MIME:      format.MIME,
		Size:      int64(len(data)),
		Role:      domain.RoleUploaded,
		CreatedAt: uc.now(),
		ExpiresAt: session.ExpiresAt,
	}
	stored, err := uc.commit(ctx, meta, data)
	if err != nil {
		return nil, err
	}
	uc.logger.Info("artifact_uploaded",
		"artifact_id", stored.ID,
		"session_id", stored.SessionID,
		"format", stored.Format,
		"size", stored.Size,
	)
	return stored, nil
}

func (uc *ConversionUseCase) Convert(ctx context.Context, req domain.ConvertRequest) (*domain.ConversionResult, error) {
	started := uc.now()
	log := uc.logger.With("artifact_id", req.ArtifactID, "session_id", req.Caller.SessionID, "output_format", req.OutputFormat)
	log.Debug("conversion_state", "state", domain.StateReceived)

	src, session, err := uc.authorize(ctx, "convert", req.ArtifactID, req.Caller)
	if err != nil {
		return nil, uc.failed(log, "", started, err)
	}

	to := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(req.OutputFormat)), ".")
	backendID, err := uc.registry.ResolveBackend(src.Format, to)
	if err != nil {
		return nil, uc.failed(log, "", started, err)
	}
	from, _ := uc.registry.Lookup(src.Format)
	target, _ := uc.registry.Lookup(to)
	if err := uc.registry.ValidateOptions(from, target, req.Options); err != nil {
		return nil, uc.failed(log, backendID, started, err)
	}
	log.Debug("conversion_state", "state", domain.StateValidated, "backend", backendID)

	backend, ok := uc.backends[backendID]
	if !ok {
		return nil, uc.failed(log, backendID, started, domain.NewFailure(domain.ErrBackendUnavailable, "conversion backend is not available"))
	}

	data, err := uc.readArtifact(ctx, src.ID)
	if err != nil {
		return nil, uc.failed(log, backendID, started, err)
	}

	out, err := uc.dispatch(ctx, backend, domain.ConversionInput{
		Data:    data,
		From:    from,
		To:      target,
		Options: req.Options,
	})
	if err != nil {
		return nil, uc.failed(log, backendID, started, uc.backendFailure(ctx, log, from, target, err))
	}
	if len(out) == 0 {
		return nil, uc.failed(log, backendID, started, domain.NewFailure(domain.ErrInputCorrupt, "conversion produced no output"))
	}
	if uc.cfg.MaxOutputBytes > 0 && int64(len(out)) > uc.cfg.MaxOutputBytes {
		return nil, uc.failed(log, backendID, started, domain.NewFailure(domain.ErrResourceExhausted, "converted file exceeds the size limit"))
	}

	var opts *domain.ConversionOptions
	if !req.Options.IsZero() {
		o := req.Options
		opts = &o
	}
	meta := domain.Artifact{
		ID:               uuid.NewString(),
		SessionID:        src.SessionID,
		Filename:         outputFilename(src.Filename, target.ID),
		Format:           target.ID,
		MIME:             target.MIME,
		Size:             int64(len(out)),
		Role:             domain.RoleConverted,
		SourceArtifactID: src.ID,
		Options:          opts,
		CreatedAt:        uc.now(),
		ExpiresAt:        session.ExpiresAt,
	}
	stored, err := uc.commit(ctx, meta, out)
	if err != nil {
		return nil, uc.failed(log, backendID, started, err)
	}

	elapsed := uc.now().Sub(started)
	uc.observe(backendID, "succeeded", elapsed)
	log.Info("conversion_state",
		"state", domain.StateSucceeded,
		"backend", backendID,
		"result_artifact_id", stored.ID,
		"size", stored.Size,
		"duration_ms", elapsed.Milliseconds(),
	)
	return &domain.ConversionResult{Artifact: stored, Backend: backendID, Duration: elapsed}, nil
}

func (uc *ConversionUseCase) Download(ctx context.Context, artifactID string, caller domain.Caller) (io.ReadCloser, *domain.Artifact, error) {
	if _, _, err := uc.authorize(ctx, "download", artifactID, caller); err != nil {
		return nil, nil, err
	}
	rc, meta, err := uc.store.Get(ctx, artifactID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, nil, notFound()
		}
		return nil, nil, domain.WrapError(domain.ErrInternal, "open artifact", err)
	}
	return rc, meta, nil
}

func (uc *ConversionUseCase) Delete(ctx context.Context, artifactID string, caller domain.Caller) error {
	meta, _, err := uc.authorize(ctx, "delete", artifactID, caller)
	if err != nil {
		return err
	}
	if err := uc.store.Delete(ctx, meta.ID); err != nil {
		return domain.WrapError(domain.ErrInternal, "delete artifact", err)
	}
	if err := uc.ledger.Detach(ctx, meta.SessionID, meta.ID); err != nil {
		return domain.WrapError(domain.ErrInternal, "detach artifact", err)
	}
	uc.logger.Info("artifact_deleted", "artifact_id", meta.ID, "session_id", meta.SessionID)
	return nil
}

func (uc *ConversionUseCase) Formats() []domain.Format {
	return uc.registry.Formats()
}

func (uc *ConversionUseCase) Matrix() map[string][]string {
	return uc.registry.Matrix()
}

func (uc *ConversionUseCase) OptionsFor(from, to string) ([]domain.OptionSpec, error) {
	return uc.registry.OptionsFor(from, to)
}

// openSession resolves the caller's session, creating one when the caller
// presents none.
func (uc *ConversionUseCase) openSession(ctx context.Context, caller domain.Caller) (*domain.Session, error) {
	sessionID := caller.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if !domain.ValidID(sessionID) {
		return nil, domain.NewFailure(domain.ErrInvalidInput, "invalid session id")
	}
	session, err := uc.ledger.Touch(ctx, sessionID, caller.Identity)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, domain.NewFailure(domain.ErrNotFound, "session has expired, start a new session")
		}
		return nil, domain.WrapError(domain.ErrInternal, "touch session", err)
	}
	if !session.OwnedBy(caller.Identity) {
		return nil, domain.NewFailure(domain.ErrForbidden, "session belongs to another user")
	}
	return session, nil
}

// authorize loads an artifact the caller may act on. Expiry is judged by the
// recorded instant, not by whether bytes still exist.
func (uc *ConversionUseCase) authorize(ctx context.Context, op, artifactID string, caller domain.Caller) (*domain.Artifact, *domain.Session, error) {
	if !domain.ValidID(artifactID) {
		return nil, nil, notFound()
	}
	meta, err := uc.store.Stat(ctx, artifactID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, nil, notFound()
		}
		return nil, nil, domain.WrapError(domain.ErrInternal, op+" stat artifact", err)
	}
	owner, err := uc.ledger.OwnerOf(ctx, artifactID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, nil, notFound()
		}
		return nil, nil, domain.WrapError(domain.ErrInternal, op+" artifact owner", err)
	}
	if owner != caller.SessionID {
		return nil, nil, domain.NewFailure(domain.ErrForbidden, "artifact belongs to another session")
	}
	session, err := uc.ledger.Get(ctx, owner)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, nil, notFound()
		}
		return nil, nil, domain.WrapError(domain.ErrInternal, op+" load session", err)
	}
	if !session.OwnedBy(caller.Identity) {
		return nil, nil, domain.NewFailure(domain.ErrForbidden, "artifact belongs to another session")
	}
	now := uc.now()
	if meta.Expired(now) || session.Expired(now) {
		return nil, nil, notFound()
	}
	return meta, session, nil
}

// commit reserves quota, then writes bytes; the reservation is released if
// the write fails.
func (uc *ConversionUseCase) commit(ctx context.Context, meta domain.Artifact, data []byte) (*domain.Artifact, error) {
	err := uc.ledger.Attach(ctx, meta.SessionID, domain.ArtifactRef{ID: meta.ID, Size: meta.Size})
	if err != nil {
		switch {
		case domain.IsKind(err, domain.ErrQuotaExceeded):
			return nil, err
		case domain.IsKind(err, domain.ErrNotFound):
			return nil, domain.NewFailure(domain.ErrNotFound, "session has expired, start a new session")
		default:
			return nil, domain.WrapError(domain.ErrInternal, "attach artifact", err)
		}
	}
	stored, err := uc.store.Put(ctx, meta, bytes.NewReader(data))
	if err != nil {
		if detachErr := uc.ledger.Detach(context.WithoutCancel(ctx), meta.SessionID, meta.ID); detachErr != nil {
			uc.logger.Error("artifact_rollback_failed", "artifact_id", meta.ID, "error", detachErr)
		}
		return nil, domain.WrapError(domain.ErrInternal, "store artifact", err)
	}
	return stored, nil
}

func (uc *ConversionUseCase) readArtifact(ctx context.Context, id string) ([]byte, error) {
	rc, _, err := uc.store.Get(ctx, id)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, notFound()
		}
		return nil, domain.WrapError(domain.ErrInternal, "open source artifact", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInternal, "read source artifact", err)
	}
	return data, nil
}

// dispatch runs one backend call inside a private scratch directory and
// under the backend's time limit.
func (uc *ConversionUseCase) dispatch(ctx context.Context, backend ports.Converter, in domain.ConversionInput) ([]byte, error) {
	id := backend.Declaration().ID
	workDir, err := os.MkdirTemp(uc.cfg.WorkDir, "conv-*")
	if err != nil {
		return nil, domain.WrapError(domain.ErrInternal, "create work dir", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			uc.logger.Warn("work_dir_cleanup_failed", "error", err)
		}
	}()
	in.WorkDir = workDir

	timeout := uc.cfg.BackendTimeouts[id]
	if timeout <= 0 {
		timeout = defaultBackendTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	uc.logger.Debug("conversion_state", "state", domain.StateDispatched, "backend", id, "from", in.From.ID, "to", in.To.ID)
	return backend.Convert(callCtx, in)
}

// backendFailure maps a backend error onto a short client-safe failure.
func (uc *ConversionUseCase) backendFailure(ctx context.Context, log *slog.Logger, from, to domain.Format, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) || (errors.Is(err, context.Canceled) && !domain.IsKind(err, domain.ErrBackendTimeout)) {
		return domain.NewFailure(domain.ErrBackendTimeout, "conversion was cancelled")
	}
	switch domain.KindOf(err) {
	case domain.ErrInputCorrupt:
		return domain.NewFailure(domain.ErrInputCorrupt, "the %s file could not be read", from.ID)
	case domain.ErrBackendTimeout:
		return domain.NewFailure(domain.ErrBackendTimeout, "conversion timed out")
	case domain.ErrBackendUnavailable:
		return domain.NewFailure(domain.ErrBackendUnavailable, "conversion backend is unavailable, try again later")
	case domain.ErrResourceExhausted:
		return domain.NewFailure(domain.ErrResourceExhausted, "conversion exceeded resource limits")
	case domain.ErrInvalidInput:
		return domain.NewFailure(domain.ErrInvalidInput, "the requested sheet or page range does not exist")
	case domain.ErrUnsupportedOperation, domain.ErrUnsupportedConversion:
		log.Warn("backend_capability_drift", "from", from.ID, "to", to.ID, "error", err)
		return domain.NewFailure(domain.ErrUnsupportedConversion, "conversion from %s to %s is not supported", from.ID, to.ID)
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.NewFailure(domain.ErrBackendTimeout, "conversion timed out")
		}
		return domain.NewFailure(domain.ErrInternal, "conversion failed")
	}
}

func (uc *ConversionUseCase) failed(log *slog.Logger, backend domain.BackendID, started time.Time, err error) error {
	elapsed := uc.now().Sub(started)
	if backend != "" {
		uc.observe(backend, strings.ToLower(domain.Code(err)), elapsed)
	}
	log.Info("conversion_state",
		"state", domain.StateFailed,
		"backend", backend,
		"code", domain.Code(err),
		"error", err,
		"duration_ms", elapsed.Milliseconds(),
	)
	return err
}

func (uc *ConversionUseCase) observe(backend domain.BackendID, outcome string, d time.Duration) {
	if uc.recorder != nil {
		uc.recorder.ObserveConversion(backend, outcome, d)
	}
}

func notFound() error {
	return domain.NewFailure(domain.ErrNotFound, "artifact not found")
}

// readBounded reads at most limit bytes; a longer body is rejected.
func readBounded(r io.Reader, limit int64) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	if limit <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "read upload", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read upload", err)
	}
	if int64(len(data)) > limit {
		return nil, domain.NewFailure(domain.ErrTooLarge, "file exceeds the %d byte upload limit", limit)
	}
	return data, nil
}

const maxFilenameLength = 255

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	base = strings.TrimLeft(base, ".")
	if len(base) > maxFilenameLength {
		ext := filepath.Ext(base)
		if len(ext) >= maxFilenameLength {
			ext = ""
		}
		base = base[:maxFilenameLength-len(ext)] + ext
	}
	if base == "" {
		return "document.bin"
	}
	return base
}

func outputFilename(source, format string) string {
	stem := strings.TrimSuffix(source, filepath.Ext(source))
	if stem == "" {
		stem = "converted"
	}
	return fmt.Sprintf("%s.%s", stem, format)
}

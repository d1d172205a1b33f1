package httpadapter

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/file-converter/internal/config"
	"github.com/kirillkom/file-converter/internal/core/domain"
)

type conversionsFake struct {
	uploadErr   error
	convertErr  error
	downloadErr error
	deleteErr   error

	lastUpload  domain.UploadRequest
	uploadBody  []byte
	lastConvert domain.ConvertRequest
	lastCaller  domain.Caller
}

func (f *conversionsFake) Upload(_ context.Context, req domain.UploadRequest) (*domain.Artifact, error) {
	f.lastUpload = req
	if req.Body != nil {
		f.uploadBody, _ = io.ReadAll(req.Body)
	}
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	sessionID := req.Caller.SessionID
	if sessionID == "" {
		sessionID = "new-session"
	}
	return &domain.Artifact{
		ID:        "art-1",
		SessionID: sessionID,
		Filename:  req.Filename,
		Format:    "docx",
		Size:      int64(len(f.uploadBody)),
		Role:      domain.RoleUploaded,
	}, nil
}

func (f *conversionsFake) Convert(_ context.Context, req domain.ConvertRequest) (*domain.ConversionResult, error) {
	f.lastConvert = req
	if f.convertErr != nil {
		return nil, f.convertErr
	}
	return &domain.ConversionResult{
		Artifact: &domain.Artifact{ID: "art-2", SessionID: req.Caller.SessionID, Filename: "report.pdf", Format: req.OutputFormat, Role: domain.RoleConverted, SourceArtifactID: req.ArtifactID},
		Backend:  domain.BackendOffice,
		Duration: 1500 * time.Millisecond,
	}, nil
}

func (f *conversionsFake) Download(_ context.Context, artifactID string, caller domain.Caller) (io.ReadCloser, *domain.Artifact, error) {
	f.lastCaller = caller
	if f.downloadErr != nil {
		return nil, nil, f.downloadErr
	}
	payload := []byte("%PDF-1.7 fake")
	return io.NopCloser(bytes.NewReader(payload)), &domain.Artifact{
		ID:       artifactID,
		Filename: "quarterly report.pdf",
		MIME:     "application/pdf",
		Size:     int64(len(payload)),
		Checksum: "abc123",
	}, nil
}

func (f *conversionsFake) Delete(_ context.Context, _ string, caller domain.Caller) error {
	f.lastCaller = caller
	return f.deleteErr
}

type sessionsFake struct {
	err error
}

func (f sessionsFake) Session(_ context.Context, caller domain.Caller) (*domain.Session, []domain.Artifact, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return &domain.Session{ID: caller.SessionID, FileCount: 1}, []domain.Artifact{{ID: "art-1"}}, nil
}

func (f sessionsFake) ResetSession(context.Context, domain.Caller) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

func (f sessionsFake) CloseSession(context.Context, domain.Caller) error { return f.err }

type capabilitiesFake struct{}

func (capabilitiesFake) Formats() []domain.Format {
	return []domain.Format{{ID: "docx", Category: domain.CategoryDocument}, {ID: "pdf", Category: domain.CategoryDocument}}
}

func (capabilitiesFake) Matrix() map[string][]string {
	return map[string][]string{"docx": {"pdf"}}
}

func (capabilitiesFake) OptionsFor(from, to string) ([]domain.OptionSpec, error) {
	if from == "pdf" && to == "svg" {
		return nil, domain.NewFailure(domain.ErrUnsupportedConversion, "conversion from pdf to svg is not supported")
	}
	return []domain.OptionSpec{{Name: "page_range", Type: "range"}}, nil
}

type jobsFake struct {
	err error
}

func (f jobsFake) Submit(_ context.Context, req domain.ConvertRequest) (*domain.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Job{ID: "job-1", SessionID: req.Caller.SessionID, ArtifactID: req.ArtifactID, OutputFormat: req.OutputFormat, Status: domain.JobPending}, nil
}

func (f jobsFake) Get(_ context.Context, jobID string, _ domain.Caller) (*domain.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Job{ID: jobID, Status: domain.JobSucceeded, ResultArtifactID: "art-9"}, nil
}

func (f jobsFake) Cancel(_ context.Context, jobID string, _ domain.Caller) (*domain.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Job{ID: jobID, Status: domain.JobCancelled}, nil
}

type pingFake struct{ err error }

func (p pingFake) Ping(context.Context) error { return p.err }

func testConfig() config.Config {
	return config.Config{
		MaxUploadBytes:   1 << 20,
		HideForeignFiles: true,
	}
}

func newTestHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.Conversions == nil {
		deps.Conversions = &conversionsFake{}
	}
	if deps.Sessions == nil {
		deps.Sessions = sessionsFake{}
	}
	if deps.Capabilities == nil {
		deps.Capabilities = capabilitiesFake{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return NewRouter(cfg, deps).Handler()
}

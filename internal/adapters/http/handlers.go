package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

// multipartOverhead is the slack allowed on top of the upload limit for
// multipart framing and small form fields.
const multipartOverhead = 1 << 20

type artifactResponse struct {
	*domain.Artifact
	DownloadURL string `json:"download_url"`
}

type convertRequest struct {
	OutputFormat string                   `json:"output_format"`
	Options      domain.ConversionOptions `json:"options"`
}

type convertResponse struct {
	Artifact   artifactResponse `json:"artifact"`
	Backend    domain.BackendID `json:"backend"`
	DurationMS int64            `json:"duration_ms"`
}

type submitJobRequest struct {
	ArtifactID   string                   `json:"artifact_id"`
	OutputFormat string                   `json:"output_format"`
	Options      domain.ConversionOptions `json:"options"`
}

func callerFrom(r *http.Request) domain.Caller {
	return domain.Caller{
		SessionID: strings.TrimSpace(r.Header.Get(sessionHeader)),
		Identity:  identityFromContext(r.Context()),
	}
}

func withDownloadURL(a *domain.Artifact) artifactResponse {
	return artifactResponse{Artifact: a, DownloadURL: "/v1/artifacts/" + a.ID}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return domain.NewFailure(domain.ErrInvalidInput, "invalid JSON body")
	}
	return nil
}

func (rt *Router) fail(w http.ResponseWriter, r *http.Request, err error) {
	if mapErrorToHTTPStatus(err) == http.StatusInternalServerError {
		rt.logger.Error("request_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeError(w, err, rt.cfg.HideForeignFiles)
}

func (rt *Router) listFormats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"formats": rt.capabilities.Formats(),
		"matrix":  rt.capabilities.Matrix(),
	})
}

func (rt *Router) conversionOptions(w http.ResponseWriter, r *http.Request) {
	from, to := chi.URLParam(r, "from"), chi.URLParam(r, "to")
	specs, err := rt.capabilities.OptionsFor(from, to)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "options": specs})
}

func (rt *Router) uploadArtifact(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes+multipartOverhead)
	}
	reader, err := r.MultipartReader()
	if err != nil {
		rt.fail(w, r, domain.NewFailure(domain.ErrInvalidInput, "multipart form with a 'file' field is required"))
		return
	}

	caller := callerFrom(r)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			rt.fail(w, r, domain.NewFailure(domain.ErrInvalidInput, "multipart field 'file' is required"))
			return
		}
		if err != nil {
			rt.fail(w, r, domain.WrapError(domain.ErrInvalidInput, "read multipart", err))
			return
		}

		switch part.FormName() {
		case "session_id":
			if caller.SessionID == "" {
				raw, _ := io.ReadAll(io.LimitReader(part, 256))
				caller.SessionID = strings.TrimSpace(string(raw))
			}
		case "file":
			artifact, err := rt.conversions.Upload(r.Context(), domain.UploadRequest{
				Caller:   caller,
				Filename: part.FileName(),
				Body:     part,
			})
			if err != nil {
				rt.fail(w, r, err)
				return
			}
			if rt.metrics != nil {
				rt.metrics.RecordUpload(artifact.Size)
			}
			w.Header().Set(sessionHeader, artifact.SessionID)
			w.Header().Set("Location", "/v1/artifacts/"+artifact.ID)
			writeJSON(w, http.StatusCreated, withDownloadURL(artifact))
			return
		}
	}
}

func (rt *Router) downloadArtifact(w http.ResponseWriter, r *http.Request) {
	body, artifact, err := rt.conversions.Download(r.Context(), chi.URLParam(r, "artifactID"), callerFrom(r))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	defer body.Close()

	contentType := artifact.MIME
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(artifact.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if artifact.Checksum != "" {
		w.Header().Set("ETag", strconv.Quote(artifact.Checksum))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		rt.logger.Warn("download_interrupted", "artifact_id", artifact.ID, "error", err)
	}
}

func (rt *Router) deleteArtifact(w http.ResponseWriter, r *http.Request) {
	if err := rt.conversions.Delete(r.Context(), chi.URLParam(r, "artifactID"), callerFrom(r)); err != nil {
		rt.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) convertArtifact(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rt.fail(w, r, err)
		return
	}
	result, err := rt.conversions.Convert(r.Context(), domain.ConvertRequest{
		Caller:       callerFrom(r),
		ArtifactID:   chi.URLParam(r, "artifactID"),
		OutputFormat: req.OutputFormat,
		Options:      req.Options,
	})
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/artifacts/"+result.Artifact.ID)
	writeJSON(w, http.StatusCreated, convertResponse{
		Artifact:   withDownloadURL(result.Artifact),
		Backend:    result.Backend,
		DurationMS: result.Duration.Milliseconds(),
	})
}

func (rt *Router) getSession(w http.ResponseWriter, r *http.Request) {
	session, artifacts, err := rt.sessions.Session(r.Context(), callerFrom(r))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session, "artifacts": artifacts})
}

func (rt *Router) resetSession(w http.ResponseWriter, r *http.Request) {
	deleted, err := rt.sessions.ResetSession(r.Context(), callerFrom(r))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (rt *Router) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := rt.sessions.CloseSession(r.Context(), callerFrom(r)); err != nil {
		rt.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rt.fail(w, r, err)
		return
	}
	job, err := rt.jobs.Submit(r.Context(), domain.ConvertRequest{
		Caller:       callerFrom(r),
		ArtifactID:   req.ArtifactID,
		OutputFormat: req.OutputFormat,
		Options:      req.Options,
	})
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := rt.jobs.Get(r.Context(), chi.URLParam(r, "jobID"), callerFrom(r))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := rt.jobs.Cancel(r.Context(), chi.URLParam(r, "jobID"), callerFrom(r))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/fisler/internal/core"
	"github.com/JonMunkholm/fisler/internal/logging"
	"github.com/JonMunkholm/fisler/internal/workflow"
)

// sniffLen is how much of a file is read to detect its content type.
const sniffLen = 512

// multipartOverhead allows for form boundaries and the extra fields on top
// of the file bytes.
const multipartOverhead = 1 << 20

type fileInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Type       string `json:"type"`
	UploadedAt string `json:"uploadedAt"`
}

type uploadResponse struct {
	Success          bool            `json:"success"`
	Message          string          `json:"message"`
	File             fileInfo        `json:"file"`
	BatchID          string          `json:"batchId,omitempty"`
	WorkflowResponse json.RawMessage `json:"workflowResponse,omitempty"`
}

type batchResult struct {
	File             fileInfo        `json:"file"`
	Success          bool            `json:"success"`
	Error            string          `json:"error,omitempty"`
	Details          string          `json:"details,omitempty"`
	Code             string          `json:"code,omitempty"`
	Severity         string          `json:"severity,omitempty"`
	WorkflowResponse json.RawMessage `json:"workflowResponse,omitempty"`
}

type batchResponse struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	BatchID   string        `json:"batchId,omitempty"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Results   []batchResult `json:"results"`
}

// acceptedFile is an upload that passed validation.
type acceptedFile struct {
	header *multipart.FileHeader
	meta   core.FileMeta
	at     time.Time
}

func (a acceptedFile) info() fileInfo {
	return fileInfo{
		Name:       a.meta.Name,
		Size:       a.meta.Size,
		Type:       a.meta.ContentType,
		UploadedAt: a.at.UTC().Format(workflow.TimestampLayout),
	}
}

// handleUpload accepts one receipt file in the "file" field. With no
// workflow configured the file is only acknowledged; otherwise it is
// forwarded and the workflow's reply relayed.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUploadForm(w, r, 1); err != nil {
		s.respondError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		s.respondError(w, r, &core.ValidationError{Field: "file", Message: "no file provided"})
		return
	}

	acc, err := s.accept(headers[0])
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if !s.workflow.Enabled() {
		logging.FromContext(r.Context()).Info("upload acknowledged without workflow",
			"file", acc.meta.Name,
			"size", acc.meta.Size,
			"type", acc.meta.ContentType,
		)
		writeJSON(w, r, http.StatusOK, uploadResponse{
			Success: true,
			Message: "File uploaded successfully",
			File:    acc.info(),
		})
		return
	}

	batch := s.beginBatch(r.Context(), 1)

	reply, err := s.forward(r.Context(), acc)
	if err != nil {
		s.poller.UploadFailed(batch)
		s.respondError(w, r, err)
		return
	}
	s.poller.UploadSucceeded(batch)

	writeJSON(w, r, http.StatusOK, uploadResponse{
		Success:          true,
		Message:          "File uploaded successfully",
		File:             acc.info(),
		BatchID:          batch,
		WorkflowResponse: reply.Body,
	})
}

// handleUploadBatch accepts up to MaxBatchFiles files in the "files" field.
// Valid files share one poller batch and are forwarded concurrently,
// bounded by the upload limiter. Each file gets its own result.
func (s *Server) handleUploadBatch(w http.ResponseWriter, r *http.Request) {
	maxFiles := s.cfg.Upload.MaxBatchFiles
	if err := s.parseUploadForm(w, r, maxFiles); err != nil {
		s.respondError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		s.respondError(w, r, &core.ValidationError{Field: "files", Message: "no file provided"})
		return
	}
	if len(headers) > maxFiles {
		s.respondError(w, r, &core.ValidationError{Field: "files",
			Message: fmt.Sprintf("too many files: at most %d per batch", maxFiles)})
		return
	}

	logger := logging.WithFields(r.Context(), "files", len(headers))
	results := make([]batchResult, len(headers))
	var accepted []int
	files := make([]acceptedFile, len(headers))

	for i, h := range headers {
		acc, err := s.accept(h)
		if err != nil {
			results[i] = failedResult(fileInfo{Name: h.Filename, Size: h.Size}, err)
			continue
		}
		files[i] = acc
		accepted = append(accepted, i)
	}

	resp := batchResponse{Results: results}
	var waitErr error

	switch {
	case len(accepted) == 0:
	case !s.workflow.Enabled():
		for _, i := range accepted {
			results[i] = batchResult{File: files[i].info(), Success: true}
		}
	default:
		batch := s.beginBatch(r.Context(), len(accepted))
		resp.BatchID = batch

		// A file that runs out of slot wait fails the group, so siblings
		// still queued for a slot stop waiting. Forwards already holding a
		// slot run on the request context and finish.
		g, gctx := errgroup.WithContext(r.Context())
		for _, i := range accepted {
			g.Go(func() error {
				if err := s.limiter.Acquire(gctx); err != nil {
					if errors.Is(err, context.Canceled) && r.Context().Err() == nil {
						err = context.Cause(gctx)
					}
					s.poller.UploadFailed(batch)
					results[i] = failedResult(files[i].info(), err)
					return err
				}
				defer s.limiter.Release()

				reply, err := s.send(r.Context(), files[i])
				if err != nil {
					s.poller.UploadFailed(batch)
					results[i] = failedResult(files[i].info(), err)
					return nil
				}
				s.poller.UploadSucceeded(batch)
				results[i] = batchResult{File: files[i].info(), Success: true, WorkflowResponse: reply.Body}
				return nil
			})
		}
		waitErr = g.Wait()
		if waitErr != nil {
			logger.Warn("batch upload stopped waiting for slots", "batch", batch, "error", waitErr)
		}
	}

	for _, res := range results {
		if res.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	resp.Success = resp.Succeeded > 0
	resp.Message = fmt.Sprintf("%d of %d files uploaded", resp.Succeeded, len(results))

	logger.Info("batch upload finished",
		"batch", resp.BatchID,
		"succeeded", resp.Succeeded,
		"failed", resp.Failed,
	)

	status := http.StatusOK
	switch {
	case resp.Success:
	case errors.Is(waitErr, core.ErrTooManyUploads):
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "5")
	default:
		status = http.StatusBadRequest
	}
	writeJSON(w, r, status, resp)
}

// beginBatch starts or joins the poller batch. Without a baseline the
// banner cannot reconcile, but the upload itself still goes ahead.
func (s *Server) beginBatch(ctx context.Context, files int) string {
	batch, err := s.poller.BeginUpload(ctx, files)
	if err != nil {
		logging.FromContext(ctx).Warn("ingest tracking unavailable for upload",
			"files", files,
			"error", err,
		)
		return ""
	}
	return batch
}

// parseUploadForm bounds the body to files * MaxFileSize and parses it.
func (s *Server) parseUploadForm(w http.ResponseWriter, r *http.Request, files int) error {
	limit := int64(files)*s.limits.MaxSize + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return &core.ValidationError{Field: "file",
				Message: fmt.Sprintf("file too large: maximum is %dMB", s.limits.MaxSize>>20)}
		}
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return &core.ValidationError{Field: "file", Message: "no file provided"}
		}
		return &core.ValidationError{Field: "file", Message: "invalid request body: " + err.Error()}
	}
	return nil
}

// accept resolves the file's content type and validates it.
func (s *Server) accept(h *multipart.FileHeader) (acceptedFile, error) {
	f, err := h.Open()
	if err != nil {
		return acceptedFile{}, &core.ValidationError{Field: "file", Value: h.Filename, Message: "no file provided"}
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, _ := io.ReadFull(f, head)

	meta := core.FileMeta{
		Name:        h.Filename,
		Size:        h.Size,
		ContentType: core.ResolveContentType(h.Header.Get("Content-Type"), head[:n]),
	}
	if err := core.ValidateUpload(meta, s.limits); err != nil {
		return acceptedFile{}, err
	}
	return acceptedFile{header: h, meta: meta, at: s.now()}, nil
}

// forward sends one accepted file to the workflow, holding an upload slot
// for the duration.
func (s *Server) forward(ctx context.Context, acc acceptedFile) (workflow.Reply, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return workflow.Reply{}, err
	}
	defer s.limiter.Release()
	return s.send(ctx, acc)
}

// send streams acc to the workflow. The caller holds an upload slot.
func (s *Server) send(ctx context.Context, acc acceptedFile) (workflow.Reply, error) {
	f, err := acc.header.Open()
	if err != nil {
		return workflow.Reply{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	return s.workflow.Forward(ctx, workflow.Upload{
		Name:        acc.meta.Name,
		Size:        acc.meta.Size,
		ContentType: acc.meta.ContentType,
		Body:        f,
		UploadedAt:  acc.at,
	})
}

func failedResult(info fileInfo, err error) batchResult {
	env := errorEnvelope(err)
	return batchResult{
		File:             info,
		Error:            env.Error,
		Details:          env.Details,
		Code:             env.Code,
		Severity:         env.Severity,
		WorkflowResponse: env.WorkflowResponse,
	}
}

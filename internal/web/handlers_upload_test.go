package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/fisler/internal/core"
	"github.com/JonMunkholm/fisler/internal/ingest"
	"github.com/JonMunkholm/fisler/internal/workflow"
)

type testFile struct {
	field       string
	name        string
	contentType string
	data        []byte
}

func jpeg(size int) []byte {
	b := bytes.Repeat([]byte{0x42}, size)
	copy(b, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	return b
}

func uploadRequest(t *testing.T, path string, files ...testFile) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.field, f.name))
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(f.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload_AcknowledgedWithoutWorkflow(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(uploadRequest(t, "/api/upload",
		testFile{"file", "fis.jpg", "image/jpeg", jpeg(10 << 10)}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["workflowResponse"]; ok {
		t.Error("workflowResponse present without a workflow")
	}
	var file fileInfo
	if err := json.Unmarshal(body["file"], &file); err != nil {
		t.Fatal(err)
	}
	want := fileInfo{Name: "fis.jpg", Size: 10 << 10, Type: "image/jpeg", UploadedAt: "2025-01-03T11:22:33.456Z"}
	if file != want {
		t.Errorf("file = %+v, want %+v", file, want)
	}
	if string(body["success"]) != "true" {
		t.Errorf("success = %s", body["success"])
	}
	if env.poller.Snapshot().State != ingest.Idle {
		t.Errorf("poller state = %q, want idle", env.poller.Snapshot().State)
	}
}

func TestUpload_MinimumImageSize(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{10000, http.StatusOK},
		{9999, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.size), func(t *testing.T) {
			env := newTestEnv(t, nil, nil)
			rec := env.do(uploadRequest(t, "/api/upload",
				testFile{"file", "fis.jpg", "image/jpeg", jpeg(tt.size)}))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if tt.want == http.StatusBadRequest {
				body := decodeBody[errorBody](t, rec)
				if body.Code != "FILE003" || !strings.Contains(body.Error, "at least 10KB") {
					t.Errorf("body = %+v", body)
				}
			}
		})
	}
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		file    testFile
		code    string
		message string
	}{
		{"small image", testFile{"file", "tiny.jpg", "image/jpeg", jpeg(5 << 10)}, "FILE003", "image too small"},
		{"small png", testFile{"file", "tiny.png", "image/png", []byte("\x89PNG\r\n\x1a\nabc")}, "FILE003", "image too small"},
		{"unsupported type", testFile{"file", "fis.zip", "application/zip", []byte("PK\x03\x04")}, "FILE002", "unsupported file type"},
		{"empty file", testFile{"file", "empty.txt", "text/plain", nil}, "FILE005", "empty file"},
		{"wrong field", testFile{"document", "fis.pdf", "application/pdf", []byte("%PDF-1.4")}, "FILE004", "no file provided"},
		{"too large", testFile{"file", "big.txt", "text/plain", bytes.Repeat([]byte("a"), 10<<20+1)}, "FILE001", "file too large"},
		{"long name", testFile{"file", strings.Repeat("a", 252) + ".txt", "text/plain", []byte("ok")}, "FILE006", "file name too long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := &fakeForwarder{enabled: true}
			env := newTestEnv(t, nil, wf)

			rec := env.do(uploadRequest(t, "/api/upload", tt.file))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body)
			}
			body := decodeBody[errorBody](t, rec)
			if body.Code != tt.code || !strings.Contains(body.Error, tt.message) {
				t.Errorf("body = %+v", body)
			}
			if n := len(wf.uploads()); n != 0 {
				t.Errorf("forwarded %d rejected files", n)
			}
			if env.poller.Snapshot().State != ingest.Idle {
				t.Errorf("rejected upload started a batch")
			}
		})
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.doJSON(http.MethodPost, "/api/upload", `{"file":"x"}`)
	if rec.Code != http.StatusBadRequest || decodeBody[errorBody](t, rec).Code != "FILE004" {
		t.Errorf("status = %d body = %s", rec.Code, rec.Body)
	}
}

func TestUpload_SniffsGenericContentType(t *testing.T) {
	wf := &fakeForwarder{enabled: true, reply: workflow.Reply{Status: 200, Body: json.RawMessage(`{}`)}}
	env := newTestEnv(t, nil, wf)

	rec := env.do(uploadRequest(t, "/api/upload",
		testFile{"file", "scan", "application/octet-stream", []byte("%PDF-1.4\n%receipt")}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	sent := wf.uploads()
	if len(sent) != 1 || sent[0].upload.ContentType != "application/pdf" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestUpload_ForwardsToWorkflow(t *testing.T) {
	wf := &fakeForwarder{
		enabled: true,
		reply:   workflow.Reply{Status: 200, Body: json.RawMessage(`{"success":true,"fis_no":"F-1"}`)},
	}
	env := newTestEnv(t, nil, wf)
	data := jpeg(12 << 10)

	rec := env.do(uploadRequest(t, "/api/upload", testFile{"file", "market.jpg", "image/jpg", data}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	body := decodeBody[uploadResponse](t, rec)
	if string(body.WorkflowResponse) != `{"success":true,"fis_no":"F-1"}` {
		t.Errorf("workflowResponse = %s", body.WorkflowResponse)
	}
	if body.BatchID == "" {
		t.Error("missing batch id")
	}

	sent := wf.uploads()
	if len(sent) != 1 {
		t.Fatalf("forwarded %d uploads", len(sent))
	}
	up := sent[0]
	if up.upload.Name != "market.jpg" || up.upload.ContentType != "image/jpg" || up.upload.Size != int64(len(data)) {
		t.Errorf("upload = %+v", up.upload)
	}
	if !bytes.Equal(up.data, data) {
		t.Error("forwarded bytes differ from the upload")
	}
	if !up.upload.UploadedAt.Equal(fixedNow) {
		t.Errorf("uploadedAt = %v", up.upload.UploadedAt)
	}

	snap := env.poller.Snapshot()
	if snap.State != ingest.AwaitingProcessing || snap.BatchID != body.BatchID {
		t.Errorf("poller = %+v", snap)
	}
}

func TestUpload_WorkflowRejection(t *testing.T) {
	wf := &fakeForwarder{
		enabled: true,
		err: &core.WorkflowError{
			Status:  200,
			Code:    core.RejectNotAReceipt,
			Message: "Yüklenen görsel fiş olarak tanımlanamadı",
			Body:    json.RawMessage(`{"error":"Yüklenen görsel fiş olarak tanımlanamadı"}`),
		},
	}
	env := newTestEnv(t, nil, wf)

	rec := env.do(uploadRequest(t, "/api/upload", testFile{"file", "kedi.png", "image/png", jpeg(20 << 10)}))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	body := decodeBody[errorBody](t, rec)
	if body.Error != "Yüklenen görsel fiş olarak tanımlanamadı" || body.Code != "WF001" {
		t.Errorf("body = %+v", body)
	}
	if body.Severity != SeverityRejection || len(body.WorkflowResponse) == 0 {
		t.Errorf("severity = %q, workflowResponse = %s", body.Severity, body.WorkflowResponse)
	}
	if env.poller.Snapshot().State != ingest.Idle {
		t.Errorf("poller state = %q after rejection", env.poller.Snapshot().State)
	}
}

func TestUpload_WorkflowUnreachable(t *testing.T) {
	wf := &fakeForwarder{
		enabled: true,
		err:     &core.WorkflowError{Message: "workflow request failed", Err: errors.New("dial tcp: connection refused")},
	}
	env := newTestEnv(t, nil, wf)

	rec := env.do(uploadRequest(t, "/api/upload", testFile{"file", "fis.txt", "text/plain", []byte("TOPLAM 10,00")}))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody[errorBody](t, rec); body.Code != "WF005" || body.Severity != "" {
		t.Errorf("body = %+v", body)
	}
}

func TestUpload_OutlivesRequestTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RequestTimeout = 20 * time.Millisecond
	wf := &fakeForwarder{
		enabled: true,
		delay:   150 * time.Millisecond,
		reply:   workflow.Reply{Status: http.StatusOK, Body: json.RawMessage(`{"success":true}`)},
	}
	env := newTestEnv(t, cfg, wf)

	rec := env.do(uploadRequest(t, "/api/upload", testFile{"file", "fis.txt", "text/plain", []byte("TOPLAM 10,00")}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	// Plain API routes keep the request timeout.
	if rec := env.doJSON(http.MethodGet, "/api/fisler", ""); rec.Code != http.StatusOK {
		t.Errorf("list: status = %d", rec.Code)
	}
}

func TestUpload_WorkflowTimeout(t *testing.T) {
	wf := &fakeForwarder{
		enabled: true,
		err: &core.WorkflowError{Message: "workflow request timed out",
			Err: fmt.Errorf("post webhook: %w", context.DeadlineExceeded)},
	}
	env := newTestEnv(t, nil, wf)

	rec := env.do(uploadRequest(t, "/api/upload", testFile{"file", "fis.txt", "text/plain", []byte("TOPLAM 10,00")}))
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if body := decodeBody[errorBody](t, rec); body.Code != "WF007" || body.Severity != "" {
		t.Errorf("body = %+v", body)
	}
	if env.poller.Snapshot().State != ingest.Idle {
		t.Errorf("poller state = %q, want idle after failure", env.poller.Snapshot().State)
	}
}

func TestUploadBatch(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(uploadRequest(t, "/api/upload/batch",
		testFile{"files", "a.jpg", "image/jpeg", jpeg(10 << 10)},
		testFile{"files", "b.jpg", "image/jpeg", jpeg(5 << 10)},
		testFile{"files", "c.pdf", "application/pdf", []byte("%PDF-1.4")},
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	body := decodeBody[batchResponse](t, rec)
	if !body.Success || body.Succeeded != 2 || body.Failed != 1 || len(body.Results) != 3 {
		t.Fatalf("body = %+v", body)
	}
	if r := body.Results[1]; r.Success || r.Code != "FILE003" || r.File.Name != "b.jpg" {
		t.Errorf("results[1] = %+v", r)
	}
	if r := body.Results[2]; !r.Success || r.File.Type != "application/pdf" {
		t.Errorf("results[2] = %+v", r)
	}
}

func TestUploadBatch_SharesOneBatch(t *testing.T) {
	wf := &fakeForwarder{enabled: true, reply: workflow.Reply{Status: 200, Body: json.RawMessage(`{"ok":true}`)}}
	env := newTestEnv(t, nil, wf)

	var files []testFile
	for i := 0; i < 4; i++ {
		files = append(files, testFile{"files", fmt.Sprintf("f%d.txt", i), "text/plain", []byte("fis")})
	}
	rec := env.do(uploadRequest(t, "/api/upload/batch", files...))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	body := decodeBody[batchResponse](t, rec)
	if body.Succeeded != 4 || body.BatchID == "" {
		t.Fatalf("body = %+v", body)
	}
	if n := len(wf.uploads()); n != 4 {
		t.Errorf("forwarded %d files", n)
	}
	snap := env.poller.Snapshot()
	if snap.State != ingest.AwaitingProcessing || snap.Succeeded != 4 || snap.BatchID != body.BatchID {
		t.Errorf("poller = %+v", snap)
	}
}

func TestUploadBatch_SlotWaitStopsQueuedFiles(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxConcurrent = 1
	cfg.Upload.MaxWaitTime = 50 * time.Millisecond
	wf := &fakeForwarder{enabled: true, delay: 300 * time.Millisecond,
		reply: workflow.Reply{Status: 200, Body: json.RawMessage(`{"ok":true}`)}}
	env := newTestEnv(t, cfg, wf)

	var files []testFile
	for i := 0; i < 3; i++ {
		files = append(files, testFile{"files", fmt.Sprintf("f%d.txt", i), "text/plain", []byte("fis")})
	}
	rec := env.do(uploadRequest(t, "/api/upload/batch", files...))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	body := decodeBody[batchResponse](t, rec)
	if body.Succeeded != 1 || body.Failed != 2 {
		t.Fatalf("body = %+v", body)
	}
	for _, r := range body.Results {
		if !r.Success && r.Code != "UPL002" {
			t.Errorf("queued file %s: code = %q, want UPL002", r.File.Name, r.Code)
		}
	}
	if n := len(wf.uploads()); n != 1 {
		t.Errorf("forwarded %d files, want 1", n)
	}
}

func TestUploadBatch_AllSlotsBusy(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxWaitTime = 50 * time.Millisecond
	wf := &fakeForwarder{enabled: true, reply: workflow.Reply{Status: 200, Body: json.RawMessage(`{"ok":true}`)}}
	env := newTestEnv(t, cfg, wf)

	for i := 0; i < cfg.Upload.MaxConcurrent; i++ {
		if !env.srv.limiter.TryAcquire() {
			t.Fatalf("slot %d unavailable", i)
		}
		t.Cleanup(env.srv.limiter.Release)
	}

	rec := env.do(uploadRequest(t, "/api/upload/batch",
		testFile{"files", "a.txt", "text/plain", []byte("fis")},
		testFile{"files", "b.txt", "text/plain", []byte("fis")},
	))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Retry-After"); got != "5" {
		t.Errorf("Retry-After = %q", got)
	}
	body := decodeBody[batchResponse](t, rec)
	if body.Success || body.Failed != 2 {
		t.Fatalf("body = %+v", body)
	}
	for _, r := range body.Results {
		if r.Code != "UPL002" {
			t.Errorf("%s: code = %q, want UPL002", r.File.Name, r.Code)
		}
	}
	if n := len(wf.uploads()); n != 0 {
		t.Errorf("forwarded %d files, want 0", n)
	}
}

func TestUploadBatch_Limits(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	var files []testFile
	for i := 0; i < 21; i++ {
		files = append(files, testFile{"files", fmt.Sprintf("f%d.txt", i), "text/plain", []byte("x")})
	}
	rec := env.do(uploadRequest(t, "/api/upload/batch", files...))
	if rec.Code != http.StatusBadRequest || decodeBody[errorBody](t, rec).Code != "FILE007" {
		t.Errorf("21 files: status = %d body = %s", rec.Code, rec.Body)
	}

	rec = env.do(uploadRequest(t, "/api/upload/batch",
		testFile{"files", "tiny.jpg", "image/jpeg", jpeg(100)}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("all rejected: status = %d", rec.Code)
	}
	if body := decodeBody[batchResponse](t, rec); body.Success || body.Failed != 1 {
		t.Errorf("all rejected: body = %+v", body)
	}
}

// Package workflow forwards uploaded documents to the external extraction
// workflow (an n8n webhook) and classifies its replies.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/fisler/internal/core"
	"github.com/JonMunkholm/fisler/internal/logging"
)

// PlaceholderURL is the sample webhook from the deployment template. It is
// treated as "not configured".
const PlaceholderURL = "https://your-n8n-instance.com/webhook/your-webhook-path"

// TimestampLayout is the uploadedAt format sent to the workflow.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

const maxReplySize = 1 << 20

// legacyRejections maps phrases from older workflow versions, which only
// send a human-readable error, to rejection codes. Order matters.
var legacyRejections = []struct {
	phrase string
	code   string
}{
	{"fiş olarak tanımlanamadı", core.RejectNotAReceipt},
	{"tanımlanamadı", core.RejectNotAReceipt},
	{"confidence", core.RejectLowConfidence},
	{"görsel dosya çok küçük", core.RejectImageTooSmall},
	{"daha net bir fiş", core.RejectUnclearImage},
}

var knownCodes = map[string]bool{
	core.RejectNotAReceipt:   true,
	core.RejectLowConfidence: true,
	core.RejectImageTooSmall: true,
	core.RejectUnclearImage:  true,
}

// Upload is one file to forward.
type Upload struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
	UploadedAt  time.Time
}

// Reply is a successful workflow response, relayed to the caller as-is.
type Reply struct {
	Status int
	Body   json.RawMessage
}

// Client posts uploads to the webhook.
type Client struct {
	url  string
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for url. timeout bounds each forward.
func New(url string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		url:  strings.TrimSpace(url),
		http: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether a real webhook is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.url != "" && c.url != PlaceholderURL
}

// Forward sends the file and its metadata as multipart form data. A
// rejection or failure is returned as *core.WorkflowError.
func (c *Client) Forward(ctx context.Context, up Upload) (Reply, error) {
	log := logging.FromContext(ctx)

	body, contentType, err := encodeUpload(up)
	if err != nil {
		return Reply{}, fmt.Errorf("encode upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return Reply{}, fmt.Errorf("build workflow request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			log.Error("workflow timed out", "error", err, "duration_ms", time.Since(start).Milliseconds())
			if !errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
			}
			return Reply{}, &core.WorkflowError{Message: "workflow request timed out", Err: err}
		}
		log.Error("workflow unreachable", "error", err)
		return Reply{}, &core.WorkflowError{Message: "workflow request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return Reply{}, &core.WorkflowError{Status: resp.StatusCode, Message: "workflow reply could not be read", Err: err}
	}

	log.Info("workflow replied",
		"status", resp.StatusCode,
		"file", up.Name,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return Classify(resp.StatusCode, raw)
}

// isTimeout covers both the request context deadline and the client's own
// Timeout, which net/http reports as a net.Error.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Classify turns a webhook reply into a relayable Reply or a
// *core.WorkflowError. A structured "code" field wins; without one, the
// legacy phrases in "error" or "message" identify rejections.
func Classify(status int, raw []byte) (Reply, error) {
	ok := status >= 200 && status < 300

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		if ok && len(bytes.TrimSpace(raw)) == 0 {
			return Reply{Status: status, Body: json.RawMessage("{}")}, nil
		}
		if ok {
			return Reply{}, &core.WorkflowError{Status: status, Message: "workflow reply is not JSON"}
		}
		return Reply{}, &core.WorkflowError{Status: status, Message: httpStatusMessage(status, raw)}
	}

	message := firstString(doc, "error", "message")
	failed := !ok || firstString(doc, "error") != "" || strings.EqualFold(firstString(doc, "upload", "status"), "error")

	if code := strings.ToUpper(firstString(doc, "code")); knownCodes[code] {
		return Reply{}, &core.WorkflowError{Status: status, Code: code, Message: message, Body: raw}
	}
	if failed {
		if code := legacyCode(message); code != "" {
			return Reply{}, &core.WorkflowError{Status: status, Code: code, Message: message, Body: raw}
		}
		if message == "" {
			message = httpStatusMessage(status, nil)
		}
		return Reply{}, &core.WorkflowError{Status: status, Message: message, Body: raw}
	}

	return Reply{Status: status, Body: raw}, nil
}

func legacyCode(message string) string {
	lower := strings.ToLower(message)
	for _, lr := range legacyRejections {
		if strings.Contains(lower, lr.phrase) {
			return lr.code
		}
	}
	return ""
}

func firstString(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := doc[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func httpStatusMessage(status int, raw []byte) string {
	msg := fmt.Sprintf("workflow returned %d %s", status, http.StatusText(status))
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) <= 200 {
		msg += ": " + text
	}
	return msg
}

func encodeUpload(up Upload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, up.Name))
	ct := up.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	header.Set("Content-Type", ct)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, up.Body); err != nil {
		return nil, "", err
	}

	uploadedAt := up.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = time.Now()
	}
	fields := []struct{ name, value string }{
		{"originalName", up.Name},
		{"fileSize", strconv.FormatInt(up.Size, 10)},
		{"fileType", up.ContentType},
		{"uploadedAt", uploadedAt.UTC().Format(TimestampLayout)},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// LogValue keeps the webhook URL out of logs beyond its host.
func (c *Client) LogValue() slog.Value {
	if !c.Enabled() {
		return slog.StringValue("disabled")
	}
	host := c.url
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return slog.StringValue(host)
}

// Package inbox is the client for the tracker's inbox endpoint, the single
// entry point through which external channels create tasks.
package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"workhub/internal/errs"
	logx "workhub/pkg/logx"
)

// Sources accepted by the inbox.
const (
	SourceTelegram = "telegram"
	SourceGithub   = "github"
	SourceWebhook  = "webhook"
)

// TypeTaskCreate is the only inbox request type.
const TypeTaskCreate = "task_create"

var sources = []string{SourceTelegram, SourceGithub, SourceWebhook}

// TaskData is the payload of a task_create request.
type TaskData struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ProjectID   string `json:"projectId"`
	// Deadline is an ISO-8601 timestamp, omitted when the user skipped it.
	Deadline string `json:"deadline,omitempty"`
}

type Request struct {
	Source string   `json:"source"`
	Type   string   `json:"type"`
	Data   TaskData `json:"data"`
	UserID string   `json:"userId,omitempty"`
}

// NewTaskRequest builds a task_create request. A nil deadline is omitted.
func NewTaskRequest(source, userID, projectID, title, description string, deadline *time.Time) Request {
	r := Request{
		Source: source,
		Type:   TypeTaskCreate,
		UserID: userID,
		Data:   TaskData{Title: title, Description: description, ProjectID: projectID},
	}
	if deadline != nil {
		r.Data.Deadline = deadline.UTC().Format(time.RFC3339Nano)
	}
	return r
}

// Validate mirrors the inbox DTO rules so bad requests fail before the network.
func (r Request) Validate() error {
	if !slices.Contains(sources, r.Source) {
		return errs.Newf("inbox: unknown source %q", r.Source)
	}
	if r.Type != TypeTaskCreate {
		return errs.Newf("inbox: unknown type %q", r.Type)
	}
	var missing []string
	if strings.TrimSpace(r.Data.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(r.Data.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(r.Data.ProjectID) == "" {
		missing = append(missing, "projectId")
	}
	if len(missing) > 0 {
		return errs.Newf("inbox: missing %s", strings.Join(missing, ", "))
	}
	if r.Data.Deadline != "" {
		if _, err := time.Parse(time.RFC3339Nano, r.Data.Deadline); err != nil {
			return errs.Wrap(err, "inbox: deadline is not an ISO-8601 timestamp")
		}
	}
	return nil
}

// StatusError is a non-2xx inbox response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string { return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body) }

// Response is the decoded success body. Raw keeps the whole document.
type Response struct {
	ID  string          `json:"id"`
	Raw json.RawMessage `json:"-"`
}

type Config struct {
	APIURL  string
	Timeout time.Duration
	Client  *http.Client
}

// Client posts requests to {APIURL}/inbox.
type Client struct {
	endpoint string
	client   *http.Client
	log      logx.Logger
}

// maxErrorBody caps the response body carried in StatusError.
const maxErrorBody = 2048

func New(cfg Config, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if base == "" {
		return nil, errs.New("inbox api url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{endpoint: base + "/inbox", client: hc, log: log}, nil
}

// Submit sends exactly one request. Every failure is a submission error;
// rejected requests unwrap to *StatusError.
func (c *Client) Submit(ctx context.Context, r Request) (Response, error) {
	if err := r.Validate(); err != nil {
		return Response{}, errs.Submission(err, "")
	}
	body, err := json.Marshal(r)
	if err != nil {
		return Response{}, errs.Submission(err, "encode inbox request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, errs.Submission(err, "create inbox request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, errs.Submission(err, "inbox request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, errs.Submission(err, "read inbox response")
	}
	c.log.Debug("inbox request",
		logx.String("source", r.Source),
		logx.String("project_id", r.Data.ProjectID),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return Response{}, errs.Submission(&StatusError{Status: resp.StatusCode, Body: msg}, "")
	}

	out := Response{Raw: raw}
	if len(bytes.TrimSpace(raw)) > 0 {
		// Non-object bodies are accepted; only the id is optional sugar.
		_ = json.Unmarshal(raw, &out)
	}
	return out, nil
}

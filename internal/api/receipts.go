package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// Receipt is an uploaded receipt waiting for processing.
type Receipt struct {
	ID           string `json:"id"`
	FileName     string `json:"file_name,omitempty"`
	FileURL      string `json:"file_url"`
	FileType     string `json:"file_type"`
	FileSize     int64  `json:"file_size"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Status       string `json:"status"`
}

// Process outcomes that mean a bot workflow is about to ask the user
// something.
const (
	ProcessDuplicate   = "duplicate"
	ProcessCheckReview = "check_review"
)

// ProcessResult is the outcome of agent processing.
type ProcessResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NeedsAttention reports whether processing stopped to start a workflow.
func (r ProcessResult) NeedsAttention() bool {
	return r.Status == ProcessDuplicate || r.Status == ProcessCheckReview
}

// FlowAction is the body posted to a workflow action endpoint.
type FlowAction struct {
	Action  string      `json:"action"`
	Payload FlowPayload `json:"payload"`
}

// FlowPayload carries the free-text answer of a workflow step.
type FlowPayload struct {
	Text string `json:"text,omitempty"`
}

type receiptResponse struct {
	Receipt Receipt `json:"receipt"`
}

type countResponse struct {
	Count int `json:"count"`
}

// UploadReceipt uploads a receipt file for a project.
func (c *Client) UploadReceipt(ctx context.Context, projectID, uploaderID, path string) (Receipt, error) {
	f, err := os.Open(path)
	if err != nil {
		return Receipt{}, err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return Receipt{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return Receipt{}, fmt.Errorf("read %s: %w", path, err)
	}
	_ = w.WriteField("project_id", projectID)
	_ = w.WriteField("uploader_id", uploaderID)
	if err := w.Close(); err != nil {
		return Receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/pending-receipts/upload", nil), &buf)
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp receiptResponse
	if err := c.do(req, &resp); err != nil {
		return Receipt{}, fmt.Errorf("upload receipt: %w", err)
	}
	return resp.Receipt, nil
}

// ProcessReceipt asks the agent to process an uploaded receipt. force
// reprocesses one that was flagged before.
func (c *Client) ProcessReceipt(ctx context.Context, receiptID string, force bool) (ProcessResult, error) {
	var q url.Values
	if force {
		q = url.Values{"force": {"true"}}
	}
	var res ProcessResult
	path := "/pending-receipts/" + url.PathEscape(receiptID) + "/agent-process"
	if err := c.doJSON(ctx, http.MethodPost, path, q, nil, &res); err != nil {
		return ProcessResult{}, fmt.Errorf("process receipt %s: %w", receiptID, err)
	}
	return res, nil
}

// SendFlowAction posts a workflow answer for a receipt. kind selects the
// endpoint: duplicate, check or receipt.
func (c *Client) SendFlowAction(ctx context.Context, kind, receiptID, action, text string) error {
	body := FlowAction{Action: action, Payload: FlowPayload{Text: text}}
	path := "/pending-receipts/" + url.PathEscape(receiptID) + "/" + kind + "-action"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, body, nil); err != nil {
		return fmt.Errorf("%s action %s: %w", kind, action, err)
	}
	return nil
}

// PendingReceiptCount returns how many receipts of a project still wait for
// processing.
func (c *Client) PendingReceiptCount(ctx context.Context, projectID string) (int, error) {
	var resp countResponse
	q := url.Values{"project_id": {projectID}}
	if err := c.doJSON(ctx, http.MethodGet, "/pending-receipts/count", q, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/entity"
	"github.com/tnqbao/gau-music-dispatch/http/controller/dto"
	"github.com/tnqbao/gau-music-dispatch/utils"
)

const apiBase = "/api/v1/dispatch"

// APIError is a non-2xx answer from the dispatch server. It unwraps to the
// matching dispatch sentinel so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dispatch api: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return dispatch.ErrValidation
	case http.StatusNotFound:
		return dispatch.ErrNotFound
	case http.StatusConflict:
		return dispatch.ErrConflict
	case http.StatusGone:
		return dispatch.ErrWorkerLost
	case http.StatusServiceUnavailable:
		return dispatch.ErrOverloaded
	}
	return nil
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	secret     string
	token      string
}

type Option func(*Client)

// WithWorkerSecret signs worker requests with the shared HMAC secret.
func WithWorkerSecret(secret string) Option {
	return func(c *Client) { c.secret = secret }
}

// WithAdminToken sends token as a bearer credential on admin requests.
func WithAdminToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate submits a generate job with payload as the raw body.
func (c *Client) Generate(ctx context.Context, payload json.RawMessage) (dto.SubmitJobResponseDTO, error) {
	var out dto.SubmitJobResponseDTO
	err := c.do(ctx, http.MethodPost, apiBase+"/generate", payload, "application/json", nil, &out)
	return out, err
}

func (c *Client) Submit(ctx context.Context, kind entity.JobKind, payload json.RawMessage) (dto.SubmitJobResponseDTO, error) {
	var out dto.SubmitJobResponseDTO
	err := c.doJSON(ctx, http.MethodPost, apiBase+"/jobs", dto.SubmitJobRequestDTO{Kind: kind, Payload: payload}, nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, id uuid.UUID) (dto.StatusResponseDTO, error) {
	var out dto.StatusResponseDTO
	err := c.do(ctx, http.MethodGet, apiBase+"/status/"+id.String(), nil, "", nil, &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, id uuid.UUID) (dto.CancelResponseDTO, error) {
	var out dto.CancelResponseDTO
	err := c.do(ctx, http.MethodPost, apiBase+"/jobs/"+id.String()+"/cancel", nil, "", nil, &out)
	return out, err
}

// Download writes the job's artifact to w.
func (c *Client) Download(ctx context.Context, id uuid.UUID, w io.Writer) (int64, error) {
	resp, err := c.send(ctx, http.MethodGet, apiBase+"/jobs/"+id.String()+"/artifact?download=1", nil, "", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return io.Copy(w, resp.Body)
}

func (c *Client) Register(ctx context.Context, capability int, labels map[string]string) (dto.RegisterWorkerResponseDTO, error) {
	var out dto.RegisterWorkerResponseDTO
	err := c.doJSON(ctx, http.MethodPost, apiBase+"/workers/register",
		dto.RegisterWorkerRequestDTO{Capability: capability, Labels: labels}, c.workerAuth, &out)
	return out, err
}

func (c *Client) Heartbeat(ctx context.Context, workerID uuid.UUID) (dispatch.HeartbeatAck, error) {
	var out dispatch.HeartbeatAck
	err := c.do(ctx, http.MethodPost, workerPath(workerID, "/heartbeat"), nil, "", c.workerAuth, &out)
	return out, err
}

// Claim returns nil when the server has nothing for this worker.
func (c *Client) Claim(ctx context.Context, workerID uuid.UUID) (*dispatch.Assignment, error) {
	resp, err := c.send(ctx, http.MethodPost, workerPath(workerID, "/claim"), nil, "", c.workerAuth)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	var a dispatch.Assignment
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode assignment: %w", err)
	}
	return &a, nil
}

func (c *Client) Progress(ctx context.Context, workerID uuid.UUID, req dto.ProgressRequestDTO) (dispatch.Directive, error) {
	var out dispatch.Directive
	err := c.doJSON(ctx, http.MethodPost, workerPath(workerID, "/progress"), req, c.workerAuth, &out)
	return out, err
}

func (c *Client) Result(ctx context.Context, workerID uuid.UUID, req dto.ResultRequestDTO) error {
	return c.doJSON(ctx, http.MethodPost, workerPath(workerID, "/result"), req, c.workerAuth, nil)
}

// Upload stores r as the output file of jobID. The body is buffered because
// the request signature covers it.
func (c *Client) Upload(ctx context.Context, workerID, jobID uuid.UUID, ext string, r io.Reader) (dto.UploadResponseDTO, error) {
	var out dto.UploadResponseDTO
	body, err := io.ReadAll(r)
	if err != nil {
		return out, fmt.Errorf("read upload: %w", err)
	}
	path := workerPath(workerID, "/jobs/"+jobID.String()+"/upload")
	err = c.do(ctx, http.MethodPost, path+"?ext="+url.QueryEscape(ext), body, "application/octet-stream", c.workerAuth, &out)
	return out, err
}

func (c *Client) Deregister(ctx context.Context, workerID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, workerPath(workerID, ""), nil, "", c.workerAuth, nil)
}

func (c *Client) Overview(ctx context.Context) (dispatch.Overview, error) {
	var out dispatch.Overview
	err := c.do(ctx, http.MethodGet, apiBase+"/admin/overview", nil, "", c.adminAuth, &out)
	return out, err
}

func (c *Client) ListJobs(ctx context.Context, filter dispatch.JobFilter) ([]dispatch.JobSnapshot, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Kind != "" {
		q.Set("kind", string(filter.Kind))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}
	path := apiBase + "/admin/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Jobs []dispatch.JobSnapshot `json:"jobs"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, "", c.adminAuth, &out)
	return out.Jobs, err
}

type WorkerList struct {
	Workers []entity.Worker `json:"workers"`
	Desired int             `json:"desired"`
}

func (c *Client) ListWorkers(ctx context.Context) (WorkerList, error) {
	var out WorkerList
	err := c.do(ctx, http.MethodGet, apiBase+"/admin/workers", nil, "", c.adminAuth, &out)
	return out, err
}

func (c *Client) SetDesiredWorkers(ctx context.Context, n int) error {
	return c.doJSON(ctx, http.MethodPut, apiBase+"/admin/workers/desired", dto.SetDesiredWorkersRequestDTO{Desired: &n}, c.adminAuth, nil)
}

func workerPath(workerID uuid.UUID, suffix string) string {
	return apiBase + "/workers/" + workerID.String() + suffix
}

type authFunc func(req *http.Request, body []byte)

func (c *Client) workerAuth(req *http.Request, body []byte) {
	if c.secret == "" {
		return
	}
	for k, v := range utils.SignatureHeaders(c.secret, req.Method, req.URL.Path, body) {
		req.Header.Set(k, v)
	}
}

func (c *Client) adminAuth(req *http.Request, _ []byte) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, auth authFunc, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, method, path, body, "application/json", auth, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, auth authFunc, out any) error {
	resp, err := c.send(ctx, method, path, body, contentType, auth)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// send returns the response only for 2xx answers; the caller closes it.
func (c *Client) send(ctx context.Context, method, path string, body []byte, contentType string, auth authFunc) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if auth != nil {
		auth(req, body)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, readAPIError(resp)
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

// IsRetryable reports whether err is worth retrying after a pause.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusServiceUnavailable || apiErr.StatusCode >= 500
	}
	return err != nil && !errors.Is(err, context.Canceled)
}

package rentmansdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ferangarita01/rentman-sub000/internal/signature"
)

// Client is a minimal Rentman HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Status          string         `json:"status"`
	PaymentStatus   string         `json:"paymentStatus"`
	BudgetAmount    float64        `json:"budgetAmount"`
	BudgetCurrency  string         `json:"budgetCurrency"`
	RequesterID     string         `json:"requesterId"`
	AssignedHumanID string         `json:"assignedHumanId,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// NewTask is the payload for CreateTask. Agent tasks are signed with Sign.
type NewTask struct {
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	BudgetAmount float64        `json:"budgetAmount"`
	TaskType     string         `json:"taskType,omitempty"`
	AgentID      string         `json:"agentId,omitempty"`
	Signature    string         `json:"signature,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Sign attaches an Ed25519 signature over title:agentID:timestamp:nonce
// using a base64 private key. The timestamp is milliseconds since epoch.
func (t *NewTask) Sign(agentID, privateKeyB64 string, now time.Time) error {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	nonce := uuid.NewString()
	sig, err := signature.Sign(privateKeyB64, []byte(signature.CanonicalMessage(t.Title, agentID, ts, nonce)))
	if err != nil {
		return err
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	t.Metadata["timestamp"] = ts
	t.Metadata["nonce"] = nonce
	t.AgentID = agentID
	t.Signature = sig
	return nil
}

type Amounts struct {
	WorkerReceives float64 `json:"workerReceives"`
	PlatformFee    float64 `json:"platformFee"`
	ClientPays     float64 `json:"clientPays"`
}

type LockResult struct {
	Success      bool    `json:"success"`
	EscrowID     string  `json:"escrowId"`
	ClientSecret string  `json:"clientSecret"`
	Amounts      Amounts `json:"amounts"`
}

type ReleaseResult struct {
	Success    bool   `json:"success"`
	TransferID string `json:"transferId"`
}

type DisputeResult struct {
	Success   bool           `json:"success"`
	EscrowID  string         `json:"escrowId"`
	AISummary map[string]any `json:"aiSummary"`
}

type EscrowStatus struct {
	EscrowID    string  `json:"escrowId"`
	Status      string  `json:"status"`
	GrossAmount float64 `json:"grossAmount"`
	NetAmount   float64 `json:"netAmount"`
	PlatformFee float64 `json:"platformFee"`
	DisputeFee  float64 `json:"disputeFee"`
	HeldAt      string  `json:"heldAt"`
	ReleasedAt  string  `json:"releasedAt,omitempty"`
}

// Proof is the payload for UploadProof.
type Proof struct {
	TaskID       string         `json:"taskId"`
	ProofType    string         `json:"proofType"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	FileURL      string         `json:"fileUrl,omitempty"`
	LocationData map[string]any `json:"locationData,omitempty"`
}

type ProofResult struct {
	Success      bool           `json:"success"`
	ProofID      string         `json:"proofId"`
	AIValidation map[string]any `json:"aiValidation"`
}

type ReviewResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ProofID string `json:"proofId"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// CreateTask creates a task on behalf of the authenticated requester.
func (c *Client) CreateTask(ctx context.Context, task NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "api/tasks", task, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "api/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// StartWork marks an assigned task as in progress for the authenticated worker.
func (c *Client) StartWork(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "api/tasks/"+url.PathEscape(taskID)+"/start", nil, &resp)
	return resp, err
}

// LockFunds holds the task budget and assigns humanID.
func (c *Client) LockFunds(ctx context.Context, taskID, humanID string) (LockResult, error) {
	var resp LockResult
	err := c.do(ctx, http.MethodPost, "api/escrow/lock", map[string]string{"taskId": taskID, "humanId": humanID}, &resp)
	return resp, err
}

// ReleaseFunds pays the worker once every proof is approved.
func (c *Client) ReleaseFunds(ctx context.Context, taskID string) (ReleaseResult, error) {
	var resp ReleaseResult
	err := c.do(ctx, http.MethodPost, "api/escrow/release", map[string]string{"taskId": taskID}, &resp)
	return resp, err
}

// InitiateDispute freezes the escrow for mediation.
func (c *Client) InitiateDispute(ctx context.Context, taskID, reason string) (DisputeResult, error) {
	var resp DisputeResult
	err := c.do(ctx, http.MethodPost, "api/escrow/dispute", map[string]string{"taskId": taskID, "reason": reason}, &resp)
	return resp, err
}

// EscrowStatus returns the escrow read model for a task.
func (c *Client) EscrowStatus(ctx context.Context, taskID string) (EscrowStatus, error) {
	var resp EscrowStatus
	err := c.do(ctx, http.MethodGet, "api/escrow/status/"+url.PathEscape(taskID), nil, &resp)
	return resp, err
}

// UploadProof submits evidence as the authenticated worker.
func (c *Client) UploadProof(ctx context.Context, p Proof) (ProofResult, error) {
	var resp ProofResult
	err := c.do(ctx, http.MethodPost, "api/proofs/upload", p, &resp)
	return resp, err
}

// ReviewProof approves or rejects a proof. reviewerID must be the
// authenticated requester.
func (c *Client) ReviewProof(ctx context.Context, proofID, action, reviewerID, rejectionReason string) (ReviewResult, error) {
	body := map[string]string{
		"proofId":    proofID,
		"action":     action,
		"reviewerId": reviewerID,
	}
	if rejectionReason != "" {
		body["rejectionReason"] = rejectionReason
	}
	var resp ReviewResult
	err := c.do(ctx, http.MethodPost, "api/proofs/review", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Code string `json:"code"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

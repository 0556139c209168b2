package server

import (
	"github.com/ferangarita01/rentman-sub000/internal/domain"
	"github.com/ferangarita01/rentman-sub000/internal/engine"
)

// Request payloads

type CreateTaskRequest struct {
	ID             string         `json:"id,omitempty"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	BudgetAmount   float64        `json:"budgetAmount" doc:"Worker payout in major units"`
	BudgetCurrency string         `json:"budgetCurrency,omitempty"`
	TaskType       string         `json:"taskType,omitempty"`
	AgentID        string         `json:"agentId,omitempty"`
	Signature      string         `json:"signature,omitempty" doc:"Base64 Ed25519 signature over title:agentId:timestamp:nonce"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type LockRequest struct {
	TaskID  string `json:"taskId"`
	HumanID string `json:"humanId"`
}

type ReleaseRequest struct {
	TaskID string `json:"taskId"`
}

type DisputeRequest struct {
	TaskID string `json:"taskId"`
	Reason string `json:"reason"`
}

type ProofUploadRequest struct {
	TaskID       string         `json:"taskId"`
	HumanID      string         `json:"humanId,omitempty"`
	ProofType    string         `json:"proofType" enum:"photo,video,location,text"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	FileURL      string         `json:"fileUrl,omitempty"`
	LocationData map[string]any `json:"locationData,omitempty"`
}

type ProofReviewRequest struct {
	ProofID         string `json:"proofId"`
	Action          string `json:"action" enum:"approve,reject"`
	ReviewerID      string `json:"reviewerId"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}

// Response payloads

type TaskResponse struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	BudgetAmount    float64        `json:"budgetAmount"`
	BudgetCurrency  string         `json:"budgetCurrency"`
	TaskType        string         `json:"taskType"`
	RequesterID     string         `json:"requesterId"`
	AssignedHumanID *string        `json:"assignedHumanId,omitempty"`
	AgentID         *string        `json:"agentId,omitempty"`
	Status          string         `json:"status"`
	PaymentStatus   string         `json:"paymentStatus"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       string         `json:"createdAt" format:"date-time"`
	UpdatedAt       string         `json:"updatedAt" format:"date-time"`
	CompletedAt     *string        `json:"completedAt,omitempty" format:"date-time"`
	DisputedAt      *string        `json:"disputedAt,omitempty" format:"date-time"`
}

type TaskListResponse struct {
	Items []TaskResponse `json:"items"`
}

type ProofResponse struct {
	ID              string               `json:"id"`
	TaskID          string               `json:"taskId"`
	HumanID         string               `json:"humanId"`
	ProofType       string               `json:"proofType"`
	Title           string               `json:"title"`
	Description     string               `json:"description,omitempty"`
	FileURL         *string              `json:"fileUrl,omitempty"`
	LocationData    map[string]any       `json:"locationData,omitempty"`
	AIValidation    *domain.AIValidation `json:"aiValidation,omitempty"`
	Status          string               `json:"status"`
	ReviewedBy      *string              `json:"reviewedBy,omitempty"`
	ReviewedAt      *string              `json:"reviewedAt,omitempty" format:"date-time"`
	RejectionReason *string              `json:"rejectionReason,omitempty"`
	CreatedAt       string               `json:"createdAt" format:"date-time"`
}

type ProofListResponse struct {
	Items []ProofResponse `json:"items"`
}

type AmountsResponse struct {
	WorkerReceives float64 `json:"workerReceives"`
	PlatformFee    float64 `json:"platformFee"`
	ClientPays     float64 `json:"clientPays"`
}

type LockResponse struct {
	Success      bool            `json:"success"`
	EscrowID     string          `json:"escrowId"`
	ClientSecret string          `json:"clientSecret"`
	Amounts      AmountsResponse `json:"amounts"`
}

type ReleaseResponse struct {
	Success    bool   `json:"success"`
	TransferID string `json:"transferId"`
}

type DisputeResponse struct {
	Success         bool                   `json:"success"`
	EscrowID        string                 `json:"escrowId"`
	AISummary       *domain.DisputeSummary `json:"aiSummary"`
	AlreadyDisputed bool                   `json:"alreadyDisputed,omitempty"`
}

type EscrowStatusResponse struct {
	EscrowID    string  `json:"escrowId"`
	TaskID      string  `json:"taskId"`
	Status      string  `json:"status"`
	Currency    string  `json:"currency"`
	GrossAmount float64 `json:"grossAmount"`
	NetAmount   float64 `json:"netAmount"`
	PlatformFee float64 `json:"platformFee"`
	DisputeFee  float64 `json:"disputeFee"`
	HeldAt      string  `json:"heldAt" format:"date-time"`
	ReleasedAt  *string `json:"releasedAt,omitempty" format:"date-time"`
	DisputedAt  *string `json:"disputedAt,omitempty" format:"date-time"`
}

type ProofUploadResponse struct {
	Success      bool                 `json:"success"`
	ProofID      string               `json:"proofId"`
	AIValidation *domain.AIValidation `json:"aiValidation"`
}

type ProofReviewResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ProofID string `json:"proofId"`
}

type WebhookAck struct {
	Received bool `json:"received"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:              t.ID,
		Title:           t.Title,
		Description:     t.Description,
		BudgetAmount:    t.BudgetAmount,
		BudgetCurrency:  t.BudgetCurrency,
		TaskType:        t.TaskType,
		RequesterID:     t.RequesterID,
		AssignedHumanID: t.AssignedHumanID,
		AgentID:         t.AgentID,
		Status:          t.Status,
		PaymentStatus:   t.PaymentStatus,
		Metadata:        t.Metadata,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		CompletedAt:     t.CompletedAt,
		DisputedAt:      t.DisputedAt,
	}
}

func proofResponse(p domain.TaskProof) ProofResponse {
	return ProofResponse{
		ID:              p.ID,
		TaskID:          p.TaskID,
		HumanID:         p.HumanID,
		ProofType:       p.ProofType,
		Title:           p.Title,
		Description:     p.Description,
		FileURL:         p.FileURL,
		LocationData:    p.LocationData,
		AIValidation:    p.AIValidation,
		Status:          p.Status,
		ReviewedBy:      p.ReviewedBy,
		ReviewedAt:      p.ReviewedAt,
		RejectionReason: p.RejectionReason,
		CreatedAt:       p.CreatedAt,
	}
}

func amountsResponse(a engine.Amounts) AmountsResponse {
	return AmountsResponse{
		WorkerReceives: engine.Major(a.WorkerAmount),
		PlatformFee:    engine.Major(a.PlatformFee),
		ClientPays:     engine.Major(a.ClientPays),
	}
}

func escrowStatusResponse(s engine.EscrowStatus) EscrowStatusResponse {
	return EscrowStatusResponse{
		EscrowID:    s.EscrowID,
		TaskID:      s.TaskID,
		Status:      s.Status,
		Currency:    s.Currency,
		GrossAmount: s.GrossAmount,
		NetAmount:   s.NetAmount,
		PlatformFee: s.PlatformFee,
		DisputeFee:  s.DisputeFee,
		HeldAt:      s.HeldAt,
		ReleasedAt:  s.ReleasedAt,
		DisputedAt:  s.DisputedAt,
	}
}

package domain

// Task statuses. The uppercase values are persisted verbatim.
const (
	TaskOpen         = "open"
	TaskVerifying    = "verifying"
	TaskMatching     = "matching"
	TaskFlagged      = "flagged"
	TaskManualReview = "manual_review"
	TaskRejected     = "rejected"
	TaskAssigned     = "ASSIGNED"
	TaskInProgress   = "in_progress"
	TaskReview       = "review"
	TaskCompleted    = "COMPLETED"
	TaskDisputed     = "disputed"
)

// Task payment statuses.
const (
	PaymentPending  = "pending"
	PaymentEscrowed = "escrowed"
	PaymentReleased = "released"
	PaymentDisputed = "disputed"
)

// Escrow transaction statuses.
const (
	EscrowHeld     = "held"
	EscrowReleased = "released"
	EscrowDisputed = "disputed"
)

// Proof types and statuses.
const (
	ProofPhoto    = "photo"
	ProofVideo    = "video"
	ProofLocation = "location"
	ProofText     = "text"

	ProofPending  = "pending"
	ProofApproved = "approved"
	ProofRejected = "rejected"
)

type Task struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	BudgetAmount    float64        `json:"budget_amount"`
	BudgetCurrency  string         `json:"budget_currency"`
	TaskType        string         `json:"task_type"`
	RequesterID     string         `json:"requester_id"`
	AssignedHumanID *string        `json:"assigned_human_id,omitempty"`
	AgentID         *string        `json:"agent_id,omitempty"`
	Signature       *string        `json:"signature,omitempty"`
	Status          string         `json:"status" enum:"open,verifying,matching,flagged,manual_review,rejected,ASSIGNED,review,in_progress,COMPLETED,disputed"`
	PaymentStatus   string         `json:"payment_status" enum:"pending,escrowed,released,disputed"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
	CompletedAt     *string        `json:"completed_at,omitempty" format:"date-time"`
	DisputedAt      *string        `json:"disputed_at,omitempty" format:"date-time"`
}

// MetaString returns metadata[key] rendered as a string, or "" when absent.
func (t Task) MetaString(key string) string {
	if t.Metadata == nil {
		return ""
	}
	return stringify(t.Metadata[key])
}

type Agent struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	PublicKey string `json:"public_key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type AIValidation struct {
	Valid      bool     `json:"valid"`
	Confidence int      `json:"confidence"`
	Issues     []string `json:"issues"`
	Summary    string   `json:"summary"`
}

type TaskProof struct {
	ID              string         `json:"id"`
	TaskID          string         `json:"task_id"`
	HumanID         string         `json:"human_id"`
	ProofType       string         `json:"proof_type" enum:"photo,video,location,text"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	FileURL         *string        `json:"file_url,omitempty"`
	LocationData    map[string]any `json:"location_data,omitempty"`
	AIValidation    *AIValidation  `json:"ai_validation,omitempty"`
	Status          string         `json:"status" enum:"pending,approved,rejected"`
	ReviewedBy      *string        `json:"reviewed_by,omitempty"`
	ReviewedAt      *string        `json:"reviewed_at,omitempty" format:"date-time"`
	RejectionReason *string        `json:"rejection_reason,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
}

type DisputeSummary struct {
	Severity          string   `json:"severity"`
	RecommendedAction string   `json:"recommended_action"`
	KeyPoints         []string `json:"key_points"`
	EvidenceQuality   string   `json:"evidence_quality"`
}

type EscrowTransaction struct {
	ID                    string          `json:"id"`
	TaskID                string          `json:"task_id"`
	RequesterID           string          `json:"requester_id"`
	HumanID               string          `json:"human_id"`
	GrossAmount           int64           `json:"gross_amount"`
	PlatformFeeAmount     int64           `json:"platform_fee_amount"`
	NetAmount             int64           `json:"net_amount"`
	DisputeFeeAmount      int64           `json:"dispute_fee_amount"`
	Currency              string          `json:"currency"`
	Status                string          `json:"status" enum:"held,released,disputed"`
	StripePaymentIntentID string          `json:"stripe_payment_intent_id"`
	StripeTransferID      *string         `json:"stripe_transfer_id,omitempty"`
	CapturedAt            *string         `json:"captured_at,omitempty" format:"date-time"`
	DisputeReason         *string         `json:"dispute_reason,omitempty"`
	DisputedBy            *string         `json:"disputed_by,omitempty"`
	AIDisputeSummary      *DisputeSummary `json:"ai_dispute_summary,omitempty"`
	HeldAt                string          `json:"held_at" format:"date-time"`
	ReleasedAt            *string         `json:"released_at,omitempty" format:"date-time"`
	DisputedAt            *string         `json:"disputed_at,omitempty" format:"date-time"`
}

type Profile struct {
	UserID          string `json:"user_id"`
	DisplayName     string `json:"display_name,omitempty"`
	StripeAccountID string `json:"stripe_account_id,omitempty"`
	PushToken       string `json:"push_token,omitempty"`
	CreatedAt       string `json:"created_at" format:"date-time"`
	UpdatedAt       string `json:"updated_at" format:"date-time"`
}

type WalletTransaction struct {
	ID                    string `json:"id"`
	UserID                string `json:"user_id"`
	Type                  string `json:"type"`
	Amount                int64  `json:"amount"`
	Currency              string `json:"currency"`
	Status                string `json:"status"`
	StripePaymentIntentID string `json:"stripe_payment_intent_id,omitempty"`
	CreatedAt             string `json:"created_at" format:"date-time"`
}

type AnalysisJob struct {
	TaskID    string  `json:"task_id"`
	Status    string  `json:"status" enum:"pending,running,done,failed"`
	Attempts  int     `json:"attempts"`
	NextRunAt string  `json:"next_run_at" format:"date-time"`
	LastError *string `json:"last_error,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	Delivered bool           `json:"delivered"`
	Error     string         `json:"error,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

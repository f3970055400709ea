package idempotency

import "time"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Scopes namespace keys per operation so the same client key can be reused
// across endpoints.
const (
	ScopeCreateOrder = "orders.create"
	ScopeCardCharge  = "payments.card"
)

// Record is the shape persisted in the idempotency DynamoDB table.
type Record struct {
	Key            string    `dynamodbav:"idempotency_key"` // PK: scope#user#client-key
	Scope          string    `dynamodbav:"scope"`
	UserID         string    `dynamodbav:"user_id,omitempty"`
	RequestHash    string    `dynamodbav:"request_hash,omitempty"`
	Status         string    `dynamodbav:"status"`
	ResourceID     string    `dynamodbav:"resource_id,omitempty"`     // order id the request acted on
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`   // small JSON responses only
	ResponseStatus int       `dynamodbav:"response_status,omitempty"` // e.g., 201
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}

// Matches reports whether a replayed request carries the same payload as the
// one that created the record.
func (r *Record) Matches(requestHash string) bool {
	return r.RequestHash == "" || requestHash == "" || r.RequestHash == requestHash
}

package models

import (
	"crypto/subtle"
	"encoding/json"
	"time"
)

// TenantSlug labels the customer an event belongs to.
type TenantSlug string

// Tenant is an API client allowed to ingest reviews.
type Tenant struct {
	AppID           string
	Secret          string
	AnthropicAPIKey string
	Slug            TenantSlug
	CreatedAt       time.Time
}

// SecretMatches reports whether secret equals the stored secret exactly.
func (t *Tenant) SecretMatches(secret string) bool {
	return subtle.ConstantTimeCompare([]byte(t.Secret), []byte(secret)) == 1
}

// StageStatus tracks an ingestion through extraction and persistence.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageExtracted StageStatus = "extracted"
	StagePersisted StageStatus = "persisted"
	StageFailed    StageStatus = "failed"
)

// IngestionStage is the write-ahead record of one ingestion attempt.
type IngestionStage struct {
	Key          string
	CustomerSlug TenantSlug
	Status       StageStatus
	Analysis     json.RawMessage
	EventID      *int64
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Package ingest turns an authenticated review comment into a persisted,
// structured review event.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joescharf/prboard/internal/models"
	"github.com/joescharf/prboard/internal/schema"
	"github.com/joescharf/prboard/internal/store"
)

// Extractor structures a review comment with the tenant's model credential.
type Extractor interface {
	Extract(ctx context.Context, apiKey, comment string) (*models.ReviewReport, json.RawMessage, error)
}

// Result is the outcome of a successful ingestion.
type Result struct {
	Report    *models.ReviewReport
	EventID   int64
	Duplicate bool
}

// Service orchestrates validate, authenticate, extract and persist.
type Service struct {
	tenants   store.TenantReader
	events    store.EventStore
	stages    store.StageStore
	extractor Extractor
}

// NewService creates an ingestion service.
func NewService(tenants store.TenantReader, events store.EventStore, stages store.StageStore, extractor Extractor) *Service {
	return &Service{
		tenants:   tenants,
		events:    events,
		stages:    stages,
		extractor: extractor,
	}
}

// IdempotencyKey identifies one comment of one run for one tenant.
func IdempotencyKey(slug models.TenantSlug, runID, commentID string) string {
	sum := sha256.Sum256([]byte(string(slug) + "\x00" + runID + "\x00" + commentID))
	return hex.EncodeToString(sum[:])
}

// Ingest processes one request. Errors are *ValidationError, *AuthError,
// *ExtractionError, *PersistenceError, or a wrapped store error.
func (s *Service) Ingest(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tenant, err := s.authenticate(ctx, req.AppID, req.AppPrivateKey)
	if err != nil {
		return nil, err
	}

	gh := req.GitHub
	key := IdempotencyKey(tenant.Slug, gh.RunID, gh.CommentID)
	log := slog.With("tenant", tenant.Slug, "repo", gh.Owner+"/"+gh.Repo, "run_id", gh.RunID, "comment_id", gh.CommentID)

	if prior, err := s.existing(ctx, key); err != nil {
		return nil, err
	} else if prior != nil {
		log.Info("duplicate ingestion, returning stored event", "event_id", prior.EventID)
		return prior, nil
	}

	report, raw := s.staged(ctx, key, log)
	if report == nil {
		s.saveStage(ctx, log, &models.IngestionStage{Key: key, CustomerSlug: tenant.Slug, Status: models.StagePending})

		report, raw, err = s.extractor.Extract(ctx, tenant.AnthropicAPIKey, req.CommentContent)
		if err != nil {
			s.saveStage(ctx, log, &models.IngestionStage{
				Key: key, CustomerSlug: tenant.Slug, Status: models.StageFailed, Error: err.Error(),
			})
			log.Error("extraction failed", "error", err)
			return nil, &ExtractionError{Err: err}
		}
		s.saveStage(ctx, log, &models.IngestionStage{
			Key: key, CustomerSlug: tenant.Slug, Status: models.StageExtracted, Analysis: raw,
		})
	}

	event := &models.EventRecord{
		Owner:          gh.Owner,
		EventName:      models.EventNamePRReview,
		Repository:     gh.Repo,
		Branch:         gh.Branch,
		BaseBranch:     gh.BaseBranch,
		HeadBranch:     gh.HeadBranch,
		PRNumber:       gh.PRNumber,
		PRLink:         gh.PRLink,
		RunID:          gh.RunID,
		RunNumber:      gh.RunNumber,
		RunAttempt:     gh.RunAttempt,
		CommentID:      gh.CommentID,
		CustomerSlug:   tenant.Slug,
		Analysis:       report,
		Markdown:       req.CommentContent,
		IdempotencyKey: key,
	}
	if err := s.events.AppendEvent(ctx, event); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// A concurrent request for the same key won the insert.
			if prior, lookupErr := s.existing(ctx, key); lookupErr == nil && prior != nil {
				log.Info("concurrent duplicate ingestion, returning stored event", "event_id", prior.EventID)
				return prior, nil
			}
		}
		log.Error("persist event failed", "error", err)
		return nil, &PersistenceError{Err: err, Report: report}
	}

	id := event.ID
	s.saveStage(ctx, log, &models.IngestionStage{
		Key: key, CustomerSlug: tenant.Slug, Status: models.StagePersisted, EventID: &id,
	})

	log.Info("review ingested", "event_id", event.ID, "recommendation", report.Recommendation.Status)
	return &Result{Report: report, EventID: event.ID}, nil
}

func (s *Service) authenticate(ctx context.Context, appID, secret string) (*models.Tenant, error) {
	tenant, err := s.tenants.GetTenant(ctx, appID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &AuthError{AppID: appID, Reason: "unknown app id"}
	}
	if err != nil {
		return nil, fmt.Errorf("look up tenant: %w", err)
	}
	if !tenant.SecretMatches(secret) {
		return nil, &AuthError{AppID: appID, Reason: "secret mismatch"}
	}
	return tenant, nil
}

// existing returns the stored result for key, or nil when none exists.
func (s *Service) existing(ctx context.Context, key string) (*Result, error) {
	event, err := s.events.GetEventByIdempotencyKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check prior ingestion: %w", err)
	}
	return &Result{Report: event.Analysis, EventID: event.ID, Duplicate: true}, nil
}

// staged returns a previously extracted report for key, so a retry after a
// failed append does not call the model again.
func (s *Service) staged(ctx context.Context, key string, log *slog.Logger) (*models.ReviewReport, json.RawMessage) {
	st, err := s.stages.GetStage(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("read ingestion stage", "error", err)
		}
		return nil, nil
	}
	if st.Status != models.StageExtracted || len(st.Analysis) == 0 {
		return nil, nil
	}
	report, err := schema.Validate(st.Analysis)
	if err != nil {
		log.Warn("staged analysis no longer validates, extracting again", "error", err)
		return nil, nil
	}
	log.Info("resuming from extracted stage")
	return report, st.Analysis
}

func (s *Service) saveStage(ctx context.Context, log *slog.Logger, st *models.IngestionStage) {
	if err := s.stages.SaveStage(ctx, st); err != nil {
		log.Warn("save ingestion stage", "status", st.Status, "error", err)
	}
}

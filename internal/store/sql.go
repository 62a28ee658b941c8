package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/prboard/internal/models"
)

//go:embed migrations/sqlite/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// dialect holds the statements that differ between backends. Everything else
// is portable SQL with ? placeholders.
type dialect struct {
	name              string
	migrationsTable   string
	upsertStage       string
	isUniqueViolation func(error) bool
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// Dialect returns the backend name ("sqlite" or "mysql").
func (s *SQLStore) Dialect() string {
	return s.dialect.name
}

// Migrate runs all embedded SQL migration files for the dialect in order.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.migrationsTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	dir := path.Join("migrations", s.dialect.name)
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		// The mysql driver runs one statement per Exec.
		for _, stmt := range splitStatements(string(data)) {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

func splitStatements(script string) []string {
	var stmts []string
	for _, part := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("test query: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// --- Tenants ---

func (s *SQLStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	t.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_auth_users (client_id, client_secret, anthropic_api_key, customer_slug, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.AppID, t.Secret, t.AnthropicAPIKey, string(t.Slug), t.CreatedAt,
	)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return fmt.Errorf("tenant %s already exists: %w", t.AppID, ErrDuplicate)
		}
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTenant(ctx context.Context, appID string) (*models.Tenant, error) {
	t := &models.Tenant{}
	var slug string
	err := s.db.QueryRowContext(ctx,
		`SELECT client_id, client_secret, anthropic_api_key, customer_slug, created_at
		FROM api_auth_users WHERE client_id = ?`, appID,
	).Scan(&t.AppID, &t.Secret, &t.AnthropicAPIKey, &slug, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", appID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	t.Slug = models.TenantSlug(slug)
	return t, nil
}

func (s *SQLStore) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id, client_secret, anthropic_api_key, customer_slug, created_at
		FROM api_auth_users ORDER BY client_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tenants []*models.Tenant
	for rows.Next() {
		t := &models.Tenant{}
		var slug string
		if err := rows.Scan(&t.AppID, &t.Secret, &t.AnthropicAPIKey, &slug, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		t.Slug = models.TenantSlug(slug)
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (s *SQLStore) DeleteTenant(ctx context.Context, appID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM api_auth_users WHERE client_id = ?", appID)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("tenant %s: %w", appID, ErrNotFound)
	}
	return nil
}

// --- Events ---

const eventColumns = `id, GITHUB_REPO_OWNER_NAME, GITHUB_EVENT_NAME, GITHUB_REPOSITORY, GITHUB_BRANCH,
	GITHUB_BASE_BRANCH, GITHUB_HEAD_BRANCH, GITHUB_PR_NUMBER, GITHUB_PR_LINK, GITHUB_RUN_ID,
	GITHUB_RUN_NUMBER, GITHUB_RUN_ATTEMPT, GITHUB_COMMENT_ID, CUSTOMER_SLUG, ANALYSIS_JSON,
	MARKDOWN_RES, IDEMPOTENCY_KEY, created_at, updated_at`

// AppendEvent inserts e and sets its ID and timestamps. A second event with
// the same idempotency key fails with ErrDuplicate.
func (s *SQLStore) AppendEvent(ctx context.Context, e *models.EventRecord) error {
	analysis, err := json.Marshal(e.Analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO github_events (GITHUB_REPO_OWNER_NAME, GITHUB_EVENT_NAME, GITHUB_REPOSITORY, GITHUB_BRANCH,
			GITHUB_BASE_BRANCH, GITHUB_HEAD_BRANCH, GITHUB_PR_NUMBER, GITHUB_PR_LINK, GITHUB_RUN_ID,
			GITHUB_RUN_NUMBER, GITHUB_RUN_ATTEMPT, GITHUB_COMMENT_ID, CUSTOMER_SLUG, ANALYSIS_JSON,
			MARKDOWN_RES, IDEMPOTENCY_KEY, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Owner, e.EventName, e.Repository, e.Branch,
		e.BaseBranch, e.HeadBranch, nullInt(e.PRNumber), nullString(e.PRLink), e.RunID,
		nullInt(e.RunNumber), nullInt(e.RunAttempt), e.CommentID, string(e.CustomerSlug), string(analysis),
		e.Markdown, e.IdempotencyKey, now, now,
	)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return fmt.Errorf("append event: %w", ErrDuplicate)
		}
		return fmt.Errorf("append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("append event: read id: %w", err)
	}
	e.ID = id
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

func (s *SQLStore) GetEvent(ctx context.Context, id int64) (*models.EventRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM github_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (s *SQLStore) GetEventByIdempotencyKey(ctx context.Context, key string) (*models.EventRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM github_events WHERE IDEMPOTENCY_KEY = ?`, key)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event with key %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get event by key: %w", err)
	}
	return e, nil
}

func (s *SQLStore) ListEvents(ctx context.Context, tenant models.TenantSlug, limit int) ([]*models.EventRecord, error) {
	query := `SELECT ` + eventColumns + ` FROM github_events`
	var args []any
	if tenant != "" {
		query += ` WHERE CUSTOMER_SLUG = ?`
		args = append(args, string(tenant))
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*models.EventRecord
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLStore) AggregateCounts(ctx context.Context, tenant models.TenantSlug) (*models.DashboardMetrics, error) {
	query := `SELECT COUNT(DISTINCT GITHUB_REPOSITORY), COUNT(*), COUNT(DISTINCT GITHUB_PR_NUMBER) FROM github_events`
	var args []any
	if tenant != "" {
		query += ` WHERE CUSTOMER_SLUG = ?`
		args = append(args, string(tenant))
	}

	m := &models.DashboardMetrics{}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&m.TotalUniqueRepos, &m.TotalRuns, &m.TotalUniquePRs); err != nil {
		return nil, fmt.Errorf("aggregate counts: %w", err)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.EventRecord, error) {
	e := &models.EventRecord{}
	var (
		owner, eventName, repo, branch, base, head sql.NullString
		prNumber, runNumber, runAttempt             sql.NullInt64
		prLink, runID, commentID, slug, markdown    sql.NullString
		analysis                                    []byte
	)
	err := row.Scan(&e.ID, &owner, &eventName, &repo, &branch,
		&base, &head, &prNumber, &prLink, &runID,
		&runNumber, &runAttempt, &commentID, &slug, &analysis,
		&markdown, &e.IdempotencyKey, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.Owner = owner.String
	e.EventName = eventName.String
	e.Repository = repo.String
	e.Branch = branch.String
	e.BaseBranch = base.String
	e.HeadBranch = head.String
	e.PRNumber = intPtr(prNumber)
	if prLink.Valid {
		e.PRLink = &prLink.String
	}
	e.RunID = runID.String
	e.RunNumber = intPtr(runNumber)
	e.RunAttempt = intPtr(runAttempt)
	e.CommentID = commentID.String
	e.CustomerSlug = models.TenantSlug(slug.String)
	e.Markdown = markdown.String

	if len(analysis) > 0 {
		var report models.ReviewReport
		if err := json.Unmarshal(analysis, &report); err != nil {
			return nil, fmt.Errorf("decode analysis for event %d: %w", e.ID, err)
		}
		e.Analysis = &report
	}
	return e, nil
}

// --- Ingestion stages ---

func (s *SQLStore) GetStage(ctx context.Context, key string) (*models.IngestionStage, error) {
	st := &models.IngestionStage{}
	var (
		slug, status string
		analysis     []byte
		eventID      sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT idempotency_key, customer_slug, status, analysis_json, event_id, error, created_at, updated_at
		FROM ingestion_stages WHERE idempotency_key = ?`, key,
	).Scan(&st.Key, &slug, &status, &analysis, &eventID, &st.Error, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stage %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get stage: %w", err)
	}
	st.CustomerSlug = models.TenantSlug(slug)
	st.Status = models.StageStatus(status)
	if len(analysis) > 0 {
		st.Analysis = json.RawMessage(analysis)
	}
	if eventID.Valid {
		id := eventID.Int64
		st.EventID = &id
	}
	return st, nil
}

// SaveStage inserts or advances a stage. A nil Analysis or EventID keeps the
// previously stored value.
func (s *SQLStore) SaveStage(ctx context.Context, st *models.IngestionStage) error {
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now

	var analysis any
	if len(st.Analysis) > 0 {
		analysis = string(st.Analysis)
	}
	var eventID any
	if st.EventID != nil {
		eventID = *st.EventID
	}

	_, err := s.db.ExecContext(ctx, s.dialect.upsertStage,
		st.Key, string(st.CustomerSlug), string(st.Status), analysis, eventID, st.Error, st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save stage: %w", err)
	}
	return nil
}

// --- helpers ---

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

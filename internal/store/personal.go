package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Project is a tracked monitoring project owned by a user
type Project struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Document is an analyzed file in a user's codex
type Document struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	ProjectID int64     `json:"project_id"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Summary   string    `json:"summary"`
	Analyzed  bool      `json:"analyzed"`
	CreatedAt time.Time `json:"created_at"`
}

// Decision is a recorded project decision
type Decision struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	ProjectID int64     `json:"project_id"`
	Title     string    `json:"title"`
	Rationale string    `json:"rationale"`
	CreatedAt time.Time `json:"created_at"`
}

// ListOptions are the shared filter/sort/paginate knobs for read queries
type ListOptions struct {
	Status  string // projects only
	Type    string // documents only
	Query   string // substring match on title/description
	SortBy  string // created_at, updated_at, title, priority
	Desc    bool
	Limit   int
	Offset  int
}

// PersonalStore is the embedded read store behind the personal-data agent.
// Writes happen out of band (the ingestion surface is a separate service);
// this side only needs filtered reads plus the seed helpers used in tests.
type PersonalStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewPersonalStore opens (and if needed creates) the sqlite database at path
func NewPersonalStore(path string) (*PersonalStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open personal store: %w", err)
	}

	s := &PersonalStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PersonalStore) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT DEFAULT '',
			status TEXT DEFAULT 'active',
			priority TEXT DEFAULT 'media',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_projects_user ON projects(user_id, status);`,

		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			project_id INTEGER DEFAULT 0,
			title TEXT NOT NULL,
			type TEXT DEFAULT 'audio',
			summary TEXT DEFAULT '',
			analyzed INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id, type);
		CREATE INDEX IF NOT EXISTS idx_documents_project ON documents(project_id);`,

		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			project_id INTEGER DEFAULT 0,
			title TEXT NOT NULL,
			rationale TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_user ON decisions(user_id);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database
func (s *PersonalStore) Close() error {
	return s.db.Close()
}

// projectSortColumns whitelists ORDER BY targets
var projectSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"title":      "title",
	"priority":   "priority",
}

func orderClause(opts ListOptions, def string) string {
	col, ok := projectSortColumns[opts.SortBy]
	if !ok {
		col = def
	}
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s", col, dir)
}

func limitClause(opts ListOptions) (string, []interface{}) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return " LIMIT ? OFFSET ?", []interface{}{limit, opts.Offset}
}

// Projects returns the user's projects honoring the list options
func (s *PersonalStore) Projects(ctx context.Context, userID string, opts ListOptions) ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, user_id, title, description, status, priority, created_at, updated_at FROM projects WHERE user_id = ?"
	args := []interface{}{userID}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, opts.Status)
	}
	if opts.Query != "" {
		query += " AND (title LIKE ? OR description LIKE ?)"
		pattern := "%" + opts.Query + "%"
		args = append(args, pattern, pattern)
	}
	query += orderClause(opts, "updated_at")
	lc, largs := limitClause(opts)
	query += lc
	args = append(args, largs...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("project query failed: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.UserID, &p.Title, &p.Description, &p.Status, &p.Priority, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("project scan failed: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Documents returns the user's documents honoring the list options
func (s *PersonalStore) Documents(ctx context.Context, userID string, opts ListOptions) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, user_id, project_id, title, type, summary, analyzed, created_at FROM documents WHERE user_id = ?"
	args := []interface{}{userID}
	if opts.Type != "" {
		query += " AND type = ?"
		args = append(args, opts.Type)
	}
	if opts.Query != "" {
		query += " AND (title LIKE ? OR summary LIKE ?)"
		pattern := "%" + opts.Query + "%"
		args = append(args, pattern, pattern)
	}
	query += orderClause(opts, "created_at")
	lc, largs := limitClause(opts)
	query += lc
	args = append(args, largs...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("document query failed: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.ProjectID, &d.Title, &d.Type, &d.Summary, &d.Analyzed, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("document scan failed: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Decisions returns a project's recorded decisions, newest first
func (s *PersonalStore) Decisions(ctx context.Context, userID string, projectID int64) ([]Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, user_id, project_id, title, rationale, created_at FROM decisions WHERE user_id = ?"
	args := []interface{}{userID}
	if projectID > 0 {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY created_at DESC LIMIT 50"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("decision query failed: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.ID, &d.UserID, &d.ProjectID, &d.Title, &d.Rationale, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("decision scan failed: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountProjects returns how many projects the user has per status
func (s *PersonalStore) CountProjects(ctx context.Context, userID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM projects WHERE user_id = ? GROUP BY status", userID)
	if err != nil {
		return nil, fmt.Errorf("project count failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// SeedProject inserts a project row. Used by the ingestion surface and tests.
func (s *PersonalStore) SeedProject(ctx context.Context, p Project) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := p.Status
	if status == "" {
		status = "active"
	}
	priority := p.Priority
	if priority == "" {
		priority = "media"
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO projects (user_id, title, description, status, priority) VALUES (?, ?, ?, ?, ?)",
		p.UserID, p.Title, p.Description, status, priority)
	if err != nil {
		return 0, fmt.Errorf("project insert failed: %w", err)
	}
	return res.LastInsertId()
}

// SeedDocument inserts a document row
func (s *PersonalStore) SeedDocument(ctx context.Context, d Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docType := d.Type
	if docType == "" {
		docType = "audio"
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (user_id, project_id, title, type, summary, analyzed) VALUES (?, ?, ?, ?, ?, ?)",
		d.UserID, d.ProjectID, d.Title, docType, d.Summary, d.Analyzed)
	if err != nil {
		return 0, fmt.Errorf("document insert failed: %w", err)
	}
	return res.LastInsertId()
}

// SeedDecision inserts a decision row
func (s *PersonalStore) SeedDecision(ctx context.Context, d Decision) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO decisions (user_id, project_id, title, rationale) VALUES (?, ?, ?, ?)",
		d.UserID, d.ProjectID, d.Title, d.Rationale)
	if err != nil {
		return 0, fmt.Errorf("decision insert failed: %w", err)
	}
	return res.LastInsertId()
}

// FilterRelevant keeps documents whose title or summary matches any query word
func FilterRelevant(docs []Document, query string) []Document {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return docs
	}
	var out []Document
	for _, d := range docs {
		text := strings.ToLower(d.Title + " " + d.Summary)
		for _, w := range words {
			if len(w) > 2 && strings.Contains(text, w) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

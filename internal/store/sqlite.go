package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlitedriver "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLite is a Store backed by a single sqlite database file.
type SQLite struct {
	db *gorm.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path and migrates
// the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlitedriver.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	return s.db.AutoMigrate(
		&projectRow{}, &agentRow{}, &sessionRow{}, &guestRow{},
		&threadRow{}, &threadMemberRow{}, &threadMessageRow{}, &poolConfigRow{},
	)
}

type projectRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Path      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (projectRow) TableName() string { return "projects" }

type agentRow struct {
	ID        string `gorm:"primaryKey"`
	ProjectID string `gorm:"index"`
	Name      string `gorm:"index"`
	Model     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (agentRow) TableName() string { return "agents" }

type sessionRow struct {
	ID             string `gorm:"primaryKey"`
	AgentID        *string
	ProjectID      string `gorm:"index"`
	TmuxSession    string
	Status         string `gorm:"index"`
	Activity       string
	LastActivityAt time.Time
	BusySince      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (sessionRow) TableName() string { return "sessions" }

type guestRow struct {
	ID          string `gorm:"primaryKey"`
	ProjectID   string `gorm:"index"`
	Name        string
	Description string
	TmuxSession string
	LastSeenAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (guestRow) TableName() string { return "guests" }

type threadRow struct {
	ID        string `gorm:"primaryKey"`
	ProjectID string `gorm:"index"`
	Kind      string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (threadRow) TableName() string { return "threads" }

type threadMemberRow struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	ThreadID string `gorm:"index"`
	Type     string
	AgentID  *string
}

func (threadMemberRow) TableName() string { return "thread_members" }

type threadMessageRow struct {
	ID            string `gorm:"primaryKey"`
	ThreadID      string `gorm:"index"`
	AuthorType    string
	AuthorAgentID *string
	Content       string
	CreatedAt     time.Time
	ReadAt        *time.Time
}

func (threadMessageRow) TableName() string { return "thread_messages" }

type poolConfigRow struct {
	ProjectID   string `gorm:"primaryKey"`
	Enabled     bool
	DelayMs     int64
	MaxWaitMs   int64
	MaxMessages int
	Separator   string
}

func (poolConfigRow) TableName() string { return "pool_configs" }

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *SQLite) GetProject(ctx context.Context, id string) (Project, error) {
	var row projectRow
	if err := s.db.WithContext(ctx).Take(&row, "id = ?", id).Error; err != nil {
		return Project{}, notFound(err, "get project")
	}
	return Project(row), nil
}

func (s *SQLite) ListProjects(ctx context.Context) ([]Project, error) {
	var rows []projectRow
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out := make([]Project, 0, len(rows))
	for _, r := range rows {
		out = append(out, Project(r))
	}
	return out, nil
}

func (s *SQLite) CreateProject(ctx context.Context, p Project) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(&projectRow{
		ID: p.ID, Name: p.Name, Path: p.Path, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}).Error; err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func agentFromRow(r agentRow) Agent {
	return Agent{ID: r.ID, ProjectID: r.ProjectID, Name: r.Name, Model: r.Model,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

func (s *SQLite) GetAgent(ctx context.Context, id string) (Agent, error) {
	var row agentRow
	if err := s.db.WithContext(ctx).Take(&row, "id = ?", id).Error; err != nil {
		return Agent{}, notFound(err, "get agent")
	}
	return agentFromRow(row), nil
}

func (s *SQLite) GetAgentByName(ctx context.Context, projectID, name string) (Agent, error) {
	var row agentRow
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND name = ?", projectID, name).
		Take(&row).Error
	if err != nil {
		return Agent{}, notFound(err, "get agent by name")
	}
	return agentFromRow(row), nil
}

func (s *SQLite) ListAgents(ctx context.Context, projectID string, page Page) ([]Agent, error) {
	q := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("name")
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}
	if page.Offset > 0 {
		q = q.Offset(page.Offset)
	}
	var rows []agentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	out := make([]Agent, 0, len(rows))
	for _, r := range rows {
		out = append(out, agentFromRow(r))
	}
	return out, nil
}

func (s *SQLite) CreateAgent(ctx context.Context, a Agent) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if err := s.db.WithContext(ctx).Create(&agentRow{
		ID: a.ID, ProjectID: a.ProjectID, Name: a.Name, Model: a.Model,
		CreatedAt: a.CreatedAt, UpdatedAt: now,
	}).Error; err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

func sessionFromRow(r sessionRow) Session {
	return Session{
		ID: r.ID, AgentID: r.AgentID, ProjectID: r.ProjectID, TmuxSession: r.TmuxSession,
		Status: SessionStatus(r.Status), Activity: ActivityState(r.Activity),
		LastActivityAt: r.LastActivityAt, BusySince: r.BusySince,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func rowFromSession(s Session) sessionRow {
	return sessionRow{
		ID: s.ID, AgentID: s.AgentID, ProjectID: s.ProjectID, TmuxSession: s.TmuxSession,
		Status: string(s.Status), Activity: string(s.Activity),
		LastActivityAt: s.LastActivityAt, BusySince: s.BusySince,
		CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
	}
}

func (s *SQLite) ListActiveSessions(ctx context.Context) ([]Session, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).
		Where("status = ?", string(SessionRunning)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	out := make([]Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, sessionFromRow(r))
	}
	return out, nil
}

func (s *SQLite) GetSession(ctx context.Context, id string) (Session, error) {
	var row sessionRow
	if err := s.db.WithContext(ctx).Take(&row, "id = ?", id).Error; err != nil {
		return Session{}, notFound(err, "get session")
	}
	return sessionFromRow(row), nil
}

func (s *SQLite) CreateSession(ctx context.Context, sess Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(rowFromSession(sess)).Error; err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateSession(ctx context.Context, sess Session) error {
	sess.UpdatedAt = time.Now().UTC()
	row := rowFromSession(sess)
	res := s.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", sess.ID).Updates(map[string]any{
		"agent_id":         row.AgentID,
		"status":           row.Status,
		"activity":         row.Activity,
		"last_activity_at": row.LastActivityAt,
		"busy_since":       row.BusySince,
		"updated_at":       row.UpdatedAt,
	})
	if res.Error != nil {
		return fmt.Errorf("update session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update session %s: %w", sess.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) DeleteSession(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&sessionRow{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func guestFromRow(r guestRow) Guest {
	return Guest{
		ID: r.ID, ProjectID: r.ProjectID, Name: r.Name, Description: r.Description,
		TmuxSession: r.TmuxSession, LastSeenAt: r.LastSeenAt,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func (s *SQLite) ListGuests(ctx context.Context, projectID string) ([]Guest, error) {
	var rows []guestRow
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("name").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list guests: %w", err)
	}
	out := make([]Guest, 0, len(rows))
	for _, r := range rows {
		out = append(out, guestFromRow(r))
	}
	return out, nil
}

func (s *SQLite) ListAllGuests(ctx context.Context) ([]Guest, error) {
	var rows []guestRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list all guests: %w", err)
	}
	out := make([]Guest, 0, len(rows))
	for _, r := range rows {
		out = append(out, guestFromRow(r))
	}
	return out, nil
}

func (s *SQLite) GetGuest(ctx context.Context, id string) (Guest, error) {
	var row guestRow
	if err := s.db.WithContext(ctx).Take(&row, "id = ?", id).Error; err != nil {
		return Guest{}, notFound(err, "get guest")
	}
	return guestFromRow(row), nil
}

func (s *SQLite) GetGuestByName(ctx context.Context, projectID, name string) (*Guest, error) {
	var row guestRow
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND LOWER(name) = ?", projectID, strings.ToLower(name)).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get guest by name: %w", err)
	}
	g := guestFromRow(row)
	return &g, nil
}

func (s *SQLite) GetGuestsByIDPrefix(ctx context.Context, prefix string) ([]Guest, error) {
	var rows []guestRow
	err := s.db.WithContext(ctx).
		Where(`id LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%").
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get guests by id prefix: %w", err)
	}
	out := make([]Guest, 0, len(rows))
	for _, r := range rows {
		out = append(out, guestFromRow(r))
	}
	return out, nil
}

func (s *SQLite) CreateGuest(ctx context.Context, g Guest) error {
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	if err := s.db.WithContext(ctx).Create(&guestRow{
		ID: g.ID, ProjectID: g.ProjectID, Name: g.Name, Description: g.Description,
		TmuxSession: g.TmuxSession, LastSeenAt: g.LastSeenAt,
		CreatedAt: g.CreatedAt, UpdatedAt: now,
	}).Error; err != nil {
		return fmt.Errorf("create guest: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteGuest(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&guestRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete guest: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete guest %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) GetThread(ctx context.Context, id string) (Thread, error) {
	var row threadRow
	if err := s.db.WithContext(ctx).Take(&row, "id = ?", id).Error; err != nil {
		return Thread{}, notFound(err, "get thread")
	}
	var memberRows []threadMemberRow
	if err := s.db.WithContext(ctx).Where("thread_id = ?", id).Find(&memberRows).Error; err != nil {
		return Thread{}, fmt.Errorf("get thread members: %w", err)
	}
	t := Thread{
		ID: row.ID, ProjectID: row.ProjectID, Kind: ThreadKind(row.Kind), Title: row.Title,
		CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
	for _, mr := range memberRows {
		t.Members = append(t.Members, ThreadMember{
			ThreadID: mr.ThreadID, Type: MemberType(mr.Type), AgentID: mr.AgentID,
		})
	}
	return t, nil
}

func (s *SQLite) CreateThread(ctx context.Context, t Thread) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&threadRow{
			ID: t.ID, ProjectID: t.ProjectID, Kind: string(t.Kind), Title: t.Title,
			CreatedAt: t.CreatedAt, UpdatedAt: now,
		}).Error; err != nil {
			return fmt.Errorf("create thread: %w", err)
		}
		for _, m := range t.Members {
			if err := tx.Create(&threadMemberRow{
				ThreadID: t.ID, Type: string(m.Type), AgentID: m.AgentID,
			}).Error; err != nil {
				return fmt.Errorf("create thread member: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLite) ListThreadsByProject(ctx context.Context, projectID string) ([]Thread, error) {
	var rows []threadRow
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	out := make([]Thread, 0, len(rows))
	for _, r := range rows {
		t, err := s.GetThread(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *SQLite) CreateThreadMessage(ctx context.Context, m ThreadMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&threadMessageRow{
		ID: m.ID, ThreadID: m.ThreadID, AuthorType: string(m.AuthorType),
		AuthorAgentID: m.AuthorAgentID, Content: m.Content,
		CreatedAt: m.CreatedAt, ReadAt: m.ReadAt,
	}).Error; err != nil {
		return fmt.Errorf("create thread message: %w", err)
	}
	return nil
}

func (s *SQLite) ListThreadMessages(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	var rows []threadMessageRow
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list thread messages: %w", err)
	}
	out := make([]ThreadMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, ThreadMessage{
			ID: r.ID, ThreadID: r.ThreadID, AuthorType: MemberType(r.AuthorType),
			AuthorAgentID: r.AuthorAgentID, Content: r.Content,
			CreatedAt: r.CreatedAt, ReadAt: r.ReadAt,
		})
	}
	return out, nil
}

func (s *SQLite) MarkThreadMessageRead(ctx context.Context, messageID string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&threadMessageRow{}).
		Where("id = ?", messageID).
		Update("read_at", &now)
	if res.Error != nil {
		return fmt.Errorf("mark message read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark message %s read: %w", messageID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) GetMessagePoolConfig(ctx context.Context, projectID string) (PoolConfig, error) {
	var row poolConfigRow
	err := s.db.WithContext(ctx).Take(&row, "project_id = ?", projectID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DefaultPoolConfig(), nil
		}
		return PoolConfig{}, fmt.Errorf("get pool config: %w", err)
	}
	return PoolConfig{
		Enabled:     row.Enabled,
		Delay:       time.Duration(row.DelayMs) * time.Millisecond,
		MaxWait:     time.Duration(row.MaxWaitMs) * time.Millisecond,
		MaxMessages: row.MaxMessages,
		Separator:   row.Separator,
	}, nil
}

func (s *SQLite) SetMessagePoolConfig(ctx context.Context, projectID string, cfg PoolConfig) error {
	row := poolConfigRow{
		ProjectID:   projectID,
		Enabled:     cfg.Enabled,
		DelayMs:     cfg.Delay.Milliseconds(),
		MaxWaitMs:   cfg.MaxWait.Milliseconds(),
		MaxMessages: cfg.MaxMessages,
		Separator:   cfg.Separator,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("set pool config: %w", err)
	}
	return nil
}

// escapeLike escapes LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// Package store persists categories, messages and finished task history in
// SQLite through gorm, using the pure-Go modernc driver.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned for unknown category or message ids.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalid is returned for records missing required fields.
	ErrInvalid = errors.New("store: invalid record")
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store is the session database.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and syncs the schema.
func Open(path string) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway, and an in-memory
	// database exists per connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	for _, pragma := range []string{`PRAGMA busy_timeout=5000;`, `PRAGMA foreign_keys=ON;`} {
		if err := gdb.Exec(pragma).Error; err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	if path != MemoryPath {
		if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}

	if err := syncSchema(gdb); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sync schema: %w", err)
	}
	return &Store{db: gdb, now: time.Now}, nil
}

func syncSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(&categoryRow{}, &messageRow{}, &taskRow{}); err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_messages_category_seq ON messages(category_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_task_history_category_completed ON task_history(category_id, completed_at DESC);`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ListCategories returns every category in display order with its messages.
func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	var cats []categoryRow
	if err := s.db.WithContext(ctx).Order("sort_order ASC, created_at ASC").Find(&cats).Error; err != nil {
		return nil, err
	}
	var msgs []messageRow
	if err := s.db.WithContext(ctx).Order("seq ASC").Find(&msgs).Error; err != nil {
		return nil, err
	}

	byCategory := make(map[string][]Message, len(cats))
	for i := range msgs {
		byCategory[msgs[i].CategoryID] = append(byCategory[msgs[i].CategoryID], msgs[i].view())
	}
	out := make([]Category, 0, len(cats))
	for i := range cats {
		out = append(out, cats[i].view(byCategory[cats[i].ID]))
	}
	return out, nil
}

// GetCategory returns one category with its messages.
func (s *Store) GetCategory(ctx context.Context, id string) (Category, error) {
	var row categoryRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Category{}, ErrNotFound
	}
	if err != nil {
		return Category{}, err
	}
	msgs, err := s.messages(ctx, id)
	if err != nil {
		return Category{}, err
	}
	return row.view(msgs), nil
}

func (s *Store) messages(ctx context.Context, categoryID string) ([]Message, error) {
	var rows []messageRow
	if err := s.db.WithContext(ctx).Where("category_id = ?", categoryID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].view())
	}
	return out, nil
}

// CreateCategory stores c. A missing id is generated; creating an id that
// already exists replaces its metadata, so client retries are harmless.
func (s *Store) CreateCategory(ctx context.Context, c Category) (Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return Category{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ActiveProvider == "" {
		c.ActiveProvider = "conversational"
	}
	now := s.now().UnixMilli()
	row := categoryRow{
		ID:             c.ID,
		Name:           c.Name,
		SortOrder:      c.Order,
		ActiveProvider: c.ActiveProvider,
		DirectoryPath:  c.DirectoryPath,
		ProjectContext: c.ProjectContext,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "sort_order", "active_provider", "directory_path", "project_context", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return Category{}, err
	}
	return s.GetCategory(ctx, c.ID)
}

// UpdateCategory applies patch to category id.
func (s *Store) UpdateCategory(ctx context.Context, id string, patch CategoryPatch) (Category, error) {
	updates := map[string]any{"updated_at": s.now().UnixMilli()}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return Category{}, fmt.Errorf("%w: name is required", ErrInvalid)
		}
		updates["name"] = name
	}
	if patch.Order != nil {
		updates["sort_order"] = *patch.Order
	}
	if patch.ActiveProvider != nil {
		updates["active_provider"] = *patch.ActiveProvider
	}
	if patch.DirectoryPath != nil {
		updates["directory_path"] = *patch.DirectoryPath
	}
	if patch.ProjectContext != nil {
		updates["project_context"] = *patch.ProjectContext
	}

	res := s.db.WithContext(ctx).Model(&categoryRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return Category{}, res.Error
	}
	if res.RowsAffected == 0 {
		return Category{}, ErrNotFound
	}
	return s.GetCategory(ctx, id)
}

// DeleteCategory removes a category and its messages.
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&categoryRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("category_id = ?", id).Delete(&messageRow{}).Error
	})
}

// Reorder assigns sort positions following ids. Unknown ids are ignored.
func (s *Store) Reorder(ctx context.Context, ids []string) error {
	now := s.now().UnixMilli()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, id := range ids {
			err := tx.Model(&categoryRow{}).Where("id = ?", id).
				Updates(map[string]any{"sort_order": i, "updated_at": now}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveMessage creates m, or replaces the text, source and pending flag of
// an existing message with the same id.
func (s *Store) SaveMessage(ctx context.Context, categoryID string, m Message) (Message, error) {
	if m.Role != "user" && m.Role != "assistant" {
		return Message{}, fmt.Errorf("%w: role must be user or assistant", ErrInvalid)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&categoryRow{}).Where("id = ?", categoryID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		row := messageRow{
			ID:         m.ID,
			CategoryID: categoryID,
			Role:       m.Role,
			Text:       m.Text,
			Source:     m.Source,
			Pending:    m.Pending,
			CreatedAt:  millis(m.CreatedAt),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"text", "source", "pending"}),
		}).Create(&row).Error
	})
	if err != nil {
		return Message{}, err
	}
	m.CreatedAt = fromMillis(millis(m.CreatedAt))
	return m, nil
}

// DeleteMessage removes one message.
func (s *Store) DeleteMessage(ctx context.Context, categoryID, messageID string) error {
	res := s.db.WithContext(ctx).Where("category_id = ? AND id = ?", categoryID, messageID).Delete(&messageRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordTask stores a finished task. Recording the same id twice keeps the latest.
func (s *Store) RecordTask(ctx context.Context, r TaskRecord) error {
	if r.ID == "" || r.CategoryID == "" {
		return fmt.Errorf("%w: task id and category are required", ErrInvalid)
	}
	row := taskRow{
		ID:          r.ID,
		CategoryID:  r.CategoryID,
		Type:        r.Type,
		Status:      r.Status,
		Result:      r.Result,
		Error:       r.Error,
		CreatedAt:   millis(r.CreatedAt),
		StartedAt:   millis(r.StartedAt),
		CompletedAt: millis(r.CompletedAt),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// ListTasks returns the newest finished tasks of a category.
func (s *Store) ListTasks(ctx context.Context, categoryID string, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []taskRow
	err := s.db.WithContext(ctx).Where("category_id = ?", categoryID).
		Order("completed_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]TaskRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].view())
	}
	return out, nil
}

// PruneTasks deletes task history completed before cutoff.
func (s *Store) PruneTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("completed_at < ?", cutoff.UnixMilli()).Delete(&taskRow{})
	return res.RowsAffected, res.Error
}

package store

import "time"

// categoryRow is the categories table.
type categoryRow struct {
	ID             string `gorm:"column:id;primaryKey"`
	Name           string `gorm:"column:name;not null;default:''"`
	SortOrder      int    `gorm:"column:sort_order;not null;default:0"`
	ActiveProvider string `gorm:"column:active_provider;not null;default:'conversational'"`
	DirectoryPath  string `gorm:"column:directory_path;not null;default:''"`
	ProjectContext string `gorm:"column:project_context;not null;default:''"`
	CreatedAt      int64  `gorm:"column:created_at;not null;default:0"`
	UpdatedAt      int64  `gorm:"column:updated_at;not null;default:0"`
}

func (categoryRow) TableName() string { return "categories" }

// messageRow is the messages table. Seq keeps insertion order stable when
// two messages share a timestamp.
type messageRow struct {
	Seq        int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	ID         string `gorm:"column:id;uniqueIndex;not null"`
	CategoryID string `gorm:"column:category_id;index;not null"`
	Role       string `gorm:"column:role;not null"`
	Text       string `gorm:"column:text;not null;default:''"`
	Source     string `gorm:"column:source;not null;default:''"`
	Pending    bool   `gorm:"column:pending;not null;default:false"`
	CreatedAt  int64  `gorm:"column:created_at;not null;default:0"`
}

func (messageRow) TableName() string { return "messages" }

// taskRow is finished task history.
type taskRow struct {
	ID          string `gorm:"column:id;primaryKey"`
	CategoryID  string `gorm:"column:category_id;index;not null"`
	Type        string `gorm:"column:type;not null"`
	Status      string `gorm:"column:status;not null"`
	Result      string `gorm:"column:result;not null;default:''"`
	Error       string `gorm:"column:error;not null;default:''"`
	CreatedAt   int64  `gorm:"column:created_at;not null;default:0"`
	StartedAt   int64  `gorm:"column:started_at;not null;default:0"`
	CompletedAt int64  `gorm:"column:completed_at;index;not null;default:0"`
}

func (taskRow) TableName() string { return "task_history" }

// Category is the API view of a category and its messages.
type Category struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Order          int       `json:"order"`
	Messages       []Message `json:"messages"`
	ActiveProvider string    `json:"activeProvider"`
	DirectoryPath  string    `json:"directoryPath,omitempty"`
	ProjectContext string    `json:"projectContext,omitempty"`
}

// Message is the API view of a message.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Source    string    `json:"source,omitempty"`
	Pending   bool      `json:"pending,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CategoryPatch is a metadata update. Nil fields are left unchanged.
type CategoryPatch struct {
	Name           *string `json:"name"`
	Order          *int    `json:"order"`
	ActiveProvider *string `json:"activeProvider"`
	DirectoryPath  *string `json:"directoryPath"`
	ProjectContext *string `json:"projectContext"`
}

// TaskRecord is one finished queue task.
type TaskRecord struct {
	ID          string    `json:"id"`
	CategoryID  string    `json:"categoryId"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
}

func (r *categoryRow) view(msgs []Message) Category {
	if msgs == nil {
		msgs = []Message{}
	}
	return Category{
		ID:             r.ID,
		Name:           r.Name,
		Order:          r.SortOrder,
		Messages:       msgs,
		ActiveProvider: r.ActiveProvider,
		DirectoryPath:  r.DirectoryPath,
		ProjectContext: r.ProjectContext,
	}
}

func (r *messageRow) view() Message {
	return Message{
		ID:        r.ID,
		Role:      r.Role,
		Text:      r.Text,
		Source:    r.Source,
		Pending:   r.Pending,
		CreatedAt: fromMillis(r.CreatedAt),
	}
}

func (r *taskRow) view() TaskRecord {
	return TaskRecord{
		ID:          r.ID,
		CategoryID:  r.CategoryID,
		Type:        r.Type,
		Status:      r.Status,
		Result:      r.Result,
		Error:       r.Error,
		CreatedAt:   fromMillis(r.CreatedAt),
		StartedAt:   fromMillis(r.StartedAt),
		CompletedAt: fromMillis(r.CompletedAt),
	}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

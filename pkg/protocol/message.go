// Package protocol defines the websocket vocabulary shared by the murmur client
// and server: JSON control frames, the WAV audio container that follows an
// audio_context frame, and the length-prefixed framing used by streamed synthesis.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of a control frame.
type MessageType string

const (
	// Client → Server
	TypeAudioContext       MessageType = "audio_context"        // Precedes one binary WAV frame
	TypeProviderRequest    MessageType = "provider_request"     // Free text for a provider
	TypeProviderContext    MessageType = "provider_context"     // History handed over on provider switch
	TypeTaskConfirm        MessageType = "task_confirm"         // Accept the pending plan
	TypeTaskDeny           MessageType = "task_deny"            // Reject the pending plan
	TypeTaskCancel         MessageType = "task_cancel"          // Cancel a queued or running task
	TypeQueueStatusRequest MessageType = "queue_status_request" // Ask for queue counts
	TypeQueueClear         MessageType = "queue_clear"          // Cancel every queued task
	TypeListDirectories    MessageType = "list_directories"     // List child directories
	TypeFindDirectory      MessageType = "find_directory"       // Fuzzy-find a directory
	TypeCollectContext     MessageType = "collect_context"      // Summarize the category directory
	TypeClassifyAction     MessageType = "classify_action"      // Intent classification of free text

	// Server → Client
	TypeTranscript           MessageType = "transcript"
	TypeConversationalReply  MessageType = "conversational_reply"
	TypeCodingReply          MessageType = "coding_reply"
	TypeLocalReply           MessageType = "local_reply"
	TypeTaskPlan             MessageType = "task_plan"
	TypeTaskStarted          MessageType = "task_started"
	TypeTaskFinished         MessageType = "task_finished"
	TypeTaskDenied           MessageType = "task_denied"
	TypeProviderError        MessageType = "provider_error"
	TypeDirectoryListing     MessageType = "directory_listing"
	TypeActionClassification MessageType = "action_classification"
	TypeProjectContext       MessageType = "project_context"
	TypeTaskQueued           MessageType = "task_queued"
	TypeTaskFailed           MessageType = "task_failed"
	TypeTaskCancelled        MessageType = "task_cancelled"
	TypeQueueStatus          MessageType = "queue_status"
	TypeQueueCleared         MessageType = "queue_cleared"
	TypeError                MessageType = "error" // Not scoped to a category

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the envelope for every control frame.
// CategoryID is empty for global-mode traffic and connection-level errors.
type Message struct {
	Type       MessageType     `json:"type"`
	Timestamp  int64           `json:"ts,omitempty"` // Unix milliseconds
	CategoryID string          `json:"categoryId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// WithCategory scopes the message to a category and returns it.
func (m *Message) WithCategory(categoryID string) *Message {
	m.CategoryID = categoryID
	return m
}

// ParseData unmarshals the message data into v.
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON control frame.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// Scoped reports whether messages of this type must carry a category id.
func (t MessageType) Scoped() bool {
	switch t {
	case TypeError, TypePing, TypePong, TypeAudioContext, TypeTranscript,
		TypeClassifyAction, TypeActionClassification:
		return false
	default:
		return true
	}
}

// =============================================================================
// Providers
// =============================================================================

// Provider names one of the AI backends a category can be routed to.
type Provider string

const (
	ProviderConversational Provider = "conversational"
	ProviderCoding         Provider = "coding"
	ProviderLocal          Provider = "local"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderConversational, ProviderCoding, ProviderLocal:
		return true
	}
	return false
}

// ReplyType returns the reply message type a provider answers with.
func (p Provider) ReplyType() MessageType {
	switch p {
	case ProviderCoding:
		return TypeCodingReply
	case ProviderLocal:
		return TypeLocalReply
	default:
		return TypeConversationalReply
	}
}

// IsReply reports whether t is one of the per-provider reply types.
func (t MessageType) IsReply() bool {
	return t == TypeConversationalReply || t == TypeCodingReply || t == TypeLocalReply
}

// RequestMode selects how the coding provider treats a request.
// The other providers ignore it.
type RequestMode string

const (
	ModeChat    RequestMode = "chat"    // Answer conversationally, no side effects
	ModePlan    RequestMode = "plan"    // Propose a plan and wait for confirm or deny
	ModeExecute RequestMode = "execute" // Run immediately
)

// =============================================================================
// Client → Server payloads
// =============================================================================

// AudioContextData describes the WAV frame that follows it.
type AudioContextData struct {
	Global         bool   `json:"global"`
	DirectoryPath  string `json:"directoryPath,omitempty"`
	ProjectContext string `json:"projectContext,omitempty"`
}

// Turn is one entry of conversation history.
type Turn struct {
	Role   string   `json:"role"` // "user" or "assistant"
	Text   string   `json:"text"`
	Source Provider `json:"source,omitempty"`
}

// ProviderRequestData asks a provider to answer text within a category.
type ProviderRequestData struct {
	Provider       Provider    `json:"provider"`
	Mode           RequestMode `json:"mode,omitempty"`
	Text           string      `json:"text"`
	History        []Turn      `json:"history,omitempty"`
	DirectoryPath  string      `json:"directoryPath,omitempty"`
	ProjectContext string      `json:"projectContext,omitempty"`
	MessageID      string      `json:"messageId,omitempty"`
}

// ProviderContextData seeds a provider session after a switch.
type ProviderContextData struct {
	Provider Provider `json:"provider"`
	History  []Turn   `json:"history"`
}

// TaskRefData names a task. An empty TaskID in task_cancel means the running task.
type TaskRefData struct {
	TaskID string `json:"taskId,omitempty"`
}

// DirectoryRequestData is shared by list_directories, find_directory and collect_context.
type DirectoryRequestData struct {
	Path       string `json:"path,omitempty"`
	Hint       string `json:"hint,omitempty"`
	ParentHint string `json:"parentHint,omitempty"`
}

// ClassifyActionData asks the server to classify free text into an app action.
type ClassifyActionData struct {
	Text    string `json:"text"`
	History []Turn `json:"history,omitempty"`
}

// =============================================================================
// Server → Client payloads
// =============================================================================

// TranscriptData carries recognized text for the preceding audio frame.
type TranscriptData struct {
	Text   string `json:"text"`
	Global bool   `json:"global"`
}

// ReplyData is a provider answer.
type ReplyData struct {
	Provider  Provider `json:"provider"`
	Text      string   `json:"text"`
	MessageID string   `json:"messageId,omitempty"`
	TaskID    string   `json:"taskId,omitempty"`
}

// TaskPlanData is a plan awaiting confirm or deny.
type TaskPlanData struct {
	TaskID string `json:"taskId"`
	Plan   string `json:"plan"`
	Prompt string `json:"prompt,omitempty"`
}

// TaskEventData describes a queue lifecycle transition. Position is the
// 1-based place behind the running task, so it also counts the tasks ahead;
// zero means the task started at once.
type TaskEventData struct {
	TaskID    string     `json:"taskId"`
	TaskType  string     `json:"taskType"`
	Status    string     `json:"status"`
	Position  int        `json:"position,omitempty"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

// ProviderErrorData reports a provider failure scoped to one category.
type ProviderErrorData struct {
	Provider Provider `json:"provider"`
	Error    string   `json:"error"`
	TaskID   string   `json:"taskId,omitempty"`
}

// RunningTaskData identifies the task currently running in a category.
type RunningTaskData struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// QueueStatusData holds per-state counts for one category.
type QueueStatusData struct {
	Queued      int              `json:"queued"`
	Running     int              `json:"running"`
	Completed   int              `json:"completed"`
	Failed      int              `json:"failed"`
	Cancelled   int              `json:"cancelled"`
	RunningTask *RunningTaskData `json:"running_task,omitempty"`
}

// QueueClearedData reports how many queued tasks were cancelled.
type QueueClearedData struct {
	Cancelled int `json:"cancelled"`
}

// DirectoryEntry is one listed or matched directory.
type DirectoryEntry struct {
	Path      string  `json:"path"`
	Name      string  `json:"name"`
	Score     float64 `json:"score,omitempty"`
	IsProject bool    `json:"isProject,omitempty"`
}

// DirectoryListingData answers list_directories and find_directory.
type DirectoryListingData struct {
	Path    string           `json:"path,omitempty"`
	Query   string           `json:"query,omitempty"`
	Entries []DirectoryEntry `json:"entries"`
}

// ProjectContextData is the cached summary of a category directory.
type ProjectContextData struct {
	DirectoryPath string `json:"directoryPath"`
	Summary       string `json:"summary"`
}

// ActionClassificationData is the classified intent of free text.
type ActionClassificationData struct {
	Text          string  `json:"text"`
	ActionType    string  `json:"actionType"`
	CategoryName  string  `json:"categoryName,omitempty"`
	DirectoryHint string  `json:"directoryHint,omitempty"`
	ParentHint    string  `json:"parentHint,omitempty"`
	NavigateAfter bool    `json:"navigateAfter,omitempty"`
	Confidence    float64 `json:"confidence"`
}

// Action types produced by classification.
const (
	ActionCreateCategory   = "create_category"
	ActionLinkDirectory    = "link_directory"
	ActionNavigateCategory = "navigate_category"
	ActionFindDirectory    = "find_directory"
	ActionListDirectories  = "list_directories"
	ActionQuestion         = "question"
)

// ErrorData is a connection-level error.
type ErrorData struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// =============================================================================
// Bidirectional payloads
// =============================================================================

// PingData contains ping information.
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains the pong response.
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}

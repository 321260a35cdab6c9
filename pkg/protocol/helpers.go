package protocol

import "time"

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// scoped builds a message for categoryID. Marshalling the payload structs in
// this package cannot fail, so the error is only surfaced for caller-built data.
func scoped(msgType MessageType, categoryID string, data any) (*Message, error) {
	msg, err := NewMessage(msgType, data)
	if err != nil {
		return nil, err
	}
	return msg.WithCategory(categoryID), nil
}

// NewAudioContextMessage announces the WAV frame that follows.
// An empty categoryID marks global (no category selected) audio.
func NewAudioContextMessage(categoryID, directoryPath, projectContext string) (*Message, error) {
	return scoped(TypeAudioContext, categoryID, AudioContextData{
		Global:         categoryID == "",
		DirectoryPath:  directoryPath,
		ProjectContext: projectContext,
	})
}

// NewTranscriptMessage creates a transcript for the audio of categoryID.
func NewTranscriptMessage(categoryID, text string) (*Message, error) {
	return scoped(TypeTranscript, categoryID, TranscriptData{
		Text:   text,
		Global: categoryID == "",
	})
}

// NewProviderRequestMessage creates a provider request.
func NewProviderRequestMessage(categoryID string, req ProviderRequestData) (*Message, error) {
	return scoped(TypeProviderRequest, categoryID, req)
}

// NewReplyMessage creates the provider-specific reply for a request.
func NewReplyMessage(categoryID string, reply ReplyData) (*Message, error) {
	return scoped(reply.Provider.ReplyType(), categoryID, reply)
}

// NewProviderErrorMessage reports a provider failure.
func NewProviderErrorMessage(categoryID string, provider Provider, taskID string, err error) (*Message, error) {
	return scoped(TypeProviderError, categoryID, ProviderErrorData{
		Provider: provider,
		Error:    err.Error(),
		TaskID:   taskID,
	})
}

// NewTaskPlanMessage proposes a plan.
func NewTaskPlanMessage(categoryID, taskID, plan, prompt string) (*Message, error) {
	return scoped(TypeTaskPlan, categoryID, TaskPlanData{TaskID: taskID, Plan: plan, Prompt: prompt})
}

// NewTaskRefMessage creates task_confirm, task_deny, task_cancel or task_denied.
func NewTaskRefMessage(msgType MessageType, categoryID, taskID string) (*Message, error) {
	return scoped(msgType, categoryID, TaskRefData{TaskID: taskID})
}

// NewTaskEventMessage creates one of the queue lifecycle messages.
func NewTaskEventMessage(msgType MessageType, categoryID string, ev TaskEventData) (*Message, error) {
	return scoped(msgType, categoryID, ev)
}

// NewQueueStatusMessage reports queue counts.
func NewQueueStatusMessage(categoryID string, status QueueStatusData) (*Message, error) {
	return scoped(TypeQueueStatus, categoryID, status)
}

// NewQueueClearedMessage reports a cleared queue.
func NewQueueClearedMessage(categoryID string, cancelled int) (*Message, error) {
	return scoped(TypeQueueCleared, categoryID, QueueClearedData{Cancelled: cancelled})
}

// NewErrorMessage creates a connection-level error.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Code: code, Message: message})
}

// NewPingMessage creates a ping message.
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message.
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// Decode unmarshals the payload of m into a new T.
func Decode[T any](m *Message) (*T, error) {
	var data T
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetTranscriptData extracts transcript data from a message.
func (m *Message) GetTranscriptData() (*TranscriptData, error) {
	return Decode[TranscriptData](m)
}

// GetReplyData extracts a provider reply from a message.
func (m *Message) GetReplyData() (*ReplyData, error) {
	return Decode[ReplyData](m)
}

// GetProviderRequestData extracts a provider request from a message.
func (m *Message) GetProviderRequestData() (*ProviderRequestData, error) {
	return Decode[ProviderRequestData](m)
}

// GetAudioContextData extracts the audio context from a message.
func (m *Message) GetAudioContextData() (*AudioContextData, error) {
	return Decode[AudioContextData](m)
}

// GetTaskEventData extracts a queue lifecycle event from a message.
func (m *Message) GetTaskEventData() (*TaskEventData, error) {
	return Decode[TaskEventData](m)
}

// GetPingData extracts ping data from a message.
func (m *Message) GetPingData() (*PingData, error) {
	return Decode[PingData](m)
}

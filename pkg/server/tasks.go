package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-murmur/pkg/protocol"
	"github.com/teslashibe/go-murmur/pkg/provider"
	"github.com/teslashibe/go-murmur/pkg/store"
	"github.com/teslashibe/go-murmur/pkg/taskqueue"
)

// Task types.
const (
	TaskConversational = "conversational_request"
	TaskLocal          = "local_request"
	TaskCodingChat     = "coding_request"
	TaskCodingPlan     = "coding_plan"
	TaskCodingExecute  = "coding_execute"
)

// TaskType maps a provider request to the queue task type that serves it.
func TaskType(p protocol.Provider, mode protocol.RequestMode) string {
	switch p {
	case protocol.ProviderLocal:
		return TaskLocal
	case protocol.ProviderCoding:
		switch mode {
		case protocol.ModePlan:
			return TaskCodingPlan
		case protocol.ModeExecute:
			return TaskCodingExecute
		}
		return TaskCodingChat
	}
	return TaskConversational
}

// job is the payload of every queued task. Events are routed back to the
// connection that enqueued it.
type job struct {
	conn      *Conn
	req       *provider.Request
	messageID string

	// planID is set for executions of a confirmed plan.
	planID string
}

func (s *Server) runTask(ctx context.Context, t taskqueue.Task) (string, error) {
	j, ok := t.Payload.(*job)
	if !ok {
		return "", fmt.Errorf("task %s: unexpected payload %T", t.ID, t.Payload)
	}

	start := time.Now()
	result, err := s.serve(ctx, t, j)

	name := string(j.req.Provider)
	switch {
	case err == nil:
		s.metrics.ProviderRequests.WithLabelValues(name, t.Type, outcomeOK).Inc()
	case ctx.Err() != nil:
		s.metrics.ProviderRequests.WithLabelValues(name, t.Type, outcomeCancelled).Inc()
		return "", ctx.Err()
	default:
		s.metrics.ProviderRequests.WithLabelValues(name, t.Type, outcomeError).Inc()
	}
	s.metrics.ProviderLatency.WithLabelValues(name, t.Type).Observe(time.Since(start).Seconds())
	return result, err
}

func (s *Server) serve(ctx context.Context, t taskqueue.Task, j *job) (string, error) {
	switch t.Type {
	case TaskCodingPlan:
		if s.cfg.Coding == nil {
			return "", s.providerError(j, t.ID, codingUnavailable())
		}
		plan, err := s.cfg.Coding.Plan(ctx, t.ID, j.req)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			return "", s.providerError(j, t.ID, err)
		}
		s.reply(j, func() (*protocol.Message, error) {
			return protocol.NewTaskPlanMessage(t.CategoryID, plan.ID, plan.Text, plan.Prompt)
		})
		return plan.Text, nil

	case TaskCodingExecute:
		// Failures surface as task_failed, so no provider_error here.
		if s.cfg.Coding == nil {
			return "", codingUnavailable()
		}
		if j.planID != "" {
			return s.cfg.Coding.Execute(ctx, j.planID)
		}
		return s.cfg.Coding.Run(ctx, j.req)

	default:
		text, err := s.cfg.Providers.Respond(ctx, j.req)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			return "", s.providerError(j, t.ID, err)
		}
		s.reply(j, func() (*protocol.Message, error) {
			return protocol.NewReplyMessage(t.CategoryID, protocol.ReplyData{
				Provider:  j.req.Provider,
				Text:      text,
				MessageID: j.messageID,
				TaskID:    t.ID,
			})
		})
		return text, nil
	}
}

func codingUnavailable() error {
	return provider.Wrap(protocol.ProviderCoding, "request", provider.ErrProviderUnavailable)
}

// providerError tells the client about err and returns it.
func (s *Server) providerError(j *job, taskID string, err error) error {
	s.logger.Warn("provider failed",
		"provider", j.req.Provider,
		"category", j.req.CategoryID,
		"task_id", taskID,
		"error", err)
	s.reply(j, func() (*protocol.Message, error) {
		return protocol.NewProviderErrorMessage(j.req.CategoryID, j.req.Provider, taskID, errors.New(provider.Message(err)))
	})
	return err
}

func (s *Server) reply(j *job, build func() (*protocol.Message, error)) {
	msg, err := build()
	if err != nil {
		s.logger.Error("build reply", "error", err)
		return
	}
	s.hub.Send(j.conn, msg)
}

// onTaskEvent records finished tasks and forwards lifecycle events to the
// connection that owns the task. Completion and failure of chat and plan
// tasks are already reported by their reply or provider_error.
func (s *Server) onTaskEvent(ev taskqueue.Event) {
	s.metrics.QueueEvents.WithLabelValues(string(ev.Kind)).Inc()
	t := ev.Task

	if t.Status.Terminal() {
		err := s.cfg.Store.RecordTask(context.Background(), store.TaskRecord{
			ID:          t.ID,
			CategoryID:  t.CategoryID,
			Type:        t.Type,
			Status:      string(t.Status),
			Result:      t.Result,
			Error:       t.Error,
			CreatedAt:   t.CreatedAt,
			StartedAt:   t.StartedAt,
			CompletedAt: t.CompletedAt,
		})
		if err != nil {
			s.logger.Warn("record task", "task_id", t.ID, "error", err)
		}
	}

	j, ok := t.Payload.(*job)
	if !ok {
		return
	}

	data := protocol.TaskEventData{
		TaskID:   t.ID,
		TaskType: t.Type,
		Status:   string(t.Status),
	}
	if !t.StartedAt.IsZero() {
		started := t.StartedAt
		data.StartedAt = &started
	}

	var typ protocol.MessageType
	switch ev.Kind {
	case taskqueue.EventQueued:
		typ = protocol.TypeTaskQueued
		data.Position = ev.Position
	case taskqueue.EventStarted:
		typ = protocol.TypeTaskStarted
	case taskqueue.EventCancelled:
		typ = protocol.TypeTaskCancelled
	case taskqueue.EventCompleted:
		if t.Type != TaskCodingExecute {
			return
		}
		typ = protocol.TypeTaskFinished
		data.Result = t.Result
	case taskqueue.EventFailed:
		if t.Type != TaskCodingExecute {
			return
		}
		typ = protocol.TypeTaskFailed
		data.Error = t.Error
	default:
		return
	}

	s.reply(j, func() (*protocol.Message, error) {
		return protocol.NewTaskEventMessage(typ, t.CategoryID, data)
	})
}

// queueStatus converts a queue report to its wire form.
func queueStatus(r taskqueue.Report) protocol.QueueStatusData {
	out := protocol.QueueStatusData{
		Queued:    r.Queued,
		Running:   r.Running,
		Completed: r.Completed,
		Failed:    r.Failed,
		Cancelled: r.Cancelled,
	}
	if rt := r.RunningTask; rt != nil {
		out.RunningTask = &protocol.RunningTaskData{ID: rt.ID, Type: rt.Type}
		if !rt.StartedAt.IsZero() {
			started := rt.StartedAt
			out.RunningTask.StartedAt = &started
		}
	}
	return out
}

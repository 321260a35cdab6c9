package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/teslashibe/go-murmur/pkg/intent"
	"github.com/teslashibe/go-murmur/pkg/protocol"
	"github.com/teslashibe/go-murmur/pkg/provider"
	"github.com/teslashibe/go-murmur/pkg/taskqueue"
	"github.com/teslashibe/go-murmur/pkg/workspace"
)

// classifyTimeout bounds one intent classification.
const classifyTimeout = 30 * time.Second

// handleMessage processes a control frame from a client.
func (s *Server) handleMessage(c *Conn, msg *protocol.Message) {
	catID := msg.CategoryID

	switch msg.Type {
	case protocol.TypeProviderRequest:
		data, err := msg.GetProviderRequestData()
		if err != nil {
			s.badRequest(c, msg, err)
			return
		}
		s.enqueueRequest(c, catID, data)

	case protocol.TypeProviderContext:
		data, err := protocol.Decode[protocol.ProviderContextData](msg)
		if err != nil {
			s.badRequest(c, msg, err)
			return
		}
		if err := s.cfg.Providers.Seed(data.Provider, catID, data.History); err != nil {
			s.logger.Debug("seed skipped", "provider", data.Provider, "category", catID, "error", err)
			return
		}
		s.logger.Debug("provider seeded", "provider", data.Provider, "category", catID, "turns", len(data.History))

	case protocol.TypeTaskConfirm:
		s.confirmPlan(c, catID, taskRef(msg))

	case protocol.TypeTaskDeny:
		s.denyPlan(c, catID, taskRef(msg))

	case protocol.TypeTaskCancel:
		s.cancelTask(c, catID, taskRef(msg))

	case protocol.TypeQueueStatusRequest:
		s.send(c, func() (*protocol.Message, error) {
			return protocol.NewQueueStatusMessage(catID, queueStatus(s.queue.Status(catID)))
		})

	case protocol.TypeQueueClear:
		n := s.queue.Clear(catID)
		s.send(c, func() (*protocol.Message, error) {
			return protocol.NewQueueClearedMessage(catID, n)
		})

	case protocol.TypeListDirectories:
		data, err := protocol.Decode[protocol.DirectoryRequestData](msg)
		if err != nil {
			s.badRequest(c, msg, err)
			return
		}
		path, entries, err := s.cfg.Workspace.ListUnder(data.Path, data.ParentHint)
		if err != nil {
			s.hub.sendError(c, "list_failed", err.Error())
			return
		}
		s.sendListing(c, catID, protocol.DirectoryListingData{Path: path, Entries: entries})

	case protocol.TypeFindDirectory:
		data, err := protocol.Decode[protocol.DirectoryRequestData](msg)
		if err != nil {
			s.badRequest(c, msg, err)
			return
		}
		entries, err := s.cfg.Workspace.Find(data.Hint, data.ParentHint)
		if err != nil {
			s.hub.sendError(c, "find_failed", err.Error())
			return
		}
		s.sendListing(c, catID, protocol.DirectoryListingData{Query: data.Hint, Entries: entries})

	case protocol.TypeCollectContext:
		data, err := protocol.Decode[protocol.DirectoryRequestData](msg)
		if err != nil {
			s.badRequest(c, msg, err)
			return
		}
		go s.collectContext(c, catID, data.Path)

	case protocol.TypeClassifyAction:
		data, err := protocol.Decode[protocol.ClassifyActionData](msg)
		if err != nil {
			s.badRequest(c, msg, err)
			return
		}
		go s.classify(c, catID, data)

	default:
		s.hub.sendError(c, "unknown_type", "unsupported message type: "+string(msg.Type))
	}
}

func taskRef(msg *protocol.Message) string {
	ref, err := protocol.Decode[protocol.TaskRefData](msg)
	if err != nil {
		return ""
	}
	return ref.TaskID
}

func (s *Server) badRequest(c *Conn, msg *protocol.Message, err error) {
	s.logger.Warn("bad payload", "conn", c.ID, "type", msg.Type, "error", err)
	s.hub.sendError(c, "bad_payload", string(msg.Type)+": "+err.Error())
}

func (s *Server) send(c *Conn, build func() (*protocol.Message, error)) {
	msg, err := build()
	if err != nil {
		s.logger.Error("build message", "error", err)
		return
	}
	s.hub.Send(c, msg)
}

func (s *Server) enqueueRequest(c *Conn, catID string, data *protocol.ProviderRequestData) {
	switch {
	case catID == "":
		s.hub.sendError(c, "missing_category", "provider_request needs a category")
		return
	case !data.Provider.Valid():
		s.hub.sendError(c, "invalid_provider", "unknown provider: "+string(data.Provider))
		return
	case strings.TrimSpace(data.Text) == "":
		s.hub.sendError(c, "empty_text", "provider_request has no text")
		return
	}

	req := provider.RequestFrom(catID, data)
	taskType := TaskType(data.Provider, data.Mode)
	task, position, err := s.queue.Enqueue(catID, taskType, &job{conn: c, req: req, messageID: data.MessageID})
	if err != nil {
		s.hub.sendError(c, "enqueue_failed", err.Error())
		return
	}
	s.logger.Debug("request queued",
		"task_id", task.ID,
		"category", catID,
		"type", taskType,
		"position", position)
}

func (s *Server) confirmPlan(c *Conn, catID, planID string) {
	if s.cfg.Coding == nil {
		s.codingError(c, catID, planID, codingUnavailable())
		return
	}
	plan, err := s.cfg.Coding.Confirm(planID)
	if err != nil {
		s.codingError(c, catID, planID, err)
		return
	}
	req := &provider.Request{
		Provider:      protocol.ProviderCoding,
		Mode:          protocol.ModeExecute,
		CategoryID:    plan.CategoryID,
		Text:          plan.Prompt,
		DirectoryPath: plan.Dir,
	}
	if _, _, err := s.queue.Enqueue(catID, TaskCodingExecute, &job{conn: c, req: req, planID: plan.ID}); err != nil {
		s.hub.sendError(c, "enqueue_failed", err.Error())
	}
}

func (s *Server) denyPlan(c *Conn, catID, planID string) {
	if s.cfg.Coding == nil {
		s.codingError(c, catID, planID, codingUnavailable())
		return
	}
	if _, err := s.cfg.Coding.Deny(planID); err != nil {
		s.codingError(c, catID, planID, err)
		return
	}
	s.send(c, func() (*protocol.Message, error) {
		return protocol.NewTaskRefMessage(protocol.TypeTaskDenied, catID, planID)
	})
}

// cancelTask cancels a queued or running task. An empty id means the running
// task. A plan still awaiting approval is denied instead.
func (s *Server) cancelTask(c *Conn, catID, taskID string) {
	var err error
	if taskID == "" {
		_, err = s.queue.CancelRunning(catID)
	} else {
		_, err = s.queue.Cancel(taskID, catID)
	}
	if err == nil {
		return
	}

	if taskID != "" && s.cfg.Coding != nil {
		if p, ok := s.cfg.Coding.Plans().Get(taskID); ok && p.Status == provider.PlanPendingApproval {
			if _, err := s.cfg.Coding.Deny(taskID); err == nil {
				s.send(c, func() (*protocol.Message, error) {
					return protocol.NewTaskEventMessage(protocol.TypeTaskCancelled, catID, protocol.TaskEventData{
						TaskID:   taskID,
						TaskType: TaskCodingPlan,
						Status:   string(taskqueue.StatusCancelled),
					})
				})
				return
			}
		}
	}

	code := "cancel_failed"
	if errors.Is(err, taskqueue.ErrNoRunningTask) {
		code = "no_running_task"
	}
	s.hub.sendError(c, code, err.Error())
}

func (s *Server) codingError(c *Conn, catID, planID string, err error) {
	s.logger.Warn("plan action failed", "plan_id", planID, "error", err)
	s.send(c, func() (*protocol.Message, error) {
		return protocol.NewProviderErrorMessage(catID, protocol.ProviderCoding, planID, errors.New(provider.Message(err)))
	})
}

func (s *Server) sendListing(c *Conn, catID string, data protocol.DirectoryListingData) {
	if data.Entries == nil {
		data.Entries = []protocol.DirectoryEntry{}
	}
	s.send(c, func() (*protocol.Message, error) {
		msg, err := protocol.NewMessage(protocol.TypeDirectoryListing, data)
		if err != nil {
			return nil, err
		}
		return msg.WithCategory(catID), nil
	})
}

func (s *Server) collectContext(c *Conn, catID, path string) {
	if path == "" {
		s.hub.sendError(c, "missing_path", "collect_context needs a directory path")
		return
	}
	info, err := workspace.Describe(path)
	if err != nil {
		s.hub.sendError(c, "collect_failed", err.Error())
		return
	}
	s.send(c, func() (*protocol.Message, error) {
		msg, err := protocol.NewMessage(protocol.TypeProjectContext, protocol.ProjectContextData{
			DirectoryPath: info.Path,
			Summary:       info.Summary(),
		})
		if err != nil {
			return nil, err
		}
		return msg.WithCategory(catID), nil
	})
}

func (s *Server) classify(c *Conn, catID string, data *protocol.ClassifyActionData) {
	result := intent.Fallback(data.Text)
	if s.cfg.Classifier != nil {
		ctx, cancel := context.WithTimeout(c.Context(), classifyTimeout)
		var err error
		result, err = s.cfg.Classifier.Classify(ctx, data.Text, data.History)
		cancel()
		if err != nil {
			s.logger.Warn("classification fell back", "error", err)
		}
	}
	s.send(c, func() (*protocol.Message, error) {
		msg, err := protocol.NewMessage(protocol.TypeActionClassification, result)
		if err != nil {
			return nil, err
		}
		return msg.WithCategory(catID), nil
	})
}

// handleAudio transcribes one utterance on the connection's serial worker.
func (s *Server) handleAudio(c *Conn, audioCtx *protocol.Message, wav []byte) {
	catID := audioCtx.CategoryID
	if s.cfg.Transcriber == nil {
		s.hub.sendCategoryError(c, catID, "transcription_unavailable", "no transcriber configured")
		return
	}

	queued := c.Serial(func(ctx context.Context) {
		text, err := s.cfg.Transcriber.Transcribe(ctx, wav)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			s.metrics.Transcriptions.WithLabelValues(outcomeError).Inc()
			s.logger.Warn("transcription failed", "conn", c.ID, "category", catID, "error", err)
			s.hub.sendCategoryError(c, catID, "transcription_failed", err.Error())
			return
		case text == "":
			s.metrics.Transcriptions.WithLabelValues(outcomeEmpty).Inc()
		default:
			s.metrics.Transcriptions.WithLabelValues(outcomeOK).Inc()
		}
		s.send(c, func() (*protocol.Message, error) {
			return protocol.NewTranscriptMessage(catID, text)
		})
	})
	if !queued {
		s.logger.Warn("audio dropped, transcription backlog full", "conn", c.ID)
		s.hub.sendCategoryError(c, catID, "audio_dropped", "too many utterances awaiting transcription")
	}
}

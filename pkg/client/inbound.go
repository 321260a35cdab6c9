package client

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/teslashibe/go-murmur/pkg/command"
	"github.com/teslashibe/go-murmur/pkg/protocol"
	"github.com/teslashibe/go-murmur/pkg/session"
)

// onMessage handles one inbound control frame.
func (a *App) onMessage(ctx context.Context, msg *protocol.Message) {
	catID := msg.CategoryID
	if msg.Type.Scoped() && catID != "" {
		if _, ok := a.store.Get(catID); !ok {
			a.logger.Debug("message for unknown category", "type", msg.Type, "category", catID)
			return
		}
	}

	switch {
	case msg.Type == protocol.TypeTranscript:
		data, err := msg.GetTranscriptData()
		if err != nil {
			a.logger.Warn("bad transcript", "error", err)
			return
		}
		a.latency.MarkTranscript()
		a.onTranscript(ctx, catID, data.Text)

	case msg.Type.IsReply():
		data, err := msg.GetReplyData()
		if err != nil {
			a.logger.Warn("bad reply", "error", err)
			return
		}
		a.latency.MarkReply()
		a.onReply(ctx, catID, data)

	case msg.Type == protocol.TypeTaskPlan:
		data, err := protocol.Decode[protocol.TaskPlanData](msg)
		if err != nil {
			return
		}
		a.onPlan(ctx, catID, data)

	case msg.Type == protocol.TypeProviderError:
		data, err := protocol.Decode[protocol.ProviderErrorData](msg)
		if err != nil {
			return
		}
		a.logger.Warn("provider error", "category", catID, "provider", data.Provider, "error", data.Error)
		a.abandon(catID)
		a.speak(ctx, catID, fmt.Sprintf("Sorry, %s ran into a problem.", providerLabel(data.Provider)), "")

	case msg.Type == protocol.TypeTaskQueued, msg.Type == protocol.TypeTaskStarted,
		msg.Type == protocol.TypeTaskFinished, msg.Type == protocol.TypeTaskFailed,
		msg.Type == protocol.TypeTaskCancelled:
		data, err := msg.GetTaskEventData()
		if err != nil {
			return
		}
		a.onTaskEvent(ctx, catID, msg.Type, data)

	case msg.Type == protocol.TypeTaskDenied:
		a.console.Task(catID, "denied", "")
		a.speak(ctx, catID, "Plan discarded.", "")

	case msg.Type == protocol.TypeQueueStatus:
		data, err := protocol.Decode[protocol.QueueStatusData](msg)
		if err != nil {
			return
		}
		a.speak(ctx, catID, describeQueue(data), "")

	case msg.Type == protocol.TypeQueueCleared:
		data, err := protocol.Decode[protocol.QueueClearedData](msg)
		if err != nil {
			return
		}
		a.speak(ctx, catID, fmt.Sprintf("Cleared %s from the queue.", plural(data.Cancelled, "task")), "")

	case msg.Type == protocol.TypeDirectoryListing:
		data, err := protocol.Decode[protocol.DirectoryListingData](msg)
		if err != nil {
			return
		}
		a.onListing(ctx, catID, data)

	case msg.Type == protocol.TypeProjectContext:
		data, err := protocol.Decode[protocol.ProjectContextData](msg)
		if err != nil {
			return
		}
		_ = a.store.Update(catID, func(c *session.Category) { c.ProjectContext = data.Summary })
		a.speak(ctx, catID, "Project context collected.", "")

	case msg.Type == protocol.TypeActionClassification:
		data, err := protocol.Decode[protocol.ActionClassificationData](msg)
		if err != nil {
			return
		}
		a.onClassification(ctx, catID, data)

	case msg.Type == protocol.TypeError:
		data, _ := protocol.Decode[protocol.ErrorData](msg)
		if data != nil {
			a.logger.Warn("server error", "category", catID, "code", data.Code, "message", data.Message)
			a.console.Warn("server: " + data.Message)
		}
		// A failed utterance would otherwise leave its category processing.
		if _, ok := a.store.Get(catID); ok {
			a.abandon(catID)
		}

	case msg.Type == protocol.TypePong:
	default:
		a.logger.Debug("unhandled message", "type", msg.Type)
	}
}

// onTranscript routes recognized speech.
func (a *App) onTranscript(ctx context.Context, catID, text string) {
	if catID == "" {
		a.onGlobalTranscript(ctx, text)
		return
	}
	c, ok := a.store.Get(catID)
	if !ok {
		return
	}
	a.console.Transcript(c.Name, text)

	d := command.Classify(text, false, c.ActiveProvider)
	a.logger.Debug("transcript routed", "category", catID, "route", d.Route.String())

	switch d.Route {
	case command.RouteDiscard:
		a.dropPending(catID)

	case command.RouteCommand:
		a.dropPending(catID)
		a.execute(ctx, catID, d.Command)

	case command.RouteDirectAddress:
		a.setProvider(catID, protocol.ProviderCoding, false)
		if d.Text == "" {
			a.dropPending(catID)
			a.speak(ctx, catID, "Claude here.", "")
			return
		}
		a.request(ctx, catID, protocol.ProviderCoding, protocol.ModeChat, d.Text)

	case command.RouteModeExit:
		a.dropPending(catID)
		a.setProvider(catID, protocol.ProviderConversational, true)
		a.speak(ctx, catID, "Back to Gemini.", "")

	case command.RouteFreeText:
		if a.cfg.ClassifyFreeText {
			// The server echoes the category, so replies for several
			// categories can be in flight at once.
			if !a.send(scoped(protocol.TypeClassifyAction, catID, protocol.ClassifyActionData{
				Text:    d.Text,
				History: c.History(a.cfg.HistoryWindow),
			})) {
				a.abandon(catID)
				a.console.Warn("not connected, request dropped")
			}
			return
		}
		a.request(ctx, catID, c.ActiveProvider, protocol.ModeChat, d.Text)
	}
}

// onGlobalTranscript handles speech captured with no category selected:
// only category creation is understood.
func (a *App) onGlobalTranscript(ctx context.Context, text string) {
	a.console.Transcript("", text)
	d := command.Classify(text, true, "")
	switch d.Route {
	case command.RouteGlobalCreate:
		c, err := a.store.Create(d.Name)
		if err != nil {
			return
		}
		a.selectCategory(ctx, c.ID)
		a.notify(fmt.Sprintf("Created %s.", c.Name))
	case command.RouteGlobalPrompt:
		a.notify("Pick a category first, or say create a category called, and a name.")
	}
}

// request finalizes the user's message and sends it to a provider.
func (a *App) request(ctx context.Context, catID string, provider protocol.Provider, mode protocol.RequestMode, text string) {
	c, ok := a.store.Get(catID)
	if !ok {
		return
	}
	history := c.History(a.cfg.HistoryWindow)
	msgID := a.finalizePending(catID, text, "")

	ok = a.send(protocol.NewProviderRequestMessage(catID, protocol.ProviderRequestData{
		Provider:       provider,
		Mode:           mode,
		Text:           text,
		History:        history,
		DirectoryPath:  c.DirectoryPath,
		ProjectContext: c.ProjectContext,
		MessageID:      msgID,
	}))
	if !ok {
		a.setStatus(catID, session.StatusIdle, "")
		if a.thinkingCat == catID {
			a.stopThinking()
		}
		a.console.Warn("not connected, request dropped")
		return
	}
	a.setStatus(catID, session.StatusProcessing, "")
	if catID == a.store.SelectedID() && a.thinkingCat == "" {
		a.startThinking(ctx, catID)
	}
}

// abandon returns catID to idle after its request failed before a reply.
func (a *App) abandon(catID string) {
	a.dropPending(catID)
	if a.thinkingCat == catID {
		a.stopThinking()
	}
	a.setStatus(catID, session.StatusIdle, "")
}

func (a *App) onReply(ctx context.Context, catID string, data *protocol.ReplyData) {
	if a.thinkingCat == catID {
		a.player.StepThinking()
	}
	msg, err := a.store.AddMessage(catID, session.Message{
		Role:   session.RoleAssistant,
		Text:   data.Text,
		Source: data.Provider,
	})
	if err != nil {
		return
	}
	if c, ok := a.store.Get(catID); ok {
		a.console.Reply(c.Name, data.Provider, data.Text)
	}
	a.setStatus(catID, session.StatusIdle, "")
	a.speak(ctx, catID, data.Text, msg.ID)
}

func (a *App) onPlan(ctx context.Context, catID string, data *protocol.TaskPlanData) {
	msg, err := a.store.AddMessage(catID, session.Message{
		Role:   session.RoleAssistant,
		Text:   data.Plan,
		Source: protocol.ProviderCoding,
	})
	if err != nil {
		return
	}
	_ = a.store.Update(catID, func(c *session.Category) { c.PendingPlanID = data.TaskID })
	a.console.Task(catID, "plan "+data.TaskID, data.Plan)
	a.speak(ctx, catID, data.Plan+" Say accept to run it, or deny to drop it.", msg.ID)
}

func (a *App) onTaskEvent(ctx context.Context, catID string, typ protocol.MessageType, ev *protocol.TaskEventData) {
	a.console.Task(catID, string(typ)+" "+ev.TaskID, ev.Result+ev.Error)
	switch typ {
	case protocol.TypeTaskQueued:
		// Position counts the tasks ahead; zero means it starts right away.
		if ev.Position > 0 {
			a.speak(ctx, catID, fmt.Sprintf("Queued behind %s.", plural(ev.Position, "task")), "")
		}
	case protocol.TypeTaskFinished:
		if ev.Result == "" {
			a.speak(ctx, catID, "Task finished.", "")
			return
		}
		msg, err := a.store.AddMessage(catID, session.Message{
			Role:   session.RoleAssistant,
			Text:   ev.Result,
			Source: protocol.ProviderCoding,
		})
		if err == nil {
			a.speak(ctx, catID, ev.Result, msg.ID)
		}
	case protocol.TypeTaskFailed:
		a.speak(ctx, catID, "The task failed.", "")
	case protocol.TypeTaskCancelled:
		a.speak(ctx, catID, "Task cancelled.", "")
	}
}

func (a *App) onListing(ctx context.Context, catID string, data *protocol.DirectoryListingData) {
	if a.pendingFind[catID] {
		delete(a.pendingFind, catID)
		if len(data.Entries) == 0 {
			a.speak(ctx, catID, fmt.Sprintf("I couldn't find a folder like %s.", data.Query), "")
			return
		}
		best := data.Entries[0]
		_ = a.store.Update(catID, func(c *session.Category) {
			c.DirectoryPath = best.Path
			c.ProjectContext = ""
		})
		a.speak(ctx, catID, fmt.Sprintf("Linked to %s.", best.Name), "")
		return
	}

	if len(data.Entries) == 0 {
		a.speak(ctx, catID, "That folder has no subfolders.", "")
		return
	}
	names := make([]string, 0, len(data.Entries))
	for i, e := range data.Entries {
		if i == 8 {
			break
		}
		names = append(names, e.Name)
	}
	text := fmt.Sprintf("%s in %s: %s.", plural(len(data.Entries), "folder"), filepath.Base(data.Path), strings.Join(names, ", "))
	a.speak(ctx, catID, text, "")
}

func (a *App) onClassification(ctx context.Context, catID string, data *protocol.ActionClassificationData) {
	c, ok := a.store.Get(catID)
	if !ok {
		return
	}

	switch data.ActionType {
	case protocol.ActionCreateCategory:
		a.dropPending(catID)
		created, err := a.store.Create(command.TitleCase(data.CategoryName))
		if err != nil {
			a.speak(ctx, catID, "I didn't catch the name.", "")
			return
		}
		if data.NavigateAfter {
			a.selectCategory(ctx, created.ID)
		}
		a.notify(fmt.Sprintf("Created %s.", created.Name))
	case protocol.ActionNavigateCategory:
		a.dropPending(catID)
		a.execute(ctx, catID, command.Command{Kind: command.SwitchCategory, Name: data.CategoryName})
	case protocol.ActionLinkDirectory, protocol.ActionFindDirectory:
		a.dropPending(catID)
		a.findDirectory(catID, data.DirectoryHint, data.ParentHint)
	case protocol.ActionListDirectories:
		a.dropPending(catID)
		a.execute(ctx, catID, command.Command{Kind: command.ListDirectories, Path: data.DirectoryHint})
	default:
		a.request(ctx, catID, c.ActiveProvider, protocol.ModeChat, data.Text)
	}
}

func describeQueue(s *protocol.QueueStatusData) string {
	if s.Queued == 0 && s.Running == 0 {
		return "The queue is empty."
	}
	text := fmt.Sprintf("%s running, %s queued.", plural(s.Running, "task"), plural(s.Queued, "task"))
	if s.RunningTask != nil {
		text += fmt.Sprintf(" Running %s.", strings.ReplaceAll(s.RunningTask.Type, "_", " "))
	}
	return text
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	if strings.HasSuffix(noun, "y") {
		return fmt.Sprintf("%d %sies", n, strings.TrimSuffix(noun, "y"))
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func providerLabel(p protocol.Provider) string {
	switch p {
	case protocol.ProviderCoding:
		return "Claude"
	case protocol.ProviderLocal:
		return "the local model"
	default:
		return "Gemini"
	}
}

package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/teslashibe/go-murmur/pkg/command"
	"github.com/teslashibe/go-murmur/pkg/protocol"
	"github.com/teslashibe/go-murmur/pkg/session"
)

// execute applies a structured command issued in category catID.
func (a *App) execute(ctx context.Context, catID string, cmd command.Command) {
	c, ok := a.store.Get(catID)
	if !ok {
		return
	}
	a.logger.Info("command", "kind", cmd.Kind.String(), "category", catID)

	switch cmd.Kind {
	case command.SwitchCategory:
		target, ok := a.store.FindByName(cmd.Name)
		if !ok {
			a.speak(ctx, catID, fmt.Sprintf("I couldn't find %s.", cmd.Name), "")
			return
		}
		if target.ID == a.store.SelectedID() {
			a.speak(ctx, catID, fmt.Sprintf("You're already in %s.", target.Name), "")
			return
		}
		a.selectCategory(ctx, target.ID)
		a.notify(target.Name)

	case command.CreateCategory:
		created, err := a.store.Create(cmd.Name)
		if err != nil {
			return
		}
		a.selectCategory(ctx, created.ID)
		a.notify(fmt.Sprintf("Created %s.", created.Name))

	case command.SwitchProvider:
		if c.ActiveProvider == cmd.Provider {
			a.speak(ctx, catID, fmt.Sprintf("Already using %s.", providerLabel(cmd.Provider)), "")
			return
		}
		a.setProvider(catID, cmd.Provider, true)
		a.speak(ctx, catID, fmt.Sprintf("Switched to %s.", providerLabel(cmd.Provider)), "")

	case command.Escalate:
		history := c.History(a.cfg.HistoryWindow)
		if len(history) == 0 {
			a.speak(ctx, catID, "There's nothing to hand over yet.", "")
			return
		}
		a.setProvider(catID, protocol.ProviderCoding, false)
		a.send(protocol.NewProviderRequestMessage(catID, protocol.ProviderRequestData{
			Provider:       protocol.ProviderCoding,
			Mode:           protocol.ModePlan,
			Text:           escalationPrompt(history),
			History:        history,
			DirectoryPath:  c.DirectoryPath,
			ProjectContext: c.ProjectContext,
		}))
		a.setStatus(catID, session.StatusProcessing, "")
		a.speak(ctx, catID, "Handing this to Claude for a plan.", "")

	case command.AcceptPlan, command.DenyPlan:
		if c.PendingPlanID == "" {
			a.speak(ctx, catID, "There's no plan waiting.", "")
			return
		}
		typ, reply := protocol.TypeTaskConfirm, "Running the plan."
		if cmd.Kind == command.DenyPlan {
			typ, reply = protocol.TypeTaskDeny, ""
		}
		if !a.send(protocol.NewTaskRefMessage(typ, catID, c.PendingPlanID)) {
			a.speak(ctx, catID, "I'm not connected.", "")
			return
		}
		_ = a.store.Update(catID, func(c *session.Category) { c.PendingPlanID = "" })
		a.speak(ctx, catID, reply, "")

	case command.PlanTask, command.ExecuteTask:
		text := cmd.Text
		if text == "" {
			text = lastUserRequest(c)
		}
		if text == "" {
			a.speak(ctx, catID, "Tell me what the task is first.", "")
			return
		}
		mode := protocol.ModePlan
		if cmd.Kind == command.ExecuteTask {
			mode = protocol.ModeExecute
		}
		a.setProvider(catID, protocol.ProviderCoding, false)
		a.send(protocol.NewProviderRequestMessage(catID, protocol.ProviderRequestData{
			Provider:       protocol.ProviderCoding,
			Mode:           mode,
			Text:           text,
			History:        c.History(a.cfg.HistoryWindow),
			DirectoryPath:  c.DirectoryPath,
			ProjectContext: c.ProjectContext,
		}))
		a.setStatus(catID, session.StatusProcessing, "")

	case command.StatusQuery:
		a.speak(ctx, catID, describeCategory(c), "")
		a.send(scoped(protocol.TypeQueueStatusRequest, catID, nil))

	case command.CollectContext:
		if c.DirectoryPath == "" {
			a.speak(ctx, catID, "No folder is linked to this category.", "")
			return
		}
		a.send(scoped(protocol.TypeCollectContext, catID, protocol.DirectoryRequestData{Path: c.DirectoryPath}))

	case command.WipeContext:
		_ = a.store.ClearMessages(catID)
		_ = a.store.Update(catID, func(c *session.Category) {
			c.ProjectContext = ""
			c.PendingPlanID = ""
		})
		a.send(scoped(protocol.TypeProviderContext, catID, protocol.ProviderContextData{Provider: c.ActiveProvider}))
		a.speak(ctx, catID, "Context wiped.", "")

	case command.Repeat:
		replies := c.AssistantReplies()
		if cmd.Offset > len(replies) || cmd.Offset < 1 {
			a.speak(ctx, catID, fmt.Sprintf("I only have %s.", plural(len(replies), "message")), "")
			return
		}
		m := replies[len(replies)-cmd.Offset]
		a.speak(ctx, catID, m.Text, m.ID)

	case command.SetDirectory:
		a.findDirectory(catID, cmd.Path, "")

	case command.ListDirectories:
		path := cmd.Path
		if path == "" {
			path = c.DirectoryPath
		}
		a.send(scoped(protocol.TypeListDirectories, catID, protocol.DirectoryRequestData{Path: path}))

	case command.CancelTask:
		a.send(protocol.NewTaskRefMessage(protocol.TypeTaskCancel, catID, ""))

	case command.QueueStatus:
		a.send(scoped(protocol.TypeQueueStatusRequest, catID, nil))

	case command.ClearQueue:
		a.send(scoped(protocol.TypeQueueClear, catID, nil))

	case command.StopListening:
		a.stopListening(ctx)

	case command.StartListening:
		a.startListening(ctx, true)

	case command.SendNow:
		a.sendNow(ctx)

	case command.ListCategories:
		a.speak(ctx, catID, describeCategories(a.store.Snapshot()), "")

	case command.DeleteCategory:
		target := c
		if cmd.Name != "" {
			found, ok := a.store.FindByName(cmd.Name)
			if !ok {
				a.speak(ctx, catID, fmt.Sprintf("I couldn't find %s.", cmd.Name), "")
				return
			}
			target = found
		}
		if a.speakingCat == target.ID {
			a.player.Cancel()
			a.speakingCat = ""
		}
		if a.thinkingCat == target.ID {
			a.stopThinking()
		}
		wasSelected := target.ID == a.store.SelectedID()
		_ = a.store.Delete(target.ID)
		if wasSelected {
			a.console.Selected(session.Category{})
		}
		a.notify(fmt.Sprintf("Deleted %s.", target.Name))

	case command.RenameCategory:
		old := c.Name
		_ = a.store.Update(catID, func(c *session.Category) { c.Name = cmd.Name })
		a.speak(ctx, catID, fmt.Sprintf("Renamed %s to %s.", old, cmd.Name), "")
	}
}

// setProvider switches a category's provider. With handover the recent
// window is sent so the new provider's session picks up the conversation.
func (a *App) setProvider(catID string, p protocol.Provider, handover bool) {
	var history []protocol.Turn
	_ = a.store.Update(catID, func(c *session.Category) {
		c.ActiveProvider = p
		history = c.History(a.cfg.HistoryWindow)
	})
	a.console.Provider(catID, p)
	if handover && len(history) > 0 {
		a.send(scoped(protocol.TypeProviderContext, catID, protocol.ProviderContextData{Provider: p, History: history}))
	}
}

func (a *App) findDirectory(catID, hint, parent string) {
	if strings.TrimSpace(hint) == "" {
		return
	}
	if a.send(scoped(protocol.TypeFindDirectory, catID, protocol.DirectoryRequestData{Hint: hint, ParentHint: parent})) {
		a.pendingFind[catID] = true
	}
}

func scoped(typ protocol.MessageType, catID string, data any) (*protocol.Message, error) {
	msg, err := protocol.NewMessage(typ, data)
	if err != nil {
		return nil, err
	}
	return msg.WithCategory(catID), nil
}

// lastUserRequest is the most recent thing the user asked in c.
func lastUserRequest(c session.Category) string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if m := c.Messages[i]; m.Role == session.RoleUser && !m.Pending && m.Text != "" {
			return m.Text
		}
	}
	return ""
}

func escalationPrompt(history []protocol.Turn) string {
	var b strings.Builder
	b.WriteString("Continue this conversation as a coding task. Propose a plan for what the user wants.\n\n")
	for _, t := range history {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}
	return b.String()
}

func describeCategory(c session.Category) string {
	text := fmt.Sprintf("You're in %s, using %s.", c.Name, providerLabel(c.ActiveProvider))
	if c.DirectoryPath != "" {
		text += fmt.Sprintf(" Linked to %s.", c.DirectoryPath)
	}
	if c.PendingPlanID != "" {
		text += " A plan is waiting for your answer."
	}
	return text
}

func describeCategories(cats []session.Category) string {
	if len(cats) == 0 {
		return "You have no categories."
	}
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	return fmt.Sprintf("%s: %s.", plural(len(cats), "category"), strings.Join(names, ", "))
}

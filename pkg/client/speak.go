package client

import (
	"context"

	"github.com/teslashibe/go-murmur/pkg/playback"
	"github.com/teslashibe/go-murmur/pkg/session"
)

// speak plays text for a category. A background category keeps the reply in
// its single pending slot (newest wins) and is marked ready; selecting the
// category plays it.
func (a *App) speak(ctx context.Context, catID, text, messageID string) {
	if text == "" {
		return
	}
	if catID != a.store.SelectedID() {
		_ = a.store.Update(catID, func(c *session.Category) {
			c.PendingSpeech = &session.PendingSpeech{Text: text, MessageID: messageID}
			c.Status = session.StatusReady
		})
		if c, ok := a.store.Get(catID); ok {
			a.console.Ready(c.Name)
		}
		return
	}

	if a.thinkingCat == catID {
		a.player.StepThinking()
	}
	a.player.Play(ctx, playback.Request{CategoryID: catID, MessageID: messageID, Text: text})
	a.speakingCat = catID
	a.thinkingCat = ""
	a.latency.MarkPlayback()
	a.setStatus(catID, session.StatusSpeaking, messageID)
}

func (a *App) onCompletion(c playback.Completion) {
	if !a.player.Current(c.Generation) {
		return
	}
	if c.Err != nil {
		a.logger.Warn("fallback speaker failed", "error", c.Err)
	}
	a.latency.MarkDone()
	a.setStatus(c.CategoryID, session.StatusIdle, "")
	if a.speakingCat == c.CategoryID {
		a.speakingCat = ""
	}

	// Hands-free resumes listening; push-to-talk closes the microphone
	// until the next press.
	if a.buffer.HandsFree() {
		a.listening = true
	} else {
		a.listening = false
		a.vad.Reset()
		a.stopCapture()
	}
}

// selectCategory makes id the foreground category and plays any reply that
// arrived while it was in the background.
func (a *App) selectCategory(ctx context.Context, id string) bool {
	if err := a.store.Select(id); err != nil {
		return false
	}
	if a.speakingCat != "" && a.speakingCat != id {
		a.player.Cancel()
		a.setStatus(a.speakingCat, session.StatusIdle, "")
		a.speakingCat = ""
	}
	if a.thinkingCat != "" && a.thinkingCat != id {
		a.stopThinking()
	}

	c, _ := a.store.Get(id)
	a.console.Selected(c)

	if ps := c.PendingSpeech; ps != nil {
		_ = a.store.Update(id, func(c *session.Category) {
			c.PendingSpeech = nil
			c.Status = session.StatusIdle
		})
		a.speak(ctx, id, ps.Text, ps.MessageID)
	}
	return true
}

// notify prints text and says it with the local speaker.
func (a *App) notify(text string) {
	a.console.Notice(text)
	if a.speaker == nil {
		return
	}
	select {
	case a.notices <- text:
	default:
		a.logger.Debug("notice dropped", "text", text)
	}
}

func (a *App) noticeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-a.notices:
			if err := a.speaker.Say(ctx, text); err != nil && ctx.Err() == nil {
				a.logger.Debug("local speaker failed", "error", err)
			}
		}
	}
}

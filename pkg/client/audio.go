package client

import (
	"context"
	"errors"

	"github.com/teslashibe/go-murmur/pkg/audioio"
	"github.com/teslashibe/go-murmur/pkg/protocol"
	"github.com/teslashibe/go-murmur/pkg/segment"
	"github.com/teslashibe/go-murmur/pkg/session"
)

func (a *App) onAudio(ctx context.Context, chunk audioio.AudioChunk) {
	if !a.listening {
		return
	}
	for _, ev := range a.vad.Process(chunk) {
		a.onVAD(ctx, ev)
	}
}

func (a *App) onVAD(ctx context.Context, ev audioio.VADEvent) {
	switch ev.Type {
	case audioio.SpeechStarted:
		a.buffer.OnSpeechStarted()
		if a.speakingCat != "" {
			a.bargeIn()
		}
	case audioio.SegmentCaptured:
		a.onSegment(ev.Segment)
	}
}

// bargeIn stops the reply the user is talking over.
func (a *App) bargeIn() {
	a.logger.Debug("barge-in", "category", a.speakingCat)
	a.player.Cancel()
	a.setStatus(a.speakingCat, session.StatusIdle, "")
	a.speakingCat = ""
}

func (a *App) onSegment(seg audioio.AudioChunk) {
	first, err := a.buffer.OnSegmentCaptured(seg)
	if errors.Is(err, segment.ErrFlushing) {
		a.logger.Debug("segment dropped during flush")
		return
	}
	if !first {
		return
	}

	a.bufferCategory = a.store.SelectedID()
	if a.bufferCategory == "" {
		return
	}
	// An earlier utterance still waiting on its transcript keeps the one
	// placeholder; the later transcript becomes a message of its own.
	if _, ok := a.pendingUser[a.bufferCategory]; ok {
		return
	}
	msg, err := a.store.AddMessage(a.bufferCategory, session.Message{Role: session.RoleUser, Pending: true})
	if err != nil {
		a.logger.Warn("add pending message", "error", err)
		return
	}
	a.pendingUser[a.bufferCategory] = msg.ID
}

// flush sends the buffered speech. Without a connection the audio is
// dropped along with its placeholder.
func (a *App) flush(ctx context.Context) {
	catID := a.bufferCategory
	var dir, projectCtx string
	if c, ok := a.store.Get(catID); ok {
		dir, projectCtx = c.DirectoryPath, c.ProjectContext
	}

	sent, err := a.buffer.Flush(func(chunk audioio.AudioChunk) error {
		audioCtx, err := protocol.NewAudioContextMessage(catID, dir, projectCtx)
		if err != nil {
			return err
		}
		wav := protocol.EncodeWAV(chunk.Samples, chunk.SampleRate, chunk.Channels)
		return a.transport.SendAudio(audioCtx, wav)
	})
	a.bufferCategory = ""
	if !sent {
		return
	}
	if err != nil {
		a.logger.Warn("audio dropped", "category", catID, "error", err)
		a.console.Warn("not connected, speech dropped")
		a.dropPending(catID)
		return
	}

	a.latency.MarkSpeechEnd()
	if catID != "" {
		a.setStatus(catID, session.StatusProcessing, "")
		a.startThinking(ctx, catID)
	}
	if !a.buffer.HandsFree() {
		a.listening = false
		a.stopCapture()
	}
}

// dropPending removes the pending user placeholder of catID.
func (a *App) dropPending(catID string) {
	id, ok := a.pendingUser[catID]
	if !ok {
		return
	}
	delete(a.pendingUser, catID)
	_ = a.store.RemoveMessage(catID, id)
	a.setStatus(catID, session.StatusIdle, "")
	if a.thinkingCat == catID {
		a.stopThinking()
	}
}

// finalizePending turns the pending placeholder into a real user message,
// or adds one when there is none (typed input).
func (a *App) finalizePending(catID, text string, source protocol.Provider) string {
	if id, ok := a.pendingUser[catID]; ok {
		delete(a.pendingUser, catID)
		_, err := a.store.UpdateMessage(catID, id, func(m *session.Message) {
			m.Text = text
			m.Source = source
			m.Pending = false
		})
		if err == nil {
			return id
		}
	}
	msg, err := a.store.AddMessage(catID, session.Message{Role: session.RoleUser, Text: text, Source: source})
	if err != nil {
		a.logger.Warn("add user message", "error", err)
		return ""
	}
	return msg.ID
}

// startListening turns capture on.
func (a *App) startListening(ctx context.Context, handsFree bool) {
	if err := a.startCapture(ctx); err != nil {
		a.logger.Warn("microphone unavailable", "error", err)
		a.console.Warn("microphone unavailable")
		return
	}
	a.listening = true
	a.buffer.SetHandsFree(handsFree)
	a.console.Listening(true, handsFree)
}

// stopListening turns capture off. Buffered speech is still sent; an
// empty buffer goes back to idle without touching the network.
func (a *App) stopListening(ctx context.Context) {
	a.buffer.SetHandsFree(false)
	a.listening = false
	a.vad.Reset()
	if a.buffer.HasBufferedSpeech() {
		a.flush(ctx)
	}
	a.stopCapture()
	a.console.Listening(false, false)
}

// sendNow flushes immediately.
func (a *App) sendNow(ctx context.Context) {
	if !a.buffer.HasBufferedSpeech() {
		a.console.Info("nothing to send")
		return
	}
	a.flush(ctx)
}

func (a *App) startThinking(ctx context.Context, catID string) {
	a.thinkingCat = catID
	a.player.StartThinking(ctx)
}

func (a *App) stopThinking() {
	a.thinkingCat = ""
	a.player.StopThinking()
}

func (a *App) setStatus(catID string, status session.Status, speakingID string) {
	if catID == "" {
		return
	}
	_ = a.store.Update(catID, func(c *session.Category) {
		c.Status = status
		c.SpeakingMessageID = speakingID
	})
}

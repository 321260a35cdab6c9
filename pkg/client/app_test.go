package client

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-murmur/pkg/audioio"
	"github.com/teslashibe/go-murmur/pkg/channel"
	"github.com/teslashibe/go-murmur/pkg/playback"
	"github.com/teslashibe/go-murmur/pkg/protocol"
	"github.com/teslashibe/go-murmur/pkg/session"
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	sent      []*protocol.Message
	audio     []*protocol.Message
	wavs      [][]byte
	msgs      chan *protocol.Message
	states    chan channel.State
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		connected: true,
		msgs:      make(chan *protocol.Message, 16),
		states:    make(chan channel.State, 4),
	}
}

func (f *fakeTransport) Send(msg *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return channel.ErrNotConnected
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) SendAudio(audioCtx *protocol.Message, wav []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return channel.ErrNotConnected
	}
	f.audio = append(f.audio, audioCtx)
	f.wavs = append(f.wavs, wav)
	return nil
}

func (f *fakeTransport) Messages() <-chan *protocol.Message { return f.msgs }
func (f *fakeTransport) States() <-chan channel.State       { return f.states }

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// last returns the most recent sent message of typ.
func (f *fakeTransport) last(typ protocol.MessageType) *protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Type == typ {
			return f.sent[i]
		}
	}
	return nil
}

type fakePlayer struct {
	mu       sync.Mutex
	gen      uint64
	plays    []playback.Request
	cancels  int
	thinking bool
	steps    int
	done     chan playback.Completion
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{done: make(chan playback.Completion, 4)}
}

func (p *fakePlayer) Play(ctx context.Context, req playback.Request) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.plays = append(p.plays, req)
	p.thinking = false
	return p.gen
}

func (p *fakePlayer) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.cancels++
	p.thinking = false
}

func (p *fakePlayer) Current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen
}

func (p *fakePlayer) Done() <-chan playback.Completion { return p.done }

func (p *fakePlayer) StartThinking(ctx context.Context) {
	p.mu.Lock()
	p.thinking = true
	p.mu.Unlock()
}

func (p *fakePlayer) StepThinking() {
	p.mu.Lock()
	p.steps++
	p.mu.Unlock()
}

func (p *fakePlayer) StopThinking() {
	p.mu.Lock()
	p.thinking = false
	p.mu.Unlock()
}

func (p *fakePlayer) lastPlay() playback.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.plays) == 0 {
		return playback.Request{}
	}
	return p.plays[len(p.plays)-1]
}

type harness struct {
	app       *App
	transport *fakeTransport
	player    *fakePlayer
	store     *session.Store
	out       *bytes.Buffer
	intents   chan Intent
}

func newHarness(t *testing.T, handsFree bool) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		player:    newFakePlayer(),
		store:     session.NewStore(nil, nil),
		out:       &bytes.Buffer{},
		intents:   make(chan Intent, 4),
	}
	cfg := DefaultConfig()
	cfg.HandsFree = handsFree
	cfg.Debounce = time.Hour
	h.app = New(cfg, Deps{
		Transport: h.transport,
		Player:    h.player,
		Speaker:   &playback.MockSpeaker{},
		Store:     h.store,
		Console:   NewConsole(h.out),
		Intents:   h.intents,
	})
	return h
}

func (h *harness) category(t *testing.T, name string, selected bool) session.Category {
	t.Helper()
	c, err := h.store.Create(name)
	require.NoError(t, err)
	if selected {
		require.NoError(t, h.store.Select(c.ID))
	}
	return c
}

func (h *harness) notice(t *testing.T) string {
	t.Helper()
	select {
	case n := <-h.app.notices:
		return n
	default:
		t.Fatal("no notice queued")
		return ""
	}
}

func speech() audioio.AudioChunk {
	samples := make([]int16, 320)
	for i := range samples {
		samples[i] = 1000
	}
	return audioio.AudioChunk{Samples: samples, SampleRate: 16000, Channels: 1}
}

func segmentEvent() audioio.VADEvent {
	return audioio.VADEvent{Type: audioio.SegmentCaptured, Segment: speech()}
}

func TestSegmentsFlushAsOneUtterance(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	c := h.category(t, "Work", true)

	h.app.onVAD(ctx, segmentEvent())
	h.app.onVAD(ctx, segmentEvent())

	got, _ := h.store.Get(c.ID)
	require.Len(t, got.Messages, 1)
	assert.True(t, got.Messages[0].Pending)

	h.app.flush(ctx)

	require.Len(t, h.transport.audio, 1)
	assert.Equal(t, c.ID, h.transport.audio[0].CategoryID)
	pcm, err := protocol.DecodeWAV(h.transport.wavs[0])
	require.NoError(t, err)
	assert.Len(t, pcm.Samples, 640)
	assert.Equal(t, 16000, pcm.SampleRate)

	got, _ = h.store.Get(c.ID)
	assert.Equal(t, session.StatusProcessing, got.Status)
	assert.True(t, h.player.thinking)
	assert.False(t, h.app.buffer.HasBufferedSpeech())
}

func TestFlushWhileDisconnectedDropsSpeech(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	c := h.category(t, "Work", true)
	h.transport.connected = false

	h.app.onVAD(ctx, segmentEvent())
	h.app.flush(ctx)

	assert.Empty(t, h.transport.audio)
	got, _ := h.store.Get(c.ID)
	assert.Empty(t, got.Messages)
	assert.Equal(t, session.StatusIdle, got.Status)
	assert.False(t, h.app.buffer.HasBufferedSpeech())
}

func TestGlobalAudioCarriesNoCategory(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.app.onVAD(ctx, segmentEvent())
	h.app.flush(ctx)

	require.Len(t, h.transport.audio, 1)
	assert.Empty(t, h.transport.audio[0].CategoryID)
	data, err := h.transport.audio[0].GetAudioContextData()
	require.NoError(t, err)
	assert.True(t, data.Global)
}

func TestGlobalCreateCategory(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.app.onTranscript(ctx, "", "create a new category called Work Stuff")

	c, ok := h.store.Selected()
	require.True(t, ok)
	assert.Equal(t, "Work Stuff", c.Name)
	assert.Equal(t, "Created Work Stuff.", h.notice(t))
}

func TestGlobalOtherSpeechPrompts(t *testing.T) {
	h := newHarness(t, true)

	h.app.onTranscript(context.Background(), "", "what's the weather like")

	assert.Empty(t, h.store.Snapshot())
	assert.Contains(t, h.notice(t), "create a category")
	assert.Empty(t, h.transport.sent)
}

func TestRepeatSecondLast(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	c := h.category(t, "Work", true)
	var ids []string
	for _, text := range []string{"A", "B", "C"} {
		m, err := h.store.AddMessage(c.ID, session.Message{Role: session.RoleAssistant, Text: text})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	h.app.onTranscript(ctx, c.ID, "repeat the second last message")

	play := h.player.lastPlay()
	assert.Equal(t, "B", play.Text)
	assert.Equal(t, ids[1], play.MessageID)

	h.app.onTranscript(ctx, c.ID, "repeat the fifth last message")
	assert.Equal(t, "I only have 3 messages.", h.player.lastPlay().Text)
}

func TestFreeTextRequestsActiveProvider(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	c := h.category(t, "Work", true)
	_, err := h.store.AddMessage(c.ID, session.Message{Role: session.RoleUser, Text: "earlier"})
	require.NoError(t, err)

	h.app.onVAD(ctx, segmentEvent())
	placeholder := h.app.pendingUser[c.ID]
	h.app.flush(ctx)
	h.app.onTranscript(ctx, c.ID, "what is a goroutine")

	msg := h.transport.last(protocol.TypeProviderRequest)
	require.NotNil(t, msg)
	assert.Equal(t, c.ID, msg.CategoryID)
	req, err := msg.GetProviderRequestData()
	require.NoError(t, err)
	assert.Equal(t, protocol.ProviderConversational, req.Provider)
	assert.Equal(t, "what is a goroutine", req.Text)
	assert.Equal(t, placeholder, req.MessageID)
	require.Len(t, req.History, 1)
	assert.Equal(t, "earlier", req.History[0].Text)

	got, _ := h.store.Get(c.ID)
	m, ok := got.FindMessage(placeholder)
	require.True(t, ok)
	assert.False(t, m.Pending)
	assert.Equal(t, "what is a goroutine", m.Text)
}

func TestDirectAddressSwitchesToCoding(t *testing.T) {
	h := newHarness(t, true)
	c := h.category(t, "Work", true)

	h.app.onTranscript(context.Background(), c.ID, "Claude, run the tests")

	req, err := h.transport.last(protocol.TypeProviderRequest).GetProviderRequestData()
	require.NoError(t, err)
	assert.Equal(t, protocol.ProviderCoding, req.Provider)
	assert.Equal(t, protocol.ModeChat, req.Mode)
	assert.Equal(t, "run the tests", req.Text)

	got, _ := h.store.Get(c.ID)
	assert.Equal(t, protocol.ProviderCoding, got.ActiveProvider)
}

func TestModeExit(t *testing.T) {
	h := newHarness(t, true)
	c := h.category(t, "Work", true)
	require.NoError(t, h.store.Update(c.ID, func(c *session.Category) { c.ActiveProvider = protocol.ProviderCoding }))

	h.app.onTranscript(context.Background(), c.ID, "exit")

	got, _ := h.store.Get(c.ID)
	assert.Equal(t, protocol.ProviderConversational, got.ActiveProvider)
	assert.Equal(t, "Back to Gemini.", h.player.lastPlay().Text)
	assert.Nil(t, h.transport.last(protocol.TypeProviderRequest))
}

func TestSwitchProviderHandsOverWindow(t *testing.T) {
	h := newHarness(t, true)
	c := h.category(t, "Work", true)
	for i := 0; i < 12; i++ {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		_, err := h.store.AddMessage(c.ID, session.Message{Role: role, Text: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	h.app.onTranscript(context.Background(), c.ID, "switch to the local model")

	msg := h.transport.last(protocol.TypeProviderContext)
	require.NotNil(t, msg)
	data, err := protocol.Decode[protocol.ProviderContextData](msg)
	require.NoError(t, err)
	assert.Equal(t, protocol.ProviderLocal, data.Provider)
	require.Len(t, data.History, 10)
	assert.Equal(t, "m2", data.History[0].Text)
	assert.Equal(t, "m11", data.History[9].Text)
}

func TestEscalateSendsPlanRequest(t *testing.T) {
	h := newHarness(t, true)
	c := h.category(t, "Work", true)
	require.NoError(t, h.store.Update(c.ID, func(c *session.Category) {
		c.DirectoryPath = "/src/app"
		c.ProjectContext = "a go service"
	}))
	_, _ = h.store.AddMessage(c.ID, session.Message{Role: session.RoleUser, Text: "the login page is slow"})

	h.app.onTranscript(context.Background(), c.ID, "escalate this")

	req, err := h.transport.last(protocol.TypeProviderRequest).GetProviderRequestData()
	require.NoError(t, err)
	assert.Equal(t, protocol.ModePlan, req.Mode)
	assert.Equal(t, protocol.ProviderCoding, req.Provider)
	assert.Equal(t, "/src/app", req.DirectoryPath)
	assert.Equal(t, "a go service", req.ProjectContext)
	assert.Contains(t, req.Text, "the login page is slow")
}

func TestBackgroundReplyIsDeferred(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	a := h.category(t, "Alpha", true)
	b := h.category(t, "Beta", false)

	msg, err := protocol.NewReplyMessage(b.ID, protocol.ReplyData{Provider: protocol.ProviderConversational, Text: "first"})
	require.NoError(t, err)
	h.app.onMessage(ctx, msg)
	msg, err = protocol.NewReplyMessage(b.ID, protocol.ReplyData{Provider: protocol.ProviderConversational, Text: "second"})
	require.NoError(t, err)
	h.app.onMessage(ctx, msg)

	assert.Empty(t, h.player.plays)
	got, _ := h.store.Get(b.ID)
	assert.Equal(t, session.StatusReady, got.Status)
	require.NotNil(t, got.PendingSpeech)
	assert.Equal(t, "second", got.PendingSpeech.Text)

	h.app.onTranscript(ctx, a.ID, "switch to beta")

	assert.Equal(t, b.ID, h.store.SelectedID())
	assert.Equal(t, "second", h.player.lastPlay().Text)
	got, _ = h.store.Get(b.ID)
	assert.Nil(t, got.PendingSpeech)
	assert.Equal(t, session.StatusSpeaking, got.Status)
}

func TestSwitchToUnknownCategory(t *testing.T) {
	h := newHarness(t, true)
	c := h.category(t, "Alpha", true)

	h.app.onTranscript(context.Background(), c.ID, "switch to gardening")

	assert.Equal(t, c.ID, h.store.SelectedID())
	assert.Equal(t, "I couldn't find Gardening.", h.player.lastPlay().Text)
}

func TestBargeInSuppressesResume(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	c := h.category(t, "Work", true)

	h.app.speak(ctx, c.ID, "a long answer", "m1")
	stale := h.player.gen

	h.app.onVAD(ctx, audioio.VADEvent{Type: audioio.SpeechStarted})
	assert.Equal(t, 1, h.player.cancels)
	got, _ := h.store.Get(c.ID)
	assert.Equal(t, session.StatusIdle, got.Status)

	h.app.speak(ctx, c.ID, "the next answer", "m2")
	h.app.onCompletion(playback.Completion{Request: playback.Request{CategoryID: c.ID, MessageID: "m1"}, Generation: stale})

	got, _ = h.store.Get(c.ID)
	assert.Equal(t, session.StatusSpeaking, got.Status)
	assert.Equal(t, "m2", got.SpeakingMessageID)
}

func TestCompletionResumesCaptureOnlyHandsFree(t *testing.T) {
	for _, handsFree := range []bool{true, false} {
		t.Run(fmt.Sprintf("hands-free=%v", handsFree), func(t *testing.T) {
			h := newHarness(t, handsFree)
			ctx := context.Background()
			c := h.category(t, "Work", true)
			h.app.listening = false

			h.app.speak(ctx, c.ID, "hello", "m1")
			h.app.onCompletion(playback.Completion{
				Request:    playback.Request{CategoryID: c.ID, MessageID: "m1"},
				Generation: h.player.gen,
			})

			assert.Equal(t, handsFree, h.app.listening)
			got, _ := h.store.Get(c.ID)
			assert.Equal(t, session.StatusIdle, got.Status)
			assert.Empty(t, got.SpeakingMessageID)
		})
	}
}

func TestPlanLifecycle(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	c := h.category(t, "Work", true)

	h.app.onTranscript(ctx, c.ID, "accept the plan")
	assert.Equal(t, "There's no plan waiting.", h.player.lastPlay().Text)

	msg, err := protocol.NewTaskPlanMessage(c.ID, "ab12cd34", "Add a cache.", "speed it up")
	require.NoError(t, err)
	h.app.onMessage(ctx, msg)

	got, _ := h.store.Get(c.ID)
	assert.Equal(t, "ab12cd34", got.PendingPlanID)
	assert.Contains(t, h.player.lastPlay().Text, "Add a cache.")

	h.app.onTranscript(ctx, c.ID, "yes, go ahead")

	confirm := h.transport.last(protocol.TypeTaskConfirm)
	require.NotNil(t, confirm)
	ref, err := protocol.Decode[protocol.TaskRefData](confirm)
	require.NoError(t, err)
	assert.Equal(t, "ab12cd34", ref.TaskID)
	got, _ = h.store.Get(c.ID)
	assert.Empty(t, got.PendingPlanID)
}

func TestProviderErrorClearsPending(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	c := h.category(t, "Work", true)

	h.app.onVAD(ctx, segmentEvent())
	h.app.flush(ctx)

	msg, err := protocol.NewProviderErrorMessage(c.ID, protocol.ProviderLocal, "", fmt.Errorf("model offline"))
	require.NoError(t, err)
	h.app.onMessage(ctx, msg)

	got, _ := h.store.Get(c.ID)
	assert.Empty(t, got.Messages)
	assert.False(t, h.player.thinking)
	assert.Contains(t, h.player.lastPlay().Text, "the local model")
}

func TestOverlappingUtterancesShareOnePlaceholder(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	c := h.category(t, "Work", true)

	h.app.onVAD(ctx, segmentEvent())
	h.app.flush(ctx)
	// The next utterance starts before the first transcript is back.
	h.app.onVAD(ctx, segmentEvent())

	got, _ := h.store.Get(c.ID)
	require.Len(t, got.Messages, 1)

	h.app.onTranscript(ctx, c.ID, "hello there friend")
	h.app.flush(ctx)
	h.app.onTranscript(ctx, c.ID, "second thing please")

	got, _ = h.store.Get(c.ID)
	var texts []string
	for _, m := range got.Messages {
		assert.False(t, m.Pending, "message %q still pending", m.ID)
		if m.Role == session.RoleUser {
			texts = append(texts, m.Text)
		}
	}
	assert.Equal(t, []string{"hello there friend", "second thing please"}, texts)
	assert.Empty(t, h.app.pendingUser)
}

func TestClassificationRoutesByCategory(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.app.cfg.ClassifyFreeText = true
	alpha := h.category(t, "Alpha", true)
	beta := h.category(t, "Beta", false)

	h.app.onTranscript(ctx, alpha.ID, "tell me about rust")
	first := h.transport.last(protocol.TypeClassifyAction)
	require.NotNil(t, first)
	assert.Equal(t, alpha.ID, first.CategoryID)

	h.app.onTranscript(ctx, beta.ID, "what about go")
	second := h.transport.last(protocol.TypeClassifyAction)
	require.NotNil(t, second)
	assert.Equal(t, beta.ID, second.CategoryID)

	// Alpha's answer arrives after Beta's request went out.
	reply, err := protocol.NewMessage(protocol.TypeActionClassification, protocol.ActionClassificationData{
		Text:       "tell me about rust",
		ActionType: protocol.ActionQuestion,
	})
	require.NoError(t, err)
	h.app.onMessage(ctx, reply.WithCategory(alpha.ID))

	req := h.transport.last(protocol.TypeProviderRequest)
	require.NotNil(t, req)
	assert.Equal(t, alpha.ID, req.CategoryID)
	data, err := req.GetProviderRequestData()
	require.NoError(t, err)
	assert.Equal(t, "tell me about rust", data.Text)

	got, _ := h.store.Get(beta.ID)
	assert.Empty(t, got.Messages)
}

func TestClassifyWhileDisconnectedResetsCategory(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.app.cfg.ClassifyFreeText = true
	c := h.category(t, "Work", true)

	h.app.onVAD(ctx, segmentEvent())
	h.app.flush(ctx)
	h.transport.connected = false
	h.app.onTranscript(ctx, c.ID, "tell me about rust")

	got, _ := h.store.Get(c.ID)
	assert.Empty(t, got.Messages)
	assert.Equal(t, session.StatusIdle, got.Status)
	assert.False(t, h.player.thinking)
}

func TestTranscriptionErrorReleasesCategory(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	c := h.category(t, "Work", true)

	h.app.onVAD(ctx, segmentEvent())
	h.app.flush(ctx)
	got, _ := h.store.Get(c.ID)
	require.Equal(t, session.StatusProcessing, got.Status)

	// A connection-level error leaves the request alone.
	global, err := protocol.NewErrorMessage("unknown_type", "unknown message type")
	require.NoError(t, err)
	h.app.onMessage(ctx, global)
	got, _ = h.store.Get(c.ID)
	assert.Equal(t, session.StatusProcessing, got.Status)
	assert.True(t, h.player.thinking)

	failed, err := protocol.NewErrorMessage("transcription_failed", "whisper unavailable")
	require.NoError(t, err)
	h.app.onMessage(ctx, failed.WithCategory(c.ID))

	got, _ = h.store.Get(c.ID)
	assert.Equal(t, session.StatusIdle, got.Status)
	assert.Empty(t, got.Messages)
	assert.False(t, h.player.thinking)
	assert.Empty(t, h.app.pendingUser)
}

func TestQueuedAnnouncesTasksAhead(t *testing.T) {
	tests := []struct {
		position int
		want     string
	}{
		{0, ""},
		{1, "Queued behind 1 task."},
		{3, "Queued behind 3 tasks."},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("position=%d", tt.position), func(t *testing.T) {
			h := newHarness(t, true)
			c := h.category(t, "Work", true)

			msg, err := protocol.NewTaskEventMessage(protocol.TypeTaskQueued, c.ID, protocol.TaskEventData{
				TaskID:   "t1",
				TaskType: "coding_execute",
				Status:   "queued",
				Position: tt.position,
			})
			require.NoError(t, err)
			h.app.onMessage(context.Background(), msg)

			assert.Equal(t, tt.want, h.player.lastPlay().Text)
		})
	}
}

func TestPushToTalkReleasesMicrophone(t *testing.T) {
	for _, handsFree := range []bool{false, true} {
		t.Run(fmt.Sprintf("hands-free=%v", handsFree), func(t *testing.T) {
			h := newHarness(t, handsFree)
			ctx := context.Background()
			c := h.category(t, "Work", true)
			source := audioio.NewMockSource(audioio.DefaultConfig(), nil, audioio.WithoutGenerator())
			defer source.Close()
			h.app.source = source

			h.app.startListening(ctx, handsFree)
			require.True(t, source.Stats().Running)
			require.NotNil(t, h.app.audio)

			h.app.speak(ctx, c.ID, "hello", "m1")
			h.app.onCompletion(playback.Completion{
				Request:    playback.Request{CategoryID: c.ID, MessageID: "m1"},
				Generation: h.player.gen,
			})

			assert.Equal(t, handsFree, source.Stats().Running)
			assert.Equal(t, handsFree, h.app.audio != nil)
			assert.Equal(t, handsFree, source.Push(speech()))

			// The next press opens the microphone again.
			h.app.startListening(ctx, handsFree)
			require.True(t, source.Stats().Running)
			require.True(t, source.Push(speech()))
			select {
			case chunk := <-h.app.audio:
				assert.Len(t, chunk.Samples, 320)
			case <-time.After(time.Second):
				t.Fatal("no audio after listening resumed")
			}
		})
	}
}

func TestSetDirectoryLinksBestMatch(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	c := h.category(t, "Work", true)

	h.app.onTranscript(ctx, c.ID, "set directory to murmur")

	find := h.transport.last(protocol.TypeFindDirectory)
	require.NotNil(t, find)
	req, err := protocol.Decode[protocol.DirectoryRequestData](find)
	require.NoError(t, err)
	assert.Equal(t, "murmur", req.Hint)

	listing, err := protocol.NewMessage(protocol.TypeDirectoryListing, protocol.DirectoryListingData{
		Query:   "murmur",
		Entries: []protocol.DirectoryEntry{{Path: "/home/me/dev/go-murmur", Name: "go-murmur"}},
	})
	require.NoError(t, err)
	h.app.onMessage(ctx, listing.WithCategory(c.ID))

	got, _ := h.store.Get(c.ID)
	assert.Equal(t, "/home/me/dev/go-murmur", got.DirectoryPath)
	assert.Equal(t, "Linked to go-murmur.", h.player.lastPlay().Text)
}

func TestStopListening(t *testing.T) {
	t.Run("flushes buffered speech", func(t *testing.T) {
		h := newHarness(t, true)
		ctx := context.Background()
		h.category(t, "Work", true)

		h.app.onVAD(ctx, segmentEvent())
		h.app.stopListening(ctx)

		assert.Len(t, h.transport.audio, 1)
		assert.False(t, h.app.listening)
		assert.False(t, h.app.buffer.HandsFree())
	})

	t.Run("empty buffer stays offline", func(t *testing.T) {
		h := newHarness(t, true)
		h.category(t, "Work", true)

		h.app.stopListening(context.Background())

		assert.Empty(t, h.transport.audio)
		assert.Empty(t, h.transport.sent)
	})
}

func TestMessagesForUnknownCategoryIgnored(t *testing.T) {
	h := newHarness(t, true)
	msg, err := protocol.NewReplyMessage("gone", protocol.ReplyData{Provider: protocol.ProviderConversational, Text: "hi"})
	require.NoError(t, err)

	h.app.onMessage(context.Background(), msg)

	assert.Empty(t, h.player.plays)
}

func TestDeleteSelectedCategory(t *testing.T) {
	h := newHarness(t, true)
	c := h.category(t, "Work", true)

	h.app.onTranscript(context.Background(), c.ID, "delete this category")

	_, ok := h.store.Get(c.ID)
	assert.False(t, ok)
	assert.Empty(t, h.store.SelectedID())
	assert.Equal(t, "Deleted Work.", h.notice(t))
}

func TestRunDispatchesUntilQuit(t *testing.T) {
	h := newHarness(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- h.app.Run(ctx) }()

	h.transport.states <- channel.StateConnected
	msg, err := protocol.NewTranscriptMessage("", "make a new topic called Garden")
	require.NoError(t, err)
	h.transport.msgs <- msg

	require.Eventually(t, func() bool {
		_, ok := h.store.FindByName("garden")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	h.intents <- Intent{Kind: IntentQuit}
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQuit)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		in   string
		want Intent
	}{
		{"", Intent{Kind: IntentTalk}},
		{"/send", Intent{Kind: IntentSendNow}},
		{"/hf", Intent{Kind: IntentHandsFree}},
		{"/cat work stuff", Intent{Kind: IntentSelect, Text: "work stuff"}},
		{"/q", Intent{Kind: IntentQuit}},
		{"what time is it", Intent{Kind: IntentText, Text: "what time is it"}},
		{"/unknown thing", Intent{Kind: IntentText, Text: "/unknown thing"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseIntent(tt.in))
		})
	}
}

func TestReadIntents(t *testing.T) {
	in := ReadIntents(context.Background(), bytes.NewBufferString("\n/send\nhello\n"))
	var got []IntentKind
	for i := range in {
		got = append(got, i.Kind)
	}
	assert.Equal(t, []IntentKind{IntentTalk, IntentSendNow, IntentText}, got)
}

func TestDescribeQueue(t *testing.T) {
	assert.Equal(t, "The queue is empty.", describeQueue(&protocol.QueueStatusData{}))
	assert.Equal(t, "1 task running, 2 tasks queued. Running coding execute.",
		describeQueue(&protocol.QueueStatusData{
			Running:     1,
			Queued:      2,
			RunningTask: &protocol.RunningTaskData{ID: "x", Type: "coding_execute"},
		}))
	assert.Equal(t, "3 categories", plural(3, "category"))
}

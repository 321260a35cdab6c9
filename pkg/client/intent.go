package client

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/teslashibe/go-murmur/pkg/session"
)

// IntentKind is a console action.
type IntentKind int

const (
	// IntentTalk is a bare Enter: start listening, or send what was heard.
	IntentTalk IntentKind = iota + 1
	IntentSendNow
	IntentListen
	IntentStopListening
	IntentHandsFree
	IntentCancel
	IntentSelect
	IntentText
	IntentQuit
)

// Intent is one line of console input.
type Intent struct {
	Kind IntentKind
	Text string
}

// ParseIntent maps a console line to an intent. Lines that are not slash
// commands are routed as if they had been spoken.
func ParseIntent(line string) Intent {
	line = strings.TrimSpace(line)
	if line == "" {
		return Intent{Kind: IntentTalk}
	}
	if !strings.HasPrefix(line, "/") {
		return Intent{Kind: IntentText, Text: line}
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "send", "s":
		return Intent{Kind: IntentSendNow}
	case "listen", "l":
		return Intent{Kind: IntentListen}
	case "stop":
		return Intent{Kind: IntentStopListening}
	case "handsfree", "hf":
		return Intent{Kind: IntentHandsFree}
	case "cancel", "c":
		return Intent{Kind: IntentCancel}
	case "cat", "select":
		return Intent{Kind: IntentSelect, Text: arg}
	case "quit", "q", "exit":
		return Intent{Kind: IntentQuit}
	}
	return Intent{Kind: IntentText, Text: line}
}

// ReadIntents parses lines from r until it ends or ctx is done. The
// returned channel is closed when reading stops.
func ReadIntents(ctx context.Context, r io.Reader) <-chan Intent {
	out := make(chan Intent)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case out <- ParseIntent(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (a *App) onIntent(ctx context.Context, in Intent) {
	switch in.Kind {
	case IntentTalk:
		switch {
		case a.buffer.HasBufferedSpeech():
			a.sendNow(ctx)
		case !a.listening:
			a.startListening(ctx, a.buffer.HandsFree())
		}
	case IntentSendNow:
		a.sendNow(ctx)
	case IntentListen:
		a.startListening(ctx, a.buffer.HandsFree())
	case IntentStopListening:
		a.stopListening(ctx)
	case IntentHandsFree:
		on := !a.buffer.HandsFree()
		if on {
			a.startListening(ctx, true)
		} else {
			a.buffer.SetHandsFree(false)
			a.console.Listening(a.listening, false)
		}
	case IntentCancel:
		if a.speakingCat != "" {
			a.bargeIn()
		}
		a.stopThinking()
		a.buffer.Cancel()
		a.dropPending(a.bufferCategory)
		a.bufferCategory = ""
	case IntentSelect:
		if in.Text == "" {
			_ = a.store.Select("")
			a.console.Selected(session.Category{})
			return
		}
		target, ok := a.store.FindByName(in.Text)
		if !ok {
			a.console.Warn("no category matches " + in.Text)
			return
		}
		a.selectCategory(ctx, target.ID)
	case IntentText:
		a.onTranscript(ctx, a.store.SelectedID(), in.Text)
	case IntentQuit:
		a.quit = true
	}
}

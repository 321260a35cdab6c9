package client

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/teslashibe/go-murmur/pkg/protocol"
	"github.com/teslashibe/go-murmur/pkg/session"
)

var (
	colorAccent  = lipgloss.Color("#7C3AED")
	colorUser    = lipgloss.Color("#06B6D4")
	colorReply   = lipgloss.Color("#10B981")
	colorWarn    = lipgloss.Color("#F59E0B")
	colorMuted   = lipgloss.AdaptiveColor{Light: "#737373", Dark: "#A3A3A3"}
	colorCoding  = lipgloss.Color("#D97706")
	colorLocal   = lipgloss.Color("#3B82F6")
	colorSuccess = lipgloss.Color("#10B981")
	colorError   = lipgloss.Color("#EF4444")

	styleTitle    = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleTime     = lipgloss.NewStyle().Foreground(colorMuted)
	styleCategory = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleUser     = lipgloss.NewStyle().Foreground(colorUser)
	styleReply    = lipgloss.NewStyle().Foreground(colorReply)
	styleWarn     = lipgloss.NewStyle().Foreground(colorWarn)
	styleMuted    = lipgloss.NewStyle().Foreground(colorMuted)
	styleNotice   = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)
	styleBanner   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1)
)

// Console prints a colored log of the session. It renders nothing
// interactive; the terminal stays a plain scrollback.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewConsole writes to out, or stdout when out is nil.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out, now: time.Now}
}

func (c *Console) line(parts ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stamp := styleTime.Render(c.now().Format("15:04:05"))
	fmt.Fprintln(c.out, stamp+" "+strings.Join(parts, " "))
}

// Banner prints the startup summary.
func (c *Console) Banner(cats []session.Category, selectedID string, handsFree bool) {
	var b strings.Builder
	b.WriteString(styleTitle.Render("murmur"))
	mode := "push-to-talk (Enter to talk, Enter again to send)"
	if handsFree {
		mode = "hands-free"
	}
	fmt.Fprintf(&b, "\n%s", styleMuted.Render(mode))
	if len(cats) == 0 {
		fmt.Fprintf(&b, "\n%s", styleMuted.Render("no categories yet, say \"create a category called ...\""))
	}
	for _, cat := range cats {
		marker := "  "
		if cat.ID == selectedID {
			marker = "> "
		}
		fmt.Fprintf(&b, "\n%s%s %s", marker, styleCategory.Render(cat.Name), providerBadge(cat.ActiveProvider))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, styleBanner.Render(b.String()))
}

// Connection reports transport state changes.
func (c *Console) Connection(connected bool) {
	if connected {
		c.line(lipgloss.NewStyle().Foreground(colorSuccess).Render("connected"))
		return
	}
	c.line(lipgloss.NewStyle().Foreground(colorError).Render("disconnected, retrying"))
}

// Listening reports capture state.
func (c *Console) Listening(on, handsFree bool) {
	switch {
	case on && handsFree:
		c.line(styleMuted.Render("listening (hands-free)"))
	case on:
		c.line(styleMuted.Render("listening"))
	default:
		c.line(styleMuted.Render("stopped listening"))
	}
}

// Selected reports the foreground category. A zero category means global mode.
func (c *Console) Selected(cat session.Category) {
	if cat.ID == "" {
		c.line(styleMuted.Render("no category selected"))
		return
	}
	c.line("→", styleCategory.Render(cat.Name), providerBadge(cat.ActiveProvider))
}

// Ready reports a background reply waiting to be heard.
func (c *Console) Ready(name string) {
	c.line(styleCategory.Render(name), styleReply.Render("● reply ready"))
}

// Transcript prints recognized speech.
func (c *Console) Transcript(category, text string) {
	if category == "" {
		category = "global"
	}
	c.line(styleCategory.Render(category), styleUser.Render("you: "+text))
}

// Reply prints a provider answer.
func (c *Console) Reply(category string, p protocol.Provider, text string) {
	c.line(styleCategory.Render(category), providerBadge(p), styleReply.Render(text))
}

// Task prints a queue lifecycle event.
func (c *Console) Task(catID, label, detail string) {
	parts := []string{styleMuted.Render("task"), label}
	if detail != "" {
		parts = append(parts, styleMuted.Render(truncate(detail, 120)))
	}
	c.line(parts...)
}

// Provider reports a provider switch.
func (c *Console) Provider(catID string, p protocol.Provider) {
	c.line(styleMuted.Render("provider"), providerBadge(p))
}

// Notice prints a short spoken prompt.
func (c *Console) Notice(text string) {
	c.line(styleNotice.Render(text))
}

// Info prints an informational line.
func (c *Console) Info(text string) {
	c.line(styleMuted.Render(text))
}

// Warn prints a warning line.
func (c *Console) Warn(text string) {
	c.line(styleWarn.Render(text))
}

// Latency prints the timing of a finished turn.
func (c *Console) Latency(t Turn) {
	c.line(styleMuted.Render(t.Format()))
}

func providerBadge(p protocol.Provider) string {
	style := lipgloss.NewStyle().Foreground(colorReply)
	name := "gemini"
	switch p {
	case protocol.ProviderCoding:
		style = lipgloss.NewStyle().Foreground(colorCoding)
		name = "claude"
	case protocol.ProviderLocal:
		style = lipgloss.NewStyle().Foreground(colorLocal)
		name = "local"
	}
	return style.Render("[" + name + "]")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

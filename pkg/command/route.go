package command

import (
	"regexp"
	"strings"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// Route is the outcome of classifying a transcript.
type Route int

const (
	RouteDiscard       Route = iota // noise, dropped silently
	RouteGlobalCreate               // global mode: create and select Decision.Name
	RouteGlobalPrompt               // global mode: anything else, prompt the user
	RouteCommand                    // structured command in Decision.Command
	RouteDirectAddress              // coding provider addressed by name, chat sub-mode
	RouteModeExit                   // leave coding mode for conversational
	RouteFreeText                   // send Decision.Text to the active provider
)

func (r Route) String() string {
	switch r {
	case RouteDiscard:
		return "discard"
	case RouteGlobalCreate:
		return "global_create"
	case RouteGlobalPrompt:
		return "global_prompt"
	case RouteCommand:
		return "command"
	case RouteDirectAddress:
		return "direct_address"
	case RouteModeExit:
		return "mode_exit"
	case RouteFreeText:
		return "free_text"
	}
	return "unknown"
}

// Decision is what Classify decided to do with a transcript.
type Decision struct {
	Route   Route
	Command Command
	// Name is the category to create for RouteGlobalCreate.
	Name string
	// Text is the prompt for RouteDirectAddress and RouteFreeText. For
	// RouteDirectAddress it has the address stripped and may be empty.
	Text string
}

var creationForms = []*regexp.Regexp{
	regexp.MustCompile(`^(?:create|make|new|add)(?: a| an)?(?: new)? (?:category|conversation|topic|chat|thread|project|space) (?:called|named) (.+)$`),
	regexp.MustCompile(`^(?:create|make|new|add)(?: a| an)?(?: new)? (.+?) (?:category|conversation|topic)$`),
}

// ParseCreation extracts the title-cased name from a category-creation phrase.
func ParseCreation(text string) (string, bool) {
	t := Normalize(text)
	for _, re := range creationForms {
		if m := re.FindStringSubmatch(t); m != nil {
			name := trimArticles(m[1])
			if name == "" {
				continue
			}
			return TitleCase(name), true
		}
	}
	return "", false
}

func trimArticles(s string) string {
	words := strings.Fields(s)
	for len(words) > 0 {
		switch words[0] {
		case "a", "an", "the", "new":
			words = words[1:]
			continue
		}
		break
	}
	return strings.Join(words, " ")
}

// codingNames are the coding provider's name and the ways recognizers tend
// to hear it.
var codingNames = []string{
	"claude's", "claudia", "claude", "cloud", "clod", "claud", "clawed", "klaud", "clyde",
}

// conversationalName switches back out of coding mode when heard.
const conversationalName = "gemini"

// StripAddress reports whether text starts with the coding provider's name
// and returns the remainder with separators trimmed.
func StripAddress(text string) (string, bool) {
	t := strings.TrimSpace(strings.ReplaceAll(text, "’", "'"))
	lower := strings.ToLower(t)
	for _, name := range codingNames {
		if !strings.HasPrefix(lower, name) {
			continue
		}
		rest := t[len(name):]
		// Must be the whole word: "cloudy" is not an address.
		if rest != "" && isWordRune(rest[0]) {
			continue
		}
		return strings.TrimLeft(rest, " ,.:;!?-"), true
	}
	return "", false
}

func isWordRune(b byte) bool {
	return b == '\'' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// IsModeExit reports whether text leaves coding mode.
func IsModeExit(text string) bool {
	t := Normalize(text)
	return t == "exit" || strings.Contains(t, conversationalName)
}

// Classify applies the routing rules in priority order. global is true when
// no category is selected; active is the selected category's provider.
func Classify(text string, global bool, active protocol.Provider) Decision {
	if IsNoise(text) {
		return Decision{Route: RouteDiscard}
	}

	if global {
		if name, ok := ParseCreation(text); ok {
			return Decision{Route: RouteGlobalCreate, Name: name}
		}
		return Decision{Route: RouteGlobalPrompt}
	}

	if cmd, ok := Parse(text); ok {
		return Decision{Route: RouteCommand, Command: cmd}
	}

	if rest, ok := StripAddress(text); ok {
		return Decision{Route: RouteDirectAddress, Text: rest}
	}

	if active == protocol.ProviderCoding && IsModeExit(text) {
		return Decision{Route: RouteModeExit}
	}

	return Decision{Route: RouteFreeText, Text: strings.TrimSpace(text)}
}

// ProviderByName maps a spoken provider name to a provider.
func ProviderByName(name string) (protocol.Provider, bool) {
	n := strings.TrimSpace(strings.ToLower(name))
	n = strings.TrimPrefix(n, "the ")
	switch n {
	case "gemini", "chat", "conversation", "conversational", "normal", "default":
		return protocol.ProviderConversational, true
	case "local", "local model", "offline", "ollama", "llama":
		return protocol.ProviderLocal, true
	case "coding", "code", "coder":
		return protocol.ProviderCoding, true
	}
	for _, c := range codingNames {
		if n == c {
			return protocol.ProviderCoding, true
		}
	}
	return "", false
}

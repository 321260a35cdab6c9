// Package command interprets finalized transcripts: noise filtering, the
// structured voice command table, direct provider address and mode exit.
// Everything here is pure; the client applies the results.
package command

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// Kind identifies a structured command.
type Kind int

const (
	SwitchCategory Kind = iota + 1
	CreateCategory
	SwitchProvider
	Escalate
	AcceptPlan
	DenyPlan
	PlanTask
	ExecuteTask
	StatusQuery
	CollectContext
	WipeContext
	Repeat
	SetDirectory
	ListDirectories
	CancelTask
	QueueStatus
	ClearQueue
	StopListening
	StartListening
	SendNow
	ListCategories
	DeleteCategory
	RenameCategory
)

var kindNames = map[Kind]string{
	SwitchCategory:  "switch_category",
	CreateCategory:  "create_category",
	SwitchProvider:  "switch_provider",
	Escalate:        "escalate",
	AcceptPlan:      "accept_plan",
	DenyPlan:        "deny_plan",
	PlanTask:        "plan_task",
	ExecuteTask:     "execute_task",
	StatusQuery:     "status_query",
	CollectContext:  "collect_context",
	WipeContext:     "wipe_context",
	Repeat:          "repeat",
	SetDirectory:    "set_directory",
	ListDirectories: "list_directories",
	CancelTask:      "cancel_task",
	QueueStatus:     "queue_status",
	ClearQueue:      "clear_queue",
	StopListening:   "stop_listening",
	StartListening:  "start_listening",
	SendNow:         "send_now",
	ListCategories:  "list_categories",
	DeleteCategory:  "delete_category",
	RenameCategory:  "rename_category",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Command is a parsed structured command. Only the fields relevant to Kind
// are set:
//
//	SwitchCategory, DeleteCategory, RenameCategory, CreateCategory: Name
//	SwitchProvider: Provider
//	Repeat: Offset (1 = most recent)
//	SetDirectory, ListDirectories: Path (a spoken hint, not a resolved path)
//	PlanTask, ExecuteTask: Text (empty means "from the conversation")
type Command struct {
	Kind     Kind
	Name     string
	Provider protocol.Provider
	Offset   int
	Path     string
	Text     string
}

type rule struct {
	kind  Kind
	re    *regexp.Regexp
	build func(m []string) (Command, bool)
}

func plain(k Kind) func([]string) (Command, bool) {
	return func([]string) (Command, bool) { return Command{Kind: k}, true }
}

// rules are tried in order; the first match wins. Provider switching sits
// above category switching because both start with "switch to".
var rules = []rule{
	{SendNow, regexp.MustCompile(`^(?:send(?: it)?(?: now)?|go ahead and send|submit|that'?s it)$`), plain(SendNow)},
	{StopListening, regexp.MustCompile(`^(?:stop|pause|quit) listening$|^(?:stop|mute|be quiet)$`), plain(StopListening)},
	{StartListening, regexp.MustCompile(`^(?:start|resume) listening$|^hands[- ]?free(?: mode)?(?: on)?$`), plain(StartListening)},
	{DenyPlan, regexp.MustCompile(`^(?:deny|reject|decline)(?: (?:the|that|this) plan| it)?$|^don'?t do (?:it|that)$`), plain(DenyPlan)},
	{AcceptPlan, regexp.MustCompile(`^(?:(?:yes|yeah|yep|ok|okay|sure),? )?(?:accept|approve|confirm|proceed|do it|run it|execute it|go ahead)(?: (?:the|that|this) plan| it)?$`), plain(AcceptPlan)},
	{CancelTask, regexp.MustCompile(`^(?:cancel|stop|abort|kill)(?: the)?(?: current| running)? (?:task|job)$`), plain(CancelTask)},
	{ClearQueue, regexp.MustCompile(`^(?:clear|empty|flush)(?: the)?(?: task)? queue$`), plain(ClearQueue)},
	{QueueStatus, regexp.MustCompile(`^(?:queue status|what'?s (?:in )?the queue|show(?: me)? the queue|how many tasks(?: are)?(?: queued| left| waiting)?)$`), plain(QueueStatus)},
	{StatusQuery, regexp.MustCompile(`^(?:status|status update|what'?s the status|what are you (?:doing|working on)|are you done(?: yet)?|progress(?: update)?)$`), plain(StatusQuery)},
	{Repeat, regexp.MustCompile(`^(?:repeat|replay|say again)(?: that)?(?: the)?(?: (first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth|\d+)(?:st|nd|rd|th)?)?(?: to)?(?: (?:last|previous|latest|most recent))?(?: (?:message|response|reply|answer|one))?(?: again)?$|^say (?:that|it) again$`), buildRepeat},
	{ListCategories, regexp.MustCompile(`^(?:list|show|what are)(?: me)?(?: my| the| all)?(?: the)? (?:categories|conversations|topics)$`), plain(ListCategories)},
	{CreateCategory, creationForms[0], buildCreate},
	{CreateCategory, creationForms[1], buildCreate},
	{DeleteCategory, regexp.MustCompile(`^(?:delete|remove)(?: the)? (?:category|conversation|topic)(?: called| named)? (.+)$`), named(DeleteCategory)},
	{DeleteCategory, regexp.MustCompile(`^(?:delete|remove) (?:this|the current) (?:category|conversation|topic)$`), plain(DeleteCategory)},
	{RenameCategory, regexp.MustCompile(`^rename(?: this| the)?(?: category| conversation| topic)? (?:to|as) (.+)$`), named(RenameCategory)},
	{SwitchProvider, regexp.MustCompile(`^(?:switch|change|go|talk)(?: back)? to ([a-z' ]+?)(?: mode)?$|^use ([a-z' ]+?)(?: mode)?$`), buildProvider},
	{Escalate, regexp.MustCompile(`^(?:escalate(?: this| it)?(?: to [a-z']+)?|hand (?:this|it) (?:off|over)(?: to [a-z']+)?|send (?:this|it) to [a-z']+|have [a-z']+ (?:do|handle|look at|take) (?:this|it|over))$`), plain(Escalate)},
	{PlanTask, regexp.MustCompile(`^(?:plan|make a plan|create a plan|plan (?:this|it|that) out|plan a task)(?: (?:to|for) (.+))?$`), textual(PlanTask)},
	{ExecuteTask, regexp.MustCompile(`^(?:execute|implement|run) (?:this|it|that|the task)(?: now)?$`), plain(ExecuteTask)},
	{ExecuteTask, regexp.MustCompile(`^(?:execute|run) task (.+)$`), textual(ExecuteTask)},
	{CollectContext, regexp.MustCompile(`^(?:collect|gather|load|refresh|scan)(?: the)?(?: project)? context$`), plain(CollectContext)},
	{WipeContext, regexp.MustCompile(`^(?:wipe|clear|reset|forget)(?: the)?(?: (?:project|conversation))? (?:context|history)$`), plain(WipeContext)},
	{ListDirectories, regexp.MustCompile(`^(?:list|show)(?: me)?(?: the| my)? (?:directories|folders|projects)(?: in (.+))?$`), pathed(ListDirectories)},
	{SetDirectory, regexp.MustCompile(`^(?:set|link|use|change)(?: the)?(?: working)? (?:directory|folder|project)(?: to)? (.+)$|^(?:cd|work in) (.+)$`), pathed(SetDirectory)},
	{SwitchCategory, regexp.MustCompile(`^(?:switch|go|change|jump|move)(?: back)? to(?: the)?(?: category| conversation| topic)? (.+?)(?: category| conversation| topic)?$|^open(?: the)? (?:category|conversation|topic) (.+)$`), named(SwitchCategory)},
}

func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return strings.TrimSpace(g)
		}
	}
	return ""
}

func named(k Kind) func([]string) (Command, bool) {
	return func(m []string) (Command, bool) {
		name := firstGroup(m)
		if name == "" {
			return Command{}, false
		}
		return Command{Kind: k, Name: TitleCase(name)}, true
	}
}

func textual(k Kind) func([]string) (Command, bool) {
	return func(m []string) (Command, bool) {
		return Command{Kind: k, Text: firstGroup(m)}, true
	}
}

func pathed(k Kind) func([]string) (Command, bool) {
	return func(m []string) (Command, bool) {
		return Command{Kind: k, Path: firstGroup(m)}, true
	}
}

func buildCreate(m []string) (Command, bool) {
	name := trimArticles(firstGroup(m))
	if name == "" {
		return Command{}, false
	}
	return Command{Kind: CreateCategory, Name: TitleCase(name)}, true
}

func buildProvider(m []string) (Command, bool) {
	p, ok := ProviderByName(firstGroup(m))
	if !ok {
		// Not a provider; let category switching try.
		return Command{}, false
	}
	return Command{Kind: SwitchProvider, Provider: p}, true
}

var ordinals = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
}

func buildRepeat(m []string) (Command, bool) {
	offset := 1
	if g := m[1]; g != "" {
		if n, ok := ordinals[g]; ok {
			offset = n
		} else if n, err := strconv.Atoi(g); err == nil && n > 0 {
			offset = n
		}
	}
	return Command{Kind: Repeat, Offset: offset}, true
}

// Parse matches text against the command table.
func Parse(text string) (Command, bool) {
	t := Normalize(text)
	if t == "" {
		return Command{}, false
	}
	for _, r := range rules {
		m := r.re.FindStringSubmatch(t)
		if m == nil {
			continue
		}
		if cmd, ok := r.build(m); ok {
			return cmd, true
		}
	}
	return Command{}, false
}

// Normalize lower-cases text, folds curly apostrophes, collapses whitespace
// and strips leading and trailing punctuation.
func Normalize(text string) string {
	t := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	t = strings.Join(strings.Fields(t), " ")
	return strings.TrimFunc(t, func(r rune) bool {
		return unicode.IsPunct(r) && r != '\'' || unicode.IsSpace(r)
	})
}

// TitleCase upper-cases the first letter of every word.
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

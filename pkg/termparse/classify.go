package termparse

import (
	"regexp"
	"strings"
)

// lineInfo is the classification of one line.
type lineInfo struct {
	typ BlockType
	// fresh marks a tool-call line that starts a new call.
	fresh bool
	tool  string
}

var (
	callStartRe = regexp.MustCompile(`^[⏺●]\s*([A-Za-z_][\w.:-]*)\(`)
	responseRe  = regexp.MustCompile(`^[⏺●]\s`)
	workingRe   = regexp.MustCompile(`^[✻✳✽✶✢·*⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏]\s*[A-Z][\w-]*…`)
	statusRes   = []*regexp.Regexp{
		regexp.MustCompile(`^\? for shortcuts`),
		regexp.MustCompile(`^⏵⏵`),
		regexp.MustCompile(`(?i)auto-compact`),
		regexp.MustCompile(`^-- [A-Z]+ --$`),
		regexp.MustCompile(`(?i)^(accept edits|plan mode|bypass permissions) on`),
	}
	spinnerRunes = "✻✳✽✶✢·*⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏"
)

// continueTable overrides the default policy (continue only on same type)
// for specific (current block, incoming line) pairs.
var continueTable = map[[2]BlockType]bool{
	{TypeAgentResponse, TypePlain}:         true,
	{TypeAgentResponse, TypeAgentResponse}: false,
	{TypeUserPrompt, TypePlain}:            true,
	{TypeToolCall, TypeToolResult}:         false,
	{TypeToolResult, TypeToolResult}:       true,
	{TypeSpinner, TypeSpinner}:             false,
	{TypeStatus, TypeStatus}:               true,
}

// classify types one line. cur is the type of the block being built, or ""
// at the start of input; indented lines inherit a tool block's type.
func classify(line string, cur BlockType) lineInfo {
	trimmed := strings.TrimSpace(line)

	if isSeparator(trimmed) {
		return lineInfo{typ: TypeSeparator}
	}
	if m := callStartRe.FindStringSubmatch(trimmed); m != nil {
		return lineInfo{typ: TypeToolCall, fresh: true, tool: m[1]}
	}
	if workingRe.MatchString(trimmed) || strings.Contains(strings.ToLower(trimmed), "esc to interrupt") {
		return lineInfo{typ: TypeSpinner}
	}
	if strings.HasPrefix(trimmed, ">") {
		return lineInfo{typ: TypeUserPrompt}
	}
	if responseRe.MatchString(trimmed) {
		return lineInfo{typ: TypeAgentResponse}
	}
	if strings.HasPrefix(trimmed, "⎿") {
		return lineInfo{typ: TypeToolResult}
	}
	if isIndented(line) && (cur == TypeToolCall || cur == TypeToolResult) {
		return lineInfo{typ: cur}
	}
	for _, re := range statusRes {
		if re.MatchString(trimmed) {
			return lineInfo{typ: TypeStatus}
		}
	}
	if isSpinnerOnly(trimmed) {
		return lineInfo{typ: TypeSpinner}
	}
	return lineInfo{typ: TypePlain}
}

// continues reports whether a line joins the block currently being built.
func continues(cur BlockType, next lineInfo) bool {
	if next.typ == TypeSeparator || next.typ == TypeUserPrompt {
		return false
	}
	if next.typ == TypeToolCall && next.fresh {
		return false
	}
	if v, ok := continueTable[[2]BlockType{cur, next.typ}]; ok {
		return v
	}
	return cur == next.typ
}

func isSeparator(trimmed string) bool {
	n := 0
	for _, r := range trimmed {
		if !strings.ContainsRune("─━═-╌┄", r) {
			return false
		}
		n++
	}
	return n >= 10
}

func isIndented(line string) bool {
	return strings.HasPrefix(line, "  ") || strings.HasPrefix(line, "\t")
}

func isSpinnerOnly(trimmed string) bool {
	runes := []rune(trimmed)
	return len(runes) == 1 && strings.ContainsRune(spinnerRunes, runes[0])
}

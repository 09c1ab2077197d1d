// Package termparse classifies captured agent terminal output into typed
// blocks. Parse is pure; Parser re-parses only the changed tail of a capture.
package termparse

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// BlockType is the semantic kind of a block.
type BlockType string

const (
	TypeUserPrompt    BlockType = "user-prompt"
	TypeAgentResponse BlockType = "agent-response"
	TypeToolCall      BlockType = "tool-call"
	TypeToolResult    BlockType = "tool-result"
	TypeSeparator     BlockType = "separator"
	TypeStatus        BlockType = "status"
	TypeSpinner       BlockType = "spinner"
	TypePlain         BlockType = "plain"
)

// Block is one run of lines sharing a type. Blocks returned by Parser may
// be shared between calls and must be treated as read-only.
type Block struct {
	ID       int               `json:"id"`
	Type     BlockType         `json:"type"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// first and last are indices into the parsed line slice.
	first, last int
}

// Parse classifies text from scratch.
func Parse(text string) []*Block {
	lines := splitLines(text)
	return parseFrom(lines, nil, 0)
}

// splitLines strips escapes and drops blank lines.
func splitLines(text string) []string {
	raw := strings.Split(ansi.Strip(text), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// parseFrom classifies lines[start:] and appends the resulting blocks to
// kept, whose last block must end at start-1.
func parseFrom(lines []string, kept []*Block, start int) []*Block {
	blocks := kept
	var cur *Block
	var content []string

	flush := func() {
		if cur == nil {
			return
		}
		cur.Content = strings.Join(content, "\n")
		blocks = append(blocks, cur)
		cur, content = nil, nil
	}

	for i := start; i < len(lines); i++ {
		var curType BlockType
		if cur != nil {
			curType = cur.Type
		} else if len(blocks) > 0 {
			curType = blocks[len(blocks)-1].Type
		}

		info := classify(lines[i], curType)
		if cur != nil && continues(cur.Type, info) {
			content = append(content, lines[i])
			cur.last = i
			continue
		}

		flush()
		cur = &Block{
			ID:    len(blocks),
			Type:  info.typ,
			first: i,
			last:  i,
		}
		if info.tool != "" {
			cur.Metadata = map[string]string{"tool": info.tool}
		}
		content = []string{lines[i]}
	}
	flush()

	if blocks == nil {
		blocks = []*Block{}
	}
	return blocks
}

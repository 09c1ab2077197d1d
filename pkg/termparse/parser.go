package termparse

// Parser keeps the previous capture so that Update only re-classifies from
// the first changed line. Leading blocks that end before the change are
// returned as the same pointers.
type Parser struct {
	lines  []string
	blocks []*Block
}

func NewParser() *Parser {
	return &Parser{blocks: []*Block{}}
}

// Update parses text, reusing what it can from the previous call.
func (p *Parser) Update(text string) []*Block {
	lines := splitLines(text)

	d := divergence(p.lines, lines)
	if d == len(lines) && d == len(p.lines) {
		return p.blocks
	}

	// A block ending right before the divergence point may be extended by
	// the new lines, so it is re-parsed too.
	keep := 0
	for keep < len(p.blocks) && p.blocks[keep].last < d-1 {
		keep++
	}
	start := 0
	if keep > 0 {
		start = p.blocks[keep-1].last + 1
	}

	kept := make([]*Block, keep, len(p.blocks)+1)
	copy(kept, p.blocks[:keep])

	p.blocks = parseFrom(lines, kept, start)
	p.lines = lines
	return p.blocks
}

// Blocks returns the result of the last Update.
func (p *Parser) Blocks() []*Block {
	return p.blocks
}

// Reset forgets all cached state.
func (p *Parser) Reset() {
	p.lines = nil
	p.blocks = []*Block{}
}

func divergence(a, b []string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

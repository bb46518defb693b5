package fence

// Fence is one fence line found by Scan.
type Fence struct {
	Line int // 1-based
	Kind Kind
	// Tag is the text after the backticks of a file fence.
	Tag string
	// Target is the path named by the file marker on the line after a file
	// fence, if any.
	Target string
}

// Outline lists the block fences of a document.
type Outline struct {
	Fences []Fence
	// Unclosed is the line of a block opened but never closed, or 0.
	Unclosed int
}

// Scan walks lines the way the block state machine does: outside a block
// any fence opens one, inside a block only a bare fence closes it. Fences
// nested inside a block are content and are not reported.
func Scan(lines []string, marker *Marker) Outline {
	var out Outline
	open := 0
	for i, line := range lines {
		kind, tag := Classify(line)
		switch {
		case kind == KindText:
		case open == 0 && kind == KindClose:
			// Stray closing fence outside a block.
		case open == 0:
			f := Fence{Line: i + 1, Kind: kind, Tag: tag}
			if kind == KindFile && i+1 < len(lines) {
				if target, ok := marker.Parse(lines[i+1]); ok {
					f.Target = target
				}
			}
			out.Fences = append(out.Fences, f)
			open = i + 1
		case kind == KindClose:
			out.Fences = append(out.Fences, Fence{Line: i + 1, Kind: KindClose})
			open = 0
		}
	}
	out.Unclosed = open
	return out
}

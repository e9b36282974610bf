package caravan

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"
)

// BlockTypeInteractiveMap is the structured-block type carried by map experts.
const BlockTypeInteractiveMap = "interactive_map"

// Block is a structured JSON payload carried inside expert output as a fenced
// ```json code block.
//
// Raw is the exact source substring including both fences, so re-injection
// never suffers reformatting drift. Parsed is the decoded object, used only
// for deduplication and presence checks via structural equality.
type Block struct {
	Raw    string
	Parsed map[string]any
	Type   string
}

var blockParser = goldmark.New()

// ExtractBlocks scans markdown for fenced json blocks whose top-level object
// carries a recognized "type", in document order. Blocks with unparseable
// content, a missing or unrecognized type, or no closing fence are skipped.
func ExtractBlocks(source string, recognized map[string]struct{}) []Block {
	if !strings.Contains(source, "```") {
		return nil
	}

	src := []byte(source)
	root := blockParser.Parser().Parse(gtext.NewReader(src))

	var blocks []Block
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindFencedCodeBlock {
			return ast.WalkContinue, nil
		}
		fcb := n.(*ast.FencedCodeBlock)
		if !bytes.Equal(fcb.Language(src), []byte("json")) {
			return ast.WalkContinue, nil
		}
		lines := fcb.Lines()
		if lines.Len() == 0 {
			return ast.WalkContinue, nil
		}

		content := make([]byte, 0, 256)
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			content = append(content, src[seg.Start:seg.Stop]...)
		}

		var parsed map[string]any
		if err := json.Unmarshal(content, &parsed); err != nil {
			return ast.WalkContinue, nil
		}
		blockType, _ := parsed["type"].(string)
		if _, ok := recognized[blockType]; !ok {
			return ast.WalkContinue, nil
		}

		raw, ok := rawFencedSubstring(src, lines.At(0).Start, lines.At(lines.Len()-1).Stop)
		if !ok {
			return ast.WalkContinue, nil
		}

		blocks = append(blocks, Block{Raw: raw, Parsed: parsed, Type: blockType})
		return ast.WalkContinue, nil
	})
	return blocks
}

// rawFencedSubstring recovers the exact source substring for a fenced block
// from its content span: the line holding the opening fence through the line
// holding the closing fence. Returns false when no closing fence follows the
// content (unterminated block at EOF).
func rawFencedSubstring(src []byte, contentStart, contentStop int) (string, bool) {
	// The opening fence line ends right before the first content line.
	fenceStart := 0
	if contentStart > 0 {
		if i := bytes.LastIndexByte(src[:contentStart-1], '\n'); i >= 0 {
			fenceStart = i + 1
		}
	}

	// The closing fence line starts right after the last content line. The
	// content span may or may not include that line's newline, so skip any
	// leading line-break bytes before checking for the fence.
	rest := src[contentStop:]
	trimmed := bytes.TrimLeft(rest, " \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte("```")) {
		return "", false
	}
	fenceOff := contentStop + (len(rest) - len(trimmed))
	end := len(src)
	if i := bytes.IndexByte(src[fenceOff:], '\n'); i >= 0 {
		end = fenceOff + i
	}
	if end > 0 && src[end-1] == '\r' {
		end--
	}

	return string(src[fenceStart:end]), true
}

// dedupeBlocks removes structurally equal blocks, keeping first occurrence.
func dedupeBlocks(blocks []Block) []Block {
	var out []Block
	for _, b := range blocks {
		if !containsBlock(out, b.Parsed) {
			out = append(out, b)
		}
	}
	return out
}

// containsBlock reports whether parsed structurally equals any block's payload.
func containsBlock(blocks []Block, parsed map[string]any) bool {
	for _, b := range blocks {
		if reflect.DeepEqual(b.Parsed, parsed) {
			return true
		}
	}
	return false
}

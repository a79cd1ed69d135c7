package tokens

import (
	"bytes"
	"regexp"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	gmtext "github.com/yuin/goldmark/text"
)

// ContentType is the estimation path chosen for a piece of text.
type ContentType string

const (
	ContentCode       ContentType = "code"
	ContentMarkdown   ContentType = "markdown"
	ContentStructured ContentType = "structured"
	ContentPlain      ContentType = "plain"
)

// codeBlock is one fenced block lifted out of mixed content.
type codeBlock struct {
	language string
	body     string
}

// document is text split into fenced code blocks and the remaining prose.
type document struct {
	blocks    []codeBlock
	remainder string
	markdown  bool
}

var (
	markdownParserInstance parser.Parser
	markdownParserOnce     sync.Once
)

// markdownParser is shared; goldmark keeps per-parse state in the reader.
func markdownParser() parser.Parser {
	markdownParserOnce.Do(func() {
		markdownParserInstance = goldmark.New().Parser()
	})
	return markdownParserInstance
}

// parseDocument walks the CommonMark AST once, collecting fenced code blocks
// and noting whether the surrounding text carries markdown structure.
func parseDocument(text string) document {
	src := []byte(text)
	root := markdownParser().Parse(gmtext.NewReader(src))

	var doc document
	var spans [][2]int
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock:
			doc.blocks = append(doc.blocks, codeBlock{
				language: string(node.Language(src)),
				body:     segmentsText(node.Lines(), src),
			})
			if start, stop, ok := fenceSpan(node, src); ok {
				spans = append(spans, [2]int{start, stop})
			}
			return ast.WalkSkipChildren, nil
		case *ast.Heading, *ast.Emphasis, *ast.List, *ast.Link, *ast.AutoLink,
			*ast.Image, *ast.Blockquote, *ast.ThematicBreak, *ast.CodeSpan:
			doc.markdown = true
		}
		return ast.WalkContinue, nil
	})

	if len(spans) == 0 {
		doc.remainder = text
		return doc
	}
	var b strings.Builder
	prev := 0
	for _, s := range spans {
		if s[0] > prev {
			b.Write(src[prev:s[0]])
		}
		if s[1] > prev {
			prev = s[1]
		}
	}
	if prev < len(src) {
		b.Write(src[prev:])
	}
	doc.remainder = b.String()
	return doc
}

func segmentsText(lines *gmtext.Segments, src []byte) string {
	var b strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}

// fenceSpan returns the byte range of a fenced block including both fence
// lines. Unclosed fences run to the end of their body.
func fenceSpan(node *ast.FencedCodeBlock, src []byte) (int, int, bool) {
	lines := node.Lines()
	var start, end int
	switch {
	case node.Info != nil:
		start = lineStart(src, node.Info.Segment.Start)
	case lines.Len() > 0 && lines.At(0).Start > 0:
		start = lineStart(src, lines.At(0).Start-1)
	default:
		return 0, 0, false
	}
	if lines.Len() > 0 {
		end = lines.At(lines.Len() - 1).Stop
	} else {
		end = lineEnd(src, start)
	}
	if end < len(src) {
		if next := lineEnd(src, end); isFenceLine(src[end:next]) {
			end = next
		}
	}
	return start, end, true
}

func lineStart(src []byte, pos int) int {
	for pos > 0 && src[pos-1] != '\n' {
		pos--
	}
	return pos
}

func lineEnd(src []byte, pos int) int {
	for pos < len(src) && src[pos] != '\n' {
		pos++
	}
	if pos < len(src) {
		pos++
	}
	return pos
}

func isFenceLine(line []byte) bool {
	t := bytes.TrimSpace(line)
	if len(t) < 3 || (t[0] != '`' && t[0] != '~') {
		return false
	}
	for _, c := range t {
		if c != t[0] {
			return false
		}
	}
	return true
}

var (
	codeSignals = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*(func|def|class|import|package|return|public|private|static|const|let|var|fn|impl|struct|interface|#include|using|namespace|SELECT|INSERT|UPDATE)\b`),
		regexp.MustCompile(`(?m)[;{]\s*$`),
		regexp.MustCompile(`:=|=>|->|==|!=|&&|\|\||\+\+|<<|>>`),
		regexp.MustCompile(`\w+\([^()\n]*\)\s*[{:;]`),
	}

	keyValueLine     = regexp.MustCompile(`(?m)^[ \t]*["']?[\w.-]+["']?[ \t]*[:=][ \t]*\S`)
	punctuationRun   = regexp.MustCompile(`[[:punct:]]{2,}`)
	numericRun       = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	structuralMarker = "{}[]|"
)

// looksLikeCode requires two distinct signals so that prose mentioning a
// keyword or an arrow stays prose.
func looksLikeCode(text string) bool {
	hits := 0
	for _, re := range codeSignals {
		if re.MatchString(text) {
			hits++
			if hits >= 2 {
				return true
			}
		}
	}
	return false
}

func looksStructured(text string) bool {
	if strings.ContainsAny(text, structuralMarker) {
		return true
	}
	return len(keyValueLine.FindAllStringIndex(text, 2)) >= 2
}

// classifyProse applies the fixed precedence code > markdown > structured > plain
// to text that has no fenced blocks left in it.
func classifyProse(text string, markdown bool) ContentType {
	switch {
	case looksLikeCode(text):
		return ContentCode
	case markdown:
		return ContentMarkdown
	case looksStructured(text):
		return ContentStructured
	default:
		return ContentPlain
	}
}

// Classify reports the content type of text as a whole: anything carrying a
// fenced block is code.
func Classify(text string) ContentType {
	doc := parseDocument(text)
	if len(doc.blocks) > 0 {
		return ContentCode
	}
	return classifyProse(text, doc.markdown)
}

// NormalizeLanguage maps a fence info string or alias ("py", "golang", "c++")
// to a lower-cased canonical lexer name.
func NormalizeLanguage(info string) string {
	info = strings.ToLower(strings.TrimSpace(info))
	if info == "" {
		return ""
	}
	if lexer := lexers.Get(info); lexer != nil {
		return strings.ToLower(lexer.Config().Name)
	}
	return info
}

// detectLanguage guesses the language of unfenced code. It returns "" when
// no lexer claims the text.
func detectLanguage(text string) string {
	if lexer := lexers.Analyse(text); lexer != nil {
		return strings.ToLower(lexer.Config().Name)
	}
	return ""
}

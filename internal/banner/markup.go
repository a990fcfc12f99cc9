package banner

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// ErrMarkup is wrapped by every error returned from ParseMarkup
var ErrMarkup = errors.New("invalid banner markup")

var (
	markupLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Comment", Pattern: `<!--(?:[^-]|-[^-]|--[^>])*-->`},
		{Name: "CloseTag", Pattern: `</[A-Za-z][A-Za-z0-9]*\s*>`},
		{Name: "OpenTag", Pattern: `<[A-Za-z][A-Za-z0-9]*(?:\s+[A-Za-z_:][-A-Za-z0-9_:.]*(?:\s*=\s*(?:"[^"]*"|'[^']*'|[^\s"'=<>]+))?)*\s*/?>`},
		{Name: "Entity", Pattern: `&(?:#[0-9]+|#[xX][0-9A-Fa-f]+|[A-Za-z][A-Za-z0-9]*);`},
		{Name: "Text", Pattern: `[^<&]+`},
		{Name: "Stray", Pattern: `[<&]`},
	})

	markupParser = participle.MustBuild[markupDocument](
		participle.Lexer(markupLexer),
		participle.Elide("Comment"),
	)

	tagNamePattern   = regexp.MustCompile(`^</?([A-Za-z][A-Za-z0-9]*)`)
	attributePattern = regexp.MustCompile(`([A-Za-z_:][-A-Za-z0-9_:.]*)\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s"'=<>/]+))`)
	fontSizePattern  = regexp.MustCompile(`font-size\s*:\s*([0-9]+(?:\.[0-9]+)?)px`)
)

// The markup is lexed into a flat token stream; nesting is resolved while
// building the content so void tags such as <br> need no grammar of their own.
type markupDocument struct {
	Tokens []*markupToken `parser:"@@*"`
}

type markupToken struct {
	Pos    lexer.Position
	Open   *string `parser:"  @OpenTag"`
	Close  *string `parser:"| @CloseTag"`
	Entity *string `parser:"| @Entity"`
	Text   *string `parser:"| @(Text | Stray)"`
}

var voidTags = map[string]bool{
	"br": true, "hr": true, "img": true, "input": true, "meta": true, "link": true, "wbr": true,
}

var namedEntities = map[string]string{
	"amp":  "&",
	"lt":   "<",
	"gt":   ">",
	"quot": `"`,
	"apos": "'",
	"nbsp": " ",
}

type styleFrame struct {
	tag   string
	style Span
}

type contentBuilder struct {
	content    Content
	line       []Span
	brokeLine  bool
	paragraphs int
	stack      []styleFrame
}

// ParseMarkup converts the HTML subset produced by the editor into Content.
// Input without any tags is treated as plain text, one paragraph per line.
func ParseMarkup(markup string) (Content, error) {
	if !strings.ContainsRune(markup, '<') {
		return Plain(decodeEntities(markup)), nil
	}

	doc, err := markupParser.ParseString("", markup)
	if err != nil {
		return Content{}, fmt.Errorf("%w: %v", ErrMarkup, err)
	}

	b := &contentBuilder{}
	for _, tok := range doc.Tokens {
		switch {
		case tok.Open != nil:
			b.open(*tok.Open)
		case tok.Close != nil:
			if err := b.close(*tok.Close); err != nil {
				return Content{}, fmt.Errorf("%w: %v at %s", ErrMarkup, err, tok.Pos)
			}
		case tok.Entity != nil:
			b.text(decodeEntities(*tok.Entity))
		case tok.Text != nil:
			b.text(*tok.Text)
		}
	}
	if len(b.line) > 0 {
		b.flush()
	}

	return b.content, nil
}

func (b *contentBuilder) current() Span {
	if len(b.stack) == 0 {
		return Span{}
	}
	return b.stack[len(b.stack)-1].style
}

func (b *contentBuilder) flush() {
	b.content.Paragraphs = append(b.content.Paragraphs, b.line)
	b.line = nil
}

func (b *contentBuilder) open(tag string) {
	name := tagName(tag)
	style := b.current()

	switch name {
	case "br":
		b.flush()
		b.brokeLine = true
		return
	case "p", "div", "h1", "h2", "h3", "li":
		if len(b.line) > 0 {
			b.flush()
		}
		b.brokeLine = false
	case "strong", "b":
		style.Bold = true
	case "em", "i":
		style.Italic = true
	case "u":
		style.Underline = true
	case "code", "tt", "kbd", "samp":
		style.Mono = true
	}

	if size, ok := fontSizeAttribute(tag); ok {
		style.FontSize = size
	}

	if voidTags[name] || strings.HasSuffix(tag, "/>") {
		return
	}
	b.stack = append(b.stack, styleFrame{tag: name, style: style})
}

func (b *contentBuilder) close(tag string) error {
	name := tagName(tag)
	if voidTags[name] {
		return nil
	}
	if len(b.stack) == 0 {
		return fmt.Errorf("unexpected closing tag </%s>", name)
	}
	top := b.stack[len(b.stack)-1]
	if top.tag != name {
		return fmt.Errorf("closing tag </%s> does not match <%s>", name, top.tag)
	}
	b.stack = b.stack[:len(b.stack)-1]

	switch name {
	case "p", "div", "h1", "h2", "h3", "li":
		// "<p><br></p>" is how editors write an empty line, the break already
		// produced it
		if len(b.line) > 0 || !b.brokeLine {
			b.flush()
		}
		b.brokeLine = false
	}
	return nil
}

func (b *contentBuilder) text(s string) {
	if len(b.stack) == 0 && strings.TrimSpace(s) == "" {
		return
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if i > 0 {
			b.flush()
		}
		if len(line) > 0 {
			b.appendSpan(line)
		}
	}
}

func (b *contentBuilder) appendSpan(text string) {
	style := b.current()
	if n := len(b.line); n > 0 {
		last := &b.line[n-1]
		if last.SameStyle(style) {
			last.Text += text
			return
		}
	}
	style.Text = text
	b.line = append(b.line, style)
}

func tagName(tag string) string {
	m := tagNamePattern.FindStringSubmatch(tag)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

func fontSizeAttribute(tag string) (int, bool) {
	for _, m := range attributePattern.FindAllStringSubmatch(tag, -1) {
		if !strings.EqualFold(m[1], "style") {
			continue
		}
		value := m[2] + m[3] + m[4]
		sm := fontSizePattern.FindStringSubmatch(value)
		if sm == nil {
			continue
		}
		size, err := strconv.ParseFloat(sm[1], 64)
		if err != nil || size < 1 {
			continue
		}
		// huge values would overflow int before clamping
		size = min(size, MaxFontSize)
		return ClampFontSize(int(size + 0.5)), true
	}
	return 0, false
}

func decodeEntities(s string) string {
	if !strings.ContainsRune(s, '&') {
		return s
	}

	var sb strings.Builder
	for len(s) > 0 {
		i := strings.IndexByte(s, '&')
		if i < 0 {
			sb.WriteString(s)
			break
		}
		sb.WriteString(s[:i])
		s = s[i:]

		end := strings.IndexByte(s, ';')
		if end < 0 {
			sb.WriteString(s)
			break
		}
		if r, ok := decodeEntity(s[1:end]); ok {
			sb.WriteString(r)
			s = s[end+1:]
		} else {
			sb.WriteByte('&')
			s = s[1:]
		}
	}
	return sb.String()
}

func decodeEntity(name string) (string, bool) {
	if r, ok := namedEntities[name]; ok {
		return r, true
	}
	if strings.HasPrefix(name, "#") {
		var n uint64
		var err error
		if strings.HasPrefix(name, "#x") || strings.HasPrefix(name, "#X") {
			n, err = strconv.ParseUint(name[2:], 16, 32)
		} else {
			n, err = strconv.ParseUint(name[1:], 10, 32)
		}
		if err != nil || n == 0 || n > 0x10FFFF {
			return "", false
		}
		return string(rune(n)), true
	}
	return "", false
}

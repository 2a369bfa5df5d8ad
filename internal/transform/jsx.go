package transform

import (
	"fmt"
	"strings"
)

// jsxError is an internal syntax failure with a byte offset into the source
// being rewritten. Module converts it to a SyntaxError with line/column.
type jsxError struct {
	offset int
	msg    string
}

func (e *jsxError) Error() string {
	return fmt.Sprintf("jsx: %s (offset %d)", e.msg, e.offset)
}

// DesugarJSX rewrites JSX element syntax in src into plain
// React.createElement / React.Fragment calls. The rewrite is purely
// syntactic; non-JSX code passes through untouched.
func DesugarJSX(src string) (string, error) {
	s := &jsxScanner{src: src}
	if err := s.scanJS(false); err != nil {
		return "", err
	}
	return s.out.String(), nil
}

type jsxScanner struct {
	src string
	i   int
	out strings.Builder

	// lastSig is the last significant output byte in JS context, curWord
	// the identifier token being accumulated, lastWord the previous
	// complete one. They drive the "does < start JSX" decision.
	lastSig  byte
	prevSig  byte
	curWord  string
	lastWord string
}

// jsxPrefixWords are keywords after which a < must be JSX, not comparison.
var jsxPrefixWords = map[string]bool{
	"return": true, "default": true, "do": true, "else": true,
	"typeof": true, "void": true, "in": true, "of": true, "case": true,
	"yield": true, "await": true, "new": true,
}

func (s *jsxScanner) jsxAllowed() bool {
	word := s.curWord
	if word == "" {
		word = s.lastWord
	}
	if jsxPrefixWords[word] && (s.lastSig == 0 || isIdentChar(s.lastSig)) {
		return true
	}
	switch s.lastSig {
	case 0, '(', '[', '{', ',', ';', '=', ':', '?', '&', '|', '!', '+', '-', '*', '%', '~', '^', '<':
		return true
	case '>':
		// Only an arrow (=>) keeps JSX position after '>'.
		return s.prevSig == '='
	}
	return false
}

func (s *jsxScanner) setSig(c byte) {
	s.prevSig = s.lastSig
	s.lastSig = c
	s.curWord = ""
	s.lastWord = ""
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// scanJS copies JavaScript to the output, rewriting JSX expressions as they
// appear. With stopAtBrace it returns (without consuming) at the first
// unbalanced closing brace, which ends a ${...} template substitution.
func (s *jsxScanner) scanJS(stopAtBrace bool) error {
	depth := 0
	for s.i < len(s.src) {
		c := s.src[s.i]
		switch {
		case c == '\'' || c == '"':
			if err := s.copyString(c); err != nil {
				return err
			}
			s.setSig(c)
			continue
		case c == '`':
			if err := s.copyTemplate(); err != nil {
				return err
			}
			s.setSig('`')
			continue
		case c == '/' && s.i+1 < len(s.src) && s.src[s.i+1] == '/':
			s.copyLineComment()
			continue
		case c == '/' && s.i+1 < len(s.src) && s.src[s.i+1] == '*':
			if err := s.copyBlockComment(); err != nil {
				return err
			}
			continue
		case c == '<' && s.jsxAllowed() && s.peekJSXStart():
			expr, err := s.parseElement()
			if err != nil {
				return err
			}
			s.out.WriteString(expr)
			s.setSig(')')
			continue
		case c == '{':
			depth++
		case c == '}':
			if stopAtBrace && depth == 0 {
				return nil
			}
			depth--
		}

		s.out.WriteByte(c)
		switch {
		case isIdentChar(c):
			if s.curWord != "" || isIdentStart(c) {
				s.curWord += string(c)
			}
			s.prevSig = s.lastSig
			s.lastSig = c
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if s.curWord != "" {
				s.lastWord = s.curWord
				s.curWord = ""
			}
		default:
			s.setSig(c)
		}
		s.i++
	}
	if stopAtBrace {
		return &jsxError{offset: s.i, msg: "unterminated expression"}
	}
	return nil
}

// peekJSXStart reports whether the < at the current position opens a JSX
// element or fragment.
func (s *jsxScanner) peekJSXStart() bool {
	if s.i+1 >= len(s.src) {
		return false
	}
	n := s.src[s.i+1]
	return n == '>' || isIdentStart(n)
}

func (s *jsxScanner) copyString(quote byte) error {
	start := s.i
	s.out.WriteByte(quote)
	s.i++
	for s.i < len(s.src) {
		c := s.src[s.i]
		s.out.WriteByte(c)
		s.i++
		if c == '\\' && s.i < len(s.src) {
			s.out.WriteByte(s.src[s.i])
			s.i++
			continue
		}
		if c == quote {
			return nil
		}
		if c == '\n' {
			return &jsxError{offset: start, msg: "unterminated string literal"}
		}
	}
	return &jsxError{offset: start, msg: "unterminated string literal"}
}

func (s *jsxScanner) copyTemplate() error {
	start := s.i
	s.out.WriteByte('`')
	s.i++
	for s.i < len(s.src) {
		c := s.src[s.i]
		if c == '\\' && s.i+1 < len(s.src) {
			s.out.WriteByte(c)
			s.out.WriteByte(s.src[s.i+1])
			s.i += 2
			continue
		}
		if c == '`' {
			s.out.WriteByte(c)
			s.i++
			return nil
		}
		if c == '$' && s.i+1 < len(s.src) && s.src[s.i+1] == '{' {
			s.out.WriteString("${")
			s.i += 2
			// Template substitutions are back in JS context; JSX inside
			// them is rewritten too.
			if err := s.scanJS(true); err != nil {
				return err
			}
			if s.i >= len(s.src) || s.src[s.i] != '}' {
				return &jsxError{offset: start, msg: "unterminated template substitution"}
			}
			s.out.WriteByte('}')
			s.i++
			continue
		}
		s.out.WriteByte(c)
		s.i++
	}
	return &jsxError{offset: start, msg: "unterminated template literal"}
}

func (s *jsxScanner) copyLineComment() {
	for s.i < len(s.src) && s.src[s.i] != '\n' {
		s.out.WriteByte(s.src[s.i])
		s.i++
	}
}

func (s *jsxScanner) copyBlockComment() error {
	start := s.i
	s.out.WriteString("/*")
	s.i += 2
	for s.i+1 < len(s.src) {
		if s.src[s.i] == '*' && s.src[s.i+1] == '/' {
			s.out.WriteString("*/")
			s.i += 2
			return nil
		}
		s.out.WriteByte(s.src[s.i])
		s.i++
	}
	return &jsxError{offset: start, msg: "unterminated comment"}
}

// parseElement consumes one JSX element (or fragment) starting at '<' and
// returns the equivalent createElement expression.
func (s *jsxScanner) parseElement() (string, error) {
	start := s.i
	s.i++ // consume '<'

	tag := s.readTagName()
	fragment := tag == ""
	if fragment {
		if s.i >= len(s.src) || s.src[s.i] != '>' {
			return "", &jsxError{offset: start, msg: "malformed fragment"}
		}
	}

	props, selfClosing, err := s.parseAttributes(start)
	if err != nil {
		return "", err
	}

	var children []string
	if !selfClosing {
		children, err = s.parseChildren(start, tag)
		if err != nil {
			return "", err
		}
	}

	return buildCreateElement(tag, props, children), nil
}

// readTagName reads an element name (identifier, dotted member or custom
// element with hyphens). Empty means fragment.
func (s *jsxScanner) readTagName() string {
	begin := s.i
	for s.i < len(s.src) {
		c := s.src[s.i]
		if isIdentChar(c) || c == '.' || c == '-' {
			s.i++
			continue
		}
		break
	}
	return s.src[begin:s.i]
}

// jsxProp is one attribute; spreads have Spread set and Name empty.
type jsxProp struct {
	Name   string
	Value  string
	Spread string
}

func (s *jsxScanner) parseAttributes(start int) ([]jsxProp, bool, error) {
	var props []jsxProp
	for {
		s.skipSpace()
		if s.i >= len(s.src) {
			return nil, false, &jsxError{offset: start, msg: "unterminated element"}
		}
		switch c := s.src[s.i]; {
		case c == '>':
			s.i++
			return props, false, nil
		case c == '/':
			if s.i+1 < len(s.src) && s.src[s.i+1] == '>' {
				s.i += 2
				return props, true, nil
			}
			return nil, false, &jsxError{offset: s.i, msg: "unexpected / in element"}
		case c == '{':
			// {...spread}
			expr, err := s.readBracedExpr()
			if err != nil {
				return nil, false, err
			}
			expr = strings.TrimSpace(expr)
			if !strings.HasPrefix(expr, "...") {
				return nil, false, &jsxError{offset: s.i, msg: "expected spread attribute"}
			}
			inner, err := rewriteSub(strings.TrimPrefix(expr, "..."))
			if err != nil {
				return nil, false, err
			}
			props = append(props, jsxProp{Spread: inner})
		case isIdentStart(c):
			name := s.readAttrName()
			s.skipSpace()
			if s.i < len(s.src) && s.src[s.i] == '=' {
				s.i++
				s.skipSpace()
				value, err := s.readAttrValue()
				if err != nil {
					return nil, false, err
				}
				props = append(props, jsxProp{Name: name, Value: value})
			} else {
				props = append(props, jsxProp{Name: name, Value: "true"})
			}
		default:
			return nil, false, &jsxError{offset: s.i, msg: fmt.Sprintf("unexpected %q in element", c)}
		}
	}
}

func (s *jsxScanner) readAttrName() string {
	begin := s.i
	for s.i < len(s.src) {
		c := s.src[s.i]
		if isIdentChar(c) || c == '-' || c == ':' {
			s.i++
			continue
		}
		break
	}
	return s.src[begin:s.i]
}

func (s *jsxScanner) readAttrValue() (string, error) {
	if s.i >= len(s.src) {
		return "", &jsxError{offset: s.i, msg: "missing attribute value"}
	}
	switch c := s.src[s.i]; c {
	case '"', '\'':
		begin := s.i
		s.i++
		for s.i < len(s.src) && s.src[s.i] != c {
			s.i++
		}
		if s.i >= len(s.src) {
			return "", &jsxError{offset: begin, msg: "unterminated attribute value"}
		}
		s.i++
		return s.src[begin:s.i], nil
	case '{':
		expr, err := s.readBracedExpr()
		if err != nil {
			return "", err
		}
		return rewriteSub(expr)
	case '<':
		elem := &jsxScanner{src: s.src, i: s.i}
		out, err := elem.parseElement()
		if err != nil {
			return "", err
		}
		s.i = elem.i
		return out, nil
	default:
		return "", &jsxError{offset: s.i, msg: "malformed attribute value"}
	}
}

// readBracedExpr consumes a {...} group and returns the inner expression
// text. Strings, templates, comments and nested braces are respected.
func (s *jsxScanner) readBracedExpr() (string, error) {
	start := s.i
	s.i++ // consume '{'
	depth := 0
	begin := s.i
	for s.i < len(s.src) {
		switch c := s.src[s.i]; c {
		case '\'', '"':
			if err := s.skipString(c); err != nil {
				return "", err
			}
			continue
		case '`':
			if err := s.skipTemplate(); err != nil {
				return "", err
			}
			continue
		case '/':
			if s.i+1 < len(s.src) && s.src[s.i+1] == '/' {
				for s.i < len(s.src) && s.src[s.i] != '\n' {
					s.i++
				}
				continue
			}
			if s.i+1 < len(s.src) && s.src[s.i+1] == '*' {
				s.i += 2
				for s.i+1 < len(s.src) && !(s.src[s.i] == '*' && s.src[s.i+1] == '/') {
					s.i++
				}
				s.i += 2
				continue
			}
		case '{':
			depth++
		case '}':
			if depth == 0 {
				expr := s.src[begin:s.i]
				s.i++
				return expr, nil
			}
			depth--
		}
		s.i++
	}
	return "", &jsxError{offset: start, msg: "unterminated expression"}
}

func (s *jsxScanner) skipString(quote byte) error {
	start := s.i
	s.i++
	for s.i < len(s.src) {
		c := s.src[s.i]
		s.i++
		if c == '\\' {
			s.i++
			continue
		}
		if c == quote {
			return nil
		}
	}
	return &jsxError{offset: start, msg: "unterminated string literal"}
}

func (s *jsxScanner) skipTemplate() error {
	start := s.i
	s.i++
	depth := 0
	for s.i < len(s.src) {
		c := s.src[s.i]
		if c == '\\' {
			s.i += 2
			continue
		}
		if c == '$' && s.i+1 < len(s.src) && s.src[s.i+1] == '{' {
			depth++
			s.i += 2
			continue
		}
		if c == '}' && depth > 0 {
			depth--
			s.i++
			continue
		}
		if c == '`' && depth == 0 {
			s.i++
			return nil
		}
		s.i++
	}
	return &jsxError{offset: start, msg: "unterminated template literal"}
}

func (s *jsxScanner) skipSpace() {
	for s.i < len(s.src) {
		switch s.src[s.i] {
		case ' ', '\t', '\n', '\r':
			s.i++
		default:
			return
		}
	}
}

func (s *jsxScanner) parseChildren(start int, tag string) ([]string, error) {
	var children []string
	textBegin := s.i
	flushText := func(end int) {
		if text := jsxText(s.src[textBegin:end]); text != "" {
			children = append(children, quoteJS(text))
		}
	}
	for s.i < len(s.src) {
		switch c := s.src[s.i]; c {
		case '<':
			flushText(s.i)
			if s.i+1 < len(s.src) && s.src[s.i+1] == '/' {
				// Closing tag.
				s.i += 2
				name := s.readTagName()
				s.skipSpace()
				if s.i >= len(s.src) || s.src[s.i] != '>' {
					return nil, &jsxError{offset: start, msg: "malformed closing tag"}
				}
				s.i++
				if name != tag {
					return nil, &jsxError{offset: start,
						msg: fmt.Sprintf("mismatched closing tag </%s> for <%s>", name, tag)}
				}
				return children, nil
			}
			child := &jsxScanner{src: s.src, i: s.i}
			out, err := child.parseElement()
			if err != nil {
				return nil, err
			}
			s.i = child.i
			children = append(children, out)
			textBegin = s.i
		case '{':
			flushText(s.i)
			expr, err := s.readBracedExpr()
			if err != nil {
				return nil, err
			}
			trimmed := strings.TrimSpace(expr)
			if trimmed != "" && !strings.HasPrefix(trimmed, "/*") {
				rewritten, err := rewriteSub(expr)
				if err != nil {
					return nil, err
				}
				children = append(children, rewritten)
			}
			textBegin = s.i
		default:
			s.i++
		}
	}
	return nil, &jsxError{offset: start, msg: fmt.Sprintf("unterminated element <%s>", tag)}
}

// rewriteSub desugars JSX inside an embedded expression.
func rewriteSub(expr string) (string, error) {
	out, err := DesugarJSX(expr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// jsxText collapses whitespace in a JSX text run the way renderers expect:
// runs become single spaces and whitespace-only text disappears.
func jsxText(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	text := strings.Join(fields, " ")
	// Keep a leading/trailing space when the raw text had same-line
	// whitespace next to an expression or element.
	if r := raw[0]; (r == ' ' || r == '\t') && !strings.ContainsAny(leadingWS(raw), "\n") {
		text = " " + text
	}
	if r := raw[len(raw)-1]; (r == ' ' || r == '\t') && !strings.ContainsAny(trailingWS(raw), "\n") {
		text = text + " "
	}
	return text
}

func leadingWS(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t\n\r"))]
}

func trailingWS(s string) string {
	return s[len(strings.TrimRight(s, " \t\n\r")):]
}

func quoteJS(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func buildCreateElement(tag string, props []jsxProp, children []string) string {
	var b strings.Builder
	b.WriteString("React.createElement(")
	switch {
	case tag == "":
		b.WriteString("React.Fragment")
	case isComponentTag(tag):
		b.WriteString(tag)
	default:
		b.WriteString(`"` + tag + `"`)
	}
	b.WriteString(", ")
	b.WriteString(buildProps(props))
	for _, child := range children {
		b.WriteString(", ")
		b.WriteString(child)
	}
	b.WriteString(")")
	return b.String()
}

// isComponentTag reports whether the tag refers to a component value rather
// than an intrinsic element.
func isComponentTag(tag string) bool {
	if strings.Contains(tag, "-") {
		return false // custom elements stay strings
	}
	if strings.Contains(tag, ".") {
		return true // member expressions are always components
	}
	c := tag[0]
	return c == '_' || c == '$' || (c >= 'A' && c <= 'Z')
}

func buildProps(props []jsxProp) string {
	if len(props) == 0 {
		return "null"
	}

	hasSpread := false
	for _, p := range props {
		if p.Spread != "" {
			hasSpread = true
			break
		}
	}

	objectOf := func(ps []jsxProp) string {
		pairs := make([]string, 0, len(ps))
		for _, p := range ps {
			pairs = append(pairs, propKey(p.Name)+": "+p.Value)
		}
		return "{" + strings.Join(pairs, ", ") + "}"
	}

	if !hasSpread {
		return objectOf(props)
	}

	// Spreads are merged in order, matching JSX semantics.
	var parts []string
	var run []jsxProp
	flush := func() {
		if len(run) > 0 {
			parts = append(parts, objectOf(run))
			run = nil
		}
	}
	for _, p := range props {
		if p.Spread != "" {
			flush()
			parts = append(parts, p.Spread)
			continue
		}
		run = append(run, p)
	}
	flush()
	return "Object.assign({}, " + strings.Join(parts, ", ") + ")"
}

func propKey(name string) string {
	for i := 0; i < len(name); i++ {
		if !isIdentChar(name[i]) {
			return `"` + name + `"`
		}
	}
	return name
}

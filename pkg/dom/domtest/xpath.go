package domtest

import (
	"fmt"
	"strings"
)

// ParseLiteral evaluates an XPath string literal or a concat() of
// literals, as produced by dom.EscapeLiteral.
func ParseLiteral(expr string) (string, error) {
	p := &parser{src: expr}
	v, err := p.literal()
	if err != nil {
		return "", err
	}
	p.skipSpace()
	if !p.done() {
		return "", p.errorf("trailing input")
	}
	return v, nil
}

// ParseTextQuery decodes an expression built by dom.TextQuery into its
// class filter and text terms.
func ParseTextQuery(expr string) (class string, terms []string, err error) {
	p := &parser{src: expr}
	if err := p.expect("//span["); err != nil {
		return "", nil, err
	}
	for i := 0; ; i++ {
		if i > 0 {
			p.skipSpace()
			if p.peek("]") {
				break
			}
			if err := p.expect("and"); err != nil {
				return "", nil, err
			}
		}
		if err := p.expect("contains("); err != nil {
			return "", nil, err
		}
		p.skipSpace()
		var isClass bool
		switch {
		case p.peek("@class"):
			p.pos += len("@class")
			isClass = true
		case p.peek("."):
			p.pos++
		default:
			return "", nil, p.errorf("expected @class or .")
		}
		if err := p.expect(","); err != nil {
			return "", nil, err
		}
		v, err := p.literal()
		if err != nil {
			return "", nil, err
		}
		if err := p.expect(")"); err != nil {
			return "", nil, err
		}
		if isClass {
			class = v
		} else {
			terms = append(terms, v)
		}
	}
	if err := p.expect("]"); err != nil {
		return "", nil, err
	}
	p.skipSpace()
	if !p.done() {
		return "", nil, p.errorf("trailing input")
	}
	return class, terms, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) done() bool { return p.pos >= len(p.src) }

func (p *parser) skipSpace() {
	for !p.done() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func (p *parser) peek(s string) bool {
	return strings.HasPrefix(p.src[p.pos:], s)
}

func (p *parser) expect(s string) error {
	p.skipSpace()
	if !p.peek(s) {
		return p.errorf("expected %q", s)
	}
	p.pos += len(s)
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("xpath offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) literal() (string, error) {
	p.skipSpace()
	if p.peek("concat(") {
		p.pos += len("concat(")
		var b strings.Builder
		n := 0
		for {
			v, err := p.literal()
			if err != nil {
				return "", err
			}
			b.WriteString(v)
			n++
			p.skipSpace()
			if p.peek(")") {
				p.pos++
				break
			}
			if err := p.expect(","); err != nil {
				return "", err
			}
		}
		if n < 2 {
			return "", p.errorf("concat needs at least two arguments")
		}
		return b.String(), nil
	}

	if p.done() {
		return "", p.errorf("expected literal")
	}
	quote := p.src[p.pos]
	if quote != '\'' && quote != '"' {
		return "", p.errorf("expected literal")
	}
	end := strings.IndexByte(p.src[p.pos+1:], quote)
	if end < 0 {
		return "", p.errorf("unterminated literal")
	}
	v := p.src[p.pos+1 : p.pos+1+end]
	p.pos += end + 2
	return v, nil
}

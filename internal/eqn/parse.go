package eqn

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/avoura/bifurc/internal/dynamo"
)

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokCaret
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case unicode.IsDigit(c) || c == '.':
			start := i
			for i < len(src) && (unicode.IsDigit(rune(src[i])) || src[i] == '.') {
				i++
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				i++
				if i < len(src) && (src[i] == '+' || src[i] == '-') {
					i++
				}
				for i < len(src) && unicode.IsDigit(rune(src[i])) {
					i++
				}
			}
			toks = append(toks, token{tokNumber, src[start:i], start})
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(src) && (unicode.IsLetter(rune(src[i])) || unicode.IsDigit(rune(src[i])) || src[i] == '_') {
				i++
			}
			toks = append(toks, token{tokIdent, src[start:i], start})
		default:
			kind, ok := map[byte]tokenKind{
				'+': tokPlus, '-': tokMinus, '*': tokStar, '/': tokSlash,
				'^': tokCaret, '(': tokLParen, ')': tokRParen, ',': tokComma,
			}[src[i]]
			if !ok {
				return nil, dynamo.Configf("unexpected token %q at position %d", string(src[i]), i)
			}
			toks = append(toks, token{kind, string(src[i]), i})
			i++
		}
	}
	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

// expr node kinds
type nodeKind int

const (
	nodeNum nodeKind = iota
	nodeSymbol
	nodeUnary
	nodeBinary
	nodeCall
)

type node struct {
	kind  nodeKind
	num   float64
	name  string
	op    byte
	left  *node
	right *node
	arg   *node
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, dynamo.Configf("unexpected token %q at position %d", t.text, t.pos)
	}
	return t, nil
}

func (p *parser) parseExpr() (*node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokPlus, tokMinus:
			op := byte('+')
			if p.next().kind == tokMinus {
				op = '-'
			}
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			left = &node{kind: nodeBinary, op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseTerm() (*node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokStar, tokSlash:
			op := byte('*')
			if p.next().kind == tokSlash {
				op = '/'
			}
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &node{kind: nodeBinary, op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (*node, error) {
	if p.peek().kind == tokMinus {
		p.next()
		arg, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &node{kind: nodeUnary, op: '-', arg: arg}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (*node, error) {
	base, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokCaret {
		p.next()
		// right associative, and -x^2 parses as -(x^2)
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &node{kind: nodeBinary, op: '^', left: base, right: exp}, nil
	}
	return base, nil
}

func (p *parser) parseAtom() (*node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, dynamo.Configf("unexpected token %q at position %d", t.text, t.pos)
		}
		return &node{kind: nodeNum, num: v}, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			p.next()
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen); err != nil {
				return nil, err
			}
			name := strings.ToLower(t.text)
			if !isKnownFunc(name) {
				return nil, dynamo.Configf("unknown function: %s", t.text)
			}
			return &node{kind: nodeCall, name: name, arg: arg}, nil
		}
		return &node{kind: nodeSymbol, name: t.text}, nil
	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	default:
		return nil, dynamo.Configf("unexpected token %q at position %d", t.text, t.pos)
	}
}

func isKnownFunc(name string) bool {
	switch name {
	case "sin", "cos", "exp":
		return true
	}
	return false
}

func parse(src string) (*node, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, dynamo.Configf("unexpected token %q at position %d", t.text, t.pos)
	}
	return root, nil
}

package tools

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/HexSleeves/buzz/internal/errors"
)

// calcAllowed is the full character set accepted by calculate.
const calcAllowed = "0123456789+-*/()%. "

// number is an integer or a float. Integer arithmetic stays integral except
// for true division, matching how people expect "7 / 2" and "7 // 2" to differ.
type number struct {
	isInt bool
	i     int64
	f     float64
}

func intNum(v int64) number     { return number{isInt: true, i: v} }
func floatNum(v float64) number { return number{f: v} }

func (n number) float() float64 {
	if n.isInt {
		return float64(n.i)
	}
	return n.f
}

// value is the JSON form of the answer.
func (n number) value() interface{} {
	if n.isInt {
		return n.i
	}
	return n.f
}

// evaluate checks expr against the allowed character set and evaluates it.
func evaluate(expr string) (number, error) {
	for _, r := range expr {
		if !strings.ContainsRune(calcAllowed, r) {
			return number{}, errors.New(errors.KindInvalidExpression, expr)
		}
	}

	p := &calcParser{src: expr}
	if err := p.tokenize(); err != nil {
		return number{}, err
	}
	if len(p.toks) == 0 {
		return number{}, errors.New(errors.KindCalculation, "empty expression")
	}
	n, err := p.expr()
	if err != nil {
		return number{}, err
	}
	if p.pos < len(p.toks) {
		return number{}, syntaxError(p.toks[p.pos].text)
	}
	if !n.isInt && (math.IsInf(n.f, 0) || math.IsNaN(n.f)) {
		return number{}, errors.New(errors.KindCalculation, "result out of range")
	}
	return n, nil
}

type tokenKind int

const (
	tokNum tokenKind = iota
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	num  number
}

type calcParser struct {
	src  string
	toks []token
	pos  int
}

func syntaxError(near string) error {
	if near == "" {
		return errors.New(errors.KindCalculation, "invalid syntax")
	}
	return errors.Newf(errors.KindCalculation, "invalid syntax near %q", near)
}

func (p *calcParser) tokenize() error {
	s := p.src
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ':
			i++
		case c == '(':
			p.toks = append(p.toks, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			p.toks = append(p.toks, token{kind: tokRParen, text: ")"})
			i++
		case c == '*' || c == '/':
			op := string(c)
			if i+1 < len(s) && s[i+1] == c {
				op += string(c)
			}
			p.toks = append(p.toks, token{kind: tokOp, text: op})
			i += len(op)
		case c == '+' || c == '-' || c == '%':
			p.toks = append(p.toks, token{kind: tokOp, text: string(c)})
			i++
		default:
			j := i
			dots := 0
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				if s[j] == '.' {
					dots++
				}
				j++
			}
			text := s[i:j]
			if dots > 1 || text == "." {
				return syntaxError(text)
			}
			tok := token{kind: tokNum, text: text}
			if dots == 0 {
				v, err := strconv.ParseInt(text, 10, 64)
				if err != nil {
					return errors.Newf(errors.KindCalculation, "number too large: %s", text)
				}
				tok.num = intNum(v)
			} else {
				v, err := strconv.ParseFloat(text, 64)
				if err != nil {
					return syntaxError(text)
				}
				tok.num = floatNum(v)
			}
			p.toks = append(p.toks, tok)
			i = j
		}
	}
	return nil
}

func (p *calcParser) peekOp(ops ...string) (string, bool) {
	if p.pos >= len(p.toks) || p.toks[p.pos].kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if p.toks[p.pos].text == op {
			return op, true
		}
	}
	return "", false
}

// expr := term (("+" | "-") term)*
func (p *calcParser) expr() (number, error) {
	left, err := p.term()
	if err != nil {
		return number{}, err
	}
	for {
		op, ok := p.peekOp("+", "-")
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return number{}, err
		}
		if left, err = apply(op, left, right); err != nil {
			return number{}, err
		}
	}
}

// term := unary (("*" | "/" | "//" | "%") unary)*
func (p *calcParser) term() (number, error) {
	left, err := p.unary()
	if err != nil {
		return number{}, err
	}
	for {
		op, ok := p.peekOp("*", "/", "//", "%")
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.unary()
		if err != nil {
			return number{}, err
		}
		if left, err = apply(op, left, right); err != nil {
			return number{}, err
		}
	}
}

// unary := ("+" | "-") unary | power
func (p *calcParser) unary() (number, error) {
	if op, ok := p.peekOp("+", "-"); ok {
		p.pos++
		n, err := p.unary()
		if err != nil {
			return number{}, err
		}
		if op == "+" {
			return n, nil
		}
		return apply("-", intNum(0), n)
	}
	return p.power()
}

// power := atom ["**" unary]; right associative, binds tighter than a
// leading minus on its left.
func (p *calcParser) power() (number, error) {
	base, err := p.atom()
	if err != nil {
		return number{}, err
	}
	if _, ok := p.peekOp("**"); !ok {
		return base, nil
	}
	p.pos++
	exp, err := p.unary()
	if err != nil {
		return number{}, err
	}
	return apply("**", base, exp)
}

func (p *calcParser) atom() (number, error) {
	if p.pos >= len(p.toks) {
		return number{}, syntaxError("")
	}
	tok := p.toks[p.pos]
	switch tok.kind {
	case tokNum:
		p.pos++
		return tok.num, nil
	case tokLParen:
		p.pos++
		n, err := p.expr()
		if err != nil {
			return number{}, err
		}
		if p.pos >= len(p.toks) || p.toks[p.pos].kind != tokRParen {
			return number{}, errors.New(errors.KindCalculation, "unbalanced parentheses")
		}
		p.pos++
		return n, nil
	}
	return number{}, syntaxError(tok.text)
}

var errOverflow = errors.New(errors.KindCalculation, "integer overflow")

func apply(op string, a, b number) (number, error) {
	if a.isInt && b.isInt {
		return applyInt(op, a.i, b.i)
	}
	return applyFloat(op, a.float(), b.float())
}

func applyInt(op string, a, b int64) (number, error) {
	switch op {
	case "+":
		r := a + b
		if (r > a) != (b > 0) {
			return number{}, errOverflow
		}
		return intNum(r), nil
	case "-":
		r := a - b
		if (r < a) != (b > 0) {
			return number{}, errOverflow
		}
		return intNum(r), nil
	case "*":
		if a == 0 || b == 0 {
			return intNum(0), nil
		}
		r := a * b
		if r/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return number{}, errOverflow
		}
		return intNum(r), nil
	case "/":
		return applyFloat(op, float64(a), float64(b))
	case "//":
		if b == 0 {
			return number{}, errors.New(errors.KindDivisionByZero, "")
		}
		q := a / b
		if (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		return intNum(q), nil
	case "%":
		if b == 0 {
			return number{}, errors.New(errors.KindDivisionByZero, "")
		}
		r := a % b
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return intNum(r), nil
	case "**":
		if b < 0 {
			return applyFloat(op, float64(a), float64(b))
		}
		result := int64(1)
		base := a
		for e := b; e > 0; e >>= 1 {
			var err error
			if e&1 == 1 {
				var n number
				if n, err = applyInt("*", result, base); err != nil {
					return number{}, err
				}
				result = n.i
			}
			if e > 1 {
				var n number
				if n, err = applyInt("*", base, base); err != nil {
					return number{}, err
				}
				base = n.i
			}
		}
		return intNum(result), nil
	}
	return number{}, fmt.Errorf("unknown operator %q", op)
}

func applyFloat(op string, a, b float64) (number, error) {
	switch op {
	case "+":
		return floatNum(a + b), nil
	case "-":
		return floatNum(a - b), nil
	case "*":
		return floatNum(a * b), nil
	case "/":
		if b == 0 {
			return number{}, errors.New(errors.KindDivisionByZero, "")
		}
		return floatNum(a / b), nil
	case "//":
		if b == 0 {
			return number{}, errors.New(errors.KindDivisionByZero, "")
		}
		return floatNum(math.Floor(a / b)), nil
	case "%":
		if b == 0 {
			return number{}, errors.New(errors.KindDivisionByZero, "")
		}
		r := math.Mod(a, b)
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return floatNum(r), nil
	case "**":
		if a == 0 && b < 0 {
			return number{}, errors.New(errors.KindDivisionByZero, "")
		}
		if a < 0 && b != math.Trunc(b) {
			return number{}, errors.New(errors.KindCalculation, "complex result")
		}
		r := math.Pow(a, b)
		if math.IsInf(r, 0) {
			return number{}, errors.New(errors.KindCalculation, "result out of range")
		}
		return floatNum(r), nil
	}
	return number{}, fmt.Errorf("unknown operator %q", op)
}

package textextract

import (
	"strconv"
	"strings"
)

// ShowText collects the operands of the text-showing operators (Tj, TJ, ' and ")
// of a decoded page content stream. Text positioning operators that move to a
// new line become line breaks; large negative TJ kerning becomes a space.
// Glyphs are assumed to use a single-byte, roughly Latin encoding.
func ShowText(content []byte) string {
	s := &scanner{data: content}
	var b strings.Builder
	var operands []token

	for {
		tok, ok := s.next()
		if !ok {
			break
		}
		if tok.kind != kindOperator {
			operands = append(operands, tok)
			continue
		}
		switch tok.text {
		case "Tj":
			writeLast(&b, operands, kindString)
		case "'", "\"":
			b.WriteString("\n")
			writeLast(&b, operands, kindString)
		case "TJ":
			if n := len(operands); n > 0 && operands[n-1].kind == kindArray {
				for _, el := range operands[n-1].items {
					switch el.kind {
					case kindString:
						b.WriteString(el.text)
					case kindNumber:
						if f, err := strconv.ParseFloat(el.text, 64); err == nil && f < -200 {
							b.WriteString(" ")
						}
					}
				}
			}
		case "Td", "TD", "T*", "Tm":
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString("\n")
			}
		case "ET":
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString("\n")
			}
		}
		operands = operands[:0]
	}
	return collapseBlankLines(b.String())
}

func writeLast(b *strings.Builder, operands []token, kind tokenKind) {
	if n := len(operands); n > 0 && operands[n-1].kind == kind {
		b.WriteString(operands[n-1].text)
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimRight(l, " ")
		if l == "" && (len(out) == 0 || out[len(out)-1] == "") {
			continue
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

type tokenKind int

const (
	kindOperator tokenKind = iota
	kindString
	kindNumber
	kindName
	kindArray
	kindOther
)

type token struct {
	kind  tokenKind
	text  string
	items []token
}

type scanner struct {
	data []byte
	pos  int
}

func isWhite(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func (s *scanner) skip() {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		switch {
		case isWhite(c):
			s.pos++
		case c == '%':
			for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
		default:
			return
		}
	}
}

func (s *scanner) next() (token, bool) {
	s.skip()
	if s.pos >= len(s.data) {
		return token{}, false
	}
	c := s.data[s.pos]
	switch {
	case c == '(':
		return token{kind: kindString, text: s.literal()}, true
	case c == '<' && s.pos+1 < len(s.data) && s.data[s.pos+1] == '<':
		s.pos += 2
		return token{kind: kindOther, text: "<<"}, true
	case c == '>' && s.pos+1 < len(s.data) && s.data[s.pos+1] == '>':
		s.pos += 2
		return token{kind: kindOther, text: ">>"}, true
	case c == '<':
		return token{kind: kindString, text: s.hex()}, true
	case c == '[':
		s.pos++
		arr := token{kind: kindArray}
		for {
			s.skip()
			if s.pos >= len(s.data) {
				return arr, true
			}
			if s.data[s.pos] == ']' {
				s.pos++
				return arr, true
			}
			el, ok := s.next()
			if !ok {
				return arr, true
			}
			arr.items = append(arr.items, el)
		}
	case c == '/':
		s.pos++
		return token{kind: kindName, text: s.word()}, true
	case c == ']' || c == '{' || c == '}' || c == ')' || c == '>':
		s.pos++
		return token{kind: kindOther, text: string(c)}, true
	}

	w := s.word()
	if w == "" {
		s.pos++
		return token{kind: kindOther}, true
	}
	if _, err := strconv.ParseFloat(w, 64); err == nil {
		return token{kind: kindNumber, text: w}, true
	}
	return token{kind: kindOperator, text: w}, true
}

func (s *scanner) word() string {
	start := s.pos
	for s.pos < len(s.data) && !isWhite(s.data[s.pos]) && !isDelim(s.data[s.pos]) {
		s.pos++
	}
	return string(s.data[start:s.pos])
}

// literal reads a balanced (...) string, resolving escapes.
func (s *scanner) literal() string {
	s.pos++
	depth := 1
	var b strings.Builder
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= len(s.data) {
				return b.String()
			}
			e := s.data[s.pos]
			s.pos++
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
				if e == '\r' && s.pos < len(s.data) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case '0', '1', '2', '3', '4', '5', '6', '7':
				v := int(e - '0')
				for i := 0; i < 2 && s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '7'; i++ {
					v = v*8 + int(s.data[s.pos]-'0')
					s.pos++
				}
				b.WriteRune(rune(v & 0xff))
			default:
				b.WriteByte(e)
			}
		case '(':
			depth++
			b.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return b.String()
			}
			b.WriteByte(c)
		default:
			if c < 0x80 {
				b.WriteByte(c)
			} else {
				b.WriteRune(rune(c))
			}
		}
	}
	return b.String()
}

// hex reads a <...> string.
func (s *scanner) hex() string {
	s.pos++
	var digits []byte
	for s.pos < len(s.data) && s.data[s.pos] != '>' {
		if c := s.data[s.pos]; !isWhite(c) {
			digits = append(digits, c)
		}
		s.pos++
	}
	s.pos++
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	var b strings.Builder
	for i := 0; i+1 < len(digits); i += 2 {
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			continue
		}
		if v >= 0x20 || v == '\n' || v == '\t' {
			b.WriteRune(rune(v))
		}
	}
	return b.String()
}

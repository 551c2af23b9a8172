package pdfstruct

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	PDF_TOKEN_WHITESPACE = 1
	PDF_TOKEN_DELIMITER  = 2
	PDF_TOKEN_REGULAR    = 3
)

// Token is an atomic run of bytes from a PDF file.  Text holds the bytes
// exactly as they appeared in the input.
type Token struct {
	Class int
	Text  string
}

func (t Token) IsWhitespace() bool {
	return t.Class == PDF_TOKEN_WHITESPACE
}

func (t Token) IsDelimiter(s string) bool {
	return t.Class == PDF_TOKEN_DELIMITER && t.Text == s
}

func (t Token) IsKeyword(s string) bool {
	return t.Class == PDF_TOKEN_REGULAR && t.Text == s
}

// IsName reports whether t is a name token such as /Type.
func (t Token) IsName() bool {
	return t.Class == PDF_TOKEN_DELIMITER && len(t.Text) > 1 && t.Text[0] == '/'
}

// IsComment reports whether t is a %-comment run.
func (t Token) IsComment() bool {
	return t.Class == PDF_TOKEN_DELIMITER && len(t.Text) > 0 && t.Text[0] == '%'
}

// byteSource reads single bytes with one byte of pushback.
type byteSource struct {
	r        *bufio.Reader
	pushed   bool
	pushback byte
	done     bool
	readErr  error
}

func newByteSource(r io.Reader) *byteSource {
	if br, ok := r.(*bufio.Reader); ok {
		return &byteSource{r: br}
	}
	return &byteSource{r: bufio.NewReader(r)}
}

// next returns false on every call once the input is exhausted.
func (s *byteSource) next() (byte, bool) {
	if s.pushed {
		s.pushed = false
		return s.pushback, true
	}
	if s.done {
		return 0, false
	}
	b, err := s.r.ReadByte()
	if err != nil {
		s.done = true
		if err != io.EOF {
			s.readErr = errors.Wrap(err, "Failed to read byte")
		}
		return 0, false
	}
	return b, true
}

func (s *byteSource) unread(b byte) {
	s.pushback = b
	s.pushed = true
}

func (s *byteSource) err() error {
	return s.readErr
}

// pdfWhitespace lists the bytes characterClass treats as whitespace.
const pdfWhitespace = "\x00\t\n\f\r "

func characterClass(b byte) int {
	switch b {
	case 0, 9, 10, 12, 13, 32:
		return PDF_TOKEN_WHITESPACE
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return PDF_TOKEN_DELIMITER
	}
	return PDF_TOKEN_REGULAR
}

// Tokenizer splits a PDF byte stream into whitespace, delimiter and regular
// tokens.  No byte is ever dropped.
type Tokenizer struct {
	src   *byteSource
	stack []Token
}

func NewTokenizer(r io.Reader) *Tokenizer {
	return &Tokenizer{src: newByteSource(r)}
}

// Unread pushes t back so that it is returned by the next call to Next.
func (t *Tokenizer) Unread(tok Token) {
	t.stack = append(t.stack, tok)
}

// Err returns the first non-EOF read error, if any.
func (t *Tokenizer) Err() error {
	return t.src.err()
}

// Next returns the next token, taking pushed back tokens first.  The second
// return value is false at the end of input.
func (t *Tokenizer) Next() (Token, bool) {
	// If there is a token available on the stack, pop it out and return it.
	if len(t.stack) > 0 {
		var popped Token
		popped, t.stack = t.stack[len(t.stack)-1], t.stack[:len(t.stack)-1]
		return popped, true
	}

	b, ok := t.src.next()
	if !ok {
		return Token{}, false
	}

	class := characterClass(b)
	if class != PDF_TOKEN_DELIMITER {
		// Coalesce whitespace and regular runs.
		var buf bytes.Buffer
		buf.WriteByte(b)
		for {
			b, ok = t.src.next()
			if !ok {
				break
			}
			if characterClass(b) != class {
				t.src.unread(b)
				break
			}
			buf.WriteByte(b)
		}
		return Token{Class: class, Text: buf.String()}, true
	}

	switch b {
	case '<', '>':
		// This could either be a hex string or a dictionary delimiter.
		nb, ok := t.src.next()
		if ok {
			if nb == b {
				return Token{Class: PDF_TOKEN_DELIMITER, Text: string([]byte{b, nb})}, true
			}
			t.src.unread(nb)
		}
		return Token{Class: PDF_TOKEN_DELIMITER, Text: string(b)}, true

	case '%':
		return Token{Class: PDF_TOKEN_DELIMITER, Text: t.readComment()}, true
	}

	return Token{Class: PDF_TOKEN_DELIMITER, Text: string(b)}, true
}

// The comment runs through the first end-of-line marker, a CR LF pair
// counts as one marker.
func (t *Tokenizer) readComment() string {
	var buf bytes.Buffer
	buf.WriteByte('%')
	for {
		b, ok := t.src.next()
		if !ok {
			return buf.String()
		}
		buf.WriteByte(b)
		if b == '\n' {
			return buf.String()
		}
		if b == '\r' {
			nb, ok := t.src.next()
			if ok {
				if nb == '\n' {
					buf.WriteByte(nb)
				} else {
					t.src.unread(nb)
				}
			}
			return buf.String()
		}
	}
}

// NextNonWhitespace skips over whitespace tokens.
func (t *Tokenizer) NextNonWhitespace() (Token, bool) {
	for {
		tok, ok := t.Next()
		if !ok || !tok.IsWhitespace() {
			return tok, ok
		}
	}
}

// All drains the tokenizer.  Only use this for bounded inputs.
func (t *Tokenizer) All() []Token {
	var res []Token
	for {
		tok, ok := t.Next()
		if !ok {
			return res
		}
		res = append(res, tok)
	}
}

// Tokenize returns all tokens of s.
func Tokenize(s string) []Token {
	return NewTokenizer(strings.NewReader(s)).All()
}

// Canonicalize decodes #xx escapes in a name token.  Other tokens are
// returned unchanged.
func Canonicalize(s string) string {
	if s == "" || s[0] != '/' || strings.IndexByte(s, '#') < 0 {
		return s
	}
	var buf strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '#' && i < len(s)-2 {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				buf.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}

func EqualCanonical(s, canonical string) bool {
	return Canonicalize(s) == canonical
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func joinTokens(tokens []Token) string {
	var buf strings.Builder
	for _, tok := range tokens {
		buf.WriteString(tok.Text)
	}
	return buf.String()
}

func withoutWhitespace(tokens []Token) []Token {
	res := make([]Token, 0, len(tokens))
	for _, tok := range tokens {
		if !tok.IsWhitespace() {
			res = append(res, tok)
		}
	}
	return res
}

func trimWhitespace(tokens []Token) []Token {
	for len(tokens) > 0 && tokens[0].IsWhitespace() {
		tokens = tokens[1:]
	}
	for len(tokens) > 0 && tokens[len(tokens)-1].IsWhitespace() {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

// fuseNames joins a lone / with a following regular token into a single
// name token, the way the parser does inside objects.
func fuseNames(tokens []Token) []Token {
	res := make([]Token, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.IsDelimiter("/") && i+1 < len(tokens) && tokens[i+1].Class == PDF_TOKEN_REGULAR {
			tok = Token{Class: PDF_TOKEN_DELIMITER, Text: "/" + tokens[i+1].Text}
			i++
		}
		res = append(res, tok)
	}
	return res
}

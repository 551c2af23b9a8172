package pdfstruct

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DictValue is either a run of tokens (a number, name, reference, array,
// string, ...) or a nested dictionary.
type DictValue struct {
	Tokens []Token
	Dict   *ParsedDictionary
}

// Strings returns the text of all non-whitespace tokens.
func (v DictValue) Strings() []string {
	if v.Dict != nil {
		return nil
	}
	var res []string
	for _, tok := range v.Tokens {
		if !tok.IsWhitespace() {
			res = append(res, tok.Text)
		}
	}
	return res
}

func (v DictValue) String() string {
	if v.Dict != nil {
		return v.Dict.String()
	}
	return joinTokens(v.Tokens)
}

type DictEntry struct {
	Key    string // canonical form
	RawKey string // as written in the file
	Value  DictValue
}

// ParsedDictionary is an ordered list of key/value pairs.  When a key occurs
// more than once, lookups return the first occurrence.
type ParsedDictionary struct {
	Entries []DictEntry
}

// ParseDictionary parses a token run framed by << and >>.  The second return
// value is false if the tokens do not form a single balanced dictionary.
func ParseDictionary(tokens []Token) (*ParsedDictionary, bool) {
	tokens = trimWhitespace(tokens)
	if len(tokens) < 2 || !tokens[0].IsDelimiter("<<") {
		return nil, false
	}
	last := tokens[len(tokens)-1]
	if !closesDictionary(last) {
		return nil, false
	}

	p := &dictParser{tokens: make([]Token, 0, len(tokens)+1)}
	p.tokens = append(p.tokens, fuseNames(tokens[:len(tokens)-1])...)
	if last.Text != ">>" {
		// The closer got fused onto the preceding text, usually a comment
		// started by a % inside a string.  The comment also swallows the
		// line end.
		body := strings.TrimRight(last.Text, pdfWhitespace)
		p.tokens = append(p.tokens, Token{Class: last.Class, Text: strings.TrimSuffix(body, ">>")})
	}
	p.tokens = append(p.tokens, Token{Class: PDF_TOKEN_DELIMITER, Text: ">>"})

	dict, ok := p.parseDictionary()
	if !ok || p.pos != len(p.tokens) {
		return nil, false
	}
	return dict, true
}

// closesDictionary reports whether tok ends with >>, either as the delimiter
// itself or as the tail of a comment run.
func closesDictionary(tok Token) bool {
	return strings.HasSuffix(strings.TrimRight(tok.Text, pdfWhitespace), ">>")
}

// dictParser is a cursor over a private copy of the tokens.
type dictParser struct {
	tokens []Token
	pos    int
}

func (p *dictParser) skipWhitespace() {
	for p.pos < len(p.tokens) && (p.tokens[p.pos].IsWhitespace() || p.tokens[p.pos].IsComment()) {
		p.pos++
	}
}

func (p *dictParser) parseDictionary() (*ParsedDictionary, bool) {
	p.pos++ // <<
	dict := &ParsedDictionary{}
	for {
		p.skipWhitespace()
		if p.pos >= len(p.tokens) {
			return nil, false
		}
		tok := p.tokens[p.pos]
		if tok.IsDelimiter(">>") {
			p.pos++
			return dict, true
		}
		if !tok.IsName() {
			// A value without a key.  Parse it to keep the brackets
			// balanced, then drop it.
			if _, ok := p.parseValue(); !ok {
				return nil, false
			}
			continue
		}
		p.pos++
		value, ok := p.parseValue()
		if !ok {
			return nil, false
		}
		dict.Entries = append(dict.Entries, DictEntry{
			Key:    Canonicalize(tok.Text),
			RawKey: tok.Text,
			Value:  value,
		})
	}
}

func (p *dictParser) parseValue() (DictValue, bool) {
	p.skipWhitespace()
	if p.pos >= len(p.tokens) {
		return DictValue{}, false
	}
	tok := p.tokens[p.pos]
	switch {
	case tok.IsDelimiter("<<"):
		dict, ok := p.parseDictionary()
		return DictValue{Dict: dict}, ok
	case tok.IsDelimiter(">>"):
		// missing value
		return DictValue{}, true
	case tok.IsName():
		p.pos++
		return DictValue{Tokens: []Token{tok}}, true
	case tok.IsDelimiter("("):
		toks, ok := p.parseString()
		return DictValue{Tokens: toks}, ok
	case tok.IsDelimiter("["):
		toks, ok := p.parseArray()
		return DictValue{Tokens: toks}, ok
	}

	start := p.pos
	for p.pos < len(p.tokens) {
		t := p.tokens[p.pos]
		if t.IsName() || t.IsComment() || t.IsDelimiter("<<") || t.IsDelimiter(">>") || t.IsDelimiter("[") || t.IsDelimiter("(") {
			break
		}
		p.pos++
	}
	return DictValue{Tokens: trimWhitespace(p.tokens[start:p.pos])}, true
}

func (p *dictParser) parseArray() ([]Token, bool) {
	start := p.pos
	depth := 0
	for p.pos < len(p.tokens) {
		t := p.tokens[p.pos]
		switch {
		case t.IsDelimiter("("):
			if _, ok := p.parseString(); !ok {
				return nil, false
			}
			continue
		case t.IsDelimiter("["):
			depth++
		case t.IsDelimiter("]"):
			depth--
			if depth == 0 {
				p.pos++
				return p.tokens[start:p.pos], true
			}
		}
		p.pos++
	}
	return nil, false
}

// parseString reads a literal string with balanced parentheses.
func (p *dictParser) parseString() ([]Token, bool) {
	start := p.pos
	depth := 0
	for p.pos < len(p.tokens) {
		t := p.tokens[p.pos]
		if t.IsComment() && depth > 0 {
			// % has no special meaning inside a string
			p.splice(p.pos, literalComment(t))
			t = p.tokens[p.pos]
		}
		if t.Class == PDF_TOKEN_DELIMITER && !p.escaped(start) {
			switch t.Text {
			case "(":
				depth++
			case ")":
				depth--
				if depth == 0 {
					p.pos++
					return p.tokens[start:p.pos], true
				}
			}
		}
		p.pos++
	}
	return nil, false
}

// escaped reports whether the token at the cursor is preceded by an odd
// number of backslashes.
func (p *dictParser) escaped(start int) bool {
	if p.pos <= start {
		return false
	}
	prev := p.tokens[p.pos-1]
	if prev.Class != PDF_TOKEN_REGULAR {
		return false
	}
	n := 0
	for i := len(prev.Text) - 1; i >= 0 && prev.Text[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

func (p *dictParser) splice(i int, repl []Token) {
	tokens := make([]Token, 0, len(p.tokens)+len(repl))
	tokens = append(tokens, p.tokens[:i]...)
	tokens = append(tokens, repl...)
	tokens = append(tokens, p.tokens[i+1:]...)
	p.tokens = tokens
}

func literalComment(t Token) []Token {
	res := []Token{{Class: PDF_TOKEN_REGULAR, Text: "%"}}
	return append(res, fuseNames(Tokenize(t.Text[1:]))...)
}

func (d *ParsedDictionary) lookup(key string) (DictValue, bool) {
	for _, e := range d.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return DictValue{}, false
}

// Get returns the non-whitespace token texts of the value for key.  The
// result is nil if the key is missing or maps to a dictionary.
func (d *ParsedDictionary) Get(key string) []string {
	v, ok := d.lookup(Canonicalize(key))
	if !ok {
		return nil
	}
	return v.Strings()
}

// GetDict returns the nested dictionary stored under key.
func (d *ParsedDictionary) GetDict(key string) *ParsedDictionary {
	v, _ := d.lookup(Canonicalize(key))
	return v.Dict
}

// GetNested searches key depth-first through all nested dictionaries.
func (d *ParsedDictionary) GetNested(key string) (DictValue, bool) {
	key = Canonicalize(key)
	for _, e := range d.Entries {
		if e.Key == key {
			return e.Value, true
		}
		if e.Value.Dict != nil {
			if v, ok := e.Value.Dict.GetNested(key); ok {
				return v, true
			}
		}
	}
	return DictValue{}, false
}

// Retrieve returns all entries in file order.
func (d *ParsedDictionary) Retrieve() []DictEntry {
	return d.Entries
}

// Int returns the integer value stored under key.
func (d *ParsedDictionary) Int(key string) (int, bool) {
	v := d.Get(key)
	if len(v) != 1 {
		return 0, false
	}
	n, err := strconv.Atoi(v[0])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Reference returns the object reference stored under key.
func (d *ParsedDictionary) Reference(key string) (ObjectRef, bool) {
	v := d.Get(key)
	if len(v) != 3 || v[2] != "R" {
		return ObjectRef{}, false
	}
	id, err := strconv.ParseUint(v[0], 10, 32)
	if err != nil {
		return ObjectRef{}, false
	}
	version, err := strconv.ParseUint(v[1], 10, 32)
	if err != nil {
		return ObjectRef{}, false
	}
	return ObjectRef{ID: uint32(id), Version: uint32(version)}, true
}

// Without returns a copy of d with all entries for the given keys removed.
func (d *ParsedDictionary) Without(keys ...string) *ParsedDictionary {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[Canonicalize(k)] = true
	}
	res := &ParsedDictionary{}
	for _, e := range d.Entries {
		if !drop[e.Key] {
			res.Entries = append(res.Entries, e)
		}
	}
	return res
}

// With returns a copy of d where key maps to value.  An existing entry is
// replaced in place, otherwise the entry is appended.
func (d *ParsedDictionary) With(key, value string) *ParsedDictionary {
	entry := DictEntry{
		Key:    Canonicalize(key),
		RawKey: key,
		Value:  DictValue{Tokens: fuseNames(Tokenize(value))},
	}
	res := &ParsedDictionary{Entries: make([]DictEntry, 0, len(d.Entries)+1)}
	replaced := false
	for _, e := range d.Entries {
		if e.Key == entry.Key && !replaced {
			res.Entries = append(res.Entries, entry)
			replaced = true
			continue
		}
		res.Entries = append(res.Entries, e)
	}
	if !replaced {
		res.Entries = append(res.Entries, entry)
	}
	return res
}

func (d *ParsedDictionary) String() string {
	var b strings.Builder
	b.WriteString("<<")
	for i, e := range d.Entries {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(e.RawKey)
		if s := e.Value.String(); s != "" {
			b.WriteByte(' ')
			b.WriteString(s)
		}
	}
	b.WriteString(">>")
	return b.String()
}

// PrettyPrint writes one entry per line, nested dictionaries indented.
func (d *ParsedDictionary) PrettyPrint(w io.Writer, indent string) error {
	return d.prettyPrint(w, indent, indent)
}

func (d *ParsedDictionary) prettyPrint(w io.Writer, prefix, indent string) error {
	if _, err := fmt.Fprintf(w, "%s<<\n", strings.TrimSuffix(prefix, indent)); err != nil {
		return err
	}
	for _, e := range d.Entries {
		if e.Value.Dict != nil {
			if _, err := fmt.Fprintf(w, "%s%s\n", prefix, e.RawKey); err != nil {
				return err
			}
			if err := e.Value.Dict.prettyPrint(w, prefix+indent, indent); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%s%s %s\n", prefix, e.RawKey, e.Value.String()); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%s>>\n", strings.TrimSuffix(prefix, indent))
	return err
}

package pdfstruct

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// IndirectObject is an "id version obj ... endobj" unit.  Content holds
// every token between obj and endobj, whitespace included.
type IndirectObject struct {
	ID      uint32
	Version uint32
	Content []Token

	// ObjectStream is set when the object was extracted from an /ObjStm.
	ObjectStream *ObjectRef
}

func (*IndirectObject) Type() int  { return PDF_ELEMENT_INDIRECT_OBJECT }
func (*IndirectObject) isElement() {}

// NewIndirectObject creates an object from its content tokens.  Some
// producers omit the EOL before endstream, so that the final data bytes
// and the keyword end up in one regular token; such a token is split.
func NewIndirectObject(id, version uint32, content []Token, objstm *ObjectRef) *IndirectObject {
	last := len(content) - 1
	for last >= 0 && content[last].IsWhitespace() {
		last--
	}
	if last >= 0 {
		tok := content[last]
		if tok.Class == PDF_TOKEN_REGULAR && tok.Text != "endstream" && strings.HasSuffix(tok.Text, "endstream") {
			fixed := make([]Token, 0, len(content)+1)
			fixed = append(fixed, content[:last]...)
			fixed = append(fixed,
				Token{Class: PDF_TOKEN_REGULAR, Text: strings.TrimSuffix(tok.Text, "endstream")},
				Token{Class: PDF_TOKEN_REGULAR, Text: "endstream"})
			fixed = append(fixed, content[last+1:]...)
			content = fixed
		}
	}
	return &IndirectObject{
		ID:           id,
		Version:      version,
		Content:      content,
		ObjectStream: objstm,
	}
}

// Ref returns the reference to this object.
func (o *IndirectObject) Ref() ObjectRef {
	return ObjectRef{ID: o.ID, Version: o.Version}
}

// Raw returns the object content as it appeared in the file.
func (o *IndirectObject) Raw() string {
	return joinTokens(o.Content)
}

// GetType returns the canonical value of the /Type key of the outermost
// dictionary, or "" if there is none.  Dictionary depth is tracked purely
// lexically.
func (o *IndirectObject) GetType() string {
	content := withoutWhitespace(o.Content)
	depth := 0
	for i, tok := range content {
		if tok.IsDelimiter("<<") {
			depth++
		}
		if tok.IsDelimiter(">>") {
			depth--
		}
		if depth == 1 && tok.Class == PDF_TOKEN_DELIMITER && EqualCanonical(tok.Text, "/Type") && i < len(content)-1 {
			return Canonicalize(content[i+1].Text)
		}
	}
	return ""
}

// Reference is an "id version R" triple as it appears in the content.
type Reference struct {
	ID      string
	Version string
}

func (r Reference) String() string {
	return r.ID + " " + r.Version + " R"
}

// GetReferences returns all indirect references, in source order.
func (o *IndirectObject) GetReferences() []Reference {
	return findReferences(o.Content)
}

func findReferences(tokens []Token) []Reference {
	content := withoutWhitespace(tokens)
	var refs []Reference
	for i := 2; i < len(content); i++ {
		if content[i].IsKeyword("R") &&
			content[i-2].Class == PDF_TOKEN_REGULAR && isNumeric(content[i-2].Text) &&
			content[i-1].Class == PDF_TOKEN_REGULAR && isNumeric(content[i-1].Text) {
			refs = append(refs, Reference{ID: content[i-2].Text, Version: content[i-1].Text})
		}
	}
	return refs
}

// References reports whether the object refers to id.  The comparison is
// textual: "007" does not match "7".
func (o *IndirectObject) References(id string) bool {
	for _, ref := range o.GetReferences() {
		if ref.ID == id {
			return true
		}
	}
	return false
}

// Contains performs a case insensitive search for keyword in the part of
// the object preceding any stream data.
func (o *IndirectObject) Contains(keyword string) bool {
	return containsKeyword(o.Content, keyword)
}

// ContainsStream returns the tokens preceding the stream keyword.  The
// second return value is false if the object has no stream.
func (o *IndirectObject) ContainsStream() ([]Token, bool) {
	for i, tok := range o.Content {
		if tok.IsKeyword("stream") {
			return o.Content[:i], true
		}
	}
	return nil, false
}

// Dictionary parses the object's dictionary; for stream objects this is the
// stream dictionary.
func (o *IndirectObject) Dictionary() (*ParsedDictionary, bool) {
	if head, ok := o.ContainsStream(); ok {
		return ParseDictionary(head)
	}
	return ParseDictionary(o.Content)
}

const (
	streamStart = iota
	streamFilter
	streamFilterList
	streamSearch
	streamWhitespace
	streamConcat
)

// Filters returns the names listed under /Filter in the outermost
// dictionary.
func (o *IndirectObject) Filters() []string {
	filters, _, _ := o.scanStream()
	return filters
}

// streamData returns the /Filter names and the raw stream bytes.  A direct
// /Length decides where the data ends when only an EOL follows it;
// otherwise one EOL in front of endstream is dropped.
func (o *IndirectObject) streamData() (filters []string, data []byte, ok bool) {
	filters, data, ok = o.scanStream()
	if !ok {
		return filters, nil, false
	}
	if dict, found := o.Dictionary(); found {
		if n, isInt := dict.Int("/Length"); isInt && n >= 0 && n <= len(data) && isEOL(data[n:]) {
			return filters, data[:n], true
		}
	}
	return filters, trimTrailingEOL(data), true
}

// scanStream walks the content, collecting the /Filter names and the stream
// bytes up to endstream.  ok is false if no complete stream was found.
func (o *IndirectObject) scanStream() (filters []string, data []byte, ok bool) {
	state := streamStart
	depth := 0
	var buf bytes.Buffer

	for _, tok := range o.Content {
		switch state {
		case streamStart:
			if tok.IsDelimiter("<<") {
				depth++
			}
			if tok.IsDelimiter(">>") {
				depth--
			}
			if depth == 1 && tok.Class == PDF_TOKEN_DELIMITER && EqualCanonical(tok.Text, "/Filter") {
				state = streamFilter
			} else if depth == 0 && tok.IsKeyword("stream") {
				state = streamWhitespace
			}
		case streamFilter:
			if tok.IsName() {
				filters = []string{tok.Text}
				state = streamSearch
			} else if tok.IsDelimiter("[") {
				state = streamFilterList
			}
		case streamFilterList:
			if tok.IsName() {
				filters = append(filters, tok.Text)
			} else if tok.IsDelimiter("]") {
				state = streamSearch
			}
		case streamSearch:
			if tok.IsKeyword("stream") {
				state = streamWhitespace
			}
		case streamWhitespace:
			state = streamConcat
			if tok.IsWhitespace() {
				buf.WriteString(trimLeadingEOL(tok.Text))
				continue
			}
			if tok.IsKeyword("endstream") {
				return filters, nil, true
			}
			buf.WriteString(tok.Text)
		case streamConcat:
			if tok.IsKeyword("endstream") {
				return filters, buf.Bytes(), true
			}
			buf.WriteString(tok.Text)
		}
	}
	return filters, nil, false
}

func trimLeadingEOL(s string) string {
	switch {
	case strings.HasPrefix(s, "\r\n"):
		return s[2:]
	case strings.HasPrefix(s, "\n"), strings.HasPrefix(s, "\r"):
		return s[1:]
	}
	return s
}

func isEOL(b []byte) bool {
	switch string(b) {
	case "", "\n", "\r", "\r\n":
		return true
	}
	return false
}

func trimTrailingEOL(b []byte) []byte {
	switch {
	case bytes.HasSuffix(b, []byte("\r\n")):
		return b[:len(b)-2]
	case bytes.HasSuffix(b, []byte("\n")), bytes.HasSuffix(b, []byte("\r")):
		return b[:len(b)-1]
	}
	return b
}

// Stream returns the stream data of the object.  If applyFilters is set the
// data is decoded, either with the object's own /Filter list and
// /DecodeParms or, if overridingFilters is not empty, with the space
// separated filters given there.  The override "raw" skips decoding
// altogether.
func (o *IndirectObject) Stream(applyFilters bool, overridingFilters string) ([]byte, error) {
	filters, data, ok := o.streamData()
	if !ok {
		return nil, errors.Errorf("Object %d %d has no complete stream", o.ID, o.Version)
	}
	if !applyFilters {
		return data, nil
	}
	switch overridingFilters {
	case "":
		dict, _ := o.Dictionary()
		parms, err := decodeParms(dict, len(filters))
		if err != nil {
			return nil, err
		}
		return DecompressWithParms(data, filters, parms)
	case "raw":
		return data, nil
	}
	return Decompress(data, strings.Fields(overridingFilters))
}

// StreamContains searches the (optionally decoded) stream data.  If regex is
// set, search is a regular expression.  Streams which cannot be decoded
// never match.
func (o *IndirectObject) StreamContains(search string, applyFilters, caseSensitive, regex bool, overridingFilters string) bool {
	if _, ok := o.ContainsStream(); !ok {
		return false
	}
	data, err := o.Stream(applyFilters, overridingFilters)
	if IsDecodeError(err, DECODE_NO_FILTERS) {
		data, err = o.Stream(false, "")
	}
	if err != nil {
		return false
	}
	if regex {
		if !caseSensitive {
			search = "(?i)" + search
		}
		re, err := regexp.Compile(search)
		if err != nil {
			return false
		}
		return re.Match(data)
	}
	if caseSensitive {
		return bytes.Contains(data, []byte(search))
	}
	return bytes.Contains(bytes.ToUpper(data), bytes.ToUpper([]byte(search)))
}

package pdfstruct

import (
	"fmt"
	"strings"
)

const (
	PDF_ELEMENT_COMMENT         = 1
	PDF_ELEMENT_INDIRECT_OBJECT = 2
	PDF_ELEMENT_XREF            = 3
	PDF_ELEMENT_TRAILER         = 4
	PDF_ELEMENT_STARTXREF       = 5
	PDF_ELEMENT_MALFORMED       = 6
)

// Element is one structural unit of a PDF file.  The set of implementations
// is closed: *Comment, *Xref, *Trailer, *StartXref, *IndirectObject and
// *Malformed.
type Element interface {
	Type() int
	isElement()
}

type Comment struct {
	Text string
}

func (*Comment) Type() int  { return PDF_ELEMENT_COMMENT }
func (*Comment) isElement() {}

func (c *Comment) String() string {
	return c.Text
}

// Xref holds the tokens of a cross-reference section, starting with the
// xref keyword.
type Xref struct {
	Content []Token
}

func (*Xref) Type() int  { return PDF_ELEMENT_XREF }
func (*Xref) isElement() {}

// Trailer holds the tokens of a trailer section, starting with the trailer
// keyword.
type Trailer struct {
	Content []Token
}

func (*Trailer) Type() int  { return PDF_ELEMENT_TRAILER }
func (*Trailer) isElement() {}

// Contains performs a case insensitive search for keyword.
func (tr *Trailer) Contains(keyword string) bool {
	return containsKeyword(tr.Content, keyword)
}

// Dictionary parses the trailer dictionary.
func (tr *Trailer) Dictionary() (*ParsedDictionary, bool) {
	content := tr.Content
	if len(content) > 0 && content[0].IsKeyword("trailer") {
		content = content[1:]
	}
	return ParseDictionary(content)
}

type StartXref struct {
	Offset uint64
}

func (*StartXref) Type() int  { return PDF_ELEMENT_STARTXREF }
func (*StartXref) isElement() {}

// Malformed carries input that could not be assigned to any other element.
type Malformed struct {
	Content string
}

func (*Malformed) Type() int  { return PDF_ELEMENT_MALFORMED }
func (*Malformed) isElement() {}

// ObjectRef identifies an indirect object by number and generation.
type ObjectRef struct {
	ID      uint32
	Version uint32
}

func (r ObjectRef) String() string {
	return fmt.Sprintf("%d %d R", r.ID, r.Version)
}

func containsKeyword(content []Token, keyword string) bool {
	var data strings.Builder
	for _, tok := range content {
		if tok.IsKeyword("stream") {
			break
		}
		data.WriteString(Canonicalize(tok.Text))
	}
	return strings.Contains(strings.ToUpper(data.String()), strings.ToUpper(keyword))
}

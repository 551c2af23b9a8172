package pdfstruct

import (
	"io"
	"log"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

const (
	PDF_CONTEXT_NONE    = 1
	PDF_CONTEXT_OBJ     = 2
	PDF_CONTEXT_XREF    = 3
	PDF_CONTEXT_TRAILER = 4
)

type options struct {
	logger           *log.Logger
	expandObjStreams bool
	collectMalformed bool
	objectStream     *ObjectRef
}

// Option configures a Parser or a Document.
type Option func(*options)

// WithLogger sets the logger used to report parse anomalies.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithObjectStreams controls whether a Document expands the members of
// /ObjStm containers.
func WithObjectStreams(expand bool) Option {
	return func(o *options) {
		o.expandObjStreams = expand
	}
}

// WithMalformed collects unexpected top-level tokens and reports them as
// a Malformed element at the end of the input.
func WithMalformed(collect bool) Option {
	return func(o *options) {
		o.collectMalformed = collect
	}
}

// WithObjectStream tags all indirect objects with the object stream they
// were extracted from.
func WithObjectStream(id, version uint32) Option {
	return func(o *options) {
		o.objectStream = &ObjectRef{ID: id, Version: version}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:           log.New(os.Stderr, "pdfstruct: ", log.LstdFlags),
		expandObjStreams: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Parser turns a token stream into elements, one element per call to Next.
type Parser struct {
	tok     *Tokenizer
	opts    *options
	context int
	content []Token

	objectId      uint32
	objectVersion uint32

	malformed []Token
	finished  bool
}

func NewParser(r io.Reader, opts ...Option) *Parser {
	return &Parser{
		tok:     NewTokenizer(r),
		opts:    newOptions(opts),
		context: PDF_CONTEXT_NONE,
	}
}

// Next returns the next element of the file.  At the end of the input Next
// returns io.EOF.
func (p *Parser) Next() (Element, error) {
	if p.finished {
		return nil, io.EOF
	}
	for {
		var tok Token
		var ok bool
		if p.context == PDF_CONTEXT_OBJ {
			tok, ok = p.tok.Next()
		} else if p.context == PDF_CONTEXT_NONE {
			tok, ok = p.tok.NextNonWhitespace()
		} else {
			tok, ok = p.tok.Next()
		}
		if !ok {
			p.finished = true
			if err := p.tok.Err(); err != nil {
				return nil, errors.Wrap(err, "Failed to read token")
			}
			if el := p.flush(); el != nil {
				return el, nil
			}
			return nil, io.EOF
		}

		var el Element
		switch tok.Class {
		case PDF_TOKEN_DELIMITER:
			el = p.handleDelimiter(tok)
		case PDF_TOKEN_WHITESPACE:
			if p.context != PDF_CONTEXT_NONE {
				p.content = append(p.content, tok)
			}
		default:
			el = p.handleRegular(tok)
		}
		if el != nil {
			return el, nil
		}
	}
}

// flush turns whatever is pending at the end of the input into an element.
func (p *Parser) flush() Element {
	content := p.content
	context := p.context
	p.content = nil
	p.context = PDF_CONTEXT_NONE

	switch context {
	case PDF_CONTEXT_OBJ:
		p.opts.logger.Printf("Object %d %d is missing endobj", p.objectId, p.objectVersion)
		return &Malformed{Content: joinTokens(content)}
	case PDF_CONTEXT_XREF:
		return &Xref{Content: content}
	case PDF_CONTEXT_TRAILER:
		return &Trailer{Content: content}
	}

	if len(p.malformed) > 0 {
		el := &Malformed{Content: joinTokens(p.malformed)}
		p.malformed = nil
		return el
	}
	return nil
}

func (p *Parser) handleDelimiter(tok Token) Element {
	if tok.IsComment() {
		if p.context == PDF_CONTEXT_OBJ || p.context == PDF_CONTEXT_TRAILER && dictionaryOpen(p.content) {
			p.content = append(p.content, tok)
			return nil
		}
		return &Comment{Text: tok.Text}
	}

	if p.context == PDF_CONTEXT_NONE {
		p.anomaly(tok)
		return nil
	}

	if tok.Text == "/" {
		next, ok := p.tok.Next()
		if ok {
			if next.Class == PDF_TOKEN_REGULAR {
				tok = Token{Class: PDF_TOKEN_DELIMITER, Text: "/" + next.Text}
			} else {
				p.tok.Unread(next)
			}
		}
	}
	p.content = append(p.content, tok)
	return nil
}

// dictionaryOpen reports whether tokens leave a << unclosed.  A % inside a
// string of the trailer dictionary starts a comment which has to stay with
// the dictionary.
func dictionaryOpen(tokens []Token) bool {
	depth := 0
	for _, tok := range tokens {
		switch {
		case tok.IsDelimiter("<<"):
			depth++
		case tok.IsDelimiter(">>"), tok.IsComment() && closesDictionary(tok):
			depth--
		}
	}
	return depth > 0
}

func (p *Parser) handleRegular(tok Token) Element {
	switch p.context {
	case PDF_CONTEXT_OBJ:
		if tok.Text == "endobj" {
			obj := NewIndirectObject(p.objectId, p.objectVersion, p.content, p.opts.objectStream)
			p.context = PDF_CONTEXT_NONE
			p.content = nil
			return obj
		}
		p.content = append(p.content, tok)
		return nil

	case PDF_CONTEXT_XREF, PDF_CONTEXT_TRAILER:
		switch tok.Text {
		case "xref", "trailer", "startxref":
			var el Element
			if p.context == PDF_CONTEXT_XREF {
				el = &Xref{Content: p.content}
			} else {
				el = &Trailer{Content: p.content}
			}
			p.tok.Unread(tok)
			p.context = PDF_CONTEXT_NONE
			p.content = nil
			return el
		}
		p.content = append(p.content, tok)
		return nil
	}

	if isNumeric(tok.Text) {
		// Two numeric tokens followed by obj start an indirect object.
		// Anything else is pushed back and the first number is dropped.
		tok2, ok := p.tok.NextNonWhitespace()
		if !ok {
			return nil
		}
		if tok2.Class == PDF_TOKEN_REGULAR && isNumeric(tok2.Text) {
			tok3, ok := p.tok.NextNonWhitespace()
			if ok {
				if tok3.IsKeyword("obj") {
					id, err1 := strconv.ParseUint(tok.Text, 10, 32)
					version, err2 := strconv.ParseUint(tok2.Text, 10, 32)
					if err1 == nil && err2 == nil {
						p.objectId = uint32(id)
						p.objectVersion = uint32(version)
						p.context = PDF_CONTEXT_OBJ
						p.content = nil
						return nil
					}
					p.opts.logger.Printf("Object header out of range: %s %s obj", tok.Text, tok2.Text)
					return nil
				}
				p.tok.Unread(tok3)
			}
		}
		p.tok.Unread(tok2)
		return nil
	}

	switch tok.Text {
	case "trailer":
		p.context = PDF_CONTEXT_TRAILER
		p.content = []Token{tok}
		return nil

	case "xref":
		p.context = PDF_CONTEXT_XREF
		p.content = []Token{tok}
		return nil

	case "startxref":
		tok2, ok := p.tok.NextNonWhitespace()
		if !ok {
			return nil
		}
		if tok2.Class == PDF_TOKEN_REGULAR && isNumeric(tok2.Text) {
			offset, err := strconv.ParseUint(tok2.Text, 10, 64)
			if err == nil {
				return &StartXref{Offset: offset}
			}
		}
		p.tok.Unread(tok2)
		return nil
	}

	p.anomaly(tok)
	return nil
}

func (p *Parser) anomaly(tok Token) {
	if tok.Class == PDF_TOKEN_REGULAR {
		p.opts.logger.Printf("Malformed PDF? Unexpected token %q", tok.Text)
	}
	if p.opts.collectMalformed {
		p.malformed = append(p.malformed, tok)
	}
}

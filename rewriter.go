package pdfstruct

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// Transform may replace an indirect object before it is written.  Returning
// nil drops the object.
type Transform func(*IndirectObject) (*IndirectObject, error)

// Rewriter copies the objects of one PDF file into a new file with a single,
// freshly computed cross-reference section.  Objects stored in object
// streams are written as ordinary objects.
type Rewriter struct {
	doc       *Document
	writer    *PdfWriter
	transform Transform

	root        *ObjectRef
	info        *ObjectRef
	catalog     *ObjectRef
	objStmError map[uint32]bool
}

func NewRewriter(doc *Document, writer *PdfWriter) *Rewriter {
	return &Rewriter{
		doc:         doc,
		writer:      writer,
		objStmError: make(map[uint32]bool),
	}
}

func (rw *Rewriter) SetTransform(t Transform) {
	rw.transform = t
}

func (rw *Rewriter) GetDocument() *Document {
	return rw.doc
}

func (rw *Rewriter) GetWriter() *PdfWriter {
	return rw.writer
}

// Root returns the document catalog reference found so far.
func (rw *Rewriter) Root() (ObjectRef, bool) {
	if rw.root != nil {
		return *rw.root, true
	}
	if rw.catalog != nil {
		return *rw.catalog, true
	}
	return ObjectRef{}, false
}

// Rewrite copies all elements and finishes the output with a
// cross-reference table and trailer.  It does not close the writer.
func (rw *Rewriter) Rewrite() error {
	var pending []*IndirectObject

	err := rw.doc.Walk(func(el Element) error {
		switch el := el.(type) {
		case *Comment:
			return rw.writer.WriteComment(el.Text)
		case *Trailer:
			if dict, ok := el.Dictionary(); ok {
				rw.noteRoot(dict)
			}
		case *IndirectObject:
			return rw.handleObject(el, &pending)
		case *Xref, *StartXref:
			// replaced by the new cross-reference section
		case *Malformed:
			rw.doc.conf.logger.Printf("Dropping %d bytes of malformed content", len(el.Content))
		}
		return nil
	}, func(ose *ObjectStreamError) {
		rw.objStmError[ose.ID] = true
	})
	if err != nil {
		return errors.Wrap(err, "Failed to read pdf")
	}

	// Containers come before their members, so whether a container can be
	// dropped is only known at the end.
	for _, obj := range pending {
		if rw.objStmError[obj.ID] {
			if err := rw.writer.WriteObject(obj); err != nil {
				return errors.Wrap(err, "Failed to write object stream")
			}
		}
	}

	root, ok := rw.Root()
	if !ok {
		return errors.Wrap(ErrNoRoot, "No /Root in trailer and no /Catalog object")
	}
	return rw.writer.WriteXrefAndTrailer(root, rw.info)
}

func (rw *Rewriter) handleObject(obj *IndirectObject, pending *[]*IndirectObject) error {
	switch obj.GetType() {
	case "/XRef":
		// A cross-reference stream doubles as the trailer.
		if dict, ok := obj.Dictionary(); ok {
			rw.noteRoot(dict)
		}
		return nil
	case "/ObjStm":
		if _, ok := obj.ContainsStream(); ok && obj.ObjectStream == nil && rw.doc.conf.expandObjStreams {
			*pending = append(*pending, obj)
			return nil
		}
	case "/Catalog":
		if rw.catalog == nil {
			ref := obj.Ref()
			rw.catalog = &ref
		}
	}

	if rw.transform != nil {
		var err error
		obj, err = rw.transform(obj)
		if err != nil {
			return errors.Wrap(err, "Failed to transform object")
		}
		if obj == nil {
			return nil
		}
	}
	return rw.writer.WriteObject(obj)
}

func (rw *Rewriter) noteRoot(dict *ParsedDictionary) {
	if rw.root == nil {
		if ref, ok := dict.Reference("/Root"); ok {
			rw.root = &ref
		}
	}
	if rw.info == nil {
		if ref, ok := dict.Reference("/Info"); ok {
			rw.info = &ref
		}
	}
}

// RewriteFile rewrites the PDF file in to out.
func RewriteFile(in, out string, cfg Config, opts ...Option) (Stats, error) {
	f, err := os.Open(in)
	if err != nil {
		return Stats{}, errors.Wrap(err, "Failed to open file")
	}
	defer f.Close()

	writer, err := NewPdfWriter(out, cfg.Writer)
	if err != nil {
		return Stats{}, err
	}
	stats, err := Rewrite(f, writer, cfg, opts...)
	if cerr := writer.Close(); err == nil {
		err = cerr
	}
	return stats, err
}

// Rewrite parses r and writes all objects to writer.
func Rewrite(r io.Reader, writer *PdfWriter, cfg Config, opts ...Option) (Stats, error) {
	doc := NewDocument(r, append(cfg.Options(), opts...)...)
	rw := NewRewriter(doc, writer)
	err := rw.Rewrite()
	return doc.Stats(), err
}

package pdfstruct

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ObjectStreamError reports an /ObjStm container whose members could not be
// extracted.  It is not fatal: the container itself was parsed and the
// iteration can continue.
type ObjectStreamError struct {
	ID      uint32
	Version uint32
	Err     error
}

func (e *ObjectStreamError) Error() string {
	return fmt.Sprintf("Object stream %d %d: %v", e.ID, e.Version, e.Err)
}

func (e *ObjectStreamError) Unwrap() error {
	return e.Err
}

// Stats counts the elements produced by a Document.
type Stats struct {
	Comments        int
	Xrefs           int
	Trailers        int
	StartXrefs      int
	IndirectObjects int
	Malformed       int

	// ObjectTypes maps the /Type of indirect objects to their ids.
	ObjectTypes map[string][]uint32
}

func (s *Stats) Add(el Element) {
	switch el := el.(type) {
	case *Comment:
		s.Comments++
	case *Xref:
		s.Xrefs++
	case *Trailer:
		s.Trailers++
	case *StartXref:
		s.StartXrefs++
	case *IndirectObject:
		s.IndirectObjects++
		if s.ObjectTypes == nil {
			s.ObjectTypes = make(map[string][]uint32)
		}
		typ := el.GetType()
		s.ObjectTypes[typ] = append(s.ObjectTypes[typ], el.ID)
	case *Malformed:
		s.Malformed++
	}
}

func (s *Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Comment: %d\n", s.Comments)
	fmt.Fprintf(&b, "XREF: %d\n", s.Xrefs)
	fmt.Fprintf(&b, "Trailer: %d\n", s.Trailers)
	fmt.Fprintf(&b, "StartXref: %d\n", s.StartXrefs)
	fmt.Fprintf(&b, "Indirect object: %d\n", s.IndirectObjects)
	if s.Malformed > 0 {
		fmt.Fprintf(&b, "Malformed: %d\n", s.Malformed)
	}
	keys := make([]string, 0, len(s.ObjectTypes))
	for k := range s.ObjectTypes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ids := make([]string, len(s.ObjectTypes[k]))
		for i, id := range s.ObjectTypes[k] {
			ids[i] = strconv.FormatUint(uint64(id), 10)
		}
		fmt.Fprintf(&b, " %s %d: %s\n", k, len(ids), strings.Join(ids, ", "))
	}
	return b.String()
}

// Document reads all elements of a PDF file, including the objects stored
// inside object streams.
type Document struct {
	outer *Parser
	inner *Parser
	opts  []Option
	conf  *options
	stats Stats
}

func NewDocument(r io.Reader, opts ...Option) *Document {
	return &Document{
		outer: NewParser(r, opts...),
		opts:  opts,
		conf:  newOptions(opts),
	}
}

// Next returns the next element.  Members of an object stream follow
// directly after the container.  If the members cannot be extracted, the
// container is returned together with an *ObjectStreamError.  At the end of
// the input Next returns io.EOF.
func (d *Document) Next() (Element, error) {
	var el Element
	var err error
	if d.inner != nil {
		el, err = d.inner.Next()
		if err == io.EOF {
			d.inner = nil
		} else if err != nil {
			d.inner = nil
			return nil, err
		}
	}
	if el == nil {
		el, err = d.outer.Next()
		if err != nil {
			return nil, err
		}
	}
	d.stats.Add(el)

	obj, ok := el.(*IndirectObject)
	// Object streams cannot be nested.
	if !ok || !d.conf.expandObjStreams || obj.ObjectStream != nil || obj.GetType() != "/ObjStm" {
		return el, nil
	}
	if _, ok := obj.ContainsStream(); !ok {
		return el, nil
	}
	synthetic, err := expandObjectStream(obj)
	if err != nil {
		d.conf.logger.Printf("Failed to expand object stream %d %d: %v", obj.ID, obj.Version, err)
		return el, &ObjectStreamError{ID: obj.ID, Version: obj.Version, Err: err}
	}
	opts := append(append([]Option{}, d.opts...), WithObjectStream(obj.ID, obj.Version))
	d.inner = NewParser(strings.NewReader(synthetic), opts...)
	return el, nil
}

// Stats returns the counts of all elements returned so far.
func (d *Document) Stats() Stats {
	return d.stats
}

// Walk calls fn for every element.  Object stream errors are passed to
// onObjStmError, if set, and otherwise ignored.
func (d *Document) Walk(fn func(Element) error, onObjStmError func(*ObjectStreamError)) error {
	for {
		el, err := d.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var ose *ObjectStreamError
			if !errors.As(err, &ose) {
				return err
			}
			if onObjStmError != nil {
				onObjStmError(ose)
			}
		}
		if err := fn(el); err != nil {
			return err
		}
	}
}

// expandObjectStream builds a synthetic PDF fragment holding all members of
// an /ObjStm container as ordinary indirect objects.
func expandObjectStream(obj *IndirectObject) (string, error) {
	dict, ok := obj.Dictionary()
	if !ok {
		return "", errors.New("Could not parse object stream dictionary")
	}
	n, ok := dict.Int("/N")
	if !ok {
		return "", errors.New("Missing /N in object stream dictionary")
	}
	first, ok := dict.Int("/First")
	if !ok {
		return "", errors.New("Missing /First in object stream dictionary")
	}

	data, err := obj.Stream(true, "")
	if IsDecodeError(err, DECODE_NO_FILTERS) {
		data, err = obj.Stream(false, "")
	}
	if err != nil {
		return "", errors.Wrap(err, "Failed to decode object stream")
	}
	if first < 0 || first > len(data) {
		return "", errors.Errorf("/First %d is out of range", first)
	}

	var indexes []int
	for _, field := range strings.Fields(string(data[:first])) {
		v, err := strconv.Atoi(field)
		if err != nil {
			return "", errors.Wrap(err, "Failed to convert index entry into integer: "+field)
		}
		indexes = append(indexes, v)
	}
	if len(indexes)%2 != 0 || len(indexes)/2 != n {
		return "", errors.New("Error in index of /ObjStm stream")
	}

	body := string(data[first:])
	var b strings.Builder
	for i := 0; i < len(indexes); i += 2 {
		objectNumber := indexes[i]
		offset := indexes[i+1]
		end := len(body)
		if i+3 < len(indexes) {
			end = indexes[i+3]
		}
		if offset < 0 || offset > end || end > len(body) {
			return "", errors.Errorf("Bad offset for object %d", objectNumber)
		}
		fmt.Fprintf(&b, "\n%d 0 obj\n%s\nendobj\n", objectNumber, body[offset:end])
	}
	return b.String(), nil
}

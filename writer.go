package pdfstruct

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoRoot is returned when a file cannot be finalized because the
// document catalog is unknown or was not written.
var ErrNoRoot = errors.New("No root object")

// PdfWriter appends elements to a PDF file and keeps track of the offset of
// every indirect object, so that a matching cross-reference table can be
// written at the end.
type PdfWriter struct {
	f       *os.File
	w       *bufio.Writer
	conf    WriterConfig
	pos     int64
	offsets map[uint32]int64
	err     error
}

// NewPdfWriter creates (or truncates) filename.
func NewPdfWriter(filename string, conf WriterConfig) (*PdfWriter, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid writer config")
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to create filename: "+filename)
	}
	writer := NewPdfWriterTo(f, conf)
	writer.f = f
	return writer, nil
}

// NewPdfWriterTo writes to w.  Offsets are counted from the first byte
// written through the returned writer.
func NewPdfWriterTo(w io.Writer, conf WriterConfig) *PdfWriter {
	return &PdfWriter{
		w:       bufio.NewWriter(w),
		conf:    conf,
		offsets: make(map[uint32]int64),
	}
}

// out writes s and advances the offset counter.  After the first write
// error all output is discarded.
func (pw *PdfWriter) out(s string) {
	if pw.err != nil {
		return
	}
	n, err := pw.w.WriteString(s)
	pw.pos += int64(n)
	if err != nil {
		pw.err = errors.Wrap(err, "Failed to write output")
	}
}

func (pw *PdfWriter) outBytes(b []byte) {
	if pw.err != nil {
		return
	}
	n, err := pw.w.Write(b)
	pw.pos += int64(n)
	if err != nil {
		pw.err = errors.Wrap(err, "Failed to write output")
	}
}

// newObj writes the object header and records its offset for the xref
// section.
func (pw *PdfWriter) newObj(id, version uint32) {
	pw.out("\n")
	pw.offsets[id] = pw.pos
	pw.out(fmt.Sprintf("%d %d obj\n", id, version))
}

// Offset returns the position of the header of object id.
func (pw *PdfWriter) Offset(id uint32) (int64, bool) {
	pos, ok := pw.offsets[id]
	return pos, ok
}

// WriteComment writes a comment verbatim.  %%EOF markers are dropped, the
// writer emits its own at the very end.
func (pw *PdfWriter) WriteComment(text string) error {
	if !strings.HasPrefix(text, "%%EOF") {
		pw.out(text)
	}
	return pw.err
}

// WriteObject writes obj.  Stream data is written decoded when the writer
// is configured to decompress and both the filters and their /DecodeParms
// can be applied; otherwise the raw data is kept together with its filters
// and parameters.
func (pw *PdfWriter) WriteObject(obj *IndirectObject) error {
	head, ok := obj.ContainsStream()
	if !ok {
		return pw.WriteIndirectObject(obj.ID, obj.Version, joinTokens(trimWhitespace(obj.Content)))
	}

	raw, err := obj.Stream(false, "")
	if err != nil {
		// Unterminated stream, keep the object as it is.
		return pw.WriteIndirectObject(obj.ID, obj.Version, joinTokens(trimWhitespace(obj.Content)))
	}
	dict, ok := ParseDictionary(head)
	if !ok {
		return pw.WriteStream(obj.ID, obj.Version, raw, joinTokens(trimWhitespace(head)))
	}

	if pw.conf.Decompress {
		decoded, err := obj.Stream(true, "")
		if IsDecodeError(err, DECODE_NO_FILTERS) {
			decoded, err = raw, nil
		}
		if err == nil {
			clean := dict.Without("/Length", "/Filter", "/DecodeParms")
			if len(pw.conf.Filters) > 0 {
				return pw.WriteStreamFiltered(obj.ID, obj.Version, decoded, clean, pw.conf.Filters)
			}
			return pw.WriteStream(obj.ID, obj.Version, decoded, clean.With("/Length", strconv.Itoa(len(decoded))).String())
		}
	}
	return pw.WriteStream(obj.ID, obj.Version, raw, dict.With("/Length", strconv.Itoa(len(raw))).String())
}

// WriteIndirectObject writes an object without stream data.
func (pw *PdfWriter) WriteIndirectObject(id, version uint32, body string) error {
	pw.newObj(id, version)
	pw.out(body)
	pw.out("\nendobj\n")
	return pw.err
}

// WriteStream writes a stream object.  The caller is responsible for a
// /Length entry in dictionary which matches data.
func (pw *PdfWriter) WriteStream(id, version uint32, data []byte, dictionary string) error {
	pw.newObj(id, version)
	pw.out(dictionary)
	pw.out("\nstream\n")
	pw.outBytes(data)
	pw.out("\nendstream\nendobj\n")
	return pw.err
}

// WriteStreamFiltered encodes data with filters and writes it as a stream
// object.  /Length and /Filter are set in dict, which may be nil.
func (pw *PdfWriter) WriteStreamFiltered(id, version uint32, data []byte, dict *ParsedDictionary, filters []string) error {
	if dict == nil {
		dict = &ParsedDictionary{}
	}
	encoded, err := Compress(data, filters, pw.conf.HexLineWidth)
	if err != nil {
		return errors.Wrapf(err, "Failed to encode stream of object %d", id)
	}
	dict = dict.Without("/Length", "/Filter", "/DecodeParms")
	if len(filters) > 0 {
		dict = dict.With("/Filter", filterArray(filters))
	}
	dict = dict.With("/Length", strconv.Itoa(len(encoded)))
	return pw.WriteStream(id, version, encoded, dict.String())
}

func (pw *PdfWriter) xrefEOL() string {
	switch pw.conf.XrefEOL {
	case XREF_EOL_LF:
		return "\n"
	case XREF_EOL_SPACE_LF:
		return " \n"
	}
	if runtime.GOOS == "windows" {
		return "\n"
	}
	return " \n"
}

// WriteXrefAndTrailer finishes the file: cross-reference table, trailer,
// startxref and %%EOF.  info may be nil.
func (pw *PdfWriter) WriteXrefAndTrailer(root ObjectRef, info *ObjectRef) error {
	if _, ok := pw.offsets[root.ID]; !ok {
		return errors.Wrapf(ErrNoRoot, "Root object %d was not written", root.ID)
	}
	startxref, size := pw.writeXref()
	pw.writeTrailer(startxref, size, root, info)
	return pw.err
}

func (pw *PdfWriter) writeXref() (int64, int) {
	pw.out("\n")
	startxref := pw.pos

	var max uint32
	for id := range pw.offsets {
		if id > max {
			max = id
		}
	}
	size := int(max) + 1

	eol := pw.xrefEOL()
	pw.out(fmt.Sprintf("xref\n0 %d\n", size))
	for i := 0; i < size; i++ {
		if pos, ok := pw.offsets[uint32(i)]; ok {
			pw.out(fmt.Sprintf("%010d %05d n%s", pos, 0, eol))
		} else {
			pw.out("0000000000 65535 f" + eol)
		}
	}
	return startxref, size
}

func (pw *PdfWriter) writeTrailer(startxref int64, size int, root ObjectRef, info *ObjectRef) {
	pw.out("trailer\n<<\n")
	pw.out(fmt.Sprintf(" /Size %d\n /Root %s\n", size, root))
	if info != nil {
		pw.out(fmt.Sprintf(" /Info %s\n", *info))
	}
	pw.out(fmt.Sprintf(">>\nstartxref\n%d\n%%%%EOF\n", startxref))
}

// Close flushes all buffered output and closes the file, if any.
func (pw *PdfWriter) Close() error {
	err := pw.w.Flush()
	if pw.err == nil && err != nil {
		pw.err = errors.Wrap(err, "Failed to flush output")
	}
	if pw.f != nil {
		if err := pw.f.Close(); err != nil && pw.err == nil {
			pw.err = errors.Wrap(err, "Failed to close output file")
		}
		pw.f = nil
	}
	return pw.err
}

package pdfstruct

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func lfConfig() WriterConfig {
	return WriterConfig{XrefEOL: XREF_EOL_LF}
}

// xrefEntries returns the entry lines of the single xref section in out.
func xrefEntries(t *testing.T, out string) []string {
	t.Helper()
	i := strings.Index(out, "xref\n")
	j := strings.Index(out, "trailer\n")
	if i < 0 || j < i {
		t.Fatalf("no xref section in %q", out)
	}
	lines := strings.Split(strings.TrimSuffix(out[i:j], "\n"), "\n")
	return lines[2:]
}

func TestWriteXref(t *testing.T) {
	var b bytes.Buffer
	pw := NewPdfWriterTo(&b, lfConfig())
	if err := pw.WriteComment("%PDF-1.7\n"); err != nil {
		t.Fatal(err)
	}
	if err := pw.WriteIndirectObject(1, 0, "<</Type/Catalog/Pages 3 0 R>>"); err != nil {
		t.Fatal(err)
	}
	if err := pw.WriteIndirectObject(3, 0, "<</Type/Pages/Kids[]/Count 0>>"); err != nil {
		t.Fatal(err)
	}
	if err := pw.WriteXrefAndTrailer(ObjectRef{ID: 1}, nil); err != nil {
		t.Fatal(err)
	}
	if err := pw.Close(); err != nil {
		t.Fatal(err)
	}
	out := b.String()

	if !strings.Contains(out, "xref\n0 4\n") {
		t.Errorf("wrong subsection header in %q", out)
	}
	entries := xrefEntries(t, out)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %q", entries)
	}
	for _, i := range []int{0, 2} {
		if entries[i] != "0000000000 65535 f" {
			t.Errorf("entry %d should be free: %q", i, entries[i])
		}
	}
	for _, id := range []int{1, 3} {
		e := entries[id]
		if len(e) != 18 || !strings.HasSuffix(e, " 00000 n") {
			t.Errorf("entry %d: %q", id, e)
			continue
		}
		pos, err := strconv.Atoi(e[:10])
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(out[pos:], fmt.Sprintf("%d 0 obj\n", id)) {
			t.Errorf("entry %d points to %q", id, out[pos:pos+10])
		}
		if off, _ := pw.Offset(uint32(id)); off != int64(pos) {
			t.Errorf("Offset(%d) = %d, expected %d", id, off, pos)
		}
	}

	// Every in-use entry must lead the parser to the object with that id.
	var inUse []uint32
	for id, e := range entries {
		if !strings.HasSuffix(e, " n") {
			continue
		}
		inUse = append(inUse, uint32(id))
		pos, err := strconv.Atoi(e[:10])
		if err != nil {
			t.Fatal(err)
		}
		el, err := NewParser(strings.NewReader(out[pos:]), quiet).Next()
		if err != nil {
			t.Fatalf("entry %d: %v", id, err)
		}
		obj, ok := el.(*IndirectObject)
		if !ok || obj.ID != uint32(id) || obj.Version != 0 {
			t.Errorf("entry %d: offset %d yields %#v", id, pos, el)
		}
	}
	if d := cmp.Diff(inUse, objectIDs(parseAll(t, out))); d != "" {
		t.Errorf("xref entries and parsed objects differ: %s", d)
	}

	if !strings.HasSuffix(out, "%%EOF\n") {
		t.Errorf("missing %%%%EOF: %q", out)
	}
	k := strings.LastIndex(out, "startxref\n")
	sx, err := strconv.Atoi(strings.TrimSuffix(out[k+len("startxref\n"):], "\n%%EOF\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out[sx:], "xref\n") {
		t.Errorf("startxref %d points to %q", sx, out[sx:])
	}
}

func TestWriteRoundTrip(t *testing.T) {
	var b bytes.Buffer
	pw := NewPdfWriterTo(&b, lfConfig())
	pw.WriteComment("%PDF-1.7\n")
	pw.WriteIndirectObject(1, 0, "<</Type/Catalog/Pages 2 0 R>>")
	pw.WriteIndirectObject(2, 0, "<</Type/Pages/Kids[]/Count 0>>")
	pw.WriteIndirectObject(4, 0, "<</Producer (pdfstruct)>>")
	if err := pw.WriteXrefAndTrailer(ObjectRef{ID: 1}, &ObjectRef{ID: 4}); err != nil {
		t.Fatal(err)
	}
	if err := pw.Close(); err != nil {
		t.Fatal(err)
	}

	elements := parseAll(t, b.String())
	expected := []int{
		PDF_ELEMENT_COMMENT,
		PDF_ELEMENT_INDIRECT_OBJECT,
		PDF_ELEMENT_INDIRECT_OBJECT,
		PDF_ELEMENT_INDIRECT_OBJECT,
		PDF_ELEMENT_XREF,
		PDF_ELEMENT_TRAILER,
		PDF_ELEMENT_STARTXREF,
		PDF_ELEMENT_COMMENT,
	}
	if d := cmp.Diff(expected, elementTypes(elements)); d != "" {
		t.Fatal(d)
	}

	dict, ok := elements[5].(*Trailer).Dictionary()
	if !ok {
		t.Fatal("trailer dictionary not parsed")
	}
	root, ok := dict.Reference("/Root")
	if !ok || root != (ObjectRef{ID: 1}) {
		t.Errorf("wrong root %v", root)
	}
	info, ok := dict.Reference("/Info")
	if !ok || info != (ObjectRef{ID: 4}) {
		t.Errorf("wrong info %v", info)
	}
	if n, _ := dict.Int("/Size"); n != 5 {
		t.Errorf("wrong size %d", n)
	}
	if typ := elements[1].(*IndirectObject).GetType(); typ != "/Catalog" {
		t.Errorf("root object has type %q", typ)
	}
	sx := elements[6].(*StartXref)
	if !strings.HasPrefix(b.String()[sx.Offset:], "xref") {
		t.Errorf("startxref %d is off", sx.Offset)
	}
}

func TestWriteCommentEOF(t *testing.T) {
	var b bytes.Buffer
	pw := NewPdfWriterTo(&b, lfConfig())
	pw.WriteComment("%PDF-1.4\n")
	pw.WriteComment("%%EOF\n")
	pw.WriteComment("%%EOF")
	pw.WriteComment("% keep\n")
	pw.Close()
	if b.String() != "%PDF-1.4\n% keep\n" {
		t.Errorf("got %q", b.String())
	}
}

func TestWriteNoRoot(t *testing.T) {
	var b bytes.Buffer
	pw := NewPdfWriterTo(&b, lfConfig())
	pw.WriteIndirectObject(1, 0, "42")
	err := pw.WriteXrefAndTrailer(ObjectRef{ID: 9}, nil)
	if errors.Cause(err) != ErrNoRoot {
		t.Errorf("expected ErrNoRoot, got %v", err)
	}
}

func TestXrefEOL(t *testing.T) {
	cases := []struct {
		eol, expected string
	}{
		{XREF_EOL_LF, "0000000000 65535 f\n"},
		{XREF_EOL_SPACE_LF, "0000000000 65535 f \n"},
	}
	for _, c := range cases {
		var b bytes.Buffer
		pw := NewPdfWriterTo(&b, WriterConfig{XrefEOL: c.eol})
		pw.WriteIndirectObject(1, 0, "<<>>")
		if err := pw.WriteXrefAndTrailer(ObjectRef{ID: 1}, nil); err != nil {
			t.Fatal(err)
		}
		pw.Close()
		if !strings.Contains(b.String(), "xref\n0 2\n"+c.expected) {
			t.Errorf("%s: got %q", c.eol, b.String())
		}
		if len(c.expected) == 20 && !strings.Contains(b.String(), " 00000 n \ntrailer") {
			t.Errorf("%s: entries must be 20 bytes: %q", c.eol, b.String())
		}
	}
}

const hexObject = "1 0 obj\n<</Length 11/Filter/ASCIIHexDecode>>\nstream\n48656C6C6F>\nendstream\nendobj\n"

func TestWriteObject(t *testing.T) {
	cases := []struct {
		name     string
		conf     WriterConfig
		in       string
		expected string
	}{
		{
			"decompress",
			WriterConfig{Decompress: true},
			hexObject,
			"\n1 0 obj\n<</Length 5>>\nstream\nHello\nendstream\nendobj\n",
		},
		{
			"keep filters",
			WriterConfig{},
			hexObject,
			"\n1 0 obj\n<</Length 11 /Filter /ASCIIHexDecode>>\nstream\n48656C6C6F>\nendstream\nendobj\n",
		},
		{
			"re-encode",
			WriterConfig{Decompress: true, Filters: []string{"/ASCIIHexDecode"}},
			hexObject,
			"\n1 0 obj\n<</Filter /ASCIIHexDecode /Length 11>>\nstream\n48656C6C6F>\nendstream\nendobj\n",
		},
		{
			"unsupported filter",
			WriterConfig{Decompress: true},
			"1 0 obj\n<</Length 3/Filter/DCTDecode>>\nstream\nabc\nendstream\nendobj\n",
			"\n1 0 obj\n<</Length 3 /Filter /DCTDecode>>\nstream\nabc\nendstream\nendobj\n",
		},
		{
			"wrong length",
			WriterConfig{Decompress: true},
			"1 0 obj\n<</Length 99>>\nstream\nabc\nendstream\nendobj\n",
			"\n1 0 obj\n<</Length 3>>\nstream\nabc\nendstream\nendobj\n",
		},
		{
			"no stream",
			WriterConfig{Decompress: true},
			"1 0 obj\n<</Type/Catalog>>\nendobj\n",
			"\n1 0 obj\n<</Type/Catalog>>\nendobj\n",
		},
		{
			"unterminated stream",
			WriterConfig{Decompress: true},
			"1 0 obj\n<</Length 3>>\nstream\nabc\nendobj\n",
			"\n1 0 obj\n<</Length 3>>\nstream\nabc\nendobj\n",
		},
	}
	for _, c := range cases {
		var b bytes.Buffer
		pw := NewPdfWriterTo(&b, c.conf)
		if err := pw.WriteObject(parseObject(t, c.in)); err != nil {
			t.Errorf("%s: %v", c.name, err)
			continue
		}
		pw.Close()
		if d := cmp.Diff(c.expected, b.String()); d != "" {
			t.Errorf("%s: %s", c.name, d)
		}
	}
}

func TestWriteObjectDecodeParms(t *testing.T) {
	rows := "\x02\x01\x02\x03\x02\x03\x03\x03"
	encoded := deflate(t, rows)
	object := func(parms string) string {
		return fmt.Sprintf("1 0 obj\n<</Length %d/Filter/FlateDecode/DecodeParms%s>>\nstream\n%s\nendstream\nendobj\n", len(encoded), parms, encoded)
	}

	var b bytes.Buffer
	pw := NewPdfWriterTo(&b, WriterConfig{Decompress: true})
	if err := pw.WriteObject(parseObject(t, object("<</Predictor 12/Columns 3>>"))); err != nil {
		t.Fatal(err)
	}
	pw.Close()
	expected := "\n1 0 obj\n<</Length 6>>\nstream\n\x01\x02\x03\x04\x05\x06\nendstream\nendobj\n"
	if d := cmp.Diff(expected, b.String()); d != "" {
		t.Error(d)
	}

	// Parameters that cannot be applied keep the stream encoded.
	for _, parms := range []string{"<</Predictor 2/Columns 3>>", " 9 0 R"} {
		b.Reset()
		pw = NewPdfWriterTo(&b, WriterConfig{Decompress: true})
		if err := pw.WriteObject(parseObject(t, object(parms))); err != nil {
			t.Fatal(err)
		}
		pw.Close()

		obj := parseObject(t, b.String())
		dict, ok := obj.Dictionary()
		if !ok {
			t.Fatalf("%s: dictionary not parsed in %q", parms, b.String())
		}
		if _, ok := dict.GetNested("/DecodeParms"); !ok {
			t.Errorf("%s: /DecodeParms dropped: %q", parms, dict.String())
		}
		if d := cmp.Diff([]string{"/FlateDecode"}, obj.Filters()); d != "" {
			t.Errorf("%s: %s", parms, d)
		}
		raw, err := obj.Stream(false, "")
		if err != nil {
			t.Fatal(err)
		}
		if string(raw) != encoded {
			t.Errorf("%s: stream data changed", parms)
		}
	}
}

func TestWriteStreamFiltered(t *testing.T) {
	var b bytes.Buffer
	pw := NewPdfWriterTo(&b, WriterConfig{HexLineWidth: 4})
	err := pw.WriteStreamFiltered(7, 0, []byte("Hello"), nil, []string{"/ASCIIHexDecode", "/FlateDecode"})
	if err != nil {
		t.Fatal(err)
	}
	pw.Close()

	obj := parseObject(t, b.String())
	if d := cmp.Diff([]string{"/ASCIIHexDecode", "/FlateDecode"}, obj.Filters()); d != "" {
		t.Error(d)
	}
	data, err := obj.Stream(true, "")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "Hello" {
		t.Errorf("got %q", data)
	}
	raw, _ := obj.Stream(false, "")
	dict, _ := obj.Dictionary()
	if n, _ := dict.Int("/Length"); n != len(raw) {
		t.Errorf("/Length %d does not match %d bytes", n, len(raw))
	}
}

func TestNewPdfWriterInvalidConfig(t *testing.T) {
	_, err := NewPdfWriter(t.TempDir()+"/out.pdf", WriterConfig{XrefEOL: "crlf"})
	if err == nil {
		t.Error("expected config error")
	}
}

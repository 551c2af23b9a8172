package pdfstruct

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestDecompressErrors(t *testing.T) {
	_, err := Decompress([]byte("abc"), nil)
	if !IsDecodeError(err, DECODE_NO_FILTERS) {
		t.Errorf("expected no filters, got %v", err)
	}

	_, err = Decompress([]byte("garbage"), []string{"/FlateDecode", "/JBIG2Decode"})
	if !IsDecodeError(err, DECODE_UNSUPPORTED_FILTER) {
		t.Fatalf("expected unsupported filter, got %v", err)
	}
	if err.Error() != "Unsupported filter: /FlateDecode /JBIG2Decode" {
		t.Errorf("wrong message %q", err.Error())
	}

	_, err = Decompress([]byte("garbage"), []string{"/FlateDecode"})
	if !IsDecodeError(err, DECODE_FAILED) {
		t.Fatalf("expected decode failure, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "FlateDecode decompress failed") {
		t.Errorf("wrong message %q", err.Error())
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Filter != "/FlateDecode" || de.Err == nil {
		t.Errorf("got %#v", de)
	}
}

func TestFlateDecode(t *testing.T) {
	out, err := Decompress(nil, []string{"/FlateDecode"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("got %q", out)
	}

	out, err = Decompress([]byte(deflate(t, "BT /F1 12 Tf ET")), []string{"/Fl"})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "BT /F1 12 Tf ET" {
		t.Errorf("got %q", out)
	}
}

func TestASCIIHexDecode(t *testing.T) {
	cases := []struct {
		in, expected string
	}{
		{"48656C6C6F>", "Hello"},
		{"48 65\n6c 6C\r6F", "Hello"},
		{"48656C6C6>", "Hell`"},
		{">", ""},
		{"4142>4344", "AB"},
	}
	for _, c := range cases {
		out, err := Decompress([]byte(c.in), []string{"/ASCIIHexDecode"})
		if err != nil {
			t.Errorf("%q: %v", c.in, err)
			continue
		}
		if string(out) != c.expected {
			t.Errorf("%q: got %q, expected %q", c.in, out, c.expected)
		}
	}

	if _, err := Decompress([]byte("4G>"), []string{"/AHx"}); !IsDecodeError(err, DECODE_FAILED) {
		t.Errorf("expected failure, got %v", err)
	}
}

func TestASCII85Decode(t *testing.T) {
	data := []byte("Man is distinguished, not only by his reason")
	encoded, err := Compress(data, []string{"/ASCII85Decode"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasSuffix(encoded, []byte("~>")) {
		t.Errorf("missing end marker: %q", encoded)
	}

	inputs := [][]byte{
		encoded,
		append([]byte("<~"), encoded...),
		append(append([]byte{}, encoded...), "\ntrailing junk"...),
		bytes.ReplaceAll(encoded, []byte("i"), []byte("i\n")),
	}
	for _, in := range inputs {
		out, err := Decompress(in, []string{"/A85"})
		if err != nil {
			t.Errorf("%q: %v", in, err)
			continue
		}
		if d := cmp.Diff(data, out); d != "" {
			t.Errorf("%q: %s", in, d)
		}
	}
}

func TestLZWDecode(t *testing.T) {
	in := []byte{0x80, 0x0B, 0x60, 0x50, 0x22, 0x0C, 0x0C, 0x85, 0x01}
	out, err := Decompress(in, []string{"/LZWDecode"})
	if err != nil {
		t.Fatal(err)
	}
	expected := []byte{45, 45, 45, 45, 45, 65, 45, 45, 45, 66}
	if d := cmp.Diff(expected, out); d != "" {
		t.Error(d)
	}
}

func TestRunLengthDecode(t *testing.T) {
	out, err := Decompress([]byte{2, 'a', 'b', 'c', 254, 'x', 128, 'z'}, []string{"/RunLengthDecode"})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "abcxxx" {
		t.Errorf("got %q", out)
	}

	out, err = Decompress([]byte{0, 'q'}, []string{"/RL"})
	if err != nil || string(out) != "q" {
		t.Errorf("got %q %v", out, err)
	}

	if _, err := Decompress([]byte{5, 'a'}, []string{"/RL"}); !IsDecodeError(err, DECODE_FAILED) {
		t.Errorf("expected failure, got %v", err)
	}
}

func TestPredictor(t *testing.T) {
	cases := []struct {
		name     string
		parms    string
		in       []byte
		expected []byte
	}{
		{
			"up",
			"<</Predictor 12/Columns 3>>",
			[]byte{2, 1, 2, 3, 2, 3, 3, 3},
			[]byte{1, 2, 3, 4, 5, 6},
		},
		{
			"mixed row types",
			"<</Predictor 15/Columns 3>>",
			[]byte{
				1, 10, 10, 10, // sub
				3, 6, 7, 7, // average
				4, 1, 254, 7, // paeth
				0, 7, 8, 9, // none
			},
			[]byte{10, 20, 30, 11, 22, 33, 12, 20, 40, 7, 8, 9},
		},
		{
			"two colors",
			"<</Predictor 11/Colors 2/Columns 2>>",
			[]byte{1, 1, 2, 2, 2},
			[]byte{1, 2, 3, 4},
		},
		{
			"no predictor",
			"<</Predictor 1/Columns 3>>",
			[]byte{2, 1, 2},
			[]byte{2, 1, 2},
		},
	}
	for _, c := range cases {
		parms := mustParseDictionary(t, c.parms)
		out, err := DecompressWithParms([]byte(deflate(t, string(c.in))), []string{"/FlateDecode"}, []*ParsedDictionary{parms})
		if err != nil {
			t.Errorf("%s: %v", c.name, err)
			continue
		}
		if d := cmp.Diff(c.expected, out); d != "" {
			t.Errorf("%s: %s", c.name, d)
		}
	}
}

func TestPredictorErrors(t *testing.T) {
	cases := []struct {
		parms string
		in    []byte
		kind  int
	}{
		{"<</Predictor 2/Columns 3>>", []byte{1, 2, 3}, DECODE_UNSUPPORTED_FILTER},
		{"<</Predictor 12/Columns 3>>", []byte{2, 1, 2}, DECODE_FAILED},
		{"<</Predictor 12/Columns 2>>", []byte{7, 1, 2}, DECODE_FAILED},
		{"<</Predictor 12/Columns 0>>", []byte{2, 1, 2}, DECODE_FAILED},
	}
	for _, c := range cases {
		parms := mustParseDictionary(t, c.parms)
		_, err := DecompressWithParms([]byte(deflate(t, string(c.in))), []string{"/FlateDecode"}, []*ParsedDictionary{parms})
		if !IsDecodeError(err, c.kind) {
			t.Errorf("%s %v: got %v", c.parms, c.in, err)
		}
	}

	_, err := DecompressWithParms([]byte{0x80}, []string{"/LZW"}, []*ParsedDictionary{mustParseDictionary(t, "<</EarlyChange 0>>")})
	if !IsDecodeError(err, DECODE_UNSUPPORTED_FILTER) {
		t.Errorf("expected unsupported filter, got %v", err)
	}
}

func TestDecodeParms(t *testing.T) {
	dict := mustParseDictionary(t, "<</Filter[/AHx/Fl]/DecodeParms[null <</Predictor 12/Columns 4>>]>>")
	parms, err := decodeParms(dict, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(parms) != 2 || parms[0] != nil || parms[1] == nil {
		t.Fatalf("got %v", parms)
	}
	if n, _ := parms[1].Int("/Columns"); n != 4 {
		t.Errorf("wrong columns %d", n)
	}

	parms, err = decodeParms(mustParseDictionary(t, "<</DecodeParms<</Columns 5>>>>"), 1)
	if err != nil || parms[0] == nil {
		t.Fatalf("got %v %v", parms, err)
	}

	parms, err = decodeParms(mustParseDictionary(t, "<</Length 3>>"), 1)
	if err != nil || parms[0] != nil {
		t.Errorf("got %v %v", parms, err)
	}

	_, err = decodeParms(mustParseDictionary(t, "<</DecodeParms[4 0 R]>>"), 1)
	if !IsDecodeError(err, DECODE_UNSUPPORTED_FILTER) {
		t.Errorf("expected unsupported filter, got %v", err)
	}
}

func TestCompress(t *testing.T) {
	out, err := Compress([]byte("Hello"), []string{"/ASCIIHexDecode"}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "4865\n6C6C\n6F>" {
		t.Errorf("got %q", out)
	}

	data := []byte(strings.Repeat("stream data ", 50))
	chains := [][]string{
		{"/FlateDecode"},
		{"/ASCIIHexDecode", "/FlateDecode"},
		{"/ASCII85Decode", "/FlateDecode"},
		{"/ASCIIHexDecode", "/ASCII85Decode"},
	}
	for _, filters := range chains {
		encoded, err := Compress(data, filters, 64)
		if err != nil {
			t.Errorf("%v: %v", filters, err)
			continue
		}
		decoded, err := Decompress(encoded, filters)
		if err != nil {
			t.Errorf("%v: %v", filters, err)
			continue
		}
		if !bytes.Equal(data, decoded) {
			t.Errorf("%v: round trip failed", filters)
		}
	}

	if _, err := Compress(data, []string{"/LZWDecode"}, 0); err == nil {
		t.Error("LZW encoding is not supported")
	}
}

func TestFilterArray(t *testing.T) {
	if got := filterArray([]string{"/FlateDecode"}); got != "/FlateDecode" {
		t.Errorf("got %q", got)
	}
	if got := filterArray([]string{"/ASCIIHexDecode", "/FlateDecode"}); got != "[/ASCIIHexDecode /FlateDecode]" {
		t.Errorf("got %q", got)
	}
}

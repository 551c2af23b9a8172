package pdfstruct

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff/lzw"
)

const (
	DECODE_NO_FILTERS         = 1
	DECODE_UNSUPPORTED_FILTER = 2
	DECODE_FAILED             = 3
)

// DecodeError is returned when stream data cannot be decoded.
type DecodeError struct {
	Kind   int
	Filter string
	Err    error
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case DECODE_NO_FILTERS:
		return "No filters"
	case DECODE_UNSUPPORTED_FILTER:
		if e.Err != nil {
			return "Unsupported filter: " + e.Filter + ": " + e.Err.Error()
		}
		return "Unsupported filter: " + e.Filter
	}
	msg := strings.TrimPrefix(e.Filter, "/") + " decompress failed"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a *DecodeError of the given kind.
func IsDecodeError(err error, kind int) bool {
	de, ok := errors.Cause(err).(*DecodeError)
	return ok && de.Kind == kind
}

type decoder func([]byte) ([]byte, error)

var decoders = map[string]decoder{
	"/FlateDecode":     flateDecode,
	"/Fl":              flateDecode,
	"/ASCIIHexDecode":  asciiHexDecode,
	"/AHx":             asciiHexDecode,
	"/ASCII85Decode":   ascii85Decode,
	"/A85":             ascii85Decode,
	"/LZWDecode":       lzwDecode,
	"/LZW":             lzwDecode,
	"/RunLengthDecode": runLengthDecode,
	"/RL":              runLengthDecode,
	"/R":               runLengthDecode,
}

// Decompress applies filters to data from left to right.
func Decompress(data []byte, filters []string) ([]byte, error) {
	return DecompressWithParms(data, filters, nil)
}

// DecompressWithParms is Decompress with a /DecodeParms dictionary for each
// filter.  A nil or missing entry selects the filter's defaults.
func DecompressWithParms(data []byte, filters []string, parms []*ParsedDictionary) ([]byte, error) {
	if len(filters) == 0 {
		return nil, &DecodeError{Kind: DECODE_NO_FILTERS}
	}
	for _, filter := range filters {
		if _, ok := decoders[Canonicalize(filter)]; !ok {
			return nil, &DecodeError{Kind: DECODE_UNSUPPORTED_FILTER, Filter: strings.Join(filters, " ")}
		}
	}
	for i, filter := range filters {
		name := Canonicalize(filter)
		if i < len(parms) && parms[i] != nil {
			if err := checkDecodeParms(name, parms[i]); err != nil {
				return nil, err
			}
		}
		out, err := decoders[name](data)
		if err != nil {
			return nil, &DecodeError{Kind: DECODE_FAILED, Filter: name, Err: err}
		}
		if i < len(parms) && parms[i] != nil && usesPredictor(name) {
			out, err = unpredict(out, parms[i])
			if err != nil {
				return nil, &DecodeError{Kind: DECODE_FAILED, Filter: name, Err: err}
			}
		}
		data = out
	}
	return data, nil
}

func usesPredictor(filter string) bool {
	switch filter {
	case "/FlateDecode", "/Fl", "/LZWDecode", "/LZW":
		return true
	}
	return false
}

// checkDecodeParms rejects parameters the decoders cannot honour.
func checkDecodeParms(filter string, parms *ParsedDictionary) error {
	if !usesPredictor(filter) {
		return nil
	}
	if n, ok := parms.Int("/Predictor"); ok && n != 1 && (n < 10 || n > 15) {
		// TIFF predictor 2 is not implemented
		return &DecodeError{Kind: DECODE_UNSUPPORTED_FILTER, Filter: filter, Err: errors.Errorf("Unsupported /Predictor %d", n)}
	}
	if n, ok := parms.Int("/EarlyChange"); ok && n == 0 && (filter == "/LZWDecode" || filter == "/LZW") {
		return &DecodeError{Kind: DECODE_UNSUPPORTED_FILTER, Filter: filter, Err: errors.New("Unsupported /EarlyChange 0")}
	}
	return nil
}

// unpredict reverses the PNG predictors (/Predictor 10 to 15).  Every row
// starts with its own filter type byte.
func unpredict(data []byte, parms *ParsedDictionary) ([]byte, error) {
	param := func(key string, def int) int {
		if n, ok := parms.Int(key); ok {
			return n
		}
		return def
	}
	if param("/Predictor", 1) < 10 {
		return data, nil
	}
	colors := param("/Colors", 1)
	bpc := param("/BitsPerComponent", 8)
	columns := param("/Columns", 1)
	if colors < 1 || columns < 1 || bpc < 1 || bpc > 16 {
		return nil, errors.Errorf("Invalid /DecodeParms: /Colors %d /BitsPerComponent %d /Columns %d", colors, bpc, columns)
	}

	// bytes per pixel and per row, without the filter type byte
	bpp := (colors*bpc + 7) / 8
	rowSize := (colors*bpc*columns + 7) / 8

	out := make([]byte, 0, len(data))
	prevRow := make([]byte, rowSize)
	for len(data) > 0 {
		if len(data) < rowSize+1 {
			return nil, errors.Errorf("Truncated predictor row: %d bytes, expected %d", len(data), rowSize+1)
		}
		filterType := data[0]
		row := make([]byte, rowSize)
		copy(row, data[1:rowSize+1])
		data = data[rowSize+1:]

		for i := range row {
			var left, upLeft byte
			if i >= bpp {
				left = row[i-bpp]
				upLeft = prevRow[i-bpp]
			}
			up := prevRow[i]
			switch filterType {
			case 0:
			case 1:
				row[i] += left
			case 2:
				row[i] += up
			case 3:
				row[i] += byte((int(left) + int(up)) / 2)
			case 4:
				row[i] += paeth(left, up, upLeft)
			default:
				return nil, errors.Errorf("Unknown PNG filter type %d", filterType)
			}
		}
		out = append(out, row...)
		prevRow = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// decodeParms returns one /DecodeParms dictionary per filter, nil where the
// filter has none.  A lone dictionary belongs to the first filter.
// Parameters given by indirect reference cannot be resolved here.
func decodeParms(dict *ParsedDictionary, n int) ([]*ParsedDictionary, error) {
	parms := make([]*ParsedDictionary, n)
	if dict == nil || n == 0 {
		return parms, nil
	}
	v, ok := dict.lookup("/DecodeParms")
	if !ok {
		return parms, nil
	}
	if v.Dict != nil {
		parms[0] = v.Dict
		return parms, nil
	}

	unsupported := &DecodeError{Kind: DECODE_UNSUPPORTED_FILTER, Filter: "/DecodeParms", Err: errors.Errorf("Cannot use %q", v.String())}
	var tokens []Token
	for _, tok := range v.Tokens {
		if !tok.IsWhitespace() && !tok.IsComment() {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 || len(tokens) == 1 && tokens[0].IsKeyword("null") {
		return parms, nil
	}
	if len(tokens) < 2 || !tokens[0].IsDelimiter("[") || !tokens[len(tokens)-1].IsDelimiter("]") {
		return nil, unsupported
	}

	rest := tokens[1 : len(tokens)-1]
	for i := 0; len(rest) > 0; i++ {
		if rest[0].IsKeyword("null") {
			rest = rest[1:]
			continue
		}
		if !rest[0].IsDelimiter("<<") {
			return nil, unsupported
		}
		end, depth := -1, 0
		for j, tok := range rest {
			if tok.IsDelimiter("<<") {
				depth++
			}
			if tok.IsDelimiter(">>") {
				depth--
				if depth == 0 {
					end = j
					break
				}
			}
		}
		if end < 0 {
			return nil, unsupported
		}
		d, ok := ParseDictionary(rest[:end+1])
		if !ok {
			return nil, unsupported
		}
		if i < n {
			parms[i] = d
		}
		rest = rest[end+1:]
	}
	return parms, nil
}

func flateDecode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "zlib.NewReader error")
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(err, "io.ReadAll error")
	}
	return out, nil
}

func asciiHexDecode(data []byte) ([]byte, error) {
	clean := make([]byte, 0, len(data))
	for _, b := range data {
		if b == '>' {
			break
		}
		if characterClass(b) == PDF_TOKEN_WHITESPACE {
			continue
		}
		clean = append(clean, b)
	}
	if len(clean)%2 == 1 {
		clean = append(clean, '0')
	}
	out := make([]byte, hex.DecodedLen(len(clean)))
	_, err := hex.Decode(out, clean)
	if err != nil {
		return nil, errors.Wrap(err, "Invalid hex data")
	}
	return out, nil
}

func ascii85Decode(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	data = bytes.TrimPrefix(data, []byte("<~"))
	if i := bytes.Index(data, []byte("~>")); i >= 0 {
		data = data[:i]
	}
	clean := make([]byte, 0, len(data))
	for _, b := range data {
		if characterClass(b) != PDF_TOKEN_WHITESPACE {
			clean = append(clean, b)
		}
	}
	out := make([]byte, 4*len(clean)+4)
	n, _, err := ascii85.Decode(out, clean, true)
	if err != nil {
		return nil, errors.Wrap(err, "Invalid ASCII85 data")
	}
	return out[:n], nil
}

// PDF uses the "early change" LZW variant, which is the one TIFF uses.
func lzwDecode(data []byte) ([]byte, error) {
	lr := lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
	defer lr.Close()
	out, err := io.ReadAll(lr)
	if err != nil {
		return nil, errors.Wrap(err, "io.ReadAll error")
	}
	return out, nil
}

func runLengthDecode(data []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	var out bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err == io.EOF {
			return out.Bytes(), nil
		}
		if b == 128 {
			return out.Bytes(), nil
		}
		if b <= 127 {
			// copy the next b+1 bytes literally
			if _, err := io.CopyN(&out, r, int64(b)+1); err != nil {
				return nil, errors.Wrap(err, "Truncated literal run")
			}
			continue
		}
		// 129..255 repeat
		c, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(err, "Truncated repeat run")
		}
		out.Write(bytes.Repeat([]byte{c}, 257-int(b)))
	}
}

type encoder func(data []byte, hexWidth int) ([]byte, error)

var encoders = map[string]encoder{
	"/FlateDecode":    flateEncode,
	"/ASCIIHexDecode": asciiHexEncode,
	"/ASCII85Decode":  ascii85Encode,
}

// Compress encodes data so that decoding it with filters, applied from left
// to right, restores the input.  The encoders therefore run right to left.
// If hexWidth is positive, ASCIIHex output is broken into lines of that
// many characters.
func Compress(data []byte, filters []string, hexWidth int) ([]byte, error) {
	for i := len(filters) - 1; i >= 0; i-- {
		encode, ok := encoders[Canonicalize(filters[i])]
		if !ok {
			return nil, errors.New("Unsupported encode filter: " + filters[i])
		}
		out, err := encode(data, hexWidth)
		if err != nil {
			return nil, errors.Wrapf(err, "Failed to encode with %s", filters[i])
		}
		data = out
	}
	return data, nil
}

func flateEncode(data []byte, _ int) ([]byte, error) {
	var b bytes.Buffer
	w := zlib.NewWriter(&b)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func asciiHexEncode(data []byte, width int) ([]byte, error) {
	s := strings.ToUpper(hex.EncodeToString(data))
	var b bytes.Buffer
	if width > 0 {
		for len(s) > width {
			b.WriteString(s[:width])
			b.WriteByte('\n')
			s = s[width:]
		}
	}
	b.WriteString(s)
	b.WriteByte('>')
	return b.Bytes(), nil
}

func ascii85Encode(data []byte, _ int) ([]byte, error) {
	out := make([]byte, ascii85.MaxEncodedLen(len(data)))
	n := ascii85.Encode(out, data)
	return append(out[:n], "~>"...), nil
}

// filterArray formats filter names for a /Filter entry.
func filterArray(filters []string) string {
	if len(filters) == 1 {
		return filters[0]
	}
	return fmt.Sprintf("[%s]", strings.Join(filters, " "))
}

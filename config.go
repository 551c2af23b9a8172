package pdfstruct

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// End-of-line conventions for cross-reference entries.
const (
	// XREF_EOL_PLATFORM uses "\n" on Windows and " \n" elsewhere.
	XREF_EOL_PLATFORM = "platform"
	// XREF_EOL_SPACE_LF gives the 20 byte entries of the PDF standard.
	XREF_EOL_SPACE_LF = "space-lf"
	XREF_EOL_LF       = "lf"
)

// WriterConfig controls how a PdfWriter serializes objects.
type WriterConfig struct {
	// XrefEOL selects the line ending of cross-reference entries.
	XrefEOL string `yaml:"xref_eol"`

	// Decompress writes stream objects with their filters removed.
	Decompress bool `yaml:"decompress"`

	// Filters, if set, re-encodes decompressed streams.  The list is
	// written as the /Filter entry, so it is in decoding order.
	Filters []string `yaml:"filters"`

	// HexLineWidth wraps ASCIIHex output at this many characters.  Zero
	// means no wrapping.
	HexLineWidth int `yaml:"hex_line_width"`
}

// Config holds all settings of a parse and rewrite run.
type Config struct {
	ExpandObjectStreams bool         `yaml:"expand_object_streams"`
	CollectMalformed    bool         `yaml:"collect_malformed"`
	Writer              WriterConfig `yaml:"writer"`
}

func DefaultConfig() Config {
	return Config{
		ExpandObjectStreams: true,
		Writer: WriterConfig{
			XrefEOL:    XREF_EOL_PLATFORM,
			Decompress: true,
		},
	}
}

// LoadConfig reads a YAML file.  Settings missing from the file keep their
// default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "Failed to read config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "Failed to parse config file")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "Invalid config file "+path)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	return c.Writer.Validate()
}

func (c WriterConfig) Validate() error {
	switch c.XrefEOL {
	case "", XREF_EOL_PLATFORM, XREF_EOL_SPACE_LF, XREF_EOL_LF:
	default:
		return errors.New("Unknown xref_eol: " + c.XrefEOL)
	}
	if c.HexLineWidth < 0 {
		return errors.New("hex_line_width must not be negative")
	}
	if len(c.Filters) > 0 && !c.Decompress {
		return errors.New("filters requires decompress")
	}
	for _, f := range c.Filters {
		if _, ok := encoders[Canonicalize(f)]; !ok {
			return errors.New("Unsupported encode filter: " + f)
		}
	}
	return nil
}

// Options returns the parser options for c.
func (c Config) Options() []Option {
	return []Option{
		WithObjectStreams(c.ExpandObjectStreams),
		WithMalformed(c.CollectMalformed),
	}
}

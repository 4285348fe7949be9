package mutate

import (
	"bytes"
	"math/rand"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// FieldKind classifies a protocol field for type-specific mutation, per
// spec.md §4.2.5.
type FieldKind int

const (
	FieldNumeric FieldKind = iota
	FieldString
	FieldLength
	FieldBinary
)

// Field describes one mutable region of a parsed message: its byte
// range and how it should be mutated.
type Field struct {
	Name   string
	Kind   FieldKind
	Offset int
	Length int
}

// Protocol is the narrow field-mutation interface the engine consumes;
// full codecs live outside this module's scope per spec.md §1. Per the
// design note in spec.md §9, the closed set of protocols is a sum type:
// HTTPProtocol, DNSProtocol, SMTPProtocol, and CustomProtocol(grammar)
// are its only variants, each satisfying this interface.
type Protocol interface {
	Name() string
	Fields(data []byte) []Field
}

// protocolAware projects onto a single field of data (when a Protocol
// is configured) and applies a type-specific mutator to it, per
// spec.md §4.2.5. Length fields are never auto-fixed to match payload
// size: desynchronization is an intentional target, not a bug.
func protocolAware(input []byte, ctx Context, rng *rand.Rand) []byte {
	if ctx.Protocol == nil {
		return append([]byte(nil), input...)
	}
	fields := ctx.Protocol.Fields(input)
	if len(fields) == 0 {
		return append([]byte(nil), input...)
	}
	f := fields[rng.Intn(len(fields))]
	if f.Offset < 0 || f.Length <= 0 || f.Offset+f.Length > len(input) {
		return append([]byte(nil), input...)
	}

	out := append([]byte(nil), input...)
	region := out[f.Offset : f.Offset+f.Length]

	switch f.Kind {
	case FieldNumeric:
		if rng.Intn(2) == 0 {
			set := interestingSetFor(clampWidth(f.Length))
			writeLittleEndian(region, set[rng.Intn(len(set))])
		} else {
			delta := int64(rng.Intn(70) - 35)
			if delta == 0 {
				delta = 1
			}
			addLittleEndian(region, delta)
		}
	case FieldString:
		mutateStringField(region, rng)
	case FieldLength:
		desyncLength(region, rng)
	case FieldBinary:
		for i := range region {
			if rng.Intn(4) == 0 {
				region[i] = byte(rng.Intn(256))
			}
		}
	}
	return out
}

func clampWidth(n int) int {
	switch {
	case n <= 1:
		return 1
	case n <= 2:
		return 2
	default:
		return 4
	}
}

// mutateStringField applies length-bound corruptions in place: case
// flips, truncation-by-NUL, and byte substitution. It never changes the
// field's byte length since it mutates in place.
func mutateStringField(region []byte, rng *rand.Rand) {
	switch rng.Intn(3) {
	case 0:
		for i := range region {
			if region[i] >= 'a' && region[i] <= 'z' {
				region[i] -= 32
			} else if region[i] >= 'A' && region[i] <= 'Z' {
				region[i] += 32
			}
		}
	case 1:
		if len(region) > 0 {
			region[rng.Intn(len(region))] = 0
		}
	default:
		for i := range region {
			if rng.Intn(3) == 0 {
				region[i] = byte(32 + rng.Intn(95)) // printable ASCII
			}
		}
	}
}

// desyncLength deliberately sets a length field's little-endian value
// out of sync with the actual payload size, per spec.md §4.2.5.
func desyncLength(region []byte, rng *rand.Rand) {
	current := readLittleEndian(region)
	choices := []int64{0, -1, current * 2, current + 1, 1 << uint(8*len(region)-1)}
	writeLittleEndian(region, choices[rng.Intn(len(choices))])
}

// HTTPProtocol recognizes the request line and header block of an
// HTTP/1.x request well enough to offer field-level mutation targets.
type HTTPProtocol struct{}

func (HTTPProtocol) Name() string { return "http" }

func (HTTPProtocol) Fields(data []byte) []Field {
	var fields []Field
	lineEnd := bytes.Index(data, []byte("\r\n"))
	if lineEnd < 0 {
		lineEnd = len(data)
	}
	if sp := bytes.IndexByte(data[:lineEnd], ' '); sp > 0 {
		fields = append(fields, Field{Name: "method", Kind: FieldString, Offset: 0, Length: sp})
		rest := data[sp+1 : lineEnd]
		if sp2 := bytes.IndexByte(rest, ' '); sp2 > 0 {
			fields = append(fields, Field{Name: "path", Kind: FieldString, Offset: sp + 1, Length: sp2})
		}
	}
	if idx := bytes.Index(data, []byte("Content-Length: ")); idx >= 0 {
		start := idx + len("Content-Length: ")
		end := start
		for end < len(data) && data[end] >= '0' && data[end] <= '9' {
			end++
		}
		if end > start {
			fields = append(fields, Field{Name: "content-length", Kind: FieldLength, Offset: start, Length: end - start})
		}
	}
	return fields
}

// DNSProtocol recognizes a DNS message header's fixed-width integer
// fields (transaction id, flags, question/answer counts).
type DNSProtocol struct{}

func (DNSProtocol) Name() string { return "dns" }

func (DNSProtocol) Fields(data []byte) []Field {
	if len(data) < 12 {
		return nil
	}
	return []Field{
		{Name: "transaction_id", Kind: FieldNumeric, Offset: 0, Length: 2},
		{Name: "flags", Kind: FieldNumeric, Offset: 2, Length: 2},
		{Name: "qdcount", Kind: FieldLength, Offset: 4, Length: 2},
		{Name: "ancount", Kind: FieldLength, Offset: 6, Length: 2},
		{Name: "nscount", Kind: FieldLength, Offset: 8, Length: 2},
		{Name: "arcount", Kind: FieldLength, Offset: 10, Length: 2},
	}
}

// SMTPProtocol recognizes the verb and argument of a single SMTP
// command line.
type SMTPProtocol struct{}

func (SMTPProtocol) Name() string { return "smtp" }

func (SMTPProtocol) Fields(data []byte) []Field {
	lineEnd := bytes.Index(data, []byte("\r\n"))
	if lineEnd < 0 {
		lineEnd = len(data)
	}
	sp := bytes.IndexByte(data[:lineEnd], ' ')
	if sp <= 0 {
		if lineEnd > 0 {
			return []Field{{Name: "verb", Kind: FieldString, Offset: 0, Length: lineEnd}}
		}
		return nil
	}
	return []Field{
		{Name: "verb", Kind: FieldString, Offset: 0, Length: sp},
		{Name: "argument", Kind: FieldString, Offset: sp + 1, Length: lineEnd - sp - 1},
	}
}

// Grammar describes a custom binary protocol as an ordered list of
// fixed-width fields, for targets with no built-in Protocol.
type Grammar []Field

// CustomProtocol adapts a caller-supplied Grammar into a Protocol, the
// "Custom(grammar)" variant of the sum type described in spec.md §9.
type CustomProtocol struct {
	GrammarName string
	Grammar     Grammar
}

func (c CustomProtocol) Name() string { return c.GrammarName }

func (c CustomProtocol) Fields(data []byte) []Field {
	var fields []Field
	for _, f := range c.Grammar {
		if f.Offset+f.Length <= len(data) {
			fields = append(fields, f)
		}
	}
	return fields
}

// GrammarField is the YAML shape of one custom-protocol field, read
// from config.Config's grammar_path.
type GrammarField struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"` // "numeric", "string", "length", or "binary"
	Offset int    `yaml:"offset"`
	Length int    `yaml:"length"`
}

func parseFieldKind(s string) (FieldKind, error) {
	switch s {
	case "numeric":
		return FieldNumeric, nil
	case "string":
		return FieldString, nil
	case "length":
		return FieldLength, nil
	case "binary":
		return FieldBinary, nil
	default:
		return 0, errors.Errorf("mutate: unknown grammar field kind %q", s)
	}
}

// LoadGrammar reads a YAML list of fixed-width fields into a Grammar,
// for CustomProtocol.
func LoadGrammar(path string) (Grammar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "mutate: read grammar file")
	}
	var raw []GrammarField
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "mutate: parse grammar file")
	}
	grammar := make(Grammar, 0, len(raw))
	for _, rf := range raw {
		kind, err := parseFieldKind(rf.Kind)
		if err != nil {
			return nil, err
		}
		grammar = append(grammar, Field{Name: rf.Name, Kind: kind, Offset: rf.Offset, Length: rf.Length})
	}
	return grammar, nil
}

// ProtocolFor builds the Protocol named by a config.Config's Protocol
// field, consulting grammarPath only for "custom". An empty name
// returns (nil, nil): no protocol-aware mutation configured, matching
// Engine.candidateStrategies' nil-Protocol exclusion of
// StrategyProtocol.
func ProtocolFor(name, grammarPath string) (Protocol, error) {
	switch name {
	case "":
		return nil, nil
	case "http":
		return HTTPProtocol{}, nil
	case "dns":
		return DNSProtocol{}, nil
	case "smtp":
		return SMTPProtocol{}, nil
	case "custom":
		grammar, err := LoadGrammar(grammarPath)
		if err != nil {
			return nil, err
		}
		return CustomProtocol{GrammarName: "custom", Grammar: grammar}, nil
	default:
		return nil, errors.Errorf("mutate: unknown protocol %q", name)
	}
}


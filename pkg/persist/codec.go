package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format names a serialization format for a document.
type Format string

const (
	FormatJSON        Format = "json"
	FormatCompactJSON Format = "json-compact"
	FormatBinary      Format = "binary"
	FormatTOML        Format = "toml"
	FormatYAML        Format = "yaml"
)

// Codec encodes and decodes document values.
type Codec interface {
	Format() Format
	Extension() string
	Marshal(value any) ([]byte, error)
	Unmarshal(data []byte, dest any) error
}

// ParseFormat maps a configuration string to a Format. The empty string is
// FormatJSON; "msgpack" and "cbor" are accepted as aliases for FormatBinary.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "json", "pretty":
		return FormatJSON, nil
	case "json-compact", "compact":
		return FormatCompactJSON, nil
	case "binary", "cbor", "msgpack":
		return FormatBinary, nil
	case "toml":
		return FormatTOML, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, value)
	}
}

// CodecFor returns the codec for format.
func CodecFor(format Format) (Codec, error) {
	switch format {
	case "", FormatJSON:
		return jsonCodec{indent: true}, nil
	case FormatCompactJSON:
		return jsonCodec{}, nil
	case FormatBinary:
		return binaryCodec, nil
	case FormatTOML:
		return tomlCodec{}, nil
	case FormatYAML:
		return yamlCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

type jsonCodec struct {
	indent bool
}

func (c jsonCodec) Format() Format {
	if c.indent {
		return FormatJSON
	}
	return FormatCompactJSON
}

func (jsonCodec) Extension() string { return "json" }

func (c jsonCodec) Marshal(value any) ([]byte, error) {
	if c.indent {
		return json.MarshalIndent(value, "", "  ")
	}
	return json.Marshal(value)
}

func (jsonCodec) Unmarshal(data []byte, dest any) error {
	return json.Unmarshal(data, dest)
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var (
	mapStringAny = reflect.TypeOf(map[string]any(nil))
	binaryCodec  = newCBORCodec()
)

func newCBORCodec() cborCodec {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("persist: cbor enc mode: %v", err))
	}
	// Interface values decode maps as map[string]any so binary documents
	// round-trip through the same shapes as JSON ones.
	dec, err := cbor.DecOptions{DefaultMapType: mapStringAny}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("persist: cbor dec mode: %v", err))
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Format() Format    { return FormatBinary }
func (cborCodec) Extension() string { return "cbor" }

func (c cborCodec) Marshal(value any) ([]byte, error) {
	return c.enc.Marshal(value)
}

func (c cborCodec) Unmarshal(data []byte, dest any) error {
	return c.dec.Unmarshal(data, dest)
}

type tomlCodec struct{}

func (tomlCodec) Format() Format    { return FormatTOML }
func (tomlCodec) Extension() string { return "toml" }

func (tomlCodec) Marshal(value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (tomlCodec) Unmarshal(data []byte, dest any) error {
	return toml.Unmarshal(data, dest)
}

type yamlCodec struct{}

func (yamlCodec) Format() Format    { return FormatYAML }
func (yamlCodec) Extension() string { return "yaml" }

func (yamlCodec) Marshal(value any) ([]byte, error) {
	return yaml.Marshal(value)
}

func (yamlCodec) Unmarshal(data []byte, dest any) error {
	return yaml.Unmarshal(data, dest)
}

// SplitKey reverses the backend key of a document into its name and
// format. Compact JSON shares the json extension and reports FormatJSON.
func SplitKey(key string) (string, Format, error) {
	i := strings.LastIndexByte(key, '.')
	if i <= 0 || i == len(key)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	name, ext := key[:i], key[i+1:]
	for _, format := range []Format{FormatJSON, FormatBinary, FormatTOML, FormatYAML} {
		codec, _ := CodecFor(format)
		if codec.Extension() == ext {
			return name, format, nil
		}
	}
	return "", "", fmt.Errorf("%w: extension %q", ErrUnknownFormat, ext)
}

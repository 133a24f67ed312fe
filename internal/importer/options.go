package importer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/tabimport/internal/dataset"
	"github.com/JonMunkholm/tabimport/internal/reflection"
	"github.com/JonMunkholm/tabimport/internal/storage"
)

// ErrInvalidOptions is returned when an options document cannot be decoded.
var ErrInvalidOptions = errors.New("invalid options")

// Defaults applied when a job leaves them out.
const (
	DefaultFormat = "csv"
	DefaultMode   = string(storage.ModeBinary)
)

// Options are the per-job import instructions.
//
//   - Format selects the parser (csv, table, excel, json).
//   - Parameters are passed to the parser verbatim.
//   - Mode is the file open mode, "rb" or "rt".
//   - Headers replace the parsed column names positionally.
//   - Reflections map field (or property) names to reflection specs: a
//     function name or a {function, parameters} mapping.
//   - Identity lists the fields used to find an existing record to update.
type Options struct {
	Format      string         `json:"format,omitempty" yaml:"format,omitempty" toml:"format,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty" toml:"parameters,omitempty"`
	Mode        string         `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode,omitempty"`
	Headers     []string       `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"`
	Reflections map[string]any `json:"reflections,omitempty" yaml:"reflections,omitempty" toml:"reflections,omitempty"`
	Identity    []string       `json:"identity,omitempty" yaml:"identity,omitempty" toml:"identity,omitempty"`
}

// ParseOptions decodes an options document. kind is "json", "yaml", "yml"
// or "toml" (a leading dot is allowed, so filepath.Ext works). An empty
// kind sniffs JSON by its opening brace and falls back to YAML.
func ParseOptions(data []byte, kind string) (Options, error) {
	var opts Options
	err := decodeDocument(data, kind, &opts)
	return opts, err
}

// JobFile describes a whole job in one document: the target model next to
// the options. It is how dropped files name their job.
type JobFile struct {
	Model   string `json:"model" yaml:"model" toml:"model"`
	Options `yaml:",inline"`
}

// ParseJobFile decodes a job document, with the kind taken from the file name.
func ParseJobFile(name string, data []byte) (JobFile, error) {
	var jf JobFile
	err := decodeDocument(data, filepath.Ext(name), &jf)
	return jf, err
}

func decodeDocument(data []byte, kind string, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	kind = strings.ToLower(strings.TrimPrefix(kind, "."))
	if kind == "" {
		kind = "yaml"
		if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
			kind = "json"
		}
	}

	var err error
	switch kind {
	case "json":
		err = json.Unmarshal(data, v)
	case "yaml", "yml":
		err = yaml.Unmarshal(data, v)
	case "toml":
		err = toml.Unmarshal(data, v)
	default:
		return fmt.Errorf("%w: unknown document kind %q", ErrInvalidOptions, kind)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// ReadOptionsFile is ParseOptions with the kind taken from the file name.
func ReadOptionsFile(name string, data []byte) (Options, error) {
	return ParseOptions(data, filepath.Ext(name))
}

// DecodeOptions reads the JSON stored on a job.
func DecodeOptions(raw json.RawMessage) (Options, error) {
	return ParseOptions(raw, "json")
}

// Encode returns the JSON form stored on a job.
func (o Options) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	return data, nil
}

// FormatOrDefault returns the configured format or csv.
func (o Options) FormatOrDefault() string {
	if o.Format == "" {
		return DefaultFormat
	}
	return o.Format
}

// ModeOrDefault returns the configured mode or rb.
func (o Options) ModeOrDefault() string {
	if o.Mode == "" {
		return DefaultMode
	}
	return o.Mode
}

// Validate reports problems a run would only warn about: an unknown
// format or mode, malformed or unregistered reflections and identity
// fields without a create-stage source. Nothing here stops a job.
func (o Options) Validate(parsers *dataset.Registry, registry *reflection.Registry) []string {
	var warnings []string

	if parsers != nil {
		if _, err := parsers.Parser(o.FormatOrDefault()); err != nil {
			warnings = append(warnings, fmt.Sprintf("format %q is not supported (known: %s)",
				o.FormatOrDefault(), strings.Join(parsers.Formats(), ", ")))
		}
	}
	if _, ok := storage.ParseMode(o.ModeOrDefault()); !ok {
		warnings = append(warnings, fmt.Sprintf("mode %q is not rb or rt, rb will be used", o.Mode))
	}

	for _, field := range sortedKeys(o.Reflections) {
		spec, err := reflection.ParseSpec(o.Reflections[field])
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("reflection for %s: %v", field, err))
			continue
		}
		if registry == nil {
			continue
		}
		if _, err := registry.Resolve(spec.Function); err != nil {
			warnings = append(warnings, fmt.Sprintf("reflection for %s: %v", field, err))
		}
	}

	for _, field := range o.Identity {
		if spec, err := reflection.ParseSpec(o.Reflections[field]); err == nil && slices.Contains([]string{"avoid", "update"}, spec.Function) {
			warnings = append(warnings, fmt.Sprintf("identity field %s never has a create-stage value", field))
		}
	}
	return warnings
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

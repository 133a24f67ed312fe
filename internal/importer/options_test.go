package importer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tabimport/internal/dataset"
	"github.com/JonMunkholm/tabimport/internal/reflection"
)

func TestParseOptions_Formats(t *testing.T) {
	want := Options{
		Format:     "csv",
		Parameters: map[string]any{"delimiter": ";"},
		Identity:   []string{"name"},
		Reflections: map[string]any{
			"weight": "clean",
			"kind": map[string]any{
				"function": "enum",
				"parameters": map[string]any{
					"column":  "type",
					"mapping": map[string]any{"S": "steel", "W": "wood"},
				},
			},
		},
	}

	tests := []struct {
		name string
		kind string
		doc  string
	}{
		{
			name: "json",
			kind: "json",
			doc: `{"format": "csv", "parameters": {"delimiter": ";"}, "identity": ["name"],
				"reflections": {"weight": "clean", "kind": {"function": "enum",
				"parameters": {"column": "type", "mapping": {"S": "steel", "W": "wood"}}}}}`,
		},
		{
			name: "yaml",
			kind: ".yml",
			doc: `
format: csv
parameters:
  delimiter: ";"
identity: [name]
reflections:
  weight: clean
  kind:
    function: enum
    parameters:
      column: type
      mapping: {S: steel, W: wood}
`,
		},
		{
			name: "toml",
			kind: "toml",
			doc: `
format = "csv"
identity = ["name"]

[parameters]
delimiter = ";"

[reflections]
weight = "clean"

[reflections.kind]
function = "enum"

[reflections.kind.parameters]
column = "type"
mapping = { S = "steel", W = "wood" }
`,
		},
		{
			name: "sniffed json",
			kind: "",
			doc:  `{"format":"csv","parameters":{"delimiter":";"},"identity":["name"],"reflections":{"weight":"clean","kind":{"function":"enum","parameters":{"column":"type","mapping":{"S":"steel","W":"wood"}}}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOptions([]byte(tt.doc), tt.kind)
			require.NoError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("ParseOptions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseOptions_Errors(t *testing.T) {
	tests := []struct {
		name string
		kind string
		doc  string
	}{
		{"bad json", "json", `{"format": `},
		{"bad yaml", "yaml", "format: [unclosed"},
		{"bad toml", "toml", "format = "},
		{"unknown kind", "ini", "format=csv"},
		{"wrong type", "json", `{"identity": "name"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOptions([]byte(tt.doc), tt.kind)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}

	opts, err := ParseOptions([]byte("  \n"), "json")
	require.NoError(t, err)
	assert.Equal(t, Options{}, opts)
}

func TestOptions_RoundTrip(t *testing.T) {
	opts := Options{Mode: "rt", Headers: []string{"a", "b"}, Parameters: map[string]any{"header": nil}}
	raw, err := opts.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"rt","headers":["a","b"],"parameters":{"header":null}}`, string(raw))

	back, err := DecodeOptions(raw)
	require.NoError(t, err)
	assert.Equal(t, opts, back)
	assert.Equal(t, "csv", back.FormatOrDefault())
	assert.Equal(t, "rt", back.ModeOrDefault())
	assert.Equal(t, "rb", Options{}.ModeOrDefault())
}

func TestOptions_Validate(t *testing.T) {
	parsers := dataset.NewRegistry()
	registry := reflection.NewRegistry()

	assert.Empty(t, Options{}.Validate(parsers, registry))

	opts := Options{
		Format: "parquet",
		Mode:   "wb",
		Reflections: map[string]any{
			"a": "nope",
			"b": 42,
			"c": "avoid",
		},
		Identity: []string{"c"},
	}
	got := opts.Validate(parsers, registry)
	assert.Equal(t, []string{
		`format "parquet" is not supported (known: csv, excel, json, table)`,
		`mode "wb" is not rb or rt, rb will be used`,
		"reflection for a: unknown reflection: nope",
		"reflection for b: malformed reflection spec: 42",
		"identity field c never has a create-stage value",
	}, got)
}

func TestReadOptionsFile(t *testing.T) {
	opts, err := ReadOptionsFile("items.job.toml", []byte(`format = "excel"`))
	require.NoError(t, err)
	assert.Equal(t, "excel", opts.Format)
}

func TestParseJobFile(t *testing.T) {
	want := JobFile{
		Model: "inventory.item",
		Options: Options{
			Format:   "table",
			Identity: []string{"name"},
		},
	}

	docs := map[string]string{
		"items.job.json": `{"model": "inventory.item", "format": "table", "identity": ["name"]}`,
		"items.job.yaml": "model: inventory.item\nformat: table\nidentity: [name]\n",
		"items.job.toml": "model = \"inventory.item\"\nformat = \"table\"\nidentity = [\"name\"]\n",
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			got, err := ParseJobFile(name, []byte(doc))
			require.NoError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("ParseJobFile() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, err := ParseJobFile("items.job.ini", []byte("model=x"))
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

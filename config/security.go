package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Limits on config sources. A bridge config is a flat key list plus a few
// small sections; anything bigger or deeper is rejected before decoding.
const (
	maxPathLen     = 4096
	maxJSONBytes   = 256 << 10
	maxYAMLBytes   = 128 << 10
	maxNesting     = 8
	maxYAMLAliases = 32
	maxEnvValueLen = 4096
)

type fileFormat int

const (
	formatUnknown fileFormat = iota
	formatJSON
	formatYAML
)

// formatOf picks the decoder from the extension. ".config" is the legacy
// name of the flat JSON file.
func formatOf(path string) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".config":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatUnknown
	}
}

func (f fileFormat) String() string {
	switch f {
	case formatJSON:
		return "json"
	case formatYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// sizeLimit is lower for YAML because anchors let a small file expand.
func (f fileFormat) sizeLimit() int64 {
	if f == formatYAML {
		return maxYAMLBytes
	}
	return maxJSONBytes
}

// readSource returns the contents of a config file and its format. Relative
// paths may not climb above the working directory. The file must be regular
// and within the size limit of its format.
func readSource(path string) ([]byte, fileFormat, error) {
	if len(path) > maxPathLen {
		return nil, formatUnknown, fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}
	if strings.ContainsRune(path, 0) {
		return nil, formatUnknown, fmt.Errorf("null byte in config path")
	}

	format := formatOf(path)
	if format == formatUnknown {
		return nil, format, fmt.Errorf("%s: config must be .json, .config, .yaml or .yml", path)
	}
	if !filepath.IsAbs(path) && climbsOut(path) {
		return nil, format, fmt.Errorf("%s: path leaves the working directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, format, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, format, fmt.Errorf("stat config: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, format, fmt.Errorf("%s: not a regular file", path)
	}

	limit := format.sizeLimit()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, format, fmt.Errorf("read config: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, format, fmt.Errorf("%s config larger than %d bytes", format, limit)
	}
	return data, format, nil
}

func climbsOut(path string) bool {
	clean := filepath.Clean(path)
	return clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator))
}

// decodeSource checks the structure of data and decodes it into a generic
// map. An empty document decodes to nil.
func decodeSource(data []byte, format fileFormat) (map[string]any, error) {
	var raw map[string]any

	if format == formatYAML {
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if doc.Kind == 0 {
			return nil, nil
		}
		if err := checkYAMLTree(&doc); err != nil {
			return nil, err
		}
		if err := doc.Decode(&raw); err != nil {
			return nil, err
		}
		return raw, nil
	}

	if err := checkJSONNesting(data); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// checkJSONNesting walks the token stream, so malformed input fails here
// before anything is allocated for it.
func checkJSONNesting(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			if depth != 0 {
				return io.ErrUnexpectedEOF
			}
			return nil
		}
		if err != nil {
			return err
		}
		d, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		if d == '{' || d == '[' {
			depth++
			if depth > maxNesting {
				return fmt.Errorf("nesting deeper than %d levels", maxNesting)
			}
		} else {
			depth--
		}
	}
}

// checkYAMLTree limits collection depth and the number of alias references.
// Aliases are counted but not followed.
func checkYAMLTree(doc *yaml.Node) error {
	aliases := 0

	var walk func(n *yaml.Node, depth int) error
	walk = func(n *yaml.Node, depth int) error {
		switch n.Kind {
		case yaml.AliasNode:
			aliases++
			if aliases > maxYAMLAliases {
				return fmt.Errorf("more than %d aliases at line %d", maxYAMLAliases, n.Line)
			}
			return nil
		case yaml.MappingNode, yaml.SequenceNode:
			depth++
			if depth > maxNesting {
				return fmt.Errorf("nesting deeper than %d levels at line %d", maxNesting, n.Line)
			}
		}
		for _, child := range n.Content {
			if err := walk(child, depth); err != nil {
				return err
			}
		}
		return nil
	}

	return walk(doc, 0)
}

// envValue reads an override and trims surrounding space. Values with
// control characters or over maxEnvValueLen bytes are rejected.
func envValue(key string) (string, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if len(val) > maxEnvValueLen {
		return "", fmt.Errorf("%s longer than %d bytes", key, maxEnvValueLen)
	}
	if i := strings.IndexFunc(val, unicode.IsControl); i >= 0 {
		return "", fmt.Errorf("%s has a control character at offset %d", key, i)
	}
	return val, nil
}

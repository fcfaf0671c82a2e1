package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"workhub/internal/errs"
)

// decodeFile reads a JSON or YAML config. YAML is converted to JSON first so
// both formats share one strict decoder that rejects unknown keys.
func decodeFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrap(err, "read config")
	}

	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
		if raw, err = yamlToJSON(raw); err != nil {
			return err
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return errs.Wrapf(err, "decode %s config", format)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errs.New("invalid config: trailing data")
		}
		return errs.Wrap(err, "invalid config")
	}
	return nil
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errs.Wrap(err, "parse yaml config")
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, errs.Wrap(err, "convert yaml config")
	}
	return out, nil
}

// stringKeys rewrites map[any]any nodes (non-string YAML keys such as ports
// or booleans) into JSON-compatible maps.
func stringKeys(node any) any {
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			n[k] = stringKeys(v)
		}
		return n
	case map[any]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[keyString(k)] = stringKeys(v)
		}
		return out
	case []any:
		for i, v := range n {
			n[i] = stringKeys(v)
		}
		return n
	}
	return node
}

func keyString(k any) string {
	switch v := k.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	}
	b, _ := json.Marshal(k)
	return strings.Trim(string(b), `"`)
}

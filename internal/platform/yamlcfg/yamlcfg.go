// Package yamlcfg decodes YAML documents strictly: unknown keys are errors.
package yamlcfg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Unmarshal decodes raw into v, rejecting fields v does not declare. An
// empty document leaves v untouched.
func Unmarshal(raw []byte, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// LoadFile reads and strictly decodes the document at path.
func LoadFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return Unmarshal(raw, v)
}

// Remarshal re-encodes in (a decoded map, a *yaml.Node, ...) and strictly
// decodes it into out. It turns loosely typed parameter blocks into typed
// option structs.
func Remarshal(in any, out any) error {
	if in == nil {
		return nil
	}
	if node, ok := in.(*yaml.Node); ok && node.Kind == 0 {
		return nil
	}
	raw, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("re-encode: %w", err)
	}
	return Unmarshal(raw, out)
}

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// DecodeFile reads path and strictly decodes it into out. Files ending in
// .yaml/.yml are converted to JSON first so both formats share one decoder.
func DecodeFile(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := Decode(path, b, out); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Decode strictly decodes data into out; path only selects the format.
// Unknown fields and trailing data are rejected.
func Decode(path string, data []byte, out any) error {
	if isYAML(path) {
		var err error
		if data, err = yamlToJSON(data); err != nil {
			return err
		}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("trailing data")
		}
		return err
	}
	return nil
}

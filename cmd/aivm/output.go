package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/itchyny/gojq"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/aivmlib-go/aivmlib/internal/schema"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func checkOutputFormat(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}

// writeJSON writes v as indented JSON with HTML characters left as is.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML writes the JSON form of v as YAML, so field names match the
// JSON output.
func writeYAML(w io.Writer, v any) error {
	generic, err := toGeneric(v)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

// toGeneric converts v to the plain maps and slices its JSON form decodes to.
func toGeneric(v any) (any, error) {
	data, err := schema.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// runQuery evaluates a jq expression against the JSON form of v and writes
// each result. With raw set, string results are written without quotes.
func runQuery(w io.Writer, v any, expr string, raw bool) error {
	query, err := gojq.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid query %q: %w", expr, err)
	}
	input, err := toGeneric(v)
	if err != nil {
		return err
	}

	iter := query.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := result.(error); ok {
			if haltErr, ok := err.(*gojq.HaltError); ok && haltErr.Value() == nil {
				return nil
			}
			return fmt.Errorf("query: %w", err)
		}
		if s, ok := result.(string); ok && raw {
			if _, err := fmt.Fprintln(w, s); err != nil {
				return err
			}
			continue
		}
		if err := writeJSON(w, result); err != nil {
			return err
		}
	}
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

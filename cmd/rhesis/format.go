package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func formatJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode json: %v\n", err)
		os.Exit(1)
	}
}

// formatYAML prints v as YAML using its JSON field names.
func formatYAML(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode yaml: %v\n", err)
		os.Exit(1)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode yaml: %v\n", err)
		os.Exit(1)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode yaml: %v\n", err)
		os.Exit(1)
	}
	enc.Close() //nolint:errcheck // flushes to stdout.
}

// output prints v in the selected format. quietVal is printed alone in
// quiet mode.
func output(v any, quietVal string) {
	switch flagFmt {
	case "json":
		formatJSON(v)
	case "quiet":
		fmt.Println(quietVal)
	default:
		formatYAML(v)
	}
}

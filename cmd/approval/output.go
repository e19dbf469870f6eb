package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

func writeJSONLine(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return withCode(exitPlatform, fmt.Errorf("json encode: %w", err))
	}
	return nil
}

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

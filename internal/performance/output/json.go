package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/wesleyorama2/stampede/internal/performance/engine"
)

// WriteJSON writes the summary as indented JSON.
func WriteJSON(w io.Writer, s *engine.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}

// WriteJSONFile writes the summary to path.
func WriteJSONFile(path string, s *engine.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	if err := WriteJSON(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

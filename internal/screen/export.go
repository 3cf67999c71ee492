package screen

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dcfscan/dcfscan/internal/history"
)

// Export is the JSON document produced for a screening run. The filter is
// echoed back so a consumer can tell which criteria produced the results.
type Export struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Filter      Filter           `json:"filter"`
	Summary     Summary          `json:"summary"`
	Results     []history.Record `json:"results"`
}

// WriteJSON serializes a screening run to w as indented JSON.
func WriteJSON(w io.Writer, filter Filter, recs []history.Record, excluded int) error {
	doc := Export{
		GeneratedAt: time.Now().UTC(),
		Filter:      filter,
		Summary:     Summarize(recs, excluded),
		Results:     recs,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode screen export: %w", err)
	}
	return nil
}

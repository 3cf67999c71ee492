package screen

import (
	"fmt"
	"strings"
	"time"

	"github.com/dcfscan/dcfscan/internal/history"
)

// Report renders screened records as a plain-text table with a trailing
// summary block, suitable for terminal output.
func Report(recs []history.Record, excluded int) string {
	var b strings.Builder

	b.WriteString("VALUATION SCREEN\n")
	b.WriteString(strings.Repeat("=", 72) + "\n")

	if len(recs) == 0 {
		b.WriteString("No records matched the screen.\n")
		if excluded > 0 {
			fmt.Fprintf(&b, "(%d records excluded by predicate errors)\n", excluded)
		}
		return b.String()
	}

	fmt.Fprintf(&b, "%-8s  %12s  %12s  %10s  %-14s  %s\n",
		"TICKER", "INTRINSIC", "PRICE", "DISCOUNT", "RATING", "COMPUTED")
	b.WriteString(strings.Repeat("-", 72) + "\n")

	for _, rec := range recs {
		r := rec.Result
		price := "-"
		discount := "-"
		if r.Priced() {
			price = fmt.Sprintf("%.2f", r.CurrentPrice)
			discount = fmt.Sprintf("%+.1f%%", r.DiscountPct)
		}
		fmt.Fprintf(&b, "%-8s  %12.2f  %12s  %10s  %-14s  %s\n",
			r.Ticker, r.IntrinsicValue, price, discount,
			string(r.Classification), r.ComputedAt.Format("2006-01-02"))
	}

	s := Summarize(recs, excluded)
	b.WriteString(strings.Repeat("-", 72) + "\n")
	fmt.Fprintf(&b, "Total: %d   Undervalued: %d   Fairly valued: %d   Overvalued: %d   Unrated: %d\n",
		s.Total, s.Undervalued, s.FairlyValued, s.Overvalued, s.Unrated)
	if s.Total > s.Unrated {
		fmt.Fprintf(&b, "Discount avg %+.1f%%, range [%+.1f%%, %+.1f%%]. Avg intrinsic %.2f.\n",
			s.AvgDiscountPct, s.MinDiscountPct, s.MaxDiscountPct, s.AvgIntrinsic)
	}
	if excluded > 0 {
		fmt.Fprintf(&b, "%d records excluded by predicate errors.\n", excluded)
	}
	fmt.Fprintf(&b, "Generated %s\n", time.Now().Format(time.RFC3339))

	return b.String()
}

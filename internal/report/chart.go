// Package report renders valuation history as SVG charts. Pure Go, no
// rendering dependencies; output embeds directly in HTML or saves as a file.
package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/dcfscan/dcfscan/internal/trend"
)

// ChartConfig holds rendering parameters for SVG charts.
type ChartConfig struct {
	Width        int    // SVG width in pixels
	Height       int    // SVG height in pixels
	MarginTop    int
	MarginRight  int
	MarginBottom int
	MarginLeft   int
	BgColor      string
	GridColor    string
	TextColor    string
	FontSize     int
	Title        string
}

// DefaultChartConfig returns sensible defaults for chart rendering.
func DefaultChartConfig() ChartConfig {
	return ChartConfig{
		Width:        800,
		Height:       400,
		MarginTop:    40,
		MarginRight:  60,
		MarginBottom: 50,
		MarginLeft:   70,
		BgColor:      "#ffffff",
		GridColor:    "#e8e8e8",
		TextColor:    "#333333",
		FontSize:     11,
	}
}

// plotArea returns the usable drawing area dimensions.
func (c ChartConfig) plotArea() (x, y, w, h int) {
	return c.MarginLeft, c.MarginTop,
		c.Width - c.MarginLeft - c.MarginRight,
		c.Height - c.MarginTop - c.MarginBottom
}

// trendColors maps a trend direction to its line color.
var trendColors = map[trend.Direction]string{
	trend.DirectionImproving:     "#4caf50",
	trend.DirectionDeteriorating: "#e91e63",
	trend.DirectionStable:        "#2196f3",
}

// TrendChart renders a ticker's intrinsic-value history as an SVG line
// chart. The line color follows the trend direction.
func TrendChart(result *trend.Result, cfg ChartConfig) string {
	if result == nil || len(result.Points) == 0 {
		return emptySVG(cfg, "No valuation history")
	}

	if cfg.Width == 0 {
		cfg = DefaultChartConfig()
	}
	if cfg.Title == "" {
		cfg.Title = fmt.Sprintf("%s intrinsic value (%s, avg %+.1f%% per run)",
			result.Ticker, result.Direction, result.AvgChangePct)
	}

	px, py, pw, ph := cfg.plotArea()

	minVal, maxVal := math.MaxFloat64, -math.MaxFloat64
	for _, p := range result.Points {
		if p.IntrinsicValue < minVal {
			minVal = p.IntrinsicValue
		}
		if p.IntrinsicValue > maxVal {
			maxVal = p.IntrinsicValue
		}
	}

	vRange := maxVal - minVal
	if vRange < 0.001 {
		vRange = 1
	}
	minVal -= vRange * 0.05
	maxVal += vRange * 0.05
	vRange = maxVal - minVal

	var sb strings.Builder
	sb.WriteString(svgHeader(cfg))
	sb.WriteString(fmt.Sprintf(`<rect x="0" y="0" width="%d" height="%d" fill="%s"/>`,
		cfg.Width, cfg.Height, cfg.BgColor))
	sb.WriteString(fmt.Sprintf(`<text x="%d" y="20" font-size="14" font-weight="bold" fill="%s" text-anchor="middle">%s</text>`,
		cfg.Width/2, cfg.TextColor, escapeXML(cfg.Title)))

	// Y-axis grid
	gridLines := 5
	for i := 0; i <= gridLines; i++ {
		val := minVal + vRange*float64(i)/float64(gridLines)
		y := py + ph - int(float64(ph)*float64(i)/float64(gridLines))
		sb.WriteString(fmt.Sprintf(`<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="%s" stroke-dasharray="3,3"/>`,
			px, y, px+pw, y, cfg.GridColor))
		sb.WriteString(fmt.Sprintf(`<text x="%d" y="%d" font-size="%d" fill="%s" text-anchor="end">%.2f</text>`,
			px-5, y+4, cfg.FontSize, cfg.TextColor, val))
	}

	color := trendColors[result.Direction]
	if color == "" {
		color = "#2196f3"
	}

	n := len(result.Points)
	var pathParts []string
	for i, p := range result.Points {
		cx := float64(px)
		if n > 1 {
			cx += float64(i) * float64(pw) / float64(n-1)
		}
		ratio := (p.IntrinsicValue - minVal) / vRange
		cy := float64(py+ph) - ratio*float64(ph)
		cmd := "L"
		if i == 0 {
			cmd = "M"
		}
		pathParts = append(pathParts, fmt.Sprintf("%s%.1f,%.1f", cmd, cx, cy))
		sb.WriteString(fmt.Sprintf(`<circle cx="%.1f" cy="%.1f" r="3" fill="%s"/>`, cx, cy, color))
	}
	if len(pathParts) > 1 {
		sb.WriteString(fmt.Sprintf(`<path d="%s" fill="none" stroke="%s" stroke-width="2"/>`,
			strings.Join(pathParts, " "), color))
	}

	// X-axis run dates, thinned to at most 8 labels.
	step := 1
	if n > 8 {
		step = n / 8
	}
	for i := 0; i < n; i += step {
		cx := float64(px)
		if n > 1 {
			cx += float64(i) * float64(pw) / float64(n-1)
		}
		sb.WriteString(fmt.Sprintf(`<text x="%.1f" y="%d" font-size="%d" fill="%s" text-anchor="middle">%s</text>`,
			cx, py+ph+18, cfg.FontSize, cfg.TextColor,
			result.Points[i].At.Format("01-02")))
	}

	sb.WriteString("</svg>")
	return sb.String()
}

func svgHeader(cfg ChartConfig) string {
	if cfg.Width == 0 {
		cfg = DefaultChartConfig()
	}
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		cfg.Width, cfg.Height, cfg.Width, cfg.Height)
}

func emptySVG(cfg ChartConfig, msg string) string {
	if cfg.Width == 0 {
		cfg = DefaultChartConfig()
	}
	return svgHeader(cfg) +
		fmt.Sprintf(`<rect x="0" y="0" width="%d" height="%d" fill="%s"/>`,
			cfg.Width, cfg.Height, cfg.BgColor) +
		fmt.Sprintf(`<text x="%d" y="%d" font-size="13" fill="%s" text-anchor="middle">%s</text>`,
			cfg.Width/2, cfg.Height/2, cfg.TextColor, escapeXML(msg)) +
		"</svg>"
}

func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}

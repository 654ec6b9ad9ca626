// Package ci is the outward-facing integration surface: status
// badges, trend reports, alert-condition evaluation with rate
// limiting, and CI run metrics.
package ci

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/testpulse/pulse/internal/metrics"
	"github.com/testpulse/pulse/internal/types"
)

// BadgeKind names a badge the engine can generate.
type BadgeKind string

const (
	// BadgeStatus summarizes the last 20 execution outcomes
	BadgeStatus BadgeKind = "status"
	// BadgeCoverage summarizes coverage over the full history
	BadgeCoverage BadgeKind = "coverage"
	// BadgeFlakiness summarizes the trailing-20 failure ratio
	BadgeFlakiness BadgeKind = "flakiness"
	// BadgePerformance summarizes the mean duration of the last 50 runs
	BadgePerformance BadgeKind = "performance"
)

// Badge is a renderable status badge.
type Badge struct {
	Label   string `json:"label"`
	Message string `json:"message"`
	Color   string `json:"color"`
	// URL is the shields.io rendering of the badge
	URL string `json:"url"`
	// SVG is a self-contained inline rendering
	SVG string `json:"svg"`
}

// GenerateBadge computes a badge over the partition's history (empty
// ids widen the window to the whole store). Unknown kinds error;
// missing data yields an "unknown" badge, not an error.
func (c *Integration) GenerateBadge(ctx context.Context, kind BadgeKind, testID, entityID string) (*Badge, error) {
	records, err := c.store.QueryHistory(ctx, types.HistoryQuery{TestID: testID, EntityID: entityID})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	var b *Badge
	switch kind {
	case BadgeStatus:
		b = statusBadge(records)
	case BadgeCoverage:
		b = coverageBadge(records)
	case BadgeFlakiness:
		b = flakinessBadge(records)
	case BadgePerformance:
		b = performanceBadge(records)
	default:
		return nil, fmt.Errorf("unknown badge kind %q", kind)
	}

	b.URL = shieldsURL(b.Label, b.Message, b.Color)
	b.SVG = renderSVG(b.Label, b.Message, b.Color)
	return b, nil
}

func statusBadge(records []*types.ExecutionRecord) *Badge {
	b := &Badge{Label: "tests", Message: "unknown", Color: "lightgrey"}
	if len(records) == 0 {
		return b
	}
	window := tail(records, 20)
	failures := 0
	for _, rec := range window {
		if rec.Status == types.StatusFail {
			failures++
		}
	}
	switch {
	case failures == 0:
		b.Message = "passing"
		b.Color = "brightgreen"
	case float64(failures)/float64(len(window)) <= 0.2:
		b.Message = "mostly passing"
		b.Color = "yellow"
	default:
		b.Message = "failing"
		b.Color = "red"
	}
	return b
}

func coverageBadge(records []*types.ExecutionRecord) *Badge {
	b := &Badge{Label: "coverage", Message: "unknown", Color: "lightgrey"}
	sum := 0.0
	count := 0
	for _, rec := range records {
		if rec.Coverage != nil {
			sum += rec.Coverage.Overall
			count++
		}
	}
	if count == 0 {
		return b
	}
	pct := sum / float64(count) * 100
	b.Message = fmt.Sprintf("%.0f%%", pct)
	switch {
	case pct >= 80:
		b.Color = "brightgreen"
	case pct >= 60:
		b.Color = "yellow"
	default:
		b.Color = "red"
	}
	return b
}

func flakinessBadge(records []*types.ExecutionRecord) *Badge {
	b := &Badge{Label: "flakiness", Message: "unknown", Color: "lightgrey"}
	if len(records) == 0 {
		return b
	}
	score := metrics.FlakinessScore(records, 20)
	b.Message = fmt.Sprintf("%.0f%%", score*100)
	switch {
	case score <= 0.05:
		b.Color = "brightgreen"
	case score <= 0.1:
		b.Color = "yellow"
	default:
		b.Color = "red"
	}
	return b
}

func performanceBadge(records []*types.ExecutionRecord) *Badge {
	b := &Badge{Label: "avg duration", Message: "unknown", Color: "lightgrey"}
	window := tail(records, 50)
	if len(window) == 0 {
		return b
	}
	sum := 0.0
	for _, rec := range window {
		sum += rec.Duration
	}
	avg := sum / float64(len(window))
	if avg >= 1000 {
		b.Message = fmt.Sprintf("%.1fs", avg/1000)
	} else {
		b.Message = fmt.Sprintf("%.0fms", avg)
	}
	b.Color = "blue"
	return b
}

func tail(records []*types.ExecutionRecord, n int) []*types.ExecutionRecord {
	if len(records) <= n {
		return records
	}
	return records[len(records)-n:]
}

// shieldsURL builds the static shields.io badge URL. Dashes in label
// or message must be doubled per the shields path syntax.
func shieldsURL(label, message, color string) string {
	escape := func(s string) string {
		s = strings.ReplaceAll(s, "-", "--")
		s = strings.ReplaceAll(s, "_", "__")
		return url.PathEscape(s)
	}
	return fmt.Sprintf("https://img.shields.io/badge/%s-%s-%s", escape(label), escape(message), escape(color))
}

// svgColors maps shields color names to hex for inline rendering.
var svgColors = map[string]string{
	"brightgreen": "#4c1",
	"green":       "#97ca00",
	"yellow":      "#dfb317",
	"red":         "#e05d44",
	"blue":        "#007ec6",
	"lightgrey":   "#9f9f9f",
}

// renderSVG produces a flat-style badge. Text width is estimated at
// 6.5px per character, which is close enough for the DejaVu Sans
// 11px face the style uses.
func renderSVG(label, message, color string) string {
	hex, ok := svgColors[color]
	if !ok {
		hex = svgColors["lightgrey"]
	}
	labelW := int(float64(len(label))*6.5) + 10
	msgW := int(float64(len(message))*6.5) + 10
	total := labelW + msgW

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="20" role="img" aria-label="%s: %s">`, total, label, message)
	fmt.Fprintf(&sb, `<rect width="%d" height="20" fill="#555"/>`, labelW)
	fmt.Fprintf(&sb, `<rect x="%d" width="%d" height="20" fill="%s"/>`, labelW, msgW, hex)
	fmt.Fprintf(&sb, `<g fill="#fff" text-anchor="middle" font-family="DejaVu Sans,Verdana,Geneva,sans-serif" font-size="11">`)
	fmt.Fprintf(&sb, `<text x="%d" y="14">%s</text>`, labelW/2, label)
	fmt.Fprintf(&sb, `<text x="%d" y="14">%s</text>`, labelW+msgW/2, message)
	sb.WriteString(`</g></svg>`)
	return sb.String()
}

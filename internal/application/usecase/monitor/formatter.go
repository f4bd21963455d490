package monitor

import (
	"fmt"
	"strings"

	"xdsl/internal/domain/model"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiDim    = "\033[2m"
)

func colorize(s, c string) string { return c + s + ansiReset }

type Formatter struct {
	Color bool
}

func NewFormatter(color bool) *Formatter {
	return &Formatter{Color: color}
}

type RenderMode int

const (
	RenderLive RenderMode = iota
	RenderSnapshot
)

func (f *Formatter) paint(s, c string) string {
	if !f.Color {
		return s
	}
	return colorize(s, c)
}

// Render prints one line per batch: every position with phase, tier, price,
// floor and ROE. Live and snapshot lines share the layout; the sink decides
// how each is placed on screen.
func (f *Formatter) Render(rep *model.BatchReport, mode RenderMode) string {
	var sb strings.Builder
	sb.WriteString(f.paint("[XDSL] ", ansiDim))

	var results []*model.Evaluation
	if rep != nil {
		results = rep.Results
	}
	if len(results) == 0 {
		sb.WriteString(f.paint("no active positions", ansiDim))
	}

	for i, r := range results {
		if i > 0 {
			sb.WriteString(f.paint("  ||  ", ansiDim))
		}
		sb.WriteString(f.position(r))
	}

	if rep != nil && len(rep.Errors) > 0 {
		sb.WriteString(f.paint(fmt.Sprintf("  errors=%d", len(rep.Errors)), ansiRed))
	}
	return sb.String()
}

func (f *Formatter) position(r *model.Evaluation) string {
	var col string
	switch {
	case r.Status == model.StatusClosed:
		col = ansiRed
	case r.Status == model.StatusPendingClose:
		col = ansiYellow
	case r.UPnLPct >= 0:
		col = ansiGreen
	default:
		col = ansiRed
	}

	tier := "T-"
	if r.TierName != "" && !strings.HasPrefix(r.TierName, "None") {
		tier = "T" + strings.Fields(r.TierName)[1]
	}

	line := fmt.Sprintf("%s %s P%d %s px=%g floor=%g roe=%+.1f%% b=%d/%d",
		r.Asset, shortDir(r.Direction), r.Phase, tier, r.Price, r.Floor, r.UPnLPct, r.BreachCount, r.BreachesNeeded)
	if r.Status != model.StatusActive {
		line += " " + strings.ToUpper(r.Status)
	}
	return f.paint(line, col)
}

func shortDir(d model.Direction) string {
	if d == model.DirectionShort {
		return "S"
	}
	return "L"
}

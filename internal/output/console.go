// Package output renders live progress and final results of a load test.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/surge/internal/orchestrator"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"

	ruleWidth = 56
	boxWidth  = 55
)

// Console manages live console output during a run.
type Console struct {
	writer io.Writer
	colors *ColorScheme
	isTTY  bool
	quiet  bool

	mu          sync.Mutex
	linesOutput int
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer io.Writer
	Quiet  bool

	// NoColor disables colors even on a terminal.
	NoColor bool

	// ForceColors and ForceTTY override terminal detection.
	ForceColors bool
	ForceTTY    bool
}

// NewConsole creates a console writer.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || IsTerminal(config.Writer)

	var colors *ColorScheme
	switch {
	case config.NoColor:
		colors = NoColorScheme()
	case config.ForceColors || (isTTY && supportsColors()):
		colors = ForcedColorScheme()
	default:
		colors = NoColorScheme()
	}

	return &Console{
		writer: config.Writer,
		colors: colors,
		isTTY:  isTTY,
		quiet:  config.Quiet,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// Header describes a run about to start.
type Header struct {
	Name     string
	RunID    string
	Method   string
	URL      string
	Total    time.Duration
	MaxVUs   int
	NumStage int
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader(h Header) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	name := h.Name
	if name == "" {
		name = "surge"
	}

	line := strings.Repeat(boxHorizontal, ruleWidth)
	c.writeln(c.colors.Value.Sprint(line))
	c.writeln(c.colors.Title.Sprintf("%s - Running", name))
	c.writeln(c.colors.Value.Sprint(line))
	c.writeln(fmt.Sprintf("Target:   %s %s", c.colors.Highlight.Sprint(h.Method), h.URL))
	c.writeln(fmt.Sprintf("Schedule: %d stages, %s, up to %d VUs", h.NumStage, formatDuration(h.Total), h.MaxVUs))
	if h.RunID != "" {
		c.writeln(c.colors.Dim.Sprintf("Run ID:   %s", h.RunID))
	}
	c.writeln("")
}

// Update shows the latest progress. On a terminal the previous block is
// redrawn in place; otherwise a single status line is appended.
func (c *Console) Update(p orchestrator.Progress, numStages int) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isTTY {
		c.writeln(c.statusLine(p))
		return
	}

	c.clearLocked()
	lines := c.renderProgress(p, numStages)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *Console) statusLine(p orchestrator.Progress) string {
	return fmt.Sprintf("[%s] Progress: %.0f%% | Stage: %s (%s) | VUs: %d/%d | Reqs: %d | Errors: %d (%.1f%%)",
		formatDuration(p.Elapsed),
		p.Percent,
		stageLabel(p),
		p.Phase,
		p.LiveVUs,
		p.TargetVUs,
		p.Requests,
		p.Failed,
		errorRate(p)*100)
}

func (c *Console) renderProgress(p orchestrator.Progress, numStages int) []string {
	var lines []string

	timeInfo := fmt.Sprintf("%s / %s", formatDuration(p.Elapsed), formatDuration(p.Total))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.Success.Sprint(renderProgressBar(p.Percent/100, 40)),
		c.colors.Title.Sprintf("%.0f%%", p.Percent),
		c.colors.Dim.Sprint(timeInfo)))

	stage := fmt.Sprintf("%s (%d/%d) %s", stageLabel(p), p.Stage+1, numStages, p.Phase)
	lines = append(lines, fmt.Sprintf("Stage:    %s", c.colors.Stage.Sprint(stage)))
	lines = append(lines, "")

	lines = append(lines, c.colors.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vus := fmt.Sprintf("VUs:     %s / %d", c.colors.Value.Sprint(p.LiveVUs), p.TargetVUs)
	reqs := fmt.Sprintf("Requests:    %s", c.colors.Value.Sprint(formatNumber(p.Requests)))
	lines = append(lines, c.formatBoxRow(vus, reqs))

	rate := errorRate(p)
	errColor := c.colors.rateColor(rate)
	errs := fmt.Sprintf("Errors:  %s (%s)",
		errColor.Sprint(p.Failed),
		errColor.Sprintf("%.1f%%", rate*100))
	lines = append(lines, c.formatBoxRow(errs, ""))

	lines = append(lines, c.colors.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *Console) formatBoxRow(left, right string) string {
	colWidth := (boxWidth - 4) / 2

	leftPadding := colWidth - visibleLen(left)
	if leftPadding < 0 {
		leftPadding = 0
	}
	rightPadding := colWidth - visibleLen(right)
	if rightPadding < 0 {
		rightPadding = 0
	}

	border := c.colors.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border, left, strings.Repeat(" ", leftPadding),
		border, right, strings.Repeat(" ", rightPadding),
		border)
}

// PrintSummary prints the final result.
func (c *Console) PrintSummary(result *orchestrator.Result) {
	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.Success.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Error.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLocked()
	}
	c.writeSummary(result)
}

func (c *Console) writeSummary(result *orchestrator.Result) {
	status := c.colors.Success.Sprint("Completed ✓")
	switch {
	case result.Aborted:
		status = c.colors.Warning.Sprint("Aborted")
	case !result.Passed:
		status = c.colors.Error.Sprint("Failed ✗")
	}

	name := result.Name
	if name == "" {
		name = "surge"
	}

	line := strings.Repeat(boxHorizontal, ruleWidth)
	c.writeln("")
	c.writeln(c.colors.Value.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(name), status))
	c.writeln(c.colors.Value.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(result.Duration))))

	m := result.Metrics
	if m == nil {
		c.writeln("")
		return
	}

	c.writeln(fmt.Sprintf("Total Reqs:    %s", c.colors.Value.Sprint(formatNumber(m.TotalRequests))))
	c.writeln(fmt.Sprintf("Iterations:    %s", c.colors.Value.Sprint(formatNumber(m.Iterations))))
	c.writeln(fmt.Sprintf("Throughput:    %s", c.colors.Value.Sprintf("%.1f req/s", m.RPS)))
	c.writeln(fmt.Sprintf("Failed:        %s", c.colors.rateColor(m.ErrorRate).Sprintf("%s (%.2f%%)", formatNumber(m.FailedRequests), m.ErrorRate*100)))
	c.writeln("")

	c.writeln(c.colors.Label.Sprint("Latency Distribution:"))
	c.writeln(fmt.Sprintf("  Min:       %s", c.colors.Latency.Sprint(formatDurationShort(m.Latency.Min))))
	c.writeln(fmt.Sprintf("  Avg:       %s", c.colors.Latency.Sprint(formatDurationShort(m.Latency.Mean))))
	c.writeln(fmt.Sprintf("  P50:       %s", c.colors.Latency.Sprint(formatDurationShort(m.Latency.P50))))
	c.writeln(fmt.Sprintf("  P90:       %s", c.colors.Latency.Sprint(formatDurationShort(m.Latency.P90))))
	c.writeln(fmt.Sprintf("  P95:       %s", c.colors.Latency.Sprint(formatDurationShort(m.Latency.P95))))
	c.writeln(fmt.Sprintf("  P99:       %s", c.colors.Latency.Sprint(formatDurationShort(m.Latency.P99))))
	c.writeln(fmt.Sprintf("  Max:       %s", c.colors.Latency.Sprint(formatDurationShort(m.Latency.Max))))
	c.writeln("")

	if len(m.StatusCodes) > 0 {
		c.writeln(c.colors.Label.Sprint("Status Codes:"))
		for _, sc := range m.StatusCodes {
			code := fmt.Sprintf("%d", sc.Code)
			if sc.Code == 0 {
				code = "no response"
			}
			c.writeln(fmt.Sprintf("  %-12s %s", code, formatNumber(sc.Count)))
		}
		c.writeln("")
	}

	if len(m.Checks) > 0 {
		c.writeln(c.colors.Label.Sprint("Checks:"))
		for _, chk := range m.Checks {
			c.writeln(fmt.Sprintf("  %s %s %.2f%% (%s / %s)", c.colors.icon(chk.Fails == 0), chk.Name, chk.PassRate()*100,
				formatNumber(chk.Passes), formatNumber(chk.Passes+chk.Fails)))
		}
		c.writeln("")
	}

	if len(result.Thresholds) > 0 {
		c.writeln(c.colors.Label.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			detail := fmt.Sprintf("(actual: %s)", t.Value)
			if t.Message != "" {
				detail = fmt.Sprintf("(%s)", t.Message)
			}
			c.writeln(fmt.Sprintf("  %s %s %s %s", c.colors.icon(t.Passed), t.Metric, t.Expression, detail))
		}
		c.writeln("")
	}
}

func (c *Console) clearLocked() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

func stageLabel(p orchestrator.Progress) string {
	if p.StageName != "" {
		return p.StageName
	}
	return fmt.Sprintf("stage-%d", p.Stage+1)
}

func errorRate(p orchestrator.Progress) float64 {
	if p.Requests == 0 {
		return 0
	}
	return float64(p.Failed) / float64(p.Requests)
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

func visibleLen(s string) int {
	return len([]rune(stripANSI(s)))
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}
	return result.String()
}

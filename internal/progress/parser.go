package progress

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Event is one structured progress observation for a job.
type Event struct {
	Step       int    `json:"step"`
	TotalSteps int    `json:"totalSteps"`
	StepName   string `json:"stepName"`
	Percent    int    `json:"percent"`
}

// TotalSteps is the size of the fixed ordered phase table.
const TotalSteps = 10

// phasePattern maps a free-text description to its fixed step.
type phasePattern struct {
	re   *regexp.Regexp
	step int
	name string
}

// Parser turns pipeline output lines into progress events. Pattern tables
// are owned by the instance so tests can construct it in isolation.
type Parser struct {
	marker  *regexp.Regexp
	bracket *regexp.Regexp
	percent *regexp.Regexp
	phases  []phasePattern
	names   map[int]string
	total   int
}

// NewParser builds a parser with the pipeline's fixed phase table.
func NewParser() *Parser {
	phases := []struct {
		pattern string
		name    string
	}{
		{`loading.*model`, "Loading segmentation model"},
		{`preprocessing`, "Preprocessing image"},
		{`running.*segmentation`, "Running segmentation"},
		{`postprocessing`, "Postprocessing results"},
		{`generating.*mesh`, "Generating 3D meshes"},
		{`calculating.*thickness`, "Calculating cartilage thickness"},
		{`running.*nsm|neural shape model`, "Running Neural Shape Model"},
		{`computing.*bscore`, "Computing BScore"},
		{`saving.*results`, "Saving results"},
		{`complete|finished|done`, "Complete"},
	}

	p := &Parser{
		marker:  regexp.MustCompile(`(?i)step\s+(\d+)\s+of\s+(\d+):\s*(.+)`),
		bracket: regexp.MustCompile(`\[PROGRESS\]\s*(\d+)/(\d+):\s*(.+)`),
		percent: regexp.MustCompile(`(\d{1,3})%`),
		names:   make(map[int]string, len(phases)),
		total:   TotalSteps,
	}
	for i, ph := range phases {
		step := i + 1
		p.phases = append(p.phases, phasePattern{
			re:   regexp.MustCompile(ph.pattern),
			step: step,
			name: ph.name,
		})
		p.names[step] = ph.name
	}
	return p
}

// ParseLine extracts at most one progress event from a single output line.
// Precedence, first match wins: explicit marker, then the phase table, then
// a bare percentage token as last resort.
func (p *Parser) ParseLine(line string) (Event, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Event{}, false
	}

	if m := p.marker.FindStringSubmatch(trimmed); m != nil {
		return p.markerEvent(m)
	}
	if m := p.bracket.FindStringSubmatch(trimmed); m != nil {
		return p.markerEvent(m)
	}

	lower := strings.ToLower(trimmed)
	for _, ph := range p.phases {
		if ph.re.MatchString(lower) {
			return Event{
				Step:       ph.step,
				TotalSteps: p.total,
				StepName:   ph.name,
				Percent:    percentOf(ph.step, p.total),
			}, true
		}
	}

	if m := p.percent.FindStringSubmatch(trimmed); m != nil {
		pct, _ := strconv.Atoi(m[1])
		if pct > 100 {
			pct = 100
		}
		step := pct * p.total / 100
		if step < 1 {
			step = 1
		}
		return Event{
			Step:       step,
			TotalSteps: p.total,
			StepName:   p.stepName(step),
			Percent:    pct,
		}, true
	}

	return Event{}, false
}

// EstimateByTime linearly interpolates a step from elapsed/expected duration.
// The estimate is capped strictly below the terminal phase: only an actual
// completion signal or process exit may report the final step.
func (p *Parser) EstimateByTime(elapsed, expectedTotal time.Duration) Event {
	if expectedTotal <= 0 {
		expectedTotal = 5 * time.Minute
	}

	pct := int(elapsed * 100 / expectedTotal)
	if pct > 95 {
		pct = 95
	}
	step := pct * p.total / 100
	if step < 1 {
		step = 1
	}
	if step >= p.total {
		step = p.total - 1
	}

	return Event{
		Step:       step,
		TotalSteps: p.total,
		StepName:   p.stepName(step),
		Percent:    pct,
	}
}

func (p *Parser) markerEvent(m []string) (Event, bool) {
	step, _ := strconv.Atoi(m[1])
	total, _ := strconv.Atoi(m[2])
	if step < 1 || total < 1 || step > total {
		return Event{}, false
	}
	return Event{
		Step:       step,
		TotalSteps: total,
		StepName:   strings.TrimSpace(m[3]),
		Percent:    percentOf(step, total),
	}, true
}

func (p *Parser) stepName(step int) string {
	if name, ok := p.names[step]; ok {
		return name
	}
	return "Processing"
}

func percentOf(step, total int) int {
	return step * 100 / total
}

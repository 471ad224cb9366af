package tiles

import (
	"regexp"
	"strconv"
	"strings"
)

// Stage is a coarse phase of a compiler run.
type Stage string

const (
	StageStarting Stage = "starting"
	StageReading  Stage = "reading"
	StageSorting  Stage = "sorting"
	StageMaxzoom  Stage = "choosing maxzoom"
	StageTiling   Stage = "tiling"
	StageWriting  Stage = "writing"
)

// Progress is a parsed progress report.
type Progress struct {
	Stage   Stage
	Percent float64 // -1 when the line carries no percentage
	Line    string
}

var (
	percentRe  = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)
	tileRe     = regexp.MustCompile(`\b\d+/\d+/\d+\b`)
	fractionRe = regexp.MustCompile(`\b(\d+)/(\d+)\b`)
)

// ParseProgress recognises progress markers in a line of compiler output.
// It matches on stable fragments rather than exact wording.
func ParseProgress(line string) (Progress, bool) {
	lower := strings.ToLower(line)
	p := Progress{Percent: -1, Line: line}

	switch {
	case strings.Contains(lower, "reading features"), strings.HasPrefix(lower, "read "),
		strings.Contains(lower, "for layer"):
		p.Stage = StageReading
	case strings.Contains(lower, "sorting"), strings.Contains(lower, "merging"):
		p.Stage = StageSorting
	case strings.Contains(lower, "choosing a maxzoom"), strings.Contains(lower, "maxzoom"):
		p.Stage = StageMaxzoom
	case strings.Contains(lower, "wrote"), strings.Contains(lower, "created"):
		p.Stage = StageWriting
	case percentRe.MatchString(line) || tileRe.MatchString(line) ||
		(strings.Contains(lower, "tile") && fractionRe.MatchString(line)):
		p.Stage = StageTiling
	default:
		return p, false
	}

	if m := percentRe.FindStringSubmatch(line); m != nil {
		p.Percent, _ = strconv.ParseFloat(m[1], 64)
	} else if p.Stage == StageTiling {
		if m := fractionRe.FindStringSubmatch(line); m != nil && !tileRe.MatchString(line) {
			done, _ := strconv.ParseFloat(m[1], 64)
			total, _ := strconv.ParseFloat(m[2], 64)
			if total > 0 {
				p.Percent = 100 * done / total
			}
		}
	}
	return p, true
}

var oomSignatures = []string{
	"out of memory",
	"cannot allocate memory",
	"std::bad_alloc",
	"killed",
}

// IsResourceExhausted reports whether a failed run ran out of memory: an
// out-of-memory message in the output, exit status 137, or death by
// SIGKILL that was not our own timeout.
func IsResourceExhausted(o Outcome) bool {
	if o.Success() || o.TimedOut {
		return false
	}
	if o.ExitCode == 137 || o.Signal == "killed" {
		return true
	}
	lower := strings.ToLower(o.Output)
	for _, sig := range oomSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// Diagnose condenses failed output into one line for error messages.
func Diagnose(o Outcome) string {
	lower := strings.ToLower(o.Output)
	switch {
	case o.TimedOut:
		return "timed out"
	case IsResourceExhausted(o):
		return "out of memory"
	case strings.Contains(lower, "no such file"):
		return "input file not found"
	case strings.Contains(lower, "invalid geojson"), strings.Contains(lower, "json"):
		if strings.Contains(lower, "invalid") || strings.Contains(lower, "error") {
			return "invalid GeoJSON input"
		}
	}
	for _, line := range strings.Split(o.Output, "\n") {
		l := strings.ToLower(line)
		if strings.Contains(l, "error") || strings.Contains(l, "fatal") || strings.Contains(l, "can't") {
			return strings.TrimSpace(line)
		}
	}
	if lines := strings.Split(strings.TrimSpace(o.Output), "\n"); len(lines) > 0 && lines[len(lines)-1] != "" {
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return "exit status " + strconv.Itoa(o.ExitCode)
}

package tiles

import (
	"strconv"
)

// DefaultBinary is the tile compiler looked up on PATH.
const DefaultBinary = "tippecanoe"

// BuildArgs returns the compiler arguments that write job's active layers
// to output with profile p.
func BuildArgs(job Job, p Profile, output string) []string {
	args := []string{
		"--output=" + output,
		"--force",
		"--minimum-zoom=" + strconv.Itoa(job.MinZoom),
		"--maximum-zoom=" + strconv.Itoa(job.MaxZoom),
		"--full-detail=" + strconv.Itoa(p.Detail),
		"--low-detail=" + strconv.Itoa(p.Detail),
		"--minimum-detail=" + strconv.Itoa(max(1, p.Detail-5)),
		"--buffer=" + strconv.Itoa(p.Buffer),
		"--simplification=" + formatFloat(p.Simplification),
		"--drop-rate=" + formatFloat(p.DropRate),
		"--drop-densest-as-needed",
		"--no-feature-limit",
	}
	if p.NoSizeLimit() {
		args = append(args, "--no-tile-size-limit")
	}
	args = append(args,
		"--progress-interval=1",
		"--clip-bounding-box="+job.Region.String(),
	)
	if job.Name != "" {
		args = append(args, "--name="+job.Name)
	}
	if job.Description != "" {
		args = append(args, "--description="+job.Description)
	}
	for _, l := range job.Active() {
		args = append(args, "-L", l.Name+":"+l.Path)
	}
	return args
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

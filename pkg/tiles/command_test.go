package tiles

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/matzehuels/tilecraft/pkg/region"
)

var testRegion = region.Region{West: 7.7, South: 46.3, East: 8.1, North: 46.6}

func testJob(layers ...Layer) Job {
	p, _ := Preset(QualityBalanced)
	return Job{
		Region:  testRegion,
		Layers:  layers,
		MinZoom: 0,
		MaxZoom: 10,
		Profile: p,
	}
}

func TestBuildArgs(t *testing.T) {
	job := testJob(
		Layer{Name: "water", Path: "/w/water.geojson", Features: 3},
		Layer{Name: "forest", Path: "/w/forest.geojson", Features: 2},
		Layer{Name: "glaciers", Path: "/w/glaciers.geojson", Features: 0},
	)
	job.Name = "Alps"

	args := BuildArgs(job, job.Profile, "/out/tiles.mbtiles")

	assert.Equal(t, "--output=/out/tiles.mbtiles", args[0])
	for _, want := range []string{
		"--force",
		"--minimum-zoom=0",
		"--maximum-zoom=10",
		"--full-detail=12",
		"--low-detail=12",
		"--minimum-detail=7",
		"--buffer=64",
		"--simplification=1",
		"--drop-rate=2.5",
		"--drop-densest-as-needed",
		"--no-feature-limit",
		"--clip-bounding-box=7.7,46.3,8.1,46.6",
		"--name=Alps",
	} {
		assert.Contains(t, args, want)
	}
	assert.NotContains(t, args, "--no-tile-size-limit")

	// Layers are sorted and empty ones are left out.
	n := len(args)
	assert.Equal(t, []string{"-L", "forest:/w/forest.geojson", "-L", "water:/w/water.geojson"}, args[n-4:])
	for _, a := range args {
		assert.NotContains(t, a, "glaciers")
	}
}

func TestBuildArgsProfile(t *testing.T) {
	job := testJob(Layer{Name: "water", Path: "/w/water.geojson", Features: 1})

	high, _ := Preset(QualityHighQuality)
	assert.Contains(t, BuildArgs(job, high, "o"), "--no-tile-size-limit")
	for p := high.Degrade(); p.Level <= 3; p = p.Degrade() {
		assert.NotContains(t, BuildArgs(job, p, "o"), "--no-tile-size-limit", "level %d", p.Level)
	}

	degraded := job.Profile.Degrade()
	args := BuildArgs(job, degraded, "o")
	assert.Contains(t, args, "--drop-rate=3.75")
	assert.Contains(t, args, "--buffer=32")
	assert.Contains(t, args, "--simplification=1.5")
	assert.Contains(t, args, "--full-detail=11")
}

func TestBuildArgsMinimumDetailFloor(t *testing.T) {
	job := testJob(Layer{Name: "water", Path: "p", Features: 1})
	p := Profile{Buffer: 8, Simplification: 1, DropRate: 1, Detail: 3}
	assert.Contains(t, BuildArgs(job, p, "o"), "--minimum-detail=1")
}

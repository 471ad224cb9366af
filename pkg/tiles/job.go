package tiles

import (
	"slices"
	"strings"

	"github.com/matzehuels/tilecraft/pkg/errors"
	"github.com/matzehuels/tilecraft/pkg/region"
)

// Default zoom range.
const (
	DefaultMinZoom = 0
	DefaultMaxZoom = 14
)

// Layer is one category's feature collection.
type Layer struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Features int    `json:"features"`
}

// Job describes one archive to generate.
type Job struct {
	Region  region.Region `json:"region"`
	Layers  []Layer       `json:"layers"`
	MinZoom int           `json:"min_zoom"`
	MaxZoom int           `json:"max_zoom"`
	Profile Profile       `json:"profile"`

	// Name and Description are written to the archive metadata.
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Validate checks the job before any work is done.
func (j Job) Validate() error {
	if err := j.Region.Validate(); err != nil {
		return err
	}
	if err := errors.ValidateZoomRange(j.MinZoom, j.MaxZoom); err != nil {
		return err
	}
	if err := j.Profile.Validate(); err != nil {
		return err
	}
	if len(j.Layers) == 0 {
		return errors.New(errors.ErrCodeInvalidInput, "no layers to tile")
	}
	seen := make(map[string]bool, len(j.Layers))
	for _, l := range j.Layers {
		if err := errors.ValidateCategoryName(l.Name); err != nil {
			return err
		}
		if seen[l.Name] {
			return errors.New(errors.ErrCodeInvalidInput, "duplicate layer %q", l.Name)
		}
		seen[l.Name] = true
		if l.Features > 0 && l.Path == "" {
			return errors.New(errors.ErrCodeInvalidPath, "layer %q has no file", l.Name)
		}
	}
	return nil
}

// Active returns the layers with features, sorted by name. Only these are
// passed to the compiler.
func (j Job) Active() []Layer {
	var out []Layer
	for _, l := range j.Layers {
		if l.Features > 0 {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b Layer) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Excluded returns the names of empty layers, sorted. They must not appear
// in the archive.
func (j Job) Excluded() []string {
	var out []string
	for _, l := range j.Layers {
		if l.Features == 0 {
			out = append(out, l.Name)
		}
	}
	slices.Sort(out)
	return out
}

func layerNames(layers []Layer) []string {
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = l.Name
	}
	return names
}

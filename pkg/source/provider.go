package source

import (
	"context"

	"github.com/matzehuels/tilecraft/pkg/errors"
	"github.com/matzehuels/tilecraft/pkg/region"
)

// Provider produces a local source data file covering a region.
//
// Network download lives outside this module; implementations wrap whatever
// acquires the data and hand back a path the extractor can read.
type Provider interface {
	Acquire(ctx context.Context, r region.Region) (string, error)
}

// LocalFile is a Provider for a file that already exists on disk.
// The region is not checked against the file contents.
type LocalFile struct {
	Path string
}

// Acquire validates the file and returns its path.
func (l LocalFile) Acquire(ctx context.Context, r region.Region) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if l.Path == "" {
		return "", errors.New(errors.ErrCodeInvalidPath, "no source file given")
	}
	if _, err := Validate(l.Path); err != nil {
		return "", err
	}
	return l.Path, nil
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, r region.Region) (string, error)

// Acquire calls fn(ctx, r).
func (fn ProviderFunc) Acquire(ctx context.Context, r region.Region) (string, error) {
	return fn(ctx, r)
}

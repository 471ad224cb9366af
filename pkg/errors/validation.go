package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// categoryNameRegex matches category names. Category names double as layer
// names inside tile archives and as file names on disk.
var categoryNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// MaxCategoryNameLength bounds category and layer names.
const MaxCategoryNameLength = 64

// ValidateCategoryName validates a feature category name.
func ValidateCategoryName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidCategory, "category name cannot be empty")
	}
	if len(name) > MaxCategoryNameLength {
		return New(ErrCodeInvalidCategory, "category name too long (max %d characters)", MaxCategoryNameLength)
	}
	if !categoryNameRegex.MatchString(name) {
		return New(ErrCodeInvalidCategory, "invalid category name %q: use lowercase letters, digits and underscores", name)
	}
	return nil
}

// ValidateTagRule validates a custom tag rule written as "key" or "key=value".
func ValidateTagRule(rule string) error {
	if strings.TrimSpace(rule) == "" {
		return New(ErrCodeInvalidInput, "tag rule cannot be empty")
	}
	key, _, _ := strings.Cut(rule, "=")
	if key == "" {
		return New(ErrCodeInvalidInput, "tag rule %q has an empty key", rule)
	}
	for _, r := range rule {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "tag rule contains invalid control characters")
		}
	}
	return nil
}

// MaxZoom is the deepest zoom level accepted for tile generation.
const MaxZoom = 24

// ValidateZoomRange validates a [min,max] zoom range.
func ValidateZoomRange(minZoom, maxZoom int) error {
	if minZoom < 0 || maxZoom < 0 {
		return New(ErrCodeInvalidZoom, "zoom levels cannot be negative (min=%d, max=%d)", minZoom, maxZoom)
	}
	if maxZoom > MaxZoom {
		return New(ErrCodeInvalidZoom, "maximum zoom %d exceeds %d", maxZoom, MaxZoom)
	}
	if minZoom > maxZoom {
		return New(ErrCodeInvalidZoom, "minimum zoom %d is greater than maximum zoom %d", minZoom, maxZoom)
	}
	return nil
}

// ValidateOutputName validates the base name used for exported archives.
// It must be a simple file name without path components.
func ValidateOutputName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidPath, "output name cannot be empty")
	}
	if len(name) > 128 {
		return New(ErrCodeInvalidPath, "output name too long (max 128 characters)")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "output name contains invalid characters")
		}
	}
	if strings.ContainsAny(name, `/\`) {
		return New(ErrCodeInvalidPath, "output name cannot contain path separators")
	}
	if name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return New(ErrCodeInvalidPath, "output name cannot be a hidden file")
	}
	return nil
}

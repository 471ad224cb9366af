package cache

// Key prefixes. The prefix of a key is also the artifact kind in the Store.
const (
	KindExtract     = "extract"
	KindTiles       = "tiles"
	KindFingerprint = "fingerprint"
)

// SchemaVersion is mixed into every artifact key. Bump it when the layout of
// cached artifacts changes so old entries are no longer hit.
const SchemaVersion = 1

// ExtractKeyOpts holds the inputs that determine an extraction result.
type ExtractKeyOpts struct {
	Region     string   // "w,s,e,n"
	Categories []string // one canonical string per category, sorted
	Source     string   // source file content fingerprint
}

// TilesKeyOpts holds the inputs that determine a tile archive.
type TilesKeyOpts struct {
	Region      string
	Layers      []string // "name:sha256" per layer, sorted
	MinZoom     int
	MaxZoom     int
	Profile     any // quality profile, JSON encoded into the key
	ToolVersion string
}

// Keyer generates cache keys for every cached operation.
type Keyer interface {
	ExtractKey(opts ExtractKeyOpts) string
	TilesKey(opts TilesKeyOpts) string
	FingerprintKey(path string, size, modTime int64) string
}

// DefaultKeyer derives keys by hashing the JSON encoding of the inputs.
type DefaultKeyer struct{}

// NewDefaultKeyer creates the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// ExtractKey keys an extraction by region, categories and source content.
func (DefaultKeyer) ExtractKey(opts ExtractKeyOpts) string {
	return hashKey(KindExtract, SchemaVersion, opts.Region, opts.Categories, opts.Source)
}

// TilesKey keys a tile archive by its inputs, the profile it was built with
// and the compiler version.
func (DefaultKeyer) TilesKey(opts TilesKeyOpts) string {
	return hashKey(KindTiles, SchemaVersion, opts.Region, opts.Layers, opts.MinZoom, opts.MaxZoom, opts.Profile, opts.ToolVersion)
}

// FingerprintKey keys a memoised file digest by path, size and mtime.
func (DefaultKeyer) FingerprintKey(path string, size, modTime int64) string {
	return hashKey(KindFingerprint, path, size, modTime)
}

var _ Keyer = DefaultKeyer{}

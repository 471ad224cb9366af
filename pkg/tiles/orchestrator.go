package tiles

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/tilecraft/pkg/cache"
	"github.com/matzehuels/tilecraft/pkg/errors"
	"github.com/matzehuels/tilecraft/pkg/mbtiles"
	"github.com/matzehuels/tilecraft/pkg/observability"
	"github.com/matzehuels/tilecraft/pkg/retry"
)

// ArchiveFile is the file name of the archive inside a cache entry.
const ArchiveFile = "tiles.mbtiles"

// Defaults for Orchestrator.
const (
	DefaultTimeout         = 30 * time.Minute
	DefaultMaxRetries      = 3
	DefaultMaxDegradations = 3
)

const (
	metaProfile     = "profile"
	metaToolVersion = "tool_version"
	// metaAlias marks an entry that points at the archive published under
	// another key.
	metaAlias = "alias"
)

// DefaultRetryPolicy governs re-invocation after failures that are not
// memory exhaustion: 5s, 10s, 20s between attempts, capped at a minute.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		Attempts:   DefaultMaxRetries + 1,
		Delay:      5 * time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2,
	}
}

// DefaultValidationPolicy tolerates the archive becoming visible a little
// after the compiler exits.
func DefaultValidationPolicy() retry.Policy {
	return retry.Policy{Attempts: 3, Delay: 2 * time.Second}
}

// State is a state of the generation state machine.
type State string

const (
	StateBuilding   State = "building"
	StateInvoking   State = "invoking"
	StateValidating State = "validating"
	StateDegrading  State = "degrading"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Transition records one state change.
type Transition struct {
	From    State     `json:"from"`
	To      State     `json:"to"`
	Attempt int       `json:"attempt"`
	Reason  string    `json:"reason,omitempty"`
	Profile Profile   `json:"profile"`
	At      time.Time `json:"at"`
}

// Archive is a validated tile archive.
type Archive struct {
	Path           string         `json:"path"`
	Key            string         `json:"key"`
	Layout         mbtiles.Layout `json:"layout"`
	Tiles          int64          `json:"tiles"`
	MinZoom        int            `json:"min_zoom"`
	MaxZoom        int            `json:"max_zoom"`
	Size           int64          `json:"size"`
	Layers         []string       `json:"layers"`
	Excluded       []string       `json:"excluded,omitempty"`
	ToolVersion    string         `json:"tool_version"`
	InitialProfile Profile        `json:"initial_profile"`
	Profile        Profile        `json:"profile"`
	Attempts       int            `json:"attempts"`
	Retries        int            `json:"retries"`
	Degradations   int            `json:"degradations"`
	History        []Transition   `json:"history,omitempty"`
	Warnings       []string       `json:"warnings,omitempty"`
	CacheHit       bool           `json:"cache_hit"`
	Duration       time.Duration  `json:"duration"`
}

// Orchestrator turns a Job into a validated archive, retrying and degrading
// the quality profile as the compiler fails.
type Orchestrator struct {
	Runner Runner
	Binary string
	Store  *cache.Store
	Keyer  cache.Keyer
	Logger *log.Logger

	// WorkDir holds in-progress archives. Empty means the system temp dir.
	WorkDir string

	// Timeout limits each compiler invocation.
	Timeout time.Duration

	// Retry governs failures other than memory exhaustion. Attempts counts
	// the first invocation.
	Retry retry.Policy

	// MaxDegradations bounds the profile steps taken on memory exhaustion.
	MaxDegradations int

	// Validation governs re-reading a freshly written archive.
	Validation retry.Policy

	// Refresh ignores an existing archive and generates again.
	Refresh bool

	// OnProgress, if set, receives parsed progress. It may be called from
	// more than one goroutine.
	OnProgress func(Progress)

	sleep func(context.Context, time.Duration) error
}

// New creates an orchestrator with default limits.
func New(runner Runner, store *cache.Store, keyer cache.Keyer, logger *log.Logger) *Orchestrator {
	if runner == nil {
		runner = ExecRunner{}
	}
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		Runner:          runner,
		Binary:          DefaultBinary,
		Store:           store,
		Keyer:           keyer,
		Logger:          logger,
		Timeout:         DefaultTimeout,
		Retry:           DefaultRetryPolicy(),
		MaxDegradations: DefaultMaxDegradations,
		Validation:      DefaultValidationPolicy(),
		sleep:           retry.Sleep,
	}
}

// keyProfile is everything besides inputs and zooms that shapes the archive.
type keyProfile struct {
	Profile     fingerprint `json:"profile"`
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Key returns the cache key of job's archive built with profile p.
// layers are "name:digest" entries, sorted.
func (o *Orchestrator) Key(job Job, p Profile, layers []string, toolVersion string) string {
	return o.Keyer.TilesKey(cache.TilesKeyOpts{
		Region:      job.Region.String(),
		Layers:      layers,
		MinZoom:     job.MinZoom,
		MaxZoom:     job.MaxZoom,
		Profile:     keyProfile{Profile: p.fingerprint(), Name: job.Name, Description: job.Description},
		ToolVersion: toolVersion,
	})
}

// layerDigests fingerprints every layer by content. Empty layers are
// recorded by name so that dropping a category changes the key.
func layerDigests(job Job) ([]string, error) {
	var out []string
	for _, l := range job.Active() {
		digest, _, err := cache.HashFile(l.Path)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "layer %s", l.Name)
		}
		out = append(out, l.Name+":"+digest)
	}
	for _, name := range job.Excluded() {
		out = append(out, name+":empty")
	}
	return out, nil
}

// Generate runs the job to a validated archive.
func (o *Orchestrator) Generate(ctx context.Context, job Job) (*Archive, error) {
	start := time.Now()
	arc, err := o.generate(ctx, job)
	var tiles int64
	if arc != nil {
		arc.Duration = time.Since(start)
		tiles = arc.Tiles
	}
	observability.Tiles().OnComplete(ctx, tiles, time.Since(start), err)
	return arc, err
}

func (o *Orchestrator) generate(ctx context.Context, job Job) (*Archive, error) {
	if o.Store == nil {
		return nil, errors.New(errors.ErrCodeInternal, "orchestrator has no artifact store")
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if len(job.Active()) == 0 {
		ge := &GenerationError{Reason: ReasonNoFeatures, Profile: job.Profile}
		return nil, errors.Wrap(errors.ErrCodeTileGeneration, ge, "every layer is empty")
	}

	version, err := o.Runner.Version(ctx, o.Binary)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ge := &GenerationError{Reason: ReasonCompilerUnavailable, Profile: job.Profile, Err: err}
		return nil, errors.Wrap(errors.ErrCodeTileGeneration, ge, "run %s --version (is it installed?)", o.Binary)
	}

	layers, err := layerDigests(job)
	if err != nil {
		return nil, err
	}
	key := o.Key(job, job.Profile, layers, version)

	if o.Refresh {
		if err := o.Store.Delete(key); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "drop cached archive")
		}
	} else if arc := o.lookup(ctx, key, job); arc != nil {
		o.Logger.Info("using cached tiles", "tiles", arc.Tiles, "zoom", fmt.Sprintf("%d-%d", arc.MinZoom, arc.MaxZoom))
		return arc, nil
	}

	work, err := os.MkdirTemp(o.WorkDir, "tiles-*")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create work directory")
	}
	defer os.RemoveAll(work)
	out := filepath.Join(work, ArchiveFile)

	m := &machine{o: o, job: job, state: StateBuilding, profile: job.Profile}
	info, err := m.run(ctx, out)
	if err != nil {
		return nil, err
	}

	finalKey := o.Key(job, m.profile, layers, version)
	entry, err := o.publish(ctx, finalKey, out, m.profile, version)
	if err != nil {
		return nil, err
	}

	if finalKey != key {
		// Later runs look the job up by the requested profile; without
		// this they would exhaust memory again before reaching the same
		// degraded archive.
		o.alias(ctx, key, finalKey, m.profile, version)
	}

	arc := archiveFrom(entry, info, job)
	arc.Key = finalKey
	arc.ToolVersion = version
	arc.InitialProfile = job.Profile
	arc.Profile = m.profile
	arc.Attempts = m.attempt
	arc.Retries = m.retries
	arc.Degradations = m.degradations
	arc.History = m.history
	o.Logger.Info("generated tiles",
		"tiles", arc.Tiles,
		"zoom", fmt.Sprintf("%d-%d", arc.MinZoom, arc.MaxZoom),
		"layout", arc.Layout,
		"attempts", arc.Attempts,
		"profile", arc.Profile.String())
	return arc, nil
}

func (o *Orchestrator) expect(job Job) mbtiles.Expect {
	return mbtiles.Expect{
		Layers:  layerNames(job.Active()),
		Absent:  job.Excluded(),
		MinZoom: job.MinZoom,
		MaxZoom: job.MaxZoom,
	}
}

// lookup returns a cached archive, or nil. Entries that fail to read or
// validate are dropped so the job regenerates them. An alias entry is
// followed once to the degraded archive it names.
func (o *Orchestrator) lookup(ctx context.Context, key string, job Job) *Archive {
	entry, ok, err := o.Store.Get(ctx, key)
	if err != nil {
		o.Logger.Warn("dropping unreadable cached archive", "err", err)
		_ = o.Store.Delete(key)
		return nil
	}
	if !ok {
		return nil
	}
	if target, isAlias := entry.Manifest.Meta[metaAlias]; isAlias {
		entry, ok, err = o.Store.Get(ctx, target)
		if err != nil || !ok || entry.Manifest.Meta[metaAlias] != "" {
			o.Logger.Warn("dropping stale archive alias", "target", target)
			_ = o.Store.Delete(key)
			if err != nil {
				_ = o.Store.Delete(target)
			}
			return nil
		}
		key = target
	}
	info, err := mbtiles.Validate(ctx, entry.Path(ArchiveFile), o.expect(job))
	if err != nil {
		o.Logger.Warn("dropping invalid cached archive", "err", err)
		_ = o.Store.Delete(key)
		return nil
	}

	arc := archiveFrom(entry, info, job)
	arc.Key = key
	arc.CacheHit = true
	arc.ToolVersion = entry.Manifest.Meta[metaToolVersion]
	arc.InitialProfile = job.Profile
	arc.Profile = job.Profile
	if raw, ok := entry.Manifest.Meta[metaProfile]; ok {
		_ = json.Unmarshal([]byte(raw), &arc.Profile)
	}
	return arc
}

func (o *Orchestrator) publish(ctx context.Context, key, path string, p Profile, version string) (*cache.Entry, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "encode profile")
	}
	meta := map[string]string{metaProfile: string(raw), metaToolVersion: version}

	entry, err := o.Store.Put(ctx, key, map[string]string{ArchiveFile: path}, meta)
	if stderrors.Is(err, cache.ErrConflict) {
		// Compiler output is not byte-stable, so a concurrent run with the
		// same inputs may have published first. Its archive is equivalent.
		o.Logger.Warn("archive already published by another run", "key", key)
		var ok bool
		entry, ok, err = o.Store.Get(ctx, key)
		if err == nil && !ok {
			err = cache.ErrCorrupt
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "publish archive")
	}
	return entry, nil
}

// alias records under key that the job's archive was published under target
// with the degraded profile p. Failing to record it only costs a later cache
// miss.
func (o *Orchestrator) alias(ctx context.Context, key, target string, p Profile, version string) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	meta := map[string]string{metaAlias: target, metaProfile: string(raw), metaToolVersion: version}
	if _, err := o.Store.Put(ctx, key, nil, meta); err != nil {
		o.Logger.Warn("could not record degraded archive", "key", key, "err", err)
	}
}

func archiveFrom(entry *cache.Entry, info *mbtiles.Info, job Job) *Archive {
	return &Archive{
		Path:     entry.Path(ArchiveFile),
		Layout:   info.Layout,
		Tiles:    info.Stats.Tiles,
		MinZoom:  info.Stats.MinZoom,
		MaxZoom:  info.Stats.MaxZoom,
		Size:     info.Size,
		Layers:   layerNames(job.Active()),
		Excluded: job.Excluded(),
		Warnings: info.Warnings,
	}
}

// =============================================================================
// State machine
// =============================================================================

type machine struct {
	o   *Orchestrator
	job Job

	state   State
	profile Profile
	history []Transition

	attempt      int // invocations so far
	retries      int // re-invocations of any kind
	backoffs     int // re-invocations after ordinary failures
	degradations int
	last         Outcome

	stageMu sync.Mutex
	stage   Stage
}

func (m *machine) to(ctx context.Context, next State, reason string) {
	m.history = append(m.history, Transition{
		From:    m.state,
		To:      next,
		Attempt: m.attempt,
		Reason:  reason,
		Profile: m.profile,
		At:      time.Now(),
	})
	observability.Tiles().OnStateChange(ctx, string(m.state), string(next))
	m.o.Logger.Info("tile generation", "state", next, "attempt", m.attempt, "reason", reason)
	m.state = next
}

func (m *machine) run(ctx context.Context, out string) (*mbtiles.Info, error) {
	var args []string
	maxBackoffs := max(m.o.Retry.Attempts-1, 0)

	for {
		switch m.state {
		case StateBuilding:
			args = BuildArgs(m.job, m.profile, out)
			m.o.Logger.Debug("compiler arguments", "binary", m.o.Binary, "args", strings.Join(args, " "))
			m.to(ctx, StateInvoking, "arguments built")

		case StateInvoking:
			m.attempt++
			_ = os.Remove(out)
			outcome, err := m.o.Runner.Run(ctx, Invocation{
				Binary:  m.o.Binary,
				Args:    args,
				Timeout: m.o.Timeout,
				OnLine:  m.onLine,
			})
			m.last = outcome
			observability.Tiles().OnAttempt(ctx, m.attempt, outcome.Duration, attemptErr(outcome, err))

			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err != nil {
				return nil, m.fail(ctx, errors.ErrCodeTileGeneration, ReasonCompilerUnavailable, err)
			}

			switch {
			case outcome.Success():
				m.to(ctx, StateValidating, "compiler exited cleanly")

			case IsResourceExhausted(outcome):
				if m.degradations >= m.o.MaxDegradations {
					return nil, m.fail(ctx, errors.ErrCodeTileGeneration, ReasonResourceExhausted, nil)
				}
				m.to(ctx, StateDegrading, "out of memory")

			default:
				reason := ReasonCompilerFailed
				if outcome.TimedOut {
					reason = ReasonTimeout
				}
				if m.backoffs >= maxBackoffs {
					return nil, m.fail(ctx, errors.ErrCodeTileGeneration, reason, nil)
				}
				m.backoffs++
				m.retries++
				delay := m.o.Retry.Backoff(m.backoffs)
				m.o.Logger.Warn("tile compiler failed, retrying",
					"attempt", m.attempt,
					"exit", outcome.ExitCode,
					"cause", Diagnose(outcome),
					"delay", delay)
				if err := m.o.sleep(ctx, delay); err != nil {
					return nil, err
				}
				m.to(ctx, StateInvoking, "retry: "+Diagnose(outcome))
			}

		case StateDegrading:
			prev := m.profile
			m.profile = prev.Degrade()
			m.degradations++
			m.retries++
			observability.Tiles().OnDegrade(ctx, m.degradations)
			m.o.Logger.Warn("tile compiler ran out of memory, degrading quality",
				"from", prev.String(),
				"to", m.profile.String())
			args = BuildArgs(m.job, m.profile, out)
			m.to(ctx, StateInvoking, "profile degraded")

		case StateValidating:
			var info *mbtiles.Info
			err := retry.Do(ctx, m.o.Validation, func() error {
				var verr error
				info, verr = mbtiles.Validate(ctx, out, m.o.expect(m.job))
				if verr != nil {
					m.o.Logger.Debug("archive not valid yet", "err", verr)
				}
				return retry.Retryable(verr)
			})
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err != nil {
				return nil, m.fail(ctx, errors.ErrCodeValidation, ReasonInvalidOutput, err)
			}
			for _, w := range info.Warnings {
				m.o.Logger.Warn("archive check", "warning", w)
			}
			m.to(ctx, StateSucceeded, "archive validated")
			return info, nil

		default:
			return nil, errors.New(errors.ErrCodeInternal, "tile generation in unexpected state %s", m.state)
		}
	}
}

func (m *machine) fail(ctx context.Context, code errors.Code, reason Reason, cause error) error {
	m.to(ctx, StateFailed, string(reason))
	ge := &GenerationError{
		Reason:       reason,
		Attempts:     m.attempt,
		Retries:      m.retries,
		Degradations: m.degradations,
		Profile:      m.profile,
		ExitCode:     m.last.ExitCode,
		Output:       m.last.Output,
		History:      m.history,
		Err:          cause,
	}
	msg := "generate tiles"
	if cause == nil && m.attempt > 0 {
		msg = "generate tiles: " + Diagnose(m.last)
	}
	return errors.Wrap(code, ge, "%s", msg)
}

func (m *machine) onLine(line string) {
	m.o.Logger.Debug("tippecanoe", "line", line)
	p, ok := ParseProgress(line)
	if !ok {
		return
	}
	m.stageMu.Lock()
	changed := p.Stage != m.stage
	m.stage = p.Stage
	m.stageMu.Unlock()
	if changed {
		m.o.Logger.Debug("tippecanoe stage", "stage", p.Stage)
	}
	if m.o.OnProgress != nil {
		m.o.OnProgress(p)
	}
}

func attemptErr(o Outcome, err error) error {
	if err != nil {
		return err
	}
	if !o.Success() {
		return fmt.Errorf("exit %d: %s", o.ExitCode, Diagnose(o))
	}
	return nil
}

// SetSleep replaces the backoff sleep. Tests use it to avoid real delays.
func (o *Orchestrator) SetSleep(fn func(context.Context, time.Duration) error) {
	o.sleep = fn
}

package mimalloc

import (
	"github.com/the-die/mimalloc/internal/arena"
	"github.com/the-die/mimalloc/internal/mimem"
	"github.com/the-die/mimalloc/internal/mlog"
)

// Options is the process-wide configuration surface of spec.md §6.3,
// backed by mimem.Settings exactly as the teacher backs its own
// configuration surface with lib.Settings.
type Options = mimem.Settings

// DefaultOptions returns the §6.3 defaults plus the ambient logging/NUMA
// knobs this repository adds on top (SPEC_FULL.md §4.8).
func DefaultOptions() Options {
	return Options{
		"arena.reserve":           int64(1 << 30),
		"arena.eager_commit":      int64(0),
		"arena.allow_large_pages": false,
		"arena.exclusive":         int32(0),
		"purge.delay_msecs":       int64(10_000),
		"purge.mult":              int64(10),
		"numa.aware":              true,
		"log.level":               "warn",
	}
}

// Configure applies opts process-wide: installs the requested log level.
// Embedding applications call this once at startup, then build their
// own heaps against the registry returned by NewEngineFromOptions.
func Configure(opts Options) {
	if _, ok := opts["log.level"]; ok {
		mlog.Get().SetLogLevel(opts.String("log.level"))
	}
}

// toArenaOptions translates opts's keys into an arena.Options, starting
// from arena.DefaultOptions() so a partial opts table (or one missing
// keys entirely) still produces a usable registry configuration.
func toArenaOptions(opts Options) arena.Options {
	out := arena.DefaultOptions()
	if _, ok := opts["arena.reserve"]; ok {
		out.ReserveSize = opts.Int64("arena.reserve")
	}
	if _, ok := opts["arena.eager_commit"]; ok {
		out.EagerCommit = int(opts.Int64("arena.eager_commit"))
	}
	if _, ok := opts["arena.allow_large_pages"]; ok {
		out.AllowLargeOSPages = opts.Bool("arena.allow_large_pages")
	}
	if _, ok := opts["arena.exclusive"]; ok {
		out.Exclusive = opts.Int64("arena.exclusive") != 0
	}
	if _, ok := opts["purge.delay_msecs"]; ok {
		out.PurgeDelayMsecs = opts.Int64("purge.delay_msecs")
	}
	if _, ok := opts["purge.mult"]; ok {
		out.ArenaPurgeMult = opts.Int64("purge.mult")
	}
	if _, ok := opts["numa.aware"]; ok {
		out.NUMAAware = opts.Bool("numa.aware")
	}
	return out
}

// NewEngineFromOptions builds an Engine from the public Options surface:
// it installs the requested log level via Configure, translates the
// remaining keys into an arena.Options via toArenaOptions, and
// constructs the Engine's registry from that. This is the path that
// actually makes changing a key in DefaultOptions() (or a caller's own
// Options) affect allocator behavior; NewEngine itself stays available
// for callers that already have a concrete arena.Options.
func NewEngineFromOptions(opts Options) *Engine {
	Configure(opts)
	return NewEngine(toArenaOptions(opts))
}

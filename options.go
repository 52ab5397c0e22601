package undotree

import (
	"context"
	"log/slog"
	"time"
)

// OuterPolicy decides what happens when the tree stays above the outer
// limit after every discardable node is gone.
type OuterPolicy int

const (
	// RequireConfirmation asks Options.Confirm before throwing the whole
	// history away. A nil Confirm refuses.
	RequireConfirmation OuterPolicy = iota
	// DiscardSilently drops the whole history without asking.
	DiscardSilently
)

// Limits bound the memory held by a tree. Byte limits are measured in
// accumulated changeset bytes. A zero value disables that threshold.
type Limits struct {
	Soft   int64
	Strong int64
	Outer  int64

	SoftCount   int
	StrongCount int
	OuterCount  int
}

const (
	DefaultSoftLimit   = 160000
	DefaultStrongLimit = 240000
	DefaultOuterLimit  = 24000000
)

var DefaultLimits = Limits{
	Soft:   DefaultSoftLimit,
	Strong: DefaultStrongLimit,
	Outer:  DefaultOuterLimit,
}

type Options struct {
	// DocumentID is stored alongside serialized history. A random UUID is
	// assigned when empty.
	DocumentID string

	// Limits defaults to DefaultLimits when entirely zero.
	Limits      Limits
	OuterPolicy OuterPolicy
	Confirm     func(Stats) bool

	// AutoDiscard runs the discard policy after every recorded changeset.
	AutoDiscard bool

	Markers Liveness
	Metrics *Metrics

	Context context.Context
	Now     func() time.Time
	Logger  *slog.Logger
	Verbose bool
}

func (o Options) withDefaults() Options {
	if o.DocumentID == "" {
		o.DocumentID = NewDocumentID()
	}
	if o.Limits == (Limits{}) {
		o.Limits = DefaultLimits
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (l Limits) exceeded(size int64, count int) (bool, bool, bool) {
	over := func(bytes int64, nodes int) bool {
		return (bytes > 0 && size > bytes) || (nodes > 0 && count > nodes)
	}
	return over(l.Soft, l.SoftCount), over(l.Strong, l.StrongCount), over(l.Outer, l.OuterCount)
}

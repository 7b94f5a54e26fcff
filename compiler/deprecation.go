package compiler

import "github.com/sasscontrib/embedded-host-go/internal/wire"

// DeprecationPolicy resolves a DeprecationID against the three option
// sets spec.md's options table names (fatalDeprecations,
// silenceDeprecations, futureDeprecations), turning a DEPRECATION_WARNING
// LogEvent into one of: fatal (terminate the compilation), silenced
// (drop before it reaches the user logger), or ordinary warning.
// futureDeprecations only affects what the compiler itself opts into
// and carries no host-side classification, so it is not tracked here;
// Options.FutureDeprecations goes straight into wire.CompileOptions.
type DeprecationPolicy struct {
	fatal   map[wire.DeprecationID]bool
	silence map[wire.DeprecationID]bool
}

// NewDeprecationPolicy builds a policy from an Options bag. A nil or
// zero-value Options yields a policy that fatals and silences nothing.
func NewDeprecationPolicy(opts *Options) *DeprecationPolicy {
	p := &DeprecationPolicy{
		fatal:   make(map[wire.DeprecationID]bool),
		silence: make(map[wire.DeprecationID]bool),
	}
	if opts == nil {
		return p
	}
	for _, id := range opts.FatalDeprecations {
		p.fatal[id] = true
	}
	for _, id := range opts.SilenceDeprecations {
		p.silence[id] = true
	}
	return p
}

// Classify reports whether id should be treated as fatal or silenced.
// Fatal takes precedence: an id listed in both sets still terminates
// the compilation rather than being silently dropped.
func (p *DeprecationPolicy) Classify(id wire.DeprecationID) (fatal, silenced bool) {
	if p == nil {
		return false, false
	}
	if p.fatal[id] {
		return true, false
	}
	return false, p.silence[id]
}

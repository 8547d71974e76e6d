// Package cellular is a biologically-inspired component runtime built around
// hierarchical state and self-monitoring. Individual units carry a lifecycle
// state plus free-form timestamped properties; composite units derive their
// own state by aggregating member states against ordered threshold rules, and
// machines do the same one level up. State changes propagate bottom-up through
// aggregation, units self-assess health and attempt local recovery before
// escalating, and state optionally survives process restarts and is reconciled
// across distributed replicas through narrow save and publish contracts.
//
// The package exposes a small framework surface (Framework) that owns the unit
// registry and the in-process observer bus. Everything else — persistence
// backends, distribution channels, metrics, diagnostics endpoints — plugs in
// through interfaces defined here and implemented in subpackages.
package cellular

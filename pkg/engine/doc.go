// Package engine compiles a declarative build recipe and a sparse set of user
// options into a resolved build plan.
//
// # Overview
//
// A resolution pass runs in four stages:
//
//  1. Options - raw input is parsed into an immutable OptionSet; unknown
//     names, invalid values and exclusive-group violations fail here, before
//     any host probing.
//  2. Resolve - the Resolver starts from the recipe's base dependencies and
//     walks the dependency rules in order. Requirements named by active rules
//     are checked through the injected Probe, at most once per pass.
//  3. Synthesize - the Synthesizer evaluates the recipe's flag effects in
//     order to produce build-system arguments and environment mutations.
//  4. Plan - the Planner merges both outputs, applies hooks and policies,
//     orders dependencies into install levels and seals the plan with a
//     content fingerprint.
//
// # Recipes
//
// Recipes are tables, not code. Conditions (Enabled, VariantSelected,
// NoVariant, And, ...) are pure expressions over an OptionSet. Flag effects
// (Fixed, Toggle, TriState, Variant, Gate) map option values to arguments.
// Recipe.Validate checks that every declared option has a mapping.
//
// # Build invocation
//
// The native build is delegated to an Invoker. Planner.Build treats any
// nonzero exit status as a BuildInvocationFailure carrying the captured
// diagnostics.
//
// # Error Classification
//
//   - configuration: unknown options, invalid values, exclusive groups,
//     invalid recipes, policy denials
//   - requirement_unsatisfied: a fatal requirement is absent on the host
//   - build_invocation: the native build failed or was cancelled
//   - internal: broken probes and other bugs
//
// Errors are never retried automatically.
package engine

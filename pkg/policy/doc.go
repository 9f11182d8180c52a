// Package policy evaluates Open Policy Agent (OPA) policies against resolved
// build plans.
//
// # Architecture
//
// The policy system consists of three parts:
//
//  1. Engine - compiles Rego modules and evaluates them against a plan
//  2. Loader - loads .rego files and JSON policy definitions, and watches them
//  3. Built-in policies - advisory checks shipped with the tool
//
// The Engine implements engine.PolicyEvaluator, so it plugs into the planner
// with engine.WithPolicy.
//
// # Writing policies
//
// A policy is a Rego package. Entries of its "deny" set abort planning with
// a POLICY_DENIED configuration error; entries of its "warn" set are
// attached to the plan as findings. An entry is a string or an object with
// "message" and an optional "severity":
//
//	package site.toolkit
//
//	import rego.v1
//
//	deny contains "qt4 is no longer supported here" if {
//	    input.options.qt == "true"
//	}
//
//	warn contains {"message": "building head", "severity": "info"} if {
//	    input.options.source == "head"
//	}
//
// The input document is PolicyInput: effective option values keyed by name,
// the names the user set explicitly, dependency names, requirement results,
// synthesized arguments and environment mutations.
//
// Policies should import rego.v1.
//
// # Built-in policies
//
//   - apps-visualization: apps enabled with vtk=off
//   - modeler-toolkit: apps-modeler forced on without qt or qt5
//   - gpu-modules: GPU sub-modules forced on without cuda
//
// Built-in policies only warn. They can be disabled by name.
//
// # Reloading
//
// Loader.Watch watches policy files with fsnotify and hands the reloaded set
// to a callback, typically Engine.ReplacePolicies.
package policy

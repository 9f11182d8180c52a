// Package invoker runs resolved build plans.
//
// An Invoker turns a plan into three native steps run in the build
// directory (cmake, make, make install) plus an optional install-apps step
// that moves application bundles into the prefix. Commands go through a
// Runner: ExecRunner for the local host, or the SSH runner from
// pkg/transports/ssh for a remote one. Render produces the same steps as a
// shell script for dry runs.
//
// An Ensurer installs missing plan dependencies through a package manager,
// one install level at a time.
package invoker

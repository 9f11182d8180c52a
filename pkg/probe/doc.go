// Package probe implements requirement probes: the local host probe, a
// shell probe for remote build hosts, and sandboxed WASM probe plugins.
//
// Plugins are described by a YAML manifest:
//
//	name: metal-sdk
//	version: 1.0.0
//	module: metal_sdk.wasm
//	export: satisfied
//	checksum: <hex sha256 of the module>
//
// The module exports a function taking no arguments and returning a nonzero
// i32 when the requirement is satisfied. It may import has_executable,
// has_env, path_exists, target_len and read_target from "env".
package probe

// Package config loads declarative option files and Starlark hooks.
//
// An option file selects recipe options, overrides the installation layout,
// declares hooks and lists extra policy files. The same shape is accepted as
// CUE, TOML, YAML or JSON; every format is validated against one CUE
// definition (#OptionFile) and the struct validation tags, so errors carry
// the same paths whichever format was used.
//
//	recipe: "pcl"
//	options: {
//	    "with-qt5":  true
//	    "with-cuda": "yes"
//	}
//	layout: build_type: "RelWithDebInfo"
//	hooks: [{name: "ccache", file: "hooks/ccache.star"}]
//
// Multiple files are merged in order with Loader.LoadAll: option values and
// layout fields from later files win, hooks and policies accumulate.
//
// # Hooks
//
// A hook is a Starlark script run after argument synthesis. It receives the
// effective options as the dict "options" and returns extra arguments and
// environment mutations:
//
//	args = ["-DCMAKE_CXX_COMPILER_LAUNCHER=ccache"]
//	env = [{"variable": "CCACHE_DIR", "op": "set", "value": "/tmp/ccache"}]
//
// Scripts run without filesystem or network access under a timeout.
package config

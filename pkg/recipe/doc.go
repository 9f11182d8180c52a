// Package recipe declares the Point Cloud Library build recipe as a table the
// engine evaluates: recognized options, the Qt toolkit exclusive group, base
// and conditional dependencies, host requirements, and the CMake flag and
// environment effects of every option.
package recipe

// Package render draws the install-order graph of a build plan.
package render

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/openfroyo/pclforge/pkg/engine"
)

// DOT returns the Graphviz source for the dependency graph of plan,
// clustered by install level.
func DOT(plan *engine.BuildPlan) (string, error) {
	b := engine.NewDAGBuilder()
	if _, err := b.Build(plan.Dependencies); err != nil {
		return "", err
	}
	return b.ToDOT(plan.Recipe + " " + plan.Version), nil
}

// Graph renders dot in the given format using the embedded Graphviz.
func Graph(ctx context.Context, dot string, format graphviz.Format) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, format, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}

// SVG renders dot as SVG.
func SVG(ctx context.Context, dot string) ([]byte, error) {
	return Graph(ctx, dot, graphviz.SVG)
}

// ForPath renders plan in the format implied by the extension of path:
// .svg, .png or .dot.
func ForPath(ctx context.Context, plan *engine.BuildPlan, path string) ([]byte, error) {
	dot, err := DOT(plan)
	if err != nil {
		return nil, err
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".dot", ".gv":
		return []byte(dot), nil
	case ".svg":
		return Graph(ctx, dot, graphviz.SVG)
	case ".png":
		return Graph(ctx, dot, graphviz.PNG)
	default:
		return nil, fmt.Errorf("unsupported graph format %q (use .svg, .png or .dot)", ext)
	}
}

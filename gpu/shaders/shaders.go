// Package shaders embeds the WGSL compute kernel sources, the same way the
// teacher embeds its render/raytracing shaders.
package shaders

import _ "embed"

//go:embed common.wgsl
var CommonWGSL string

//go:embed presolve.wgsl
var PresolveWGSL string

//go:embed postsolve.wgsl
var PostsolveWGSL string

//go:embed solve_dist.wgsl
var SolveDistWGSL string

//go:embed solve_tet.wgsl
var SolveTetWGSL string

//go:embed add_deltas.wgsl
var AddDeltasWGSL string

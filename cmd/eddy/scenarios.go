package main

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-eddy/internal/engine"
	"github.com/23skdu/longbow-eddy/internal/lattice"
)

// scenarioNames lists the built-in initial conditions for the usage text.
const scenarioNames = "cavity, poiseuille, taylor-green, uniform"

// applyScenario populates flags and initial fields for a named preset.
// u0 is the characteristic lattice velocity of the scenario.
func applyScenario(e *engine.Engine, name string, u0 float32) error {
	g := e.Grid()
	switch name {
	case "cavity":
		return e.SetConditions(func(x, y, z, n int, c *engine.Cell) {
			switch {
			case y == g.Ny-1:
				// Moving lid, Dirichlet.
				c.Flag = lattice.FlagEq
				c.Rho = 1.0
				c.U = [3]float32{u0, 0, 0}
			case x == 0 || x == g.Nx-1 || y == 0 || (g.Nz > 1 && (z == 0 || z == g.Nz-1)):
				c.Flag = lattice.FlagSolid
			}
		})

	case "poiseuille":
		// Channel walls; the body force drives the flow.
		return e.SetConditions(func(x, y, z, n int, c *engine.Cell) {
			if y == 0 || y == g.Ny-1 {
				c.Flag = lattice.FlagSolid
			}
		})

	case "taylor-green":
		kx := 2 * math.Pi / float64(g.Nx)
		ky := 2 * math.Pi / float64(g.Ny)
		return e.SetConditions(func(x, y, z, n int, c *engine.Cell) {
			sx, cx := math.Sincos(kx * float64(x))
			sy, cy := math.Sincos(ky * float64(y))
			c.U = [3]float32{
				-u0 * float32(cx*sy),
				u0 * float32(sx*cy),
				0,
			}
		})

	case "uniform":
		return e.SetConditions(func(x, y, z, n int, c *engine.Cell) {
			c.U = [3]float32{u0, 0, 0}
		})
	}
	return fmt.Errorf("unknown scenario %q (have: %s)", name, scenarioNames)
}

// scenarioForce returns the default body force a scenario needs when the
// user did not override it. Nil means none.
func scenarioForce(name string) *[3]float32 {
	if name == "poiseuille" {
		return &[3]float32{1e-5, 0, 0}
	}
	return nil
}

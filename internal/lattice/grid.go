package lattice

// Grid is the simulation domain. Every flat array in the engine uses the
// same canonical flattening: n = x + Nx*(y + Ny*z).
type Grid struct {
	Nx, Ny, Nz int
}

// N returns the total cell count.
func (g Grid) N() int {
	return g.Nx * g.Ny * g.Nz
}

// Index flattens (x, y, z) to a linear cell index.
func (g Grid) Index(x, y, z int) int {
	return x + g.Nx*(y+g.Ny*z)
}

// Coords recovers (x, y, z) from a linear cell index.
func (g Grid) Coords(n int) (x, y, z int) {
	x = n % g.Nx
	y = (n / g.Nx) % g.Ny
	z = n / (g.Nx * g.Ny)
	return
}

// Neighbor returns the linear index of the cell offset by c from
// (x, y, z), with periodic wraparound on each axis.
func (g Grid) Neighbor(x, y, z int, c [3]int32) int {
	nx := (x + int(c[0]) + g.Nx) % g.Nx
	ny := (y + int(c[1]) + g.Ny) % g.Ny
	nz := (z + int(c[2]) + g.Nz) % g.Nz
	return g.Index(nx, ny, nz)
}

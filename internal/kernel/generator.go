// Package kernel builds the specialized OpenCL program text for one
// simulation configuration. Grid size, velocity-set tables and precision
// typedefs are baked into the source as compile-time data, so the same
// numerical logic is instantiated once per configuration. Identical
// inputs yield byte-identical output.
package kernel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-eddy/internal/lattice"
	"github.com/23skdu/longbow-eddy/internal/precision"
)

// Kernel entry points in the generated program.
const (
	NameEquilibrium   = "equilibrium"
	NameStreamCollide = "stream_collide"
)

// Spec is the full input of the generator. Two equal Specs always map to
// the same program text.
type Spec struct {
	Nx, Ny, Nz int
	Model      string
	Mode       precision.Mode
	// Force is an optional constant body force, applied as a Guo-style
	// velocity shift before equilibria are computed. Nil disables it.
	Force *[3]float32
}

// Generate emits the program text for spec: size/model defines, the
// inlined velocity-set tables, the equilibrium initialization kernel and
// the fused stream+collide kernel.
func Generate(spec Spec) (string, error) {
	if !spec.Mode.Valid() {
		return "", &precision.UnsupportedModeError{Mode: spec.Mode.String()}
	}
	set, err := lattice.NewSet(spec.Model)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// eddy lattice kernel: %s %dx%dx%d %s\n", spec.Model, spec.Nx, spec.Ny, spec.Nz, spec.Mode)
	fmt.Fprintf(&b, "#define NX %du\n", spec.Nx)
	fmt.Fprintf(&b, "#define NY %du\n", spec.Ny)
	fmt.Fprintf(&b, "#define NZ %du\n", spec.Nz)
	fmt.Fprintf(&b, "#define N %du\n", spec.Nx*spec.Ny*spec.Nz)
	fmt.Fprintf(&b, "#define Q %d\n", set.Q)
	b.WriteString("#define FLAG_FLUID 0\n#define FLAG_SOLID 1\n#define FLAG_EQ 2\n")
	b.WriteString("#define RHO_EPS 1e-8f\n")

	switch spec.Mode {
	case precision.FP32:
		b.WriteString(`#define fstore float
#define fcalc float
#define LOAD_F(p, i) (p)[i]
#define STORE_F(p, i, v) (p)[i] = (v)
`)
	case precision.FP16Storage:
		b.WriteString(`#pragma OPENCL EXTENSION cl_khr_fp16 : enable
#define fstore half
#define fcalc float
#define LOAD_F(p, i) vload_half((i), (p))
#define STORE_F(p, i, v) vstore_half((v), (i), (p))
`)
	case precision.FP16Compute:
		b.WriteString(`#pragma OPENCL EXTENSION cl_khr_fp16 : enable
#define fstore half
#define fcalc half
#define LOAD_F(p, i) (p)[i]
#define STORE_F(p, i, v) (p)[i] = (fstore)(v)
`)
	}

	if spec.Force != nil {
		b.WriteString("#define USE_FORCE 1\n")
		fmt.Fprintf(&b, "#define FORCE_X %s\n", clFloat(spec.Force[0]))
		fmt.Fprintf(&b, "#define FORCE_Y %s\n", clFloat(spec.Force[1]))
		fmt.Fprintf(&b, "#define FORCE_Z %s\n", clFloat(spec.Force[2]))
	} else {
		b.WriteString("#define USE_FORCE 0\n")
	}

	writeTables(&b, set)
	b.WriteString(bodySource)
	return b.String(), nil
}

// clFloat formats a float32 as a deterministic OpenCL literal.
func clFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'e', 8, 32) + "f"
}

func writeTables(b *strings.Builder, set *lattice.Set) {
	b.WriteString("__constant int c[Q][3] = {\n")
	for q, v := range set.C {
		sep := ","
		if q == set.Q-1 {
			sep = ""
		}
		fmt.Fprintf(b, "\t{%d, %d, %d}%s\n", v[0], v[1], v[2], sep)
	}
	b.WriteString("};\n")

	b.WriteString("__constant float w[Q] = {\n")
	for q, v := range set.W {
		sep := ","
		if q == set.Q-1 {
			sep = ""
		}
		fmt.Fprintf(b, "\t%s%s\n", clFloat(v), sep)
	}
	b.WriteString("};\n")

	b.WriteString("__constant int opp[Q] = {")
	for q, o := range set.Opposite {
		if q > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%d", o)
	}
	b.WriteString("};\n")
}

// bodySource is the model-independent part of the program. Everything it
// references (sizes, tables, precision macros) is defined above it.
const bodySource = `
static uint cell_index(uint x, uint y, uint z) {
	return x + NX * (y + NY * z);
}

// equilibrium seeds f from the host-initialized density and velocity:
// f_q = w_q * rho * (1 + 3 c.u + 4.5 (c.u)^2 - 1.5 |u|^2)
__kernel void equilibrium(
	__global fstore* f,
	__global const float* rho,
	__global const float* u
) {
	const uint n = get_global_id(0);
	if (n >= N) return;

	const fcalc r = (fcalc)rho[n];
	const fcalc ux = (fcalc)u[3u * n];
	const fcalc uy = (fcalc)u[3u * n + 1u];
	const fcalc uz = (fcalc)u[3u * n + 2u];
	const fcalc u2 = ux * ux + uy * uy + uz * uz;

	for (int q = 0; q < Q; q++) {
		const fcalc cu = (fcalc)c[q][0] * ux + (fcalc)c[q][1] * uy + (fcalc)c[q][2] * uz;
		const fcalc feq = (fcalc)w[q] * r *
			((fcalc)1.0f + (fcalc)3.0f * cu + (fcalc)4.5f * cu * cu - (fcalc)1.5f * u2);
		STORE_F(f, n * Q + q, feq);
	}
}

// stream_collide performs one fused update pass: moments, BGK collision
// (or Dirichlet re-equilibration for EQ cells), then streaming with
// periodic wraparound and bounce-back into SOLID neighbors. Each work
// item reads only f and writes only f_new, so no intra-pass
// synchronization is required.
__kernel void stream_collide(
	__global const fstore* f,
	__global fstore* f_new,
	__global float* rho,
	__global float* u,
	__global const uchar* flags,
	const float omega
) {
	const uint n = get_global_id(0);
	if (n >= N) return;

	const uchar flag = flags[n];
	if (flag == FLAG_SOLID) return;

	const uint x = n % NX;
	const uint y = (n / NX) % NY;
	const uint z = n / (NX * NY);

	fcalc fi[Q];
	for (int q = 0; q < Q; q++) {
		fi[q] = LOAD_F(f, n * Q + q);
	}

	fcalc r = (fcalc)0.0f;
	fcalc mx = (fcalc)0.0f, my = (fcalc)0.0f, mz = (fcalc)0.0f;
	for (int q = 0; q < Q; q++) {
		r += fi[q];
		mx += (fcalc)c[q][0] * fi[q];
		my += (fcalc)c[q][1] * fi[q];
		mz += (fcalc)c[q][2] * fi[q];
	}

	fcalc ux, uy, uz;
	if (r > (fcalc)RHO_EPS) {
		ux = mx / r;
		uy = my / r;
		uz = mz / r;
	} else {
		// Local stability guard: degenerate density, zero the velocity
		// for this cell and step only.
		ux = (fcalc)0.0f;
		uy = (fcalc)0.0f;
		uz = (fcalc)0.0f;
	}

	if (flag == FLAG_EQ) {
		// Dirichlet cell: the prescribed state lives in rho/u and is
		// never overwritten.
		r = (fcalc)rho[n];
		ux = (fcalc)u[3u * n];
		uy = (fcalc)u[3u * n + 1u];
		uz = (fcalc)u[3u * n + 2u];
	} else {
		rho[n] = (float)r;
		u[3u * n] = (float)ux;
		u[3u * n + 1u] = (float)uy;
		u[3u * n + 2u] = (float)uz;
#if USE_FORCE
		if (r > (fcalc)RHO_EPS) {
			ux += (fcalc)0.5f * (fcalc)FORCE_X / r;
			uy += (fcalc)0.5f * (fcalc)FORCE_Y / r;
			uz += (fcalc)0.5f * (fcalc)FORCE_Z / r;
		}
#endif
	}

	const fcalc om = (fcalc)omega;
	const fcalc u2 = ux * ux + uy * uy + uz * uz;
	for (int q = 0; q < Q; q++) {
		const fcalc cu = (fcalc)c[q][0] * ux + (fcalc)c[q][1] * uy + (fcalc)c[q][2] * uz;
		const fcalc feq = (fcalc)w[q] * r *
			((fcalc)1.0f + (fcalc)3.0f * cu + (fcalc)4.5f * cu * cu - (fcalc)1.5f * u2);

		fcalc out;
		if (flag == FLAG_EQ) {
			out = feq;
		} else {
			out = ((fcalc)1.0f - om) * fi[q] + om * feq;
		}

		const uint xn = (x + (uint)(c[q][0] + (int)NX)) % NX;
		const uint yn = (y + (uint)(c[q][1] + (int)NY)) % NY;
		const uint zn = (z + (uint)(c[q][2] + (int)NZ)) % NZ;
		const uint nn = cell_index(xn, yn, zn);

		if (flags[nn] == FLAG_SOLID) {
			// Bounce-back: reflect into this cell's opposite slot.
			STORE_F(f_new, n * Q + (uint)opp[q], out);
		} else {
			STORE_F(f_new, nn * Q + (uint)q, out);
		}
	}
}
`

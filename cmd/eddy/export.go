package main

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-eddy/internal/field"
	"github.com/23skdu/longbow-eddy/internal/lattice"
)

// writeCSV dumps the fields plus derived vorticity and Q-criterion, one
// row per cell in flat index order.
func writeCSV(w io.Writer, g lattice.Grid, rho, u []float32) error {
	vort := field.Vorticity(g, u)
	q := field.QCriterion(g, u)

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"x", "y", "z", "rho", "ux", "uy", "uz", "wx", "wy", "wz", "q"}); err != nil {
		return err
	}

	row := make([]string, 11)
	f := func(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }
	for n := 0; n < g.N(); n++ {
		x, y, z := g.Coords(n)
		row[0] = strconv.Itoa(x)
		row[1] = strconv.Itoa(y)
		row[2] = strconv.Itoa(z)
		row[3] = f(rho[n])
		row[4], row[5], row[6] = f(u[3*n]), f(u[3*n+1]), f(u[3*n+2])
		row[7], row[8], row[9] = f(vort[3*n]), f(vort[3*n+1]), f(vort[3*n+2])
		row[10] = f(q[n])
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeArrowStream exports the fields as a single Arrow IPC record batch.
// Schema: cell index plus density, velocity and Q-criterion columns.
func writeArrowStream(w io.Writer, g lattice.Grid, rho, u []float32) error {
	q := field.QCriterion(g, u)
	pool := memory.NewGoAllocator()

	schema := arrow.NewSchema(
		[]arrow.Field{
			{Name: "n", Type: arrow.PrimitiveTypes.Int64},
			{Name: "rho", Type: arrow.PrimitiveTypes.Float32},
			{Name: "velocity", Type: arrow.FixedSizeListOf(3, arrow.PrimitiveTypes.Float32)},
			{Name: "q_criterion", Type: arrow.PrimitiveTypes.Float32},
		},
		nil,
	)

	idxBuilder := array.NewInt64Builder(pool)
	defer idxBuilder.Release()
	rhoBuilder := array.NewFloat32Builder(pool)
	defer rhoBuilder.Release()
	velBuilder := array.NewFixedSizeListBuilder(pool, 3, arrow.PrimitiveTypes.Float32)
	defer velBuilder.Release()
	velValues := velBuilder.ValueBuilder().(*array.Float32Builder)
	qBuilder := array.NewFloat32Builder(pool)
	defer qBuilder.Release()

	for n := 0; n < g.N(); n++ {
		idxBuilder.Append(int64(n))
		rhoBuilder.Append(rho[n])
		velBuilder.Append(true)
		velValues.AppendValues(u[3*n:3*n+3], nil)
		qBuilder.Append(q[n])
	}

	idxArr := idxBuilder.NewArray()
	defer idxArr.Release()
	rhoArr := rhoBuilder.NewArray()
	defer rhoArr.Release()
	velArr := velBuilder.NewArray()
	defer velArr.Release()
	qArr := qBuilder.NewArray()
	defer qArr.Release()

	rec := array.NewRecordBatch(schema, []arrow.Array{idxArr, rhoArr, velArr, qArr}, int64(g.N()))
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

package engine

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-eddy/internal/lattice"
)

func TestCheckpointRoundTrip(t *testing.T) {
	e, err := New(validConfig(), nil)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.SetConditions(func(x, y, z, n int, c *Cell) {
		if x == 0 {
			c.Flag = lattice.FlagSolid
		}
		c.U = [3]float32{0.01 * float32(y), 0, 0}
	}))
	require.NoError(t, e.Run(context.Background(), 10))

	var buf bytes.Buffer
	require.NoError(t, e.Snapshot().Encode(&buf))

	cp, err := ReadCheckpoint(&buf)
	require.NoError(t, err)
	assert.Equal(t, "D2Q9", cp.Model)
	assert.Equal(t, 10, cp.Step)
	assert.Equal(t, e.Density(), cp.Density)
	assert.Equal(t, e.Velocity(), cp.Velocity)
	assert.Equal(t, e.Flags(), cp.Flags)
}

func TestCheckpointResume(t *testing.T) {
	e, err := New(validConfig(), nil)
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.Run(context.Background(), 5))

	var buf bytes.Buffer
	require.NoError(t, e.Snapshot().Encode(&buf))
	cp, err := ReadCheckpoint(&buf)
	require.NoError(t, err)

	resumed, err := Restore(cp, 0.1, e.cfg.Mode, nil)
	require.NoError(t, err)
	defer resumed.Close()

	assert.Equal(t, StateUninitialized, resumed.State())
	assert.Equal(t, 5, resumed.StepCount())
	assert.Equal(t, e.Density(), resumed.Density())

	require.NoError(t, resumed.Run(context.Background(), 5))
	assert.Equal(t, 10, resumed.StepCount())
}

func TestReadCheckpointRejectsInconsistentData(t *testing.T) {
	e, err := New(validConfig(), nil)
	require.NoError(t, err)
	defer e.Close()

	cp := e.Snapshot()
	cp.Density = cp.Density[:3]

	var buf bytes.Buffer
	require.NoError(t, cp.Encode(&buf))
	_, err = ReadCheckpoint(&buf)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "checkpoint", ce.Field)
}

func TestReadCheckpointRejectsGarbage(t *testing.T) {
	_, err := ReadCheckpoint(bytes.NewReader([]byte{0xff, 0x00, 0x12}))
	assert.Error(t, err)
}

package snapshot

import (
	"bytes"
	"encoding/binary"
	"image/png"
	"math"
	"path/filepath"
	"testing"

	"github.com/gekko3d/cloth/clothrt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDump_RoundTrip(t *testing.T) {
	grid := core.Grid{Width: 3, Height: 2, Spacing: 0.1}
	particles := core.InitParticlesOn(grid, core.Layout{Origin: mgl32.Vec3{1, 2, 3}})
	particles[4].Velocity = mgl32.Vec3{0.5, -1, 2}

	var buf bytes.Buffer
	require.NoError(t, WriteDump(&buf, grid, particles))
	assert.Equal(t, 16+6*24, buf.Len())
	assert.Equal(t, DumpMagicNumber, string(buf.Bytes()[:4]))

	dump, err := ReadDump(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, dump.Grid.Width)
	assert.Equal(t, 2, dump.Grid.Height)
	assert.Equal(t, particles, dump.Particles)
}

func TestDump_Errors(t *testing.T) {
	grid := core.Grid{Width: 2, Height: 2, Spacing: 1}

	err := WriteDump(&bytes.Buffer{}, grid, core.InitParticles(3, 3, 1))
	assert.ErrorIs(t, err, core.ErrBufferMismatch)

	_, err = ReadDump(bytes.NewReader([]byte("VOX \x01\x00\x00\x00\x02\x00\x00\x00\x02\x00\x00\x00")))
	assert.ErrorIs(t, err, ErrNotDump)

	var buf bytes.Buffer
	require.NoError(t, WriteDump(&buf, grid, core.InitParticles(2, 2, 1)))
	_, err = ReadDump(bytes.NewReader(buf.Bytes()[:buf.Len()-4]))
	assert.Error(t, err, "truncated record")
}

func TestDump_CorruptHeaderDimensions(t *testing.T) {
	header := func(width, height int32) []byte {
		var buf bytes.Buffer
		buf.WriteString(DumpMagicNumber)
		for _, v := range []int32{DumpVersion, width, height} {
			require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
		}
		return buf.Bytes()
	}

	cases := map[string][2]int32{
		"huge":     {0x7fffffff, 0x7fffffff},
		"over cap": {1 << 13, 1<<13 + 1},
		"negative": {-3, 4},
		"zero":     {0, 0},
		"one wide": {1, 8},
	}
	for name, dims := range cases {
		t.Run(name, func(t *testing.T) {
			var dump *Dump
			var err error
			require.NotPanics(t, func() {
				dump, err = ReadDump(bytes.NewReader(header(dims[0], dims[1])))
			})
			assert.Nil(t, dump)
			assert.ErrorContains(t, err, "corrupt dump header")
		})
	}
}

func TestDump_SaveLoad(t *testing.T) {
	grid := core.Grid{Width: 2, Height: 3, Spacing: 1}
	particles := core.InitParticlesOn(grid, core.Layout{})
	path := filepath.Join(t.TempDir(), "frame.clth")

	require.NoError(t, SaveDump(path, grid, particles))
	dump, err := LoadDump(path)
	require.NoError(t, err)
	assert.Equal(t, particles, dump.Particles)
}

func TestHeightmap(t *testing.T) {
	grid := core.Grid{Width: 3, Height: 2, Spacing: 1}
	particles := core.InitParticlesOn(grid, core.Layout{Plane: core.PlaneXZ})
	particles[0].Position[1] = -1
	particles[5].Position[1] = 1
	particles[2].Position[1] = float32(math.NaN())

	img := Heightmap(particles, grid, mgl32.Vec3{0, 1, 0})
	require.Equal(t, 3, img.Bounds().Dx())
	require.Equal(t, 2, img.Bounds().Dy())

	assert.Equal(t, uint8(0), img.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), img.GrayAt(2, 1).Y)
	assert.Equal(t, uint8(128), img.GrayAt(1, 0).Y)
	assert.Equal(t, uint8(0), img.GrayAt(2, 0).Y, "non-finite particle")

	flat := Heightmap(core.InitParticlesOn(grid, core.Layout{Plane: core.PlaneXZ}), grid, mgl32.Vec3{0, 1, 0})
	assert.Equal(t, uint8(128), flat.GrayAt(1, 1).Y)
}

func TestWritePNG_Scales(t *testing.T) {
	grid := core.Grid{Width: 4, Height: 3, Spacing: 1}
	img := Heightmap(core.InitParticlesOn(grid, core.Layout{}), grid, mgl32.Vec3{1, 0, 0})

	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, img, 5))
	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 20, decoded.Bounds().Dx())
	assert.Equal(t, 15, decoded.Bounds().Dy())
}

package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gekko3d/cloth/clothrt/core"
)

const (
	DumpMagicNumber = "CLTH"
	DumpVersion     = 1

	// MaxDumpParticles bounds the buffer ReadDump allocates from a header.
	MaxDumpParticles = 1 << 26
)

var ErrNotDump = errors.New("not a cloth dump")

// dumpHeader precedes Width*Height particle records of six little-endian float32
// values: position xyz then velocity xyz, in grid index order.
type dumpHeader struct {
	Magic   [4]byte
	Version int32
	Width   int32
	Height  int32
}

type Dump struct {
	Grid      core.Grid
	Particles []core.Particle
}

// WriteDump encodes the particle buffer of a width x height grid.
func WriteDump(w io.Writer, grid core.Grid, particles []core.Particle) error {
	if len(particles) != grid.Count() {
		return fmt.Errorf("%w: grid %dx%d needs %d particles, got %d",
			core.ErrBufferMismatch, grid.Width, grid.Height, grid.Count(), len(particles))
	}

	bw := bufio.NewWriter(w)
	header := dumpHeader{Version: DumpVersion, Width: int32(grid.Width), Height: int32(grid.Height)}
	copy(header.Magic[:], DumpMagicNumber)
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return err
	}

	var record [6]float32
	for _, p := range particles {
		copy(record[0:3], p.Position[:])
		copy(record[3:6], p.Velocity[:])
		if err := binary.Write(bw, binary.LittleEndian, record); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadDump decodes a buffer written by WriteDump. Spacing is not stored and
// comes back as zero.
func ReadDump(r io.Reader) (*Dump, error) {
	br := bufio.NewReader(r)

	var header dumpHeader
	if err := binary.Read(br, binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if string(header.Magic[:]) != DumpMagicNumber {
		return nil, ErrNotDump
	}
	if header.Version != DumpVersion {
		return nil, fmt.Errorf("unsupported dump version %d", header.Version)
	}
	if header.Width < 2 || header.Height < 2 ||
		int64(header.Width)*int64(header.Height) > MaxDumpParticles {
		return nil, fmt.Errorf("corrupt dump header: %dx%d", header.Width, header.Height)
	}

	dump := &Dump{Grid: core.Grid{Width: int(header.Width), Height: int(header.Height)}}
	dump.Particles = make([]core.Particle, dump.Grid.Count())

	var record [6]float32
	for i := range dump.Particles {
		if err := binary.Read(br, binary.LittleEndian, &record); err != nil {
			return nil, fmt.Errorf("particle %d: %w", i, err)
		}
		copy(dump.Particles[i].Position[:], record[0:3])
		copy(dump.Particles[i].Velocity[:], record[3:6])
	}
	return dump, nil
}

func SaveDump(path string, grid core.Grid, particles []core.Particle) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteDump(file, grid, particles); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func LoadDump(path string) (*Dump, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadDump(file)
}

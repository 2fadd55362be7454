package cloth

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gekko3d/cloth/clothrt/snapshot"
	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
)

// FrameRecord is one row of frames.csv.
type FrameRecord struct {
	Frame         uint64  `csv:"frame"`
	SimTime       float64 `csv:"sim_time"`
	Backend       string  `csv:"backend"`
	Substeps      int     `csv:"substeps"`
	SubstepDt     float32 `csv:"substep_dt"`
	WallMs        float64 `csv:"wall_ms"`
	KineticEnergy float64 `csv:"kinetic_energy"`
	MeanHeight    float64 `csv:"mean_height"`
	MinHeight     float64 `csv:"min_height"`
	MaxHeight     float64 `csv:"max_height"`
	HeightStdDev  float64 `csv:"height_stddev"`
	MaxSpeed      float64 `csv:"max_speed"`
	MeanStrain    float64 `csv:"mean_strain"`
	MaxStrain     float64 `csv:"max_strain"`
	Penetrations  int     `csv:"penetrations"`
	RolledBack    bool    `csv:"rolled_back"`
}

// Telemetry writes frame statistics and periodic snapshots of the cloth to Dir.
type Telemetry struct {
	Dir   string
	RunID string
	Every int
	Scale int

	framesFile    *os.File
	headerWritten bool
	simTime       float64
	records       int
	snapshots     int
}

func NewTelemetry(dir string, every, scale int) (*Telemetry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "frames.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating frames.csv: %w", err)
	}
	if scale < 1 {
		scale = 1
	}
	return &Telemetry{
		Dir:        dir,
		RunID:      uuid.NewString(),
		Every:      every,
		Scale:      scale,
		framesFile: f,
	}, nil
}

func (tel *Telemetry) WriteFrame(rec FrameRecord) error {
	records := []FrameRecord{rec}

	if !tel.headerWritten {
		if err := gocsv.Marshal(records, tel.framesFile); err != nil {
			return fmt.Errorf("writing frame record: %w", err)
		}
		tel.headerWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, tel.framesFile); err != nil {
			return fmt.Errorf("writing frame record: %w", err)
		}
	}
	tel.records++
	return nil
}

// WriteSnapshot stores the latest committed frame as a heightmap PNG and a binary dump.
func (tel *Telemetry) WriteSnapshot(state *ClothState) error {
	frame := state.Latest()
	base := filepath.Join(tel.Dir, fmt.Sprintf("%s_f%06d", tel.RunID, frame.Frame))

	img := snapshot.Heightmap(frame.Particles, state.Grid, frame.Params.Gravity.Mul(-1))
	pngFile, err := os.Create(base + ".png")
	if err != nil {
		return fmt.Errorf("creating heightmap: %w", err)
	}
	if err := snapshot.WritePNG(pngFile, img, tel.Scale); err != nil {
		pngFile.Close()
		return fmt.Errorf("writing heightmap: %w", err)
	}
	if err := pngFile.Close(); err != nil {
		return err
	}

	if err := snapshot.SaveDump(base+".clth", state.Grid, frame.Particles); err != nil {
		return fmt.Errorf("writing dump: %w", err)
	}
	tel.snapshots++
	return nil
}

func (tel *Telemetry) Records() int {
	return tel.records
}

func (tel *Telemetry) Snapshots() int {
	return tel.snapshots
}

func (tel *Telemetry) Close() error {
	if tel.framesFile == nil {
		return nil
	}
	err := tel.framesFile.Close()
	tel.framesFile = nil
	return err
}

// TelemetryModule records every frame to frames.csv and snapshots the cloth
// every Every frames. Zero fields fall back to the telemetry section of the
// cloth config; an empty Dir disables the module.
type TelemetryModule struct {
	Dir   string
	Every int
	Scale int
}

func (mod TelemetryModule) Install(app *App, cmd *Commands) {
	state, ok := Resource[ClothState](app)
	if !ok {
		panic("TelemetryModule requires ClothModule to be installed first")
	}
	cfg := state.Config.Telemetry
	if mod.Dir == "" {
		mod.Dir = cfg.Dir
	}
	if mod.Every == 0 {
		mod.Every = cfg.Every
	}
	if mod.Scale == 0 {
		mod.Scale = cfg.HeightmapScale
	}
	if mod.Dir == "" {
		app.Logger().Debugf("telemetry disabled")
		return
	}

	tel, err := NewTelemetry(mod.Dir, mod.Every, mod.Scale)
	if err != nil {
		panic(fmt.Sprintf("telemetry module: %v", err))
	}
	if err := state.Config.WriteYAML(filepath.Join(mod.Dir, "config.yaml")); err != nil {
		app.Logger().Warnf("telemetry: %v", err)
	}
	app.Logger().Infof("telemetry run %s writing to %s", tel.RunID, tel.Dir)

	cmd.AddResources(tel)
	cmd.UseSystem(System(telemetrySystem).InStage(PostUpdate))
}

func telemetrySystem(tel *Telemetry, state *ClothState, t *Time, cmd *Commands) {
	if t.Dt <= 0 {
		return
	}
	tel.simTime += t.Dt.Seconds()

	frame := state.Latest()
	diag := state.Diagnostics()
	rec := FrameRecord{
		Frame:         frame.Frame,
		SimTime:       tel.simTime,
		Backend:       state.Backend,
		Substeps:      state.Config.Solver.Substeps,
		SubstepDt:     frame.Params.Dt,
		WallMs:        float64(state.LastFrameTime().Microseconds()) / 1000,
		KineticEnergy: diag.KineticEnergy,
		MeanHeight:    diag.MeanHeight,
		MinHeight:     diag.MinHeight,
		MaxHeight:     diag.MaxHeight,
		HeightStdDev:  diag.HeightStdDev,
		MaxSpeed:      diag.MaxSpeed,
		MeanStrain:    diag.MeanStrain,
		MaxStrain:     diag.MaxStrain,
		Penetrations:  diag.Penetrations,
		RolledBack:    state.LastError() != nil,
	}
	if err := tel.WriteFrame(rec); err != nil {
		cmd.Logger().Errorf("telemetry: %v", err)
		return
	}

	if tel.Every > 0 && !rec.RolledBack && frame.Frame%uint64(tel.Every) == 0 {
		if err := tel.WriteSnapshot(state); err != nil {
			cmd.Logger().Errorf("telemetry: %v", err)
		}
	}
}

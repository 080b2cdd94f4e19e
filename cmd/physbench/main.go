// physbench exercises the solver and the GPU particle pipeline from the
// command line.
package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spf13/cobra"

	"physengine/internal/compute"
	"physengine/internal/config"
	"physengine/internal/phys"
	"physengine/internal/spatial"
	"physengine/internal/telemetry"
)

func main() {
	root := &cobra.Command{
		Use:           "physbench",
		Short:         "Physics solver benchmarks and scene runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(benchCmd(), simCmd())
	if err := root.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func benchCmd() *cobra.Command {
	var (
		frames int
		morton bool
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Stress the CPU solver at increasing object counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, count := range []int{100, 500, 1000, 2000, 5000} {
				if err := benchWorld(count, frames, morton); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&frames, "frames", 60, "frames to simulate per object count")
	cmd.Flags().BoolVar(&morton, "morton", false, "use the Morton-ordered broad phase")
	return cmd
}

func benchWorld(count, frames int, morton bool) error {
	opts := []phys.Option{}
	if morton {
		opts = append(opts, phys.WithBroadphase(spatial.NewMortonHash(0)))
	}
	world := phys.NewWorld(mgl32.Vec3{0, -9.81, 0}, opts...)
	defer world.Close()

	// Spawn in a cube whose size scales with count to keep density stable.
	rng := rand.New(rand.NewSource(42))
	spawn := 50 + float32(count)/100
	for i := 0; i < count; i++ {
		pos := mgl32.Vec3{
			rng.Float32()*spawn - spawn/2,
			rng.Float32()*spawn - spawn/2,
			rng.Float32()*spawn - spawn/2,
		}
		if _, err := world.AddObject(phys.NewRigidBody(pos, 1, 0.5+rng.Float32()*0.5)); err != nil {
			return err
		}
	}

	start := time.Now()
	for f := 0; f < frames; f++ {
		world.Update(1.0 / 60.0)
	}
	perFrame := time.Since(start) / time.Duration(frames)

	stats := world.Stats()
	fmt.Printf("%5d objects: %8v/frame | pairs %5d | contacts %4d | islands %4d\n",
		count, perFrame.Round(time.Microsecond), stats.Pairs, stats.Contacts, stats.Islands)
	return nil
}

func simCmd() *cobra.Command {
	var (
		cfgPath string
		frames  int
	)
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a configured scene for a fixed number of frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if cfgPath != "" {
				var err error
				if cfg, err = config.Load(cfgPath); err != nil {
					return err
				}
			}
			return runScene(cfg, frames)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "YAML config file")
	cmd.Flags().IntVar(&frames, "frames", 600, "frames to simulate")
	return cmd
}

func runScene(cfg config.Config, frames int) error {
	opts := []phys.Option{}
	if cfg.World.MortonGrid {
		opts = append(opts, phys.WithBroadphase(spatial.NewMortonHash(cfg.World.CellSize)))
	} else if cfg.World.CellSize > 0 {
		opts = append(opts, phys.WithBroadphase(spatial.NewHash(cfg.World.CellSize)))
	}
	if cfg.World.Workers > 0 {
		opts = append(opts, phys.WithWorkers(cfg.World.Workers))
	}

	g := cfg.World.Gravity
	world := phys.NewWorld(mgl32.Vec3{g[0], g[1], g[2]}, opts...)
	defer world.Close()
	world.Iterations = cfg.World.Iterations
	world.Substeps = cfg.World.Substeps
	if cfg.World.Relaxation > 0 {
		world.Relaxation = cfg.World.Relaxation
	}
	world.ErrorTolerance = cfg.World.ErrorTolerance
	if cfg.World.MaxContacts > 0 {
		world.MaxContacts = cfg.World.MaxContacts
	}

	seedScene(world)

	var srv *telemetry.Server
	if cfg.Telemetry.Enabled {
		srv = telemetry.NewServer()
		if err := srv.Start(cfg.Telemetry.Addr); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer srv.Close()
		log.Printf("telemetry on ws://%s/stats", cfg.Telemetry.Addr)
	}

	var particles *compute.ParticleSystem
	var debug *compute.DebugView
	if cfg.GPU.Enabled {
		sys, err := compute.NewSystem()
		if err != nil {
			log.Printf("gpu unavailable, running cpu only: %v", err)
		} else {
			defer sys.Release()
			info := sys.Info()
			log.Printf("gpu: %s | %s | %s", info.Backend, info.Vendor, info.Name)

			particles, debug, err = compute.NewParticleSystem(sys, compute.Config{
				InitialParticles:    cfg.GPU.InitialParticles,
				InitialPoolSize:     cfg.GPU.InitialPoolSize,
				MaxRecoveryAttempts: cfg.GPU.MaxRecoveryAttempts,
				WaitTimeout:         cfg.GPU.WaitTimeout(),
				DebugEnabled:        cfg.GPU.DebugEnabled,
				DebugSampleRate:     cfg.GPU.DebugSampleRate,
			})
			if err != nil {
				return err
			}
			defer particles.Release()
			if err := particles.UpdateParticles(seedParticles(cfg.GPU.InitialParticles, cfg.GPU.BoundsMax)); err != nil {
				return err
			}
		}
	}

	params := compute.Params{
		DeltaTime:   1.0 / 60.0,
		MaxVelocity: cfg.GPU.MaxVelocity,
		BoundsMin:   cfg.GPU.BoundsMin,
		BoundsMax:   cfg.GPU.BoundsMax,
	}

	for f := 0; f < frames; f++ {
		world.Update(params.DeltaTime)

		if particles != nil {
			if err := stepParticles(particles, params); err != nil {
				return err
			}
		}

		if srv != nil {
			stats := world.Stats()
			frame := telemetry.Frame{
				Frame:    uint64(f),
				Objects:  stats.Objects,
				Pairs:    stats.Pairs,
				Contacts: stats.Contacts,
				Islands:  stats.Islands,
				StepMS:   float64(stats.StepTime.Microseconds()) / 1000,
			}
			if debug != nil {
				frame.GPUMS = float64(debug.Stats().LastKernelTime.Microseconds()) / 1000
			}
			srv.Broadcast(frame)
		}
	}

	stats := world.Stats()
	log.Printf("done: %d frames, %d objects, last step %s",
		frames, stats.Objects, stats.StepTime)
	if debug != nil {
		ds := debug.Stats()
		log.Printf("gpu: %d frames completed, %d recoveries, avg kernel %s",
			ds.FramesCompleted, ds.Recoveries, ds.AvgKernelTime)
	}
	return nil
}

// stepParticles drives one full pipeline cycle, recovering from device loss
// until the attempt budget runs out.
func stepParticles(ps *compute.ParticleSystem, params compute.Params) error {
	if err := ps.RecordCompute(params); err != nil {
		return err
	}
	if err := ps.SubmitCompute(); err != nil {
		return err
	}
	if err := ps.WaitForCompute(); err != nil {
		log.Printf("gpu: %v", err)
		if rerr := ps.TryRecover(); rerr != nil {
			return rerr
		}
		return nil
	}
	if _, err := ps.ReadParticles(ps.Count()); err != nil {
		return err
	}
	return nil
}

// seedScene drops a small stack of rigid boxes plus one deformable cube so
// every solver path runs.
func seedScene(world *phys.World) {
	// Zero mass keeps the floor static.
	world.AddObject(phys.NewRigidBody(mgl32.Vec3{0, -2, 0}, 0, 20))

	for i := 0; i < 20; i++ {
		body := phys.NewRigidBody(mgl32.Vec3{
			float32(i%4)*2 - 3,
			5 + float32(i/4)*2.5,
			float32(i%3)*2 - 2,
		}, 1, 1)
		world.AddObject(body)
	}

	positions, tets := phys.CubeLattice(mgl32.Vec3{8, 6, 0}, 2)
	soft := phys.NewDeformableBody(positions, tets, 0.5)
	if idx, err := world.AddObject(soft); err == nil {
		world.AddConstraint(phys.NewVolume(idx, 0.8))
		world.AddConstraint(phys.NewShapeMatching(idx, positions, 0.3))
	}
}

func seedParticles(n int, bound float32) []compute.Particle {
	rng := rand.New(rand.NewSource(7))
	out := make([]compute.Particle, n)
	for i := range out {
		out[i] = compute.Particle{
			Pos: [4]float32{
				(rng.Float32()*2 - 1) * bound,
				(rng.Float32()*2 - 1) * bound,
				(rng.Float32()*2 - 1) * bound,
				0,
			},
			Vel: [4]float32{
				rng.Float32()*20 - 10,
				rng.Float32()*20 - 10,
				rng.Float32()*20 - 10,
				0,
			},
		}
	}
	return out
}

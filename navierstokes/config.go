package navierstokes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/notargets/DGBlock/fem"
	"github.com/notargets/DGBlock/ksp"
	"github.com/notargets/DGBlock/la"
	"github.com/notargets/DGBlock/output"
	"github.com/notargets/DGBlock/partitions"
)

type OutputConfig struct {
	Dir     string         `toml:"dir"`
	Backend output.Backend `toml:"backend"`
}

// Config describes one run on an N x N unit square
type Config struct {
	N            int     `toml:"n"`
	Re           float64 `toml:"re"`
	NumTimeSteps int     `toml:"num_time_steps"`
	TEnd         float64 `toml:"t_end"`
	// Interior penalty parameter, 6k^2 for velocity degree k
	Alpha     float64 `toml:"alpha"`
	Kind      la.Kind `toml:"kind"`
	Partition string  `toml:"partition"`
	// Force the Stokes solve with -(u.grad)u of the Kovasznay flow so that
	// it reproduces the flow exactly
	StokesForcing bool `toml:"stokes_forcing"`
	// Mesh resolutions of a convergence study
	Refinements []int `toml:"refinements"`

	Solver   ksp.Options         `toml:"solver"`
	Compiler fem.CompilerOptions `toml:"compiler"`
	Output   OutputConfig        `toml:"output"`
}

func DefaultConfig() Config {
	return Config{
		N:             16,
		Re:            25,
		NumTimeSteps:  25,
		TEnd:          10,
		Alpha:         6,
		Kind:          la.Block,
		Partition:     "graph",
		StokesForcing: true,
		Refinements:   []int{4, 8, 16},
		Solver:        ksp.DefaultOptions(),
		Output:        OutputConfig{Dir: "out_navier_stokes", Backend: output.CSV},
	}
}

// Nu is the kinematic viscosity 1/Re
func (c Config) Nu() float64 { return 1 / c.Re }

// Dt is the time step t_end / num_time_steps
func (c Config) Dt() float64 { return c.TEnd / float64(c.NumTimeSteps) }

func (c Config) Validate() error {
	var errs []error
	if c.N < 1 {
		errs = append(errs, fmt.Errorf("n = %d, must be positive", c.N))
	}
	if c.Re <= 0 {
		errs = append(errs, fmt.Errorf("re = %g, must be positive", c.Re))
	}
	if c.NumTimeSteps < 1 {
		errs = append(errs, fmt.Errorf("num_time_steps = %d, must be positive", c.NumTimeSteps))
	}
	if c.TEnd <= 0 {
		errs = append(errs, fmt.Errorf("t_end = %g, must be positive", c.TEnd))
	}
	if c.Alpha < 0 {
		errs = append(errs, fmt.Errorf("alpha = %g, must not be negative", c.Alpha))
	}
	if c.Kind == la.Single {
		errs = append(errs, errors.New("kind single cannot hold a velocity-pressure system"))
	}
	if _, err := partitions.ParseStrategy(c.Partition); err != nil {
		errs = append(errs, err)
	}
	for _, n := range c.Refinements {
		if n < 1 {
			errs = append(errs, fmt.Errorf("refinement %d, must be positive", n))
		}
	}
	if c.Output.Backend != "" {
		if _, err := output.ParseBackend(string(c.Output.Backend)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("navierstokes: invalid config: %w", err)
	}
	return nil
}

// LoadConfig reads a TOML file over DefaultConfig. Unknown keys are errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("navierstokes: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("navierstokes: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

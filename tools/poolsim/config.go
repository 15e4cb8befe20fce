package main

import (
	"io/ioutil"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/u0733159/MP2/kernel/mm"
	"github.com/u0733159/MP2/kernel/mm/pmm"
	"gopkg.in/yaml.v2"
)

const envVarPrefix = "POOLSIM"

// Config describes the simulated machine: how much physical memory it has,
// which frame pools to create and which frame ranges to carve out of them.
type Config struct {
	MemoryMb uint32       `envconfig:"MEMORY_MB" yaml:"memoryMb"`
	Pools    []PoolConfig `ignored:"true"        yaml:"pools"`
	Holes    []HoleConfig `ignored:"true"        yaml:"holes"`
}

// PoolConfig describes a single frame pool. When InfoFrom is set, the pool
// bitmap is stored in a frame allocated from the named pool, which must be
// listed earlier; otherwise InfoFrame is used as is (0 for a self-hosting
// pool).
type PoolConfig struct {
	Name       string `yaml:"name"`
	BaseFrame  uint64 `yaml:"baseFrame"`
	FrameCount uint32 `yaml:"frameCount"`
	InfoFrame  uint64 `yaml:"infoFrame"`
	InfoFrom   string `yaml:"infoFrom"`
}

// HoleConfig marks count frames starting at StartFrame as inaccessible in
// the named pool.
type HoleConfig struct {
	Pool       string `yaml:"pool"`
	StartFrame uint64 `yaml:"startFrame"`
	Count      uint32 `yaml:"count"`
}

// DefaultConfig returns the layout the kernel uses at boot.
func DefaultConfig() *Config {
	return &Config{
		MemoryMb: 32,
		Pools: []PoolConfig{{
			Name:       "kernel",
			BaseFrame:  uint64(pmm.KernelPoolStartFrame),
			FrameCount: pmm.KernelPoolFrameCount,
		}, {
			Name:       "process",
			BaseFrame:  uint64(pmm.ProcessPoolStartFrame),
			FrameCount: pmm.ProcessPoolFrameCount,
			InfoFrom:   "kernel",
		}},
		Holes: []HoleConfig{{
			Pool:       "process",
			StartFrame: uint64(pmm.MemHoleStartFrame),
			Count:      pmm.MemHoleFrameCount,
		}},
	}
}

// LoadConfig reads the layout from configFile, falling back to
// DefaultConfig when configFile is empty, and then applies any POOLSIM_*
// environment overrides.
func LoadConfig(configFile string) (*Config, error) {
	c := DefaultConfig()

	if configFile != "" {
		data, err := ioutil.ReadFile(configFile)
		if err != nil {
			return nil, errors.Wrap(err, "reading config file")
		}

		c = &Config{}
		if err := yaml.UnmarshalStrict(data, c); err != nil {
			return nil, errors.Wrapf(err, "parsing config file %s", configFile)
		}
	}

	if err := envconfig.Process(envVarPrefix, c); err != nil {
		return nil, errors.Wrap(err, "loading config from environment")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate checks the layout for inconsistencies that would otherwise
// surface halfway through booting the pools.
func (c *Config) Validate() error {
	if c.MemoryMb == 0 {
		return errors.New("memoryMb must be greater than zero")
	}

	memFrames := uint64((mm.Size(c.MemoryMb) * mm.Mb).Frames())
	seen := make(map[string]bool, len(c.Pools))
	for i, p := range c.Pools {
		switch {
		case p.Name == "":
			return errors.Errorf("pool %d: missing name", i)
		case seen[p.Name]:
			return errors.Errorf("pool %q: duplicate name", p.Name)
		case p.InfoFrom != "" && !seen[p.InfoFrom]:
			return errors.Errorf("pool %q: infoFrom refers to unknown or later pool %q", p.Name, p.InfoFrom)
		case p.InfoFrom != "" && p.InfoFrame != 0:
			return errors.Errorf("pool %q: infoFrame and infoFrom are mutually exclusive", p.Name)
		case p.BaseFrame+uint64(p.FrameCount) > memFrames:
			return errors.Errorf("pool %q: frames %d-%d exceed the %dMb of simulated memory", p.Name, p.BaseFrame, p.BaseFrame+uint64(p.FrameCount)-1, c.MemoryMb)
		}
		seen[p.Name] = true
	}

	for i, h := range c.Holes {
		if !seen[h.Pool] {
			return errors.Errorf("hole %d: unknown pool %q", i, h.Pool)
		}
	}

	return nil
}

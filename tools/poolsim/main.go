// Command poolsim boots the kernel frame pools against simulated physical
// memory and exercises them from the host.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/u0733159/MP2/kernel/kfmt"
	"github.com/u0733159/MP2/kernel/mm"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[poolsim] error: %s\n", err.Error())
		os.Exit(1)
	}
}

func newApp() *cli.App {
	poolFlag := &cli.StringFlag{
		Name:    "pool",
		Aliases: []string{"p"},
		Value:   "process",
		Usage:   "the name of the pool to exercise",
	}

	return &cli.App{
		Name:  "poolsim",
		Usage: "boot frame pools against simulated physical memory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{envVarPrefix + "_CONFIG_FILE"},
				Usage:   "YAML file describing the memory layout; the kernel boot layout is used if empty",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "suppress kernel diagnostics",
			},
		},
		Commands: []*cli.Command{{
			Name:  "layout",
			Usage: "boot the pools and print their state",
			Action: withMachine(func(ctx *cli.Context, m *machine) error {
				printLayout(ctx, m)
				return nil
			}),
		}, {
			Name:  "drain",
			Usage: "allocate every free frame of a pool and verify first-fit ordering",
			Flags: []cli.Flag{poolFlag},
			Action: withMachine(func(ctx *cli.Context, m *machine) error {
				pool, err := m.pool(ctx.String(poolFlag.Name))
				if err != nil {
					return err
				}

				report, err := drain(pool)
				if err != nil {
					return errors.Wrapf(err, "draining pool %q", ctx.String(poolFlag.Name))
				}

				fmt.Fprintf(
					ctx.App.Writer,
					"drained %d frames from pool %q: first %d, last %d\n",
					report.Allocated,
					ctx.String(poolFlag.Name),
					report.FirstFrame,
					report.LastFrame,
				)
				return nil
			}),
		}, {
			Name:  "churn",
			Usage: "allocate and release frames from concurrent workers",
			Flags: []cli.Flag{
				poolFlag,
				&cli.IntFlag{Name: "workers", Value: 8, Usage: "number of concurrent workers"},
				&cli.IntFlag{Name: "rounds", Value: 10000, Usage: "allocations per worker"},
			},
			Action: withMachine(func(ctx *cli.Context, m *machine) error {
				pool, err := m.pool(ctx.String(poolFlag.Name))
				if err != nil {
					return err
				}

				workers, rounds := ctx.Int("workers"), ctx.Int("rounds")
				if workers <= 0 || rounds < 0 {
					return errors.Errorf("invalid churn parameters: workers=%d, rounds=%d", workers, rounds)
				}

				if err := churn(pool, workers, rounds); err != nil {
					return errors.Wrapf(err, "churning pool %q", ctx.String(poolFlag.Name))
				}

				fmt.Fprintf(ctx.App.Writer, "churned %d frames across %d workers; free count restored to %d\n",
					workers*rounds, workers, pool.FreeCount())
				return nil
			}),
		}},
	}
}

// withMachine loads the configuration, boots a machine and hands it to fn,
// tearing the machine down afterwards.
func withMachine(fn func(*cli.Context, *machine) error) cli.ActionFunc {
	return func(ctx *cli.Context) (err error) {
		cfg, err := LoadConfig(ctx.String("config"))
		if err != nil {
			return err
		}

		if ctx.Bool("quiet") {
			kfmt.SetOutputSink(io.Discard)
		} else {
			kfmt.SetOutputSink(&kfmt.PrefixWriter{Sink: ctx.App.Writer, Prefix: []byte("kernel: ")})
		}
		defer kfmt.SetOutputSink(nil)

		m, err := boot(cfg)
		if err != nil {
			return errors.Wrap(err, "booting frame pools")
		}
		defer func() {
			if shutdownErr := m.shutdown(); shutdownErr != nil && err == nil {
				err = errors.Wrap(shutdownErr, "shutting down")
			}
		}()

		return fn(ctx, m)
	}
}

func printLayout(ctx *cli.Context, m *machine) {
	fmt.Fprintf(ctx.App.Writer, "physical memory: frames %d-%d\n",
		m.mem.StartFrame(), m.mem.StartFrame()+mm.Frame(m.mem.FrameCount())-1)
	fmt.Fprintf(ctx.App.Writer, "%-10s %8s %8s %8s %8s\n", "pool", "base", "frames", "info", "free")
	for _, name := range m.names {
		pool := m.pools[name]
		fmt.Fprintf(
			ctx.App.Writer,
			"%-10s %8d %8d %8d %8d\n",
			name,
			pool.BaseFrame(),
			pool.FrameCount(),
			pool.InfoFrame(),
			pool.FreeCount(),
		)
	}
}

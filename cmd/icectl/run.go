package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/icectl/internal/comm"
	"github.com/danmuck/icectl/internal/config"
	"github.com/danmuck/icectl/internal/field"
	"github.com/danmuck/icectl/internal/grid"
	"github.com/danmuck/icectl/internal/logging"
	"github.com/danmuck/icectl/internal/model"
	"github.com/danmuck/icectl/internal/pio"
	"github.com/danmuck/icectl/internal/server"
	"github.com/danmuck/icectl/internal/vec"
)

type runOptions struct {
	configPath string
	ranks      int
	output     string
	adminAddr  string
	linger     time.Duration
}

// fieldSummary is rank 0's view of one registered field after the run.
type fieldSummary struct {
	Name    string
	Min     float64
	Max     float64
	Sum     float64
	Writing bool
}

type runResult struct {
	Path    string
	Written []string
	Fields  []fieldSummary
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the configured fields and write them to a pio file",
		Long: `Run starts one goroutine per rank, builds every configured field on the
shared grid, registers it, locks the registry and writes the output set.

Flags override the matching keys of the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveRunConfig(cmd, opts)
			if err != nil {
				return err
			}
			if !logging.SetLevel(cfg.LogLevel) {
				log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping default")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var admin *server.Admin
			if cfg.AdminAddr != "" {
				admin = server.New("icectl", cfg.AdminAddr)
				if _, err := admin.Start(); err != nil {
					return fmt.Errorf("admin server: %w", err)
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = admin.Shutdown(shutdownCtx)
				}()
			}

			res, err := runModel(ctx, cfg, admin)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), res)

			if admin != nil && opts.linger > 0 {
				log.Info().Dur("linger", opts.linger).Msg("run finished, admin server stays up")
				select {
				case <-ctx.Done():
				case <-time.After(opts.linger):
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "run config (TOML); defaults apply when omitted")
	cmd.Flags().IntVarP(&opts.ranks, "ranks", "n", 0, "number of ranks")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output pio file")
	cmd.Flags().StringVar(&opts.adminAddr, "admin", "", "serve /health, /metrics and /vars on this address")
	cmd.Flags().DurationVar(&opts.linger, "linger", 0, "keep the admin server up this long after the run")
	return cmd
}

func resolveRunConfig(cmd *cobra.Command, opts runOptions) (config.RunConfig, error) {
	cfg := config.DefaultRunConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadRunConfig(opts.configPath)
		if err != nil {
			return config.RunConfig{}, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("ranks") {
		cfg.Ranks = opts.ranks
	}
	if flags.Changed("output") {
		cfg.Output = opts.output
	}
	if flags.Changed("admin") {
		cfg.AdminAddr = opts.adminAddr
	}
	if err := config.ValidateRunConfig(cfg); err != nil {
		return config.RunConfig{}, err
	}
	return cfg, nil
}

// runModel executes one run over cfg.Ranks ranks and returns rank 0's result.
// admin may be nil.
func runModel(ctx context.Context, cfg config.RunConfig, admin *server.Admin) (runResult, error) {
	params, err := cfg.Grid.Params()
	if err != nil {
		return runResult{}, err
	}
	factories := model.DefaultFactories()
	for i, fc := range cfg.Fields {
		if _, ok := factories.Resolve(fc.Kind); !ok {
			return runResult{}, fmt.Errorf("fields[%d]: %w: %q", i, model.ErrUnknownFactory, fc.Kind)
		}
	}

	capture := logging.StartCapture()
	defer capture.Stop()

	runLog := capture.Logger()
	commCfg := cfg.Comm()
	commCfg.Logger = &runLog

	res := runResult{Path: cfg.Output}
	err = comm.Run(ctx, cfg.Ranks, commCfg, func(ctx context.Context, c *comm.Comm) error {
		g, err := grid.New(c, params)
		if err != nil {
			return err
		}
		md := model.NewModelData(g, model.WithLogger(*c.Logger()))
		defer md.Vecs.Destroy()

		shared, err := populate(ctx, md, factories, cfg.Fields)
		defer func() {
			for _, f := range shared {
				f.Destroy()
			}
		}()
		if err != nil {
			return err
		}
		md.Vecs.Lock()
		if c.IsRoot() {
			c.Logger().Info().Int("fields", md.Vecs.Len()).Strs("writing", md.Vecs.WriteSet()).Msg("registry locked")
			if admin != nil {
				admin.Publish(md.Vecs)
			}
		}

		summaries, err := summarize(ctx, md.Vecs)
		if err != nil {
			return err
		}
		written, err := writeOutput(ctx, md, cfg, capture)
		if err != nil {
			return err
		}
		if c.IsRoot() {
			res.Fields = summaries
			res.Written = written
		}
		return nil
	})
	if err != nil {
		return runResult{}, err
	}
	return res, nil
}

// populate builds, fills and registers every configured field in order. It
// returns the shared fields, which stay owned by the caller.
func populate(ctx context.Context, md *model.ModelData, factories *model.Factories, entries []config.FieldConfig) ([]*field.Field, error) {
	var shared []*field.Field
	for _, fc := range entries {
		f, err := factories.Create(md.Grid, fc.Kind)
		if err != nil {
			return shared, err
		}
		if err := fill(ctx, f, fc); err != nil {
			f.Destroy()
			return shared, fmt.Errorf("fill %s: %w", fc.Kind, err)
		}

		var opts []model.AddOption
		if fc.Name != "" {
			// records in the output file are keyed by metadata name
			f.Metadata().SetName(fc.Name)
			opts = append(opts, model.WithName(fc.Name))
		}
		if fc.Write {
			opts = append(opts, model.Writing())
		}
		if fc.Shared {
			opts = append(opts, model.Shared())
		}
		if err := md.Vecs.Add(f, opts...); err != nil {
			f.Destroy()
			return shared, err
		}
		if fc.Shared {
			shared = append(shared, f)
		}
	}
	return shared, nil
}

// fill sets the initial contents of f. Random fills are collective.
func fill(ctx context.Context, f *field.Field, fc config.FieldConfig) error {
	switch {
	case fc.Value != nil:
		f.SetAll(*fc.Value)
		return nil
	case fc.Random > 0:
		return fillRandom(ctx, f, fc.Random)
	default:
		return nil
	}
}

func fillRandom(ctx context.Context, f *field.Field, scale float64) error {
	g := f.Grid()
	var (
		src *field.Field
		err error
	)
	switch f.Dof() {
	case 1:
		src, err = vec.RandVectorS(ctx, g, scale, 0)
	case 2:
		src, err = vec.RandVectorV(ctx, g, scale, 0)
	default:
		return fmt.Errorf("%w: random fill of dof %d", vec.ErrInvalidShape, f.Dof())
	}
	if err != nil {
		return err
	}
	defer src.Destroy()

	return vec.With(ctx, []*field.Field{f}, []*field.Field{src}, func() error {
		for i, j := range g.Points() {
			for k := 0; k < f.Dof(); k++ {
				f.SetK(i, j, k, src.AtK(i, j, k))
			}
		}
		f.IncStateCounter()
		return nil
	}, vec.SyncOnExit())
}

// summarize reduces every registered field. Collective.
func summarize(ctx context.Context, vecs *model.ModelVecs) ([]fieldSummary, error) {
	names := vecs.Keys()
	out := make([]fieldSummary, 0, len(names))
	for _, name := range names {
		f, err := vecs.Get(name)
		if err != nil {
			return nil, err
		}
		lo, hi, err := f.Range(ctx)
		if err != nil {
			return nil, fmt.Errorf("range %s: %w", name, err)
		}
		sum, err := f.Sum(ctx)
		if err != nil {
			return nil, fmt.Errorf("sum %s: %w", name, err)
		}
		out = append(out, fieldSummary{Name: name, Min: lo, Max: hi, Sum: sum, Writing: vecs.IsWriting(name)})
	}
	return out, nil
}

// writeOutput opens cfg.Output with the run's history, writes the output set
// and appends the captured log. Collective. It returns the names written.
func writeOutput(ctx context.Context, md *model.ModelData, cfg config.RunConfig, capture *logging.Capture) ([]string, error) {
	mode := pio.ModeCreate
	if cfg.Append {
		mode = pio.ModeAppend
	}
	out, err := pio.Open(ctx, md.Grid, cfg.Output, mode, pio.WithHistory(cfg.History))
	if err != nil {
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	var names []string
	switch cfg.OutputMode {
	case config.OutputAll:
		names = md.Vecs.Keys()
		err = md.Vecs.WriteAll(ctx, cfg.Output)
	default:
		names = md.Vecs.WriteSet()
		err = md.Vecs.Write(ctx, cfg.Output)
	}
	if err != nil {
		return nil, err
	}

	logOut, err := pio.Open(ctx, md.Grid, cfg.Output, pio.ModeAppend)
	if err != nil {
		return nil, err
	}
	if err := logOut.WriteLog(capture.Lines()); err != nil {
		return nil, errors.Join(err, logOut.Close())
	}
	return names, logOut.Close()
}

func printSummary(w io.Writer, res runResult) {
	fmt.Fprintf(w, "wrote %d field(s) to %s\n", len(res.Written), res.Path)
	for _, s := range res.Fields {
		mark := " "
		if s.Writing {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %-20s min=%-12.6g max=%-12.6g sum=%.6g\n", mark, s.Name, s.Min, s.Max, s.Sum)
	}
}

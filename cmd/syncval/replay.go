package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/syncval/syncval"
)

type replayFlags struct {
	jobs      int
	timeout   time.Duration
	metrics   bool
	traceFile string
}

// outcome is the result of replaying one file. Reports are buffered so
// concurrent replays print in argument order.
type outcome struct {
	path   string
	name   string
	res    *syncval.ScenarioResult
	report bytes.Buffer
	err    error

	// unexpected is set when hazards were reported by a scenario without
	// an expect block.
	unexpected bool
}

func (o *outcome) failed() bool {
	return o.err != nil || o.unexpected
}

func newReplayCmd(g *globalFlags) *cobra.Command {
	var f replayFlags
	cmd := &cobra.Command{
		Use:   "replay FILE...",
		Short: "Replay scenario files and report hazards",
		Long: `Replay each scenario file against a fresh engine and print the hazards it
reports. Scenarios with an expect block pass when the replay matches it;
scenarios without one pass when no hazard is reported.`,
		Example: `  syncval replay examples/frame_loop.yaml
  syncval replay --jobs 4 --metrics examples/*.yaml
  syncval replay --trace spans.json examples/frame_loop.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if f.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, f.timeout)
				defer cancel()
			}
			tp, shutdown, err := openTracing(f.traceFile)
			if err != nil {
				return err
			}
			rerr := replayFiles(ctx, cmd.OutOrStdout(), args, cfg, logger, tp, f)
			if err := shutdown(context.Background()); err != nil && rerr == nil {
				rerr = fmt.Errorf("write trace: %w", err)
			}
			return rerr
		},
	}
	cmd.Flags().IntVarP(&f.jobs, "jobs", "j", 0, "scenarios replayed concurrently (0 = one per file)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "limit for the whole replay (0 = none)")
	cmd.Flags().BoolVar(&f.metrics, "metrics", false, "print engine metrics after each scenario")
	cmd.Flags().StringVar(&f.traceFile, "trace", "", "write engine spans as JSON to this file")
	return cmd
}

func replayFiles(ctx context.Context, out io.Writer, paths []string, cfg syncval.Config, logger *slog.Logger, tp trace.TracerProvider, f replayFlags) error {
	outcomes := make([]*outcome, len(paths))
	var g errgroup.Group
	if f.jobs > 0 {
		g.SetLimit(f.jobs)
	}
	for i, path := range paths {
		o := &outcome{path: path, name: path}
		outcomes[i] = o
		g.Go(func() error {
			o.err = replayFile(ctx, o, cfg, logger, tp, f.metrics)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		printOutcome(out, o)
		if o.failed() {
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintf(out, "FAIL (%d of %d scenarios)\n", failed, len(outcomes))
		return errFailed
	}
	fmt.Fprintln(out, "PASS")
	return nil
}

func replayFile(ctx context.Context, o *outcome, cfg syncval.Config, logger *slog.Logger, tp trace.TracerProvider, withMetrics bool) error {
	s, err := syncval.LoadScenario(o.path)
	if err != nil {
		return err
	}
	o.name = s.Name

	reg := prometheus.NewRegistry()
	eng := syncval.New(
		syncval.WithConfig(cfg),
		syncval.WithLogger(logger.With(slog.String("scenario", s.Name))),
		syncval.WithSink(syncval.NewWriterSink(&o.report)),
		syncval.WithMetrics(reg),
		syncval.WithTracerProvider(tp),
	)
	o.res, err = s.Run(ctx, eng)
	if err == nil && s.Expect == nil {
		o.unexpected = o.res.Hazards() > o.res.Stats.Suppressed
	}
	if withMetrics {
		if merr := writeMetrics(&o.report, reg); merr != nil && err == nil {
			err = merr
		}
	}
	return err
}

func printOutcome(w io.Writer, o *outcome) {
	fmt.Fprintf(w, "=== RUN   %s\n", o.name)
	_, _ = w.Write(o.report.Bytes())

	summary := ""
	if o.res != nil {
		summary = fmt.Sprintf(" (%d steps, %d batches, %d hazards)", o.res.Steps, len(o.res.Batches), o.res.Hazards())
	}
	switch {
	case o.err != nil:
		fmt.Fprintf(w, "--- FAIL: %s%s\n    %s\n", o.name, summary, strings.ReplaceAll(o.err.Error(), "\n", "\n    "))
	case o.unexpected:
		fmt.Fprintf(w, "--- FAIL: %s%s\n    hazards reported and none expected\n", o.name, summary)
	default:
		fmt.Fprintf(w, "--- PASS: %s%s\n", o.name, summary)
	}
}

// writeMetrics prints counters and gauges in "name{label=value} v" form.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			default:
				continue
			}
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			sort.Strings(labels)
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			fmt.Fprintf(w, "    %s %g\n", name, v)
		}
	}
	return nil
}

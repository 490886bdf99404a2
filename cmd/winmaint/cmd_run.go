package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"winmaint/internal/events"
	"winmaint/internal/host"
	"winmaint/internal/runner"
	"winmaint/internal/script"
)

type runFlags struct {
	all     bool
	undo    bool
	filter  listFilter
	onHang  string
	timeout time.Duration
}

func newRunCmd(load loader) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [script names...]",
		Short: "Run scripts in the given order",
		Long: `Run executes the named scripts one after another. With --all it runs
every script that passes the filters, ordered by name. With --undo it runs
only the Undo action of each script instead of the configured capabilities.

When an action runs longer than the timeout you are asked whether to kill it
or let it continue; --on-hang answers for you.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			scripts, err := selectScripts(a, args, f)
			if err != nil {
				return err
			}

			onHang, err := hangHandler(f.onHang, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}

			timeout := a.cfg.timeout
			if cmd.Flags().Changed("timeout") {
				timeout = f.timeout
			}

			opts := runner.Options{
				Config: runner.Config{
					Timeout:      timeout,
					OnHang:       onHang,
					Capabilities: runCapabilities(a.cfg, f.undo),
					Language:     a.cfg.Execution.Language,
				},
				Bus: events.NewBus(a.logger),
			}
			if db, err := a.openStore(); err != nil {
				a.logger.Warn("history unavailable, run will not be recorded", "err", err)
			} else {
				opts.Estimator = db
				opts.Recorder = db
			}

			out := cmd.OutOrStdout()
			opts.Bus.OnAll(progressPrinter(out, scripts, a.cfg.Execution.Language))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			run := runner.NewRun(scripts, a.hosts, opts, a.logger)
			sum, err := run.Execute(ctx)
			if err != nil {
				return err
			}
			printSummary(out, sum, a.cfg.Execution.Language)
			return summaryError(sum)
		},
	}
	cmd.Flags().BoolVar(&f.all, "all", false, "run every script that passes the filters")
	cmd.Flags().BoolVar(&f.undo, "undo", false, "run only the Undo action of each script")
	cmd.Flags().StringVar(&f.filter.category, "category", "", "with --all, only scripts in this category")
	cmd.Flags().StringVar(&f.filter.safety, "safety", "", "with --all, only scripts with this safety level")
	cmd.Flags().StringVar(&f.filter.osVersion, "os-version", "", "skip scripts that do not apply to this OS version")
	cmd.Flags().StringVar(&f.onHang, "on-hang", "ask", "answer to hang prompts: ask, kill or keep_running")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "hang-check interval per action (overrides execution.timeout)")
	return cmd
}

func selectScripts(a *app, names []string, f runFlags) ([]*script.Script, error) {
	if f.all && len(names) > 0 {
		return nil, fmt.Errorf("--all and script names are mutually exclusive")
	}
	var scripts []*script.Script
	if f.all {
		scripts = a.scripts.Scripts()
	} else {
		for _, name := range names {
			s, ok := a.scripts.Get(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s", errUnknownScript, name)
			}
			scripts = append(scripts, s)
		}
	}
	scripts, err := f.filter.apply(scripts)
	if err != nil {
		return nil, err
	}
	if f.undo {
		undoable := scripts[:0:0]
		for _, s := range scripts {
			if _, ok := s.Action(script.Undo); ok {
				undoable = append(undoable, s)
			} else if !f.all {
				return nil, fmt.Errorf("%s has no Undo action", s.InvariantName)
			}
		}
		scripts = undoable
	}
	if len(scripts) == 0 {
		return nil, fmt.Errorf("no scripts to run")
	}
	return scripts, nil
}

func runCapabilities(cfg *Config, undo bool) []script.Capability {
	if undo {
		return []script.Capability{script.Undo}
	}
	return cfg.capabilities
}

func hangHandler(mode string, in io.Reader, out io.Writer) (host.HangFunc, error) {
	if mode == "ask" {
		p := &hangPrompter{in: in, out: out}
		return p.ask, nil
	}
	d, err := host.ParseHangDecision(mode)
	if err != nil {
		return nil, fmt.Errorf("--on-hang: %w", err)
	}
	return func(context.Context, string) host.HangDecision { return d }, nil
}

// hangPrompter asks on out and reads answers from in. A single goroutine
// owns the reader so an abandoned prompt does not swallow the next answer.
type hangPrompter struct {
	in    io.Reader
	out   io.Writer
	once  sync.Once
	lines chan string
}

func (p *hangPrompter) ask(ctx context.Context, name string) host.HangDecision {
	p.once.Do(func() {
		p.lines = make(chan string)
		go func() {
			sc := bufio.NewScanner(p.in)
			for sc.Scan() {
				p.lines <- sc.Text()
			}
			close(p.lines)
		}()
	})

	for {
		fmt.Fprintf(p.out, "%s is taking longer than expected. [k]ill or [c]ontinue? ", name)
		select {
		case <-ctx.Done():
			fmt.Fprintln(p.out)
			return host.KeepRunning
		case line, ok := <-p.lines:
			if !ok {
				fmt.Fprintln(p.out)
				return host.KeepRunning
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "k", "kill":
				return host.Kill
			case "", "c", "continue":
				return host.KeepRunning
			}
		}
	}
}

func progressPrinter(out io.Writer, scripts []*script.Script, lang string) events.Handler {
	names := make(map[string]string, len(scripts))
	for _, s := range scripts {
		names[s.InvariantName] = s.Name(lang)
	}
	return func(e events.Event) {
		switch e.Type {
		case events.ScriptStarted:
			p, _ := e.Data.(runner.ScriptProgress)
			fmt.Fprintf(out, "[%d/%d] %s (remaining %s)\n", p.Index+1, p.Total, names[p.Script], p.Remaining)
		case events.ScriptFinished:
			p, _ := e.Data.(runner.ScriptProgress)
			line := fmt.Sprintf("      %s in %s", p.Outcome, p.Elapsed.Round(time.Millisecond))
			if p.Error != "" {
				line += ": " + p.Error
			}
			fmt.Fprintln(out, line)
		}
	}
}

func printSummary(out io.Writer, sum runner.Summary, lang string) {
	fmt.Fprintf(out, "\nRun %s %s in %s\n", sum.ID, sum.State, sum.Elapsed.Round(time.Millisecond))
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Script", "Outcome", "Elapsed", "Hangs"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	for _, rec := range sum.Records {
		outcome, elapsed := "not run", "-"
		if rec.Outcome != nil {
			outcome = rec.Outcome.String()
		}
		if rec.Elapsed != nil {
			elapsed = rec.Elapsed.Round(time.Millisecond).String()
		}
		table.Append([]string{rec.Script.Name(lang), outcome, elapsed, fmt.Sprint(rec.HangEvents)})
	}
	table.Render()
}

// summaryError turns an unsuccessful run into a non-zero exit.
func summaryError(sum runner.Summary) error {
	if sum.State != runner.Completed {
		return fmt.Errorf("run %s", sum.State)
	}
	failed := 0
	for _, rec := range sum.Records {
		if rec.Outcome == nil || *rec.Outcome != runner.Succeeded {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scripts did not succeed", failed, len(sum.Records))
	}
	return nil
}

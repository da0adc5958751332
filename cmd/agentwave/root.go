package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rendis/agentwave/internal/diagram"
	"github.com/rendis/agentwave/internal/engine"
	"github.com/rendis/agentwave/internal/panel"
	"github.com/rendis/agentwave/internal/scheduler"
	"github.com/rendis/agentwave/internal/service"
	"github.com/rendis/agentwave/internal/telemetry"
	agentmcp "github.com/rendis/agentwave/pkg/mcp"
)

// globalFlags override the loaded configuration.
type globalFlags struct {
	logLevel string
	dbPath   string
	mode     string
	noColor  bool
}

func (f *globalFlags) config() Config {
	cfg := loadConfig()
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.dbPath != "" {
		cfg.DBPath = f.dbPath
	}
	if f.mode != "" {
		cfg.Mode = f.mode
	}
	if f.noColor {
		color.NoColor = true
	}
	return cfg
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "agentwave",
		Short: "Run DAGs of agents in dependency waves",
		Long: `agentwave executes plans of agents grouped into waves. Agents inside a
wave run concurrently under a shared permit pool, each gated by a
confidence check, with failures classified and retried or skipped.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flags.dbPath, "db", "", "database path (default: ~/.agentwave/agentwave.db)")
	pf.StringVar(&flags.mode, "mode", "", "execution mode: partial or fail_fast")
	pf.BoolVar(&flags.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(
		newRunCommand(flags),
		newDefineCommand(flags),
		newValidateCommand(flags),
		newDiagramCommand(flags),
		newAgentsCommand(flags),
		newServeCommand(flags),
		newVersionCommand(),
	)
	return cmd
}

func newRunCommand(flags *globalFlags) *cobra.Command {
	var (
		vars     []string
		template string
		tplVer   int
		asJSON   bool
		outputs  bool
	)

	cmd := &cobra.Command{
		Use:   "run [plan-file]",
		Short: "Execute a plan file or a stored template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (template == "") {
				return errors.New("give either a plan file or --template")
			}
			variables, err := parseVars(vars)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, flags.config(), cmd.ErrOrStderr(), template != "")
			if err != nil {
				return err
			}
			defer a.Close()

			var (
				res    *engine.RunResult
				runErr error
			)
			if template != "" {
				res, runErr = a.svc.RunTemplate(ctx, template, tplVer, variables)
			} else {
				def, err := service.LoadDefinition(args[0])
				if err != nil {
					return err
				}
				res, runErr = a.svc.RunDefinition(ctx, def, variables)
			}
			if res == nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printRunSummary(out, res, runErr)
				if outputs {
					printOutputs(out, res)
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "context variable key=value (repeatable)")
	cmd.Flags().StringVar(&template, "template", "", "run a stored template instead of a file")
	cmd.Flags().IntVar(&tplVer, "template-version", 0, "template version (default: latest)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")
	cmd.Flags().BoolVar(&outputs, "outputs", false, "print every agent output after the summary")
	return cmd
}

func newDefineCommand(flags *globalFlags) *cobra.Command {
	var (
		description string
		cronExpr    string
		vars        []string
	)

	cmd := &cobra.Command{
		Use:   "define <plan-file>",
		Short: "Store a plan as the next version of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			variables, err := parseVars(vars)
			if err != nil {
				return err
			}
			def, err := service.LoadDefinition(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), flags.config(), cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := scheduler.New(a.store, a.svc, 0, a.logger)
			if cronExpr != "" {
				if _, err := sched.NextRun(cronExpr, time.Now()); err != nil {
					return err
				}
			}

			tpl, err := a.svc.Define(cmd.Context(), def, description)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "defined %s v%d\n", tpl.Name, tpl.Version)

			if cronExpr == "" {
				return nil
			}
			s, err := sched.Add(cmd.Context(), tpl.Name, 0, cronExpr, variables)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s (%s), next run %s\n",
				s.ID, s.CronExpression, s.NextRunAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "template description")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "run the latest version on this cron schedule")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "scheduled run variable key=value (repeatable)")
	return cmd
}

func newValidateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan-file>...",
		Short: "Validate one or more plan files",
		Long: `Parse and validate plan files, checking for:
  - document structure against the plan schema
  - duplicate node IDs and unregistered agents
  - unknown, self and circular dependencies
  - explicit waves that break dependency order

Exit code: 0 if every file is valid, 1 otherwise`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags.config(), cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			invalid := 0
			for _, path := range args {
				def, err := service.LoadDefinition(path)
				if err != nil {
					color.New(color.FgRed).Fprintf(cmd.OutOrStdout(), "✗ %v\n", err)
					invalid++
					continue
				}
				result := a.svc.Validate(def)
				printValidation(cmd.OutOrStdout(), path, result)
				if !result.Valid() {
					invalid++
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d plan(s) invalid", invalid, len(args))
			}
			return nil
		},
	}
}

func newDiagramCommand(flags *globalFlags) *cobra.Command {
	var (
		format  string
		execute bool
	)

	cmd := &cobra.Command{
		Use:   "diagram <plan-file>",
		Short: "Draw a plan as Mermaid or ASCII",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "mermaid" && format != "ascii" {
				return fmt.Errorf("format must be mermaid or ascii, got %q", format)
			}
			a, err := newApp(cmd.Context(), flags.config(), cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			def, err := service.LoadDefinition(args[0])
			if err != nil {
				return err
			}
			if err := a.svc.Validate(def).ToError(); err != nil {
				return err
			}
			plan, dag, err := service.Compile(def, a.svc.Registry())
			if err != nil {
				return err
			}

			var res *engine.RunResult
			if execute {
				res, _ = a.svc.Executor().Run(cmd.Context(), plan, dag, nil)
			}

			model := diagram.Build(def.Name, plan, dag, res)
			if format == "ascii" {
				fmt.Fprint(cmd.OutOrStdout(), diagram.RenderASCII(model))
			} else {
				fmt.Fprint(cmd.OutOrStdout(), diagram.RenderMermaid(model))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "mermaid", "output format: mermaid or ascii")
	cmd.Flags().BoolVar(&execute, "run", false, "execute the plan and overlay node status")
	return cmd
}

func newAgentsCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List registered agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), flags.config(), cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tVERSION\tCONFIDENCE\tDESCRIPTION")
			for _, m := range a.svc.Agents() {
				fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", m.ID, m.Version, m.BaseConfidence, m.Description)
			}
			return tw.Flush()
		},
	}
}

func newServeCommand(flags *globalFlags) *cobra.Command {
	var noMCP bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server, the scheduler and the HTTP API",
		Long: `serve speaks MCP over stdio, runs due cron schedules and serves the
HTTP API (JSON, Server-Sent Events and Prometheus /metrics) on http_addr.
With --no-mcp it runs headless until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := flags.config()
			a, err := newApp(ctx, cfg, cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			go a.logEvents(ctx)
			go a.plugins.Watch(ctx, 30*time.Second)

			sched := scheduler.New(a.store, a.svc, cfg.scheduleInterval(), a.logger)
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = sched.Stop() }()

			if cfg.HTTPAddr != "" {
				srv := httpServer(cfg.HTTPAddr, a)
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("http server failed", "addr", cfg.HTTPAddr, "error", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				a.logger.Info("http api listening", "addr", cfg.HTTPAddr)
			}

			if noMCP {
				<-ctx.Done()
				return nil
			}

			agentmcp.Version = version
			server := agentmcp.NewServer(agentmcp.ServerDeps{
				Service:   a.svc,
				Scheduler: sched,
				Hub:       a.hub,
				Logger:    a.logger,
			})
			return server.Serve(ctx)
		},
	}

	cmd.Flags().BoolVar(&noMCP, "no-mcp", false, "skip the stdio MCP server")
	return cmd
}

// httpServer serves the panel API with Prometheus metrics mounted on it.
func httpServer(addr string, a *app) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		telemetry.NewCollector(a.svc.Executor()),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	api := panel.NewServer(panel.Deps{
		Service: a.svc,
		Hub:     a.hub,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Logger:  a.logger,
	})
	return &http.Server{Addr: addr, Handler: api.Handler(), ReadHeaderTimeout: 5 * time.Second}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// parseVars turns key=value pairs into a variables map.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q, want key=value", p)
		}
		vars[k] = v
	}
	return vars, nil
}

// Command kitrun runs launcher scripts from a terminal: interactively,
// answering prompts from stdin, or headless with every prompt declined.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kitrun/kitrun"
	"github.com/kitrun/kitrun/config"
	"github.com/kitrun/kitrun/engine"
	"github.com/kitrun/kitrun/protocol"
	"github.com/kitrun/kitrun/registry"
	"github.com/kitrun/kitrun/router"
	"github.com/kitrun/kitrun/scripts"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kitrun: %v\n", err)
		os.Exit(1)
	}
}

// app carries the wired-up state shared by subcommands.
type app struct {
	cfg config.Config
	log *slog.Logger
	reg *registry.Registry
}

func newRootCmd() *cobra.Command {
	var configPath string
	var logLevel string
	a := &app{}

	root := &cobra.Command{
		Use:           "kitrun",
		Short:         "Run launcher scripts and their prompt protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = config.DefaultPath()
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			a.cfg = cfg
			a.log = newLogger(cfg.LogLevel)

			reg, err := registry.Open(cfg.RegistryPath, registry.WithLogger(a.log))
			if err != nil {
				return err
			}
			// Recover orphans from a previous crash before any spawn.
			reg.Reconcile()
			a.reg = reg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+config.DefaultPath()+")")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn, or error")

	root.AddCommand(newRunCmd(a), newPsCmd(a), newCleanCmd(a), newScriptsCmd(a))
	return root
}

func newLogger(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}

func (a *app) newEngine() *engine.Engine {
	opts := append(a.cfg.EngineOptions(), engine.WithLogger(a.log))
	return engine.New(a.reg, opts...)
}

// resolveScript accepts a path to a script file or the name of a script
// in the configured scripts directory.
func (a *app) resolveScript(arg string) (kitrun.Script, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return kitrun.Script{}, err
		}
		return scripts.Load(abs), nil
	}

	all, err := scripts.Scan(a.cfg.ScriptsDir)
	if err != nil {
		return kitrun.Script{}, err
	}
	for _, s := range all {
		stem := strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path))
		if s.Name == arg || stem == arg {
			return s, nil
		}
	}
	return kitrun.Script{}, fmt.Errorf("script %q not found in %s", arg, a.cfg.ScriptsDir)
}

func newRunCmd(a *app) *cobra.Command {
	var batch bool

	cmd := &cobra.Command{
		Use:   "run <script> [args...]",
		Short: "Run a script, routing its prompts to the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := a.resolveScript(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng := a.newEngine()
			if batch {
				return kitrun.RunScript(ctx, eng, script, nil, args[1:]...)
			}
			return runInteractive(ctx, eng, script, args[1:]...)
		},
	}
	cmd.Flags().BoolVarP(&batch, "batch", "b", false, "decline every prompt instead of asking")
	return cmd
}

// runInteractive drives the session through the router, rendering prompts
// on stdout and reading answers from stdin. An empty answer declines the
// prompt.
func runInteractive(ctx context.Context, eng *engine.Engine, script kitrun.Script, args ...string) error {
	ch, err := eng.Start(ctx, script, args...)
	if err != nil {
		return err
	}
	r := router.New(ch, eng)
	stdin := bufio.NewReader(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			r.Stop(context.Background())
			return ctx.Err()

		case ev, open := <-r.Events():
			if !open {
				return nil
			}
			switch ev.Kind {
			case router.EventPrompt:
				renderPrompt(ev.Prompt)
				line, rerr := stdin.ReadString('\n')
				if rerr != nil {
					r.Stop(context.Background())
					continue
				}
				answer := strings.TrimRight(line, "\n")
				if answer == "" {
					r.Cancel()
				} else if serr := r.Submit(answer); serr != nil {
					fmt.Fprintf(os.Stderr, "answer not delivered: %v\n", serr)
				}

			case router.EventNotice:
				fmt.Printf("[%s] %s\n", ev.Notice.Title, ev.Notice.Body)

			case router.EventEnded:
				if ev.Code != 0 {
					return fmt.Errorf("script exited with code %d: %s", ev.Code, ev.Message)
				}
				return nil
			}
		}
	}
}

func renderPrompt(p protocol.PromptMessage) {
	switch p.Type {
	case protocol.KindArg:
		fmt.Printf("? %s ", orDefault(p.Arg.Placeholder, "input"))
	case protocol.KindSelect:
		for i, c := range p.Select.Choices {
			fmt.Printf("  %d) %s\t%s\n", i+1, c.Name, c.Description)
		}
		fmt.Printf("? %s ", orDefault(p.Select.Placeholder, "choose"))
	case protocol.KindEnv:
		fmt.Printf("? value for %s ", p.Env.Key)
	case protocol.KindPath:
		fmt.Printf("? path (from %s) ", orDefault(p.Path.StartDir, "."))
	case protocol.KindDiv:
		fmt.Println(p.Div.HTML)
		fmt.Print("? ")
	default:
		fmt.Printf("? [%s] ", p.Type)
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func newPsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List tracked script processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := a.reg.Snapshot()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PID\tSTARTED\tSCRIPT")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\n", e.PID, e.StartedAt.Format("15:04:05"), e.ScriptPath)
			}
			return w.Flush()
		},
	}
}

func newCleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Kill orphaned script processes and reset the table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			killed, purged := a.reg.Reconcile()
			fmt.Fprintf(cmd.OutOrStdout(), "killed %d, purged %d\n", killed, purged)
			return nil
		},
	}
}

func newScriptsCmd(a *app) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "scripts",
		Short: "List discovered scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := scripts.Scan(a.cfg.ScriptsDir)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, s := range all {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Description, s.Path)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			watcher, err := scripts.Watch(a.cfg.ScriptsDir, scripts.WithWatchLogger(a.log))
			if err != nil {
				return err
			}
			defer watcher.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, open := <-watcher.Events():
					if !open {
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ev.Op, ev.Path)
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and print changes")
	return cmd
}

// Command fineu drives the FINE U level engine and user record store from a terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/fineu/fineu-core/internal/errors"
	"github.com/fineu/fineu-core/pkg/logger"
	"github.com/fineu/fineu-core/pkg/metrics"
)

const closeTimeout = 5 * time.Second

// cli carries the global flags and the app opened by the running command.
type cli struct {
	configPath string
	lang       string

	ctx context.Context
	app *app
}

type runFunc func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fineu",
		Short: "FINE U level engine and user record store",
		Long: `fineu manages the signed-in user of a FINE U installation.

Experience moves the user up a ladder of seven tiers (YELLOW to RED), each unlocking
more of the product. Per-user records are stored obfuscated and fingerprinted in the
configured key-value backend (memory, redis or sqlite).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file (default: ./configs/<env>.yaml)")
	root.PersistentFlags().StringVar(&c.lang, "lang", "", "Message language, overrides the config")

	root.AddCommand(c.loginCmd())
	root.AddCommand(c.logoutCmd())
	root.AddCommand(c.statusCmd())
	root.AddCommand(c.grantCmd())
	root.AddCommand(c.setLevelCmd())
	root.AddCommand(c.levelsCmd())
	root.AddCommand(c.accessCmd())
	root.AddCommand(c.recordsCmd())
	root.AddCommand(c.checkCmd())
	root.AddCommand(c.watchCmd())
	root.AddCommand(c.healthCmd())

	return root
}

// run opens the app for the command and tags the invocation with a correlation id.
func (c *cli) run(fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, id := logger.WithCorrelationID(cmd.Context())
		c.ctx = ctx

		a, err := newApp(ctx, c.configPath, c.lang, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		c.app = a

		a.log.DebugContext(ctx, "command started",
			slog.String("command", cmd.CommandPath()),
			slog.String("correlation_id", id))
		return fn(ctx, a, cmd, args)
	}
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{ctx: ctx}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteContextC(ctx)

	name := "fineu"
	if cmd != nil {
		name = cmd.Name()
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordCommand(name, status)

	code := 0
	if err != nil {
		code = 1
		c.report(err, stderr)
	}

	if c.app != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := c.app.close(closeCtx); cerr != nil {
			fmt.Fprintln(stderr, cerr)
		}
	}
	return code
}

func (c *cli) report(err error, stderr io.Writer) {
	if c.app == nil {
		// Nothing is wired yet: usage or configuration errors.
		fmt.Fprintln(stderr, "error:", err)
		return
	}

	appErr := apperrors.Classify(err)
	metrics.RecordError(appErr.Code, string(appErr.Severity))
	fmt.Fprintf(stderr, "error [%s]: %s\n", appErr.Code, c.app.errors.Handle(c.ctx, err))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

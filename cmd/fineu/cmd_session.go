package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fineu/fineu-core/internal/domain"
	"github.com/fineu/fineu-core/internal/session"
)

func (c *cli) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <user-id>",
		Short: "Sign a user in",
		Long: `Makes <user-id> the active user of this installation.

The user's stored record is loaded, or created with the starting balances, and its
level and experience become the session state.`,
		Args: cobra.ExactArgs(1),
		RunE: c.run(runLogin),
	}
}

func runLogin(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	userID := strings.TrimSpace(args[0])
	if err := domain.ValidateUserID(userID); err != nil {
		return err
	}

	previous, signedIn := a.session.Snapshot()
	if err := signIn(ctx, a, userID); err != nil {
		restoreSession(ctx, a, previous, signedIn)
		return err
	}

	def := a.engine.CurrentLevel()
	fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s, %d exp)\n", userID, def.DisplayName, a.engine.CurrentExperience())
	return nil
}

func signIn(ctx context.Context, a *app, userID string) error {
	// The store only serves the active user, so the id goes in first.
	if err := a.engine.ForceReplaceSession(ctx, domain.UserRecord{ID: userID}); err != nil {
		return err
	}

	rec, err := a.store.Load(ctx, userID)
	if err != nil {
		return err
	}
	if err := a.store.Save(ctx, userID, rec); err != nil {
		return err
	}
	return a.engine.ForceReplaceSession(ctx, rec)
}

// restoreSession puts back whoever was signed in before a failed login.
func restoreSession(ctx context.Context, a *app, previous domain.UserRecord, signedIn bool) {
	var err error
	if signedIn {
		err = a.engine.ForceReplaceSession(ctx, previous)
	} else {
		err = a.engine.Logout(ctx)
	}
	if err != nil {
		a.log.Error("failed to restore session after failed login", slog.Any("error", err))
	}
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign the active user out",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			userID := a.session.UserID()
			if userID == "" {
				return session.ErrNoSession
			}
			if err := a.engine.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed out %s\n", userID)
			return nil
		}),
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active user's level, experience and capabilities",
		Args:  cobra.NoArgs,
		RunE:  c.run(runStatus),
	}
}

func runStatus(_ context.Context, a *app, cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	userID := a.session.UserID()
	if userID == "" {
		fmt.Fprintln(out, "not signed in")
		return nil
	}

	table := a.engine.Table()
	def := a.engine.CurrentLevel()
	exp := a.engine.CurrentExperience()

	fmt.Fprintf(out, "user:         %s\n", userID)
	fmt.Fprintf(out, "level:        %s\n", def.DisplayName)
	fmt.Fprintf(out, "experience:   %d\n", exp)
	if def.IsTop() {
		fmt.Fprintln(out, "progress:     top tier")
	} else {
		fmt.Fprintf(out, "progress:     %.0f%% (%d to next tier)\n", table.Progress(exp)*100, def.Ceiling-exp)
	}
	fmt.Fprintf(out, "capabilities: %s\n", strings.Join(a.engine.AvailableCapabilities(), ", "))
	return nil
}

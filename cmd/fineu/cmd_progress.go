package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/fineu/fineu-core/internal/errors"
	"github.com/fineu/fineu-core/internal/idempotency"
	"github.com/fineu/fineu-core/internal/level"
	"github.com/fineu/fineu-core/internal/progression"
	"github.com/fineu/fineu-core/internal/session"
)

const grantEventTTL = 24 * time.Hour

func (c *cli) grantCmd() *cobra.Command {
	var event string

	cmd := &cobra.Command{
		Use:   "grant <experience>",
		Short: "Award experience to the active user",
		Long: `Adds a non-negative amount of experience to the active user.

When the new total crosses a tier boundary the level-up notice and the newly
unlocked capabilities are printed. With --event the award is made at most once per
user and event id within a day.`,
		Args: cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return runGrant(ctx, a, cmd, args[0], event)
		}),
	}

	cmd.Flags().StringVar(&event, "event", "", "Award at most once for this event id")
	return cmd
}

func runGrant(ctx context.Context, a *app, cmd *cobra.Command, amount, event string) error {
	delta, err := strconv.ParseInt(amount, 10, 64)
	if err != nil {
		return apperrors.NewValidationError(fmt.Errorf("experience %q is not an integer", amount))
	}

	out := cmd.OutOrStdout()
	grant := func(ctx context.Context) (any, error) {
		return a.engine.GrantExperience(ctx, delta)
	}

	var result progression.Result
	if event == "" {
		if result, err = a.engine.GrantExperience(ctx, delta); err != nil {
			return err
		}
	} else {
		if !a.session.Active() {
			return session.ErrNoSession
		}
		key := idempotency.GenerateKey("grant", a.session.UserID(), event)
		res, err := a.idempotency.Execute(ctx, key, grantEventTTL, grant)
		if err != nil {
			return err
		}
		if res.FromCache {
			fmt.Fprintf(out, "event %s was already awarded\n", event)
			return nil
		}
		if err := json.Unmarshal(res.Response, &result); err != nil {
			return fmt.Errorf("decode grant result: %w", err)
		}
	}

	fmt.Fprintf(out, "+%d exp, total %d (%s)\n", delta, result.Experience, result.Next.DisplayName)

	if !result.LeveledUp {
		return nil
	}
	fmt.Fprintln(out, a.translator.T("notice.level_up.title"))
	fmt.Fprintln(out, a.translator.Format("notice.level_up.body", map[string]string{"level": result.Next.DisplayName}))
	if len(result.Unlocked) > 0 {
		fmt.Fprintln(out, a.translator.Format("notice.unlocked", map[string]string{
			"capabilities": strings.Join(result.Unlocked, ", "),
		}))
	}
	return nil
}

func (c *cli) setLevelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-level <level>",
		Short: "Move the active user to a tier",
		Long:  "Moves the active user to <level> (for example \"green\") and resets experience to that tier's floor.",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			key := strings.ToLower(strings.TrimSpace(args[0]))
			if err := a.engine.SetLevel(ctx, key); err != nil {
				return err
			}
			def := a.engine.CurrentLevel()
			fmt.Fprintf(cmd.OutOrStdout(), "level set to %s (%d exp)\n", def.DisplayName, a.engine.CurrentExperience())
			return nil
		}),
	}
}

func (c *cli) levelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "levels",
		Short: "List the tiers of the ladder",
		Args:  cobra.NoArgs,
		RunE:  c.run(runLevels),
	}
}

func runLevels(_ context.Context, a *app, cmd *cobra.Command, _ []string) error {
	current := ""
	if a.session.Active() {
		current = a.engine.CurrentLevel().Key
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tORDER\tLEVEL\tEXPERIENCE\tUNLOCKS")
	for _, def := range a.engine.Table().Definitions() {
		marker := ""
		if def.Key == current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", marker, def.Order, def.DisplayName, expRange(def), strings.Join(def.Capabilities, ", "))
	}
	return w.Flush()
}

func expRange(def level.Definition) string {
	if def.IsTop() {
		return fmt.Sprintf("%d+", def.Floor)
	}
	return fmt.Sprintf("%d-%d", def.Floor, def.Ceiling-1)
}

func (c *cli) accessCmd() *cobra.Command {
	access := &cobra.Command{
		Use:   "access",
		Short: "Check what the active user may do",
	}

	access.AddCommand(&cobra.Command{
		Use:   "scope <scope>",
		Short: "Check a data access scope (basic, financial, admin or a configured policy)",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			allowed := a.store.HasAccess(ctx, a.session.UserID(), args[0])
			printDecision(cmd, args[0], allowed)
			return nil
		}),
	})

	access.AddCommand(&cobra.Command{
		Use:   "level <level>",
		Short: "Check whether the active tier is at or above <level>",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(_ context.Context, a *app, cmd *cobra.Command, args []string) error {
			printDecision(cmd, args[0], a.engine.HasLevelAccess(strings.ToLower(args[0])))
			return nil
		}),
	})

	access.AddCommand(&cobra.Command{
		Use:   "capability <capability>",
		Short: "Check whether the active tier unlocks <capability>",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(_ context.Context, a *app, cmd *cobra.Command, args []string) error {
			capability := args[0]
			printDecision(cmd, capability, a.engine.IsUnlocked(capability))
			if def, ok := a.engine.RequiredLevelFor(capability); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "requires %s\n", def.DisplayName)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "no tier unlocks it")
			}
			return nil
		}),
	})

	return access
}

func printDecision(cmd *cobra.Command, subject string, allowed bool) {
	verdict := "denied"
	if allowed {
		verdict = "granted"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", subject, verdict)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/fineu/fineu-core/internal/errors"
)

func (c *cli) recordsCmd() *cobra.Command {
	records := &cobra.Command{
		Use:   "records",
		Short: "Inspect and edit stored user records",
		Long: `Reads and writes the obfuscated user_<id> records.

Only the signed-in user's record is reachable; other ids are refused before the
backend is touched.`,
	}

	records.AddCommand(&cobra.Command{
		Use:   "show [user-id]",
		Short: "Print a stored record as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			rec, err := a.store.Load(ctx, targetUser(a, args))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}),
	})

	records.AddCommand(&cobra.Command{
		Use:   "erase [user-id]",
		Short: "Delete a stored record",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			userID := targetUser(a, args)
			if err := a.store.Erase(ctx, userID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "erased %s\n", userID)
			return nil
		}),
	})

	records.AddCommand(&cobra.Command{
		Use:   "set <field=value>...",
		Short: "Change fields of the active user's record",
		Long: `Overrides fields of the active user's record and saves it after validation.

Example:
  fineu records set cash=2500000 totalAssets=2500000`,
		Args: cobra.MinimumNArgs(1),
		RunE: c.run(runRecordsSet),
	})

	return records
}

func runRecordsSet(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	userID := a.session.UserID()

	rec, err := a.store.Load(ctx, userID)
	if err != nil {
		return err
	}

	fields := rec.Fields()
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return apperrors.NewValidationError(fmt.Errorf("expected field=value, got %q", arg))
		}
		fields[name] = parseValue(raw)
	}

	if err := a.store.SaveFields(ctx, userID, fields); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", userID)
	return nil
}

func (c *cli) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the balance integrity check once",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			reset, err := a.store.CheckIntegrity(ctx)
			if err != nil {
				return err
			}
			if !reset {
				fmt.Fprintln(cmd.OutOrStdout(), "integrity ok")
			}
			return nil
		}),
	}
}

// targetUser defaults to the signed-in user.
func targetUser(a *app, args []string) string {
	if len(args) == 1 {
		return strings.TrimSpace(args[0])
	}
	return a.session.UserID()
}

func parseValue(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

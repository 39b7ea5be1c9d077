package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	cfg := fmt.Sprintf(`language: en
logger:
  level: debug
  file: %s
storage:
  driver: sqlite
  sqlite_path: %s
  poll_interval: 20ms
store:
  integrity_interval: 50ms
policies:
  trading: "level_order >= 2"
`, filepath.Join(dir, "fineu.log"), filepath.Join(dir, "fineu.db"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func runCLI(ctx context.Context, cfgPath string, args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := execute(ctx, append([]string{"--config", cfgPath}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func mustRun(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()

	code, stdout, stderr := runCLI(context.Background(), cfgPath, args...)
	require.Equal(t, 0, code, "fineu %v: %s", args, stderr)
	return stdout
}

func TestCLI_LoginGrantStatusLogout(t *testing.T) {
	cfg := writeConfig(t)

	out := mustRun(t, cfg, "login", "alice")
	assert.Contains(t, out, "signed in as alice (YELLOW, 0 exp)")

	out = mustRun(t, cfg, "grant", "2999")
	assert.Contains(t, out, "+2999 exp, total 2999 (YELLOW)")
	assert.NotContains(t, out, "Level up!")

	out = mustRun(t, cfg, "grant", "1")
	assert.Contains(t, out, "+1 exp, total 3000 (ORANGE)")
	assert.Contains(t, out, "Congratulations! You reached ORANGE.")
	assert.Contains(t, out, "Unlocked: market.trade")

	out = mustRun(t, cfg, "status")
	assert.Contains(t, out, "level:        ORANGE")
	assert.Contains(t, out, "experience:   3000")
	assert.Contains(t, out, "market.trade")

	out = mustRun(t, cfg, "records", "show")
	assert.Contains(t, out, `"level": "orange"`)
	assert.Contains(t, out, `"exp": 3000`)

	out = mustRun(t, cfg, "logout")
	assert.Contains(t, out, "signed out alice")

	out = mustRun(t, cfg, "status")
	assert.Contains(t, out, "not signed in")

	// Signing back in restores the stored progression.
	out = mustRun(t, cfg, "login", "alice")
	assert.Contains(t, out, "signed in as alice (ORANGE, 3000 exp)")
}

func TestCLI_GrantEventAwardsOnce(t *testing.T) {
	cfg := writeConfig(t)
	mustRun(t, cfg, "login", "frank")

	out := mustRun(t, cfg, "grant", "3000", "--event", "onboarding")
	assert.Contains(t, out, "+3000 exp, total 3000 (ORANGE)")
	assert.Contains(t, out, "Level up!")

	out = mustRun(t, cfg, "grant", "3000", "--event", "onboarding")
	assert.Contains(t, out, "event onboarding was already awarded")

	out = mustRun(t, cfg, "status")
	assert.Contains(t, out, "experience:   3000")

	out = mustRun(t, cfg, "grant", "10", "--event", "quiz-1")
	assert.Contains(t, out, "total 3010")
}

func TestCLI_SetLevelAndAccess(t *testing.T) {
	cfg := writeConfig(t)
	mustRun(t, cfg, "login", "bob")

	out := mustRun(t, cfg, "access", "scope", "trading")
	assert.Contains(t, out, "trading: denied")

	out = mustRun(t, cfg, "set-level", "GREEN")
	assert.Contains(t, out, "level set to GREEN (6000 exp)")

	out = mustRun(t, cfg, "access", "scope", "trading")
	assert.Contains(t, out, "trading: granted")
	out = mustRun(t, cfg, "access", "scope", "admin")
	assert.Contains(t, out, "admin: denied")
	out = mustRun(t, cfg, "access", "level", "orange")
	assert.Contains(t, out, "orange: granted")

	out = mustRun(t, cfg, "access", "capability", "market.margin")
	assert.Contains(t, out, "market.margin: denied")
	assert.Contains(t, out, "requires BLUE")

	out = mustRun(t, cfg, "levels")
	assert.Contains(t, out, "*")
	assert.Contains(t, out, "RED")
	assert.Contains(t, out, "50000+")
}

func TestCLI_Records(t *testing.T) {
	cfg := writeConfig(t)
	mustRun(t, cfg, "login", "carol")

	out := mustRun(t, cfg, "records", "set", "cash=2500000", "totalAssets=2500000")
	assert.Contains(t, out, "saved carol")

	out = mustRun(t, cfg, "records", "show")
	assert.Contains(t, out, `"cash": 2500000`)

	out = mustRun(t, cfg, "check")
	assert.Contains(t, out, "integrity ok")

	code, _, stderr := runCLI(context.Background(), cfg, "records", "set", "cash=-5")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "E100")

	out = mustRun(t, cfg, "records", "show")
	assert.Contains(t, out, `"cash": 2500000`)

	out = mustRun(t, cfg, "records", "erase")
	assert.Contains(t, out, "erased carol")

	out = mustRun(t, cfg, "records", "show")
	assert.Contains(t, out, `"cash": 10000000`)
}

func TestCLI_Errors(t *testing.T) {
	cfg := writeConfig(t)

	tests := []struct {
		name     string
		login    bool
		args     []string
		wantCode string
	}{
		{name: "grant without session", args: []string{"grant", "10"}, wantCode: "E400"},
		{name: "logout without session", args: []string{"logout"}, wantCode: "E400"},
		{name: "negative grant", login: true, args: []string{"grant", "--", "-5"}, wantCode: "E100"},
		{name: "non numeric grant", login: true, args: []string{"grant", "lots"}, wantCode: "E100"},
		{name: "unknown level", login: true, args: []string{"set-level", "purple"}, wantCode: "E100"},
		{name: "foreign record", login: true, args: []string{"records", "show", "mallory"}, wantCode: "E110"},
		{name: "malformed field", login: true, args: []string{"records", "set", "cash"}, wantCode: "E100"},
		{name: "non ascii user id", args: []string{"login", "김철수"}, wantCode: "E100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.login {
				mustRun(t, cfg, "login", "dave")
			} else {
				_, _, _ = runCLI(context.Background(), cfg, "logout")
			}

			code, _, stderr := runCLI(context.Background(), cfg, tt.args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr, tt.wantCode)
		})
	}
}

func TestCLI_FailedLoginKeepsPreviousSession(t *testing.T) {
	cfg := writeConfig(t)

	mustRun(t, cfg, "login", "alice")
	mustRun(t, cfg, "grant", "3000")

	for _, id := range []string{"김철수", "al\tice"} {
		code, _, stderr := runCLI(context.Background(), cfg, "login", id)
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "E100")
	}

	out := mustRun(t, cfg, "status")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "3000")
}

func TestCLI_MissingConfig(t *testing.T) {
	code, _, stderr := runCLI(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), "status")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "error:")
}

func TestCLI_Health(t *testing.T) {
	cfg := writeConfig(t)

	out := mustRun(t, cfg, "health")
	assert.Contains(t, out, "kv")
	assert.Contains(t, out, "sqlite")
	assert.NotContains(t, out, "error")
}

func TestCLI_WatchStopsWithContext(t *testing.T) {
	cfg := writeConfig(t)
	mustRun(t, cfg, "login", "erin")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	code, out, stderr := runCLI(ctx, cfg, "watch")
	assert.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "watching")
}

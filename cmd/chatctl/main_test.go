package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("chatctl %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

// writeConfig points chatctl at a fresh SQLite file.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "chatctl.yaml")
	cfg := fmt.Sprintf(`store:
  driver: sqlite
  dsn: %q
jwt:
  secret: test-secret
messaging:
  timezone: UTC
log:
  level: error
`, filepath.Join(dir, "chat.db"))
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCmd(t *testing.T) {
	out := mustRun(t, "version")
	if !strings.Contains(out, "chatctl dev") || !strings.Contains(out, "commit: none") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestRootCmd_ListsSubcommands(t *testing.T) {
	out := mustRun(t, "--help")
	for _, sub := range []string{"migrate", "conversations", "thread", "send", "nearby", "profile"} {
		if !strings.Contains(out, sub) {
			t.Errorf("root help should list %q", sub)
		}
	}
}

func TestSubcommandFlags(t *testing.T) {
	root := newRootCmd()
	if root.PersistentFlags().Lookup("config") == nil {
		t.Fatal("expected --config flag")
	}
	tests := map[string][]string{
		"thread": {"user", "with", "mark-read"},
		"send":   {"from", "to", "content"},
		"nearby": {"user", "lat", "lon", "limit", "max-km"},
	}
	for name, flags := range tests {
		sub, _, err := root.Find([]string{name})
		if err != nil {
			t.Fatalf("find %s: %v", name, err)
		}
		for _, f := range flags {
			if sub.Flags().Lookup(f) == nil {
				t.Errorf("%s: missing --%s", name, f)
			}
		}
	}
}

func TestRequiredFlags(t *testing.T) {
	if _, err := run(t, "conversations"); err == nil {
		t.Error("conversations without --user should fail")
	}
	if _, err := run(t, "send", "--from", "a", "--to", "b"); err == nil {
		t.Error("send without --content should fail")
	}
}

func TestEndToEnd(t *testing.T) {
	cfg := writeConfig(t)

	if out := mustRun(t, "-c", cfg, "migrate"); !strings.Contains(out, "migrated sqlite store") {
		t.Fatalf("migrate output: %s", out)
	}
	// idempotent
	mustRun(t, "-c", cfg, "migrate")

	mustRun(t, "-c", cfg, "profile", "add", "--id", "alice", "--name", "Alice", "--lat", "51.5", "--lon", "-0.12")
	mustRun(t, "-c", cfg, "profile", "add", "--id", "bob", "--name", "Bob", "--lat", "51.51", "--lon", "-0.13")
	mustRun(t, "-c", cfg, "profile", "add", "--id", "carol")

	out := mustRun(t, "-c", cfg, "send", "--from", "alice", "--to", "bob", "--content", "hello <b>bob</b>")
	if !strings.HasPrefix(out, "sent ") {
		t.Fatalf("send output: %s", out)
	}

	out = mustRun(t, "-c", cfg, "conversations", "--user", "bob")
	if !strings.Contains(out, "Alice") || !strings.Contains(out, "hello bob") || !strings.Contains(out, "*") {
		t.Fatalf("bob's conversations: %s", out)
	}
	out = mustRun(t, "-c", cfg, "conversations", "--user", "alice")
	if !strings.Contains(out, "→ hello bob") {
		t.Fatalf("alice's conversations: %s", out)
	}
	if out := mustRun(t, "-c", cfg, "conversations", "--user", "carol"); !strings.Contains(out, "no conversations") {
		t.Fatalf("carol's conversations: %s", out)
	}

	out = mustRun(t, "-c", cfg, "thread", "--user", "alice", "--with", "bob")
	if !strings.Contains(out, "false") {
		t.Fatalf("message should still be unread: %s", out)
	}
	mustRun(t, "-c", cfg, "thread", "--user", "bob", "--with", "alice", "--mark-read")
	out = mustRun(t, "-c", cfg, "thread", "--user", "alice", "--with", "bob")
	if !strings.Contains(out, "true") || !strings.Contains(out, "me") {
		t.Fatalf("message should be read: %s", out)
	}

	out = mustRun(t, "-c", cfg, "nearby", "--user", "alice", "--lat", "51.5", "--lon", "-0.12", "--max-km", "10")
	if !strings.Contains(out, "Bob") || !strings.Contains(out, "km") || strings.Contains(out, "Unknown") {
		t.Fatalf("nearby output: %s", out)
	}
	out = mustRun(t, "-c", cfg, "nearby", "--user", "alice")
	if !strings.Contains(out, "Unknown") {
		t.Fatalf("nearby without origin should list carol: %s", out)
	}

	mustRun(t, "-c", cfg, "profile", "presence", "--id", "bob", "--online=false")
	if _, err := run(t, "-c", cfg, "profile", "presence", "--id", "nobody"); err == nil {
		t.Fatal("presence for a missing profile should fail")
	}

	if _, err := run(t, "-c", cfg, "nearby", "--user", "alice", "--lat", "1"); err == nil {
		t.Fatal("--lat without --lon should fail")
	}
	if _, err := run(t, "-c", cfg, "send", "--from", "alice", "--to", "bob", "--content", "<i></i>"); err == nil {
		t.Fatal("empty content should fail")
	}
}

package migrate

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func writeHook(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write hook: %v", err)
	}
	return path
}

func TestScriptAdminPassesParameters(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skipf("shell hooks not supported on windows")
	}
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	admin := &ScriptAdmin{
		RegisterHook: writeHook(t, dir, "register.sh",
			`echo "$SPLICESTORE_DOMAIN_ID $SPLICESTORE_SEQUENCER_CONNECTIONS" > `+out),
	}
	err := admin.RegisterDomain(context.Background(), "domain-b", []string{"https://seq-1", "https://seq-2"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read hook output: %v", err)
	}
	got := strings.TrimSpace(string(raw))
	if got != "domain-b https://seq-1,https://seq-2" {
		t.Fatalf("hook saw %q", got)
	}
}

func TestScriptAdminStreamsStdin(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skipf("shell hooks not supported on windows")
	}
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	admin := &ScriptAdmin{
		ImportAcsHook: writeHook(t, dir, "import.sh", `cat > `+out),
	}
	err := admin.ImportAcsSnapshot(context.Background(), strings.NewReader("snapshot-bytes"))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	raw, err := os.ReadFile(out)
	if err != nil || string(raw) != "snapshot-bytes" {
		t.Fatalf("hook received %q err=%v", raw, err)
	}
}

func TestScriptAdminSurfacesHookFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skipf("shell hooks not supported on windows")
	}
	dir := t.TempDir()
	admin := &ScriptAdmin{
		ConnectHook: writeHook(t, dir, "connect.sh", `echo "sequencer unreachable" >&2; exit 3`),
	}
	err := admin.ConnectDomain(context.Background(), "domain-b")
	if err == nil || !strings.Contains(err.Error(), "sequencer unreachable") {
		t.Fatalf("got %v, want hook stderr in error", err)
	}
}

func TestScriptAdminSkipsEmptyHooks(t *testing.T) {
	admin := &ScriptAdmin{}
	if err := admin.DisconnectAllDomains(context.Background()); err != nil {
		t.Fatalf("empty hook must be a no-op: %v", err)
	}
}

package cli

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
)

func TestNewRootCmd_hasSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	if root == nil {
		t.Fatal("NewRootCmd returned nil")
	}
	cmds := root.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "workflow", "verify", "doctor", "apikey"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
}

func TestNewRootCmd_versionFlag(t *testing.T) {
	root := NewRootCmd("1.2.3")
	if root.Version != "1.2.3" {
		t.Errorf("Version: got %q", root.Version)
	}
}

func TestNewRootCmd_hasHomeFlag(t *testing.T) {
	root := NewRootCmd("")
	f := root.PersistentFlags().Lookup("home")
	if f == nil {
		t.Fatal("expected --home persistent flag")
	}
}

func TestApikeyGenerate(t *testing.T) {
	root := NewRootCmd("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"apikey", "generate"})
	if err := root.Execute(); err != nil {
		t.Fatalf("apikey generate: %v", err)
	}
	out := buf.String()
	hexKey := regexp.MustCompile(`(?m)^  ([a-f0-9]{64})$`)
	if !hexKey.MatchString(out) {
		t.Errorf("output should contain a 64-char hex key on its own line; got:\n%s", out)
	}
	if !regexp.MustCompile(`PILLARFLOW_API_KEY`).MatchString(out) {
		t.Errorf("output should mention PILLARFLOW_API_KEY")
	}
	if !regexp.MustCompile(`X-API-Key`).MatchString(out) {
		t.Errorf("output should mention X-API-Key")
	}
}

func TestWorkflowGenerateAndShow(t *testing.T) {
	home := t.TempDir()

	root := NewRootCmd("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"--home", home, "workflow", "generate", "--user", "u1", "--date", "2026-08-31"})
	if err := root.Execute(); err != nil {
		t.Fatalf("workflow generate: %v", err)
	}
	if !strings.Contains(buf.String(), "u1:2026-08-31") {
		t.Fatalf("generate output missing workflow id:\n%s", buf.String())
	}

	// A fresh invocation restores the workflow from the store.
	root2 := NewRootCmd("")
	var buf2 bytes.Buffer
	root2.SetOut(&buf2)
	root2.SetArgs([]string{"--home", home, "workflow", "show", "--user", "u1", "--date", "2026-08-31"})
	if err := root2.Execute(); err != nil {
		t.Fatalf("workflow show: %v", err)
	}
	if !strings.Contains(buf2.String(), "plan-review") {
		t.Fatalf("show output missing tasks:\n%s", buf2.String())
	}
}

func TestWorkflowCompleteAndProgress(t *testing.T) {
	home := t.TempDir()

	run := func(args ...string) string {
		root := NewRootCmd("")
		var buf bytes.Buffer
		root.SetOut(&buf)
		root.SetArgs(append([]string{"--home", home}, args...))
		if err := root.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return buf.String()
	}

	run("workflow", "generate", "--user", "u2", "--date", "2026-08-31")
	out := run("workflow", "complete", "--user", "u2", "--date", "2026-08-31", "--task", "plan-review")
	if !strings.Contains(out, "Completed plan-review") {
		t.Fatalf("complete output:\n%s", out)
	}
	prog := run("workflow", "progress", "--user", "u2", "--date", "2026-08-31")
	if !strings.Contains(prog, "1/5 tasks") {
		t.Fatalf("progress output:\n%s", prog)
	}
}

func TestWorkflowShow_missing(t *testing.T) {
	home := t.TempDir()
	root := NewRootCmd("")
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"--home", home, "workflow", "show", "--user", "ghost", "--date", "2026-01-01"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for missing workflow")
	}
}

func TestDoctor(t *testing.T) {
	home := t.TempDir()
	root := NewRootCmd("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"--home", home, "doctor"})
	if err := root.Execute(); err != nil {
		t.Fatalf("doctor: %v", err)
	}
	if !strings.Contains(buf.String(), "ok") {
		t.Fatalf("doctor output:\n%s", buf.String())
	}
}

//go:build unix

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/nerrad567/procpipe/internal/auth"
	"github.com/nerrad567/procpipe/internal/infrastructure/config"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

// writeConfig writes a config with history in a temp dir and logging
// discarded, followed by extra YAML.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "procpipe.yaml")
	content := fmt.Sprintf(`
database:
  enabled: true
  path: %q
logging:
  output: discard
%s`, filepath.Join(dir, "history.db"), extra)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(ctx context.Context, stdin string, args ...string) cliResult {
	var stdout, stderr bytes.Buffer
	code := execute(ctx, args, strings.NewReader(stdin), &stdout, &stderr)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestExecute_Version(t *testing.T) {
	res := runCLI(testContext(t), "", "version")
	if res.code != 0 {
		t.Fatalf("code = %d, stderr = %s", res.code, res.stderr)
	}
	if !strings.HasPrefix(res.stdout, "procpipe "+version) {
		t.Errorf("stdout = %q", res.stdout)
	}
}

func TestExecute_InvalidConfig(t *testing.T) {
	res := runCLI(testContext(t), "", "--config", "/nonexistent/procpipe.yaml", "run", "--", "true")
	if res.code != exitFailure {
		t.Errorf("code = %d, want %d", res.code, exitFailure)
	}
	if !strings.Contains(res.stderr, "loading config") {
		t.Errorf("stderr = %q", res.stderr)
	}
}

func TestExecute_UnknownFlag(t *testing.T) {
	res := runCLI(testContext(t), "", "run", "--bogus", "--", "true")
	if res.code != exitUsage {
		t.Errorf("code = %d, want %d", res.code, exitUsage)
	}
}

func TestExecute_RunRequiresCommand(t *testing.T) {
	cfg := writeConfig(t, "")
	res := runCLI(testContext(t), "", "--config", cfg, "run")
	if res.code != exitUsage {
		t.Errorf("code = %d, want %d", res.code, exitUsage)
	}
}

func TestExecute_RunOutput(t *testing.T) {
	cfg := writeConfig(t, "")
	res := runCLI(testContext(t), "", "--config", cfg, "run", "--", "echo", "hello")
	if res.code != 0 {
		t.Fatalf("code = %d, stderr = %s", res.code, res.stderr)
	}
	if res.stdout != "hello\n" {
		t.Errorf("stdout = %q, want %q", res.stdout, "hello\n")
	}
}

func TestExecute_RunExitCode(t *testing.T) {
	cfg := writeConfig(t, "")
	res := runCLI(testContext(t), "", "--config", cfg, "run", "--", "sh", "-c", "echo oops >&2; exit 3")
	if res.code != 3 {
		t.Errorf("code = %d, want 3", res.code)
	}
	if res.stderr != "oops\n" {
		t.Errorf("stderr = %q", res.stderr)
	}
}

func TestExecute_RunSignaled(t *testing.T) {
	cfg := writeConfig(t, "")
	res := runCLI(testContext(t), "", "--config", cfg, "run", "--", "sh", "-c", "kill -TERM $$")
	if res.code != 128+15 {
		t.Errorf("code = %d, want %d", res.code, 128+15)
	}
}

func TestExecute_RunLaunchFailed(t *testing.T) {
	cfg := writeConfig(t, "")
	res := runCLI(testContext(t), "", "--config", cfg, "run", "--", "/nonexistent/binary")
	if res.code != exitLaunchFailed {
		t.Errorf("code = %d, want %d", res.code, exitLaunchFailed)
	}
	if !strings.Contains(res.stderr, "procpipe:") {
		t.Errorf("stderr = %q", res.stderr)
	}
}

func TestExecute_RunStdin(t *testing.T) {
	cfg := writeConfig(t, "")
	res := runCLI(testContext(t), "piped input", "--config", cfg, "run", "--", "cat")
	if res.code != 0 {
		t.Fatalf("code = %d, stderr = %s", res.code, res.stderr)
	}
	if res.stdout != "piped input" {
		t.Errorf("stdout = %q", res.stdout)
	}
}

func TestExecute_RunNoStdin(t *testing.T) {
	cfg := writeConfig(t, "")
	res := runCLI(testContext(t), "ignored", "--config", cfg, "run", "--no-stdin", "--", "cat")
	if res.code != 0 {
		t.Fatalf("code = %d, stderr = %s", res.code, res.stderr)
	}
	if res.stdout != "" {
		t.Errorf("stdout = %q, want empty", res.stdout)
	}
}

func TestExecute_RunEnvAndDir(t *testing.T) {
	cfg := writeConfig(t, "")
	dir := t.TempDir()
	res := runCLI(testContext(t), "", "--config", cfg, "run",
		"--env", "GREETING=hi there", "--dir", dir,
		"--", "sh", "-c", `printf '%s|%s' "$GREETING" "$(pwd -P)"`)
	if res.code != 0 {
		t.Fatalf("code = %d, stderr = %s", res.code, res.stderr)
	}
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if res.stdout != "hi there|"+want {
		t.Errorf("stdout = %q", res.stdout)
	}
}

func TestExecute_RunShell(t *testing.T) {
	cfg := writeConfig(t, "")
	res := runCLI(testContext(t), "", "--config", cfg, "run", "--shell", "--", `printf '%s' 'a b'`)
	if res.code != 0 {
		t.Fatalf("code = %d, stderr = %s", res.code, res.stderr)
	}
	if res.stdout != "a b" {
		t.Errorf("stdout = %q", res.stdout)
	}
}

func TestExecute_RunBadFlags(t *testing.T) {
	cfg := writeConfig(t, "")
	tests := []struct {
		name string
		args []string
	}{
		{"env without equals", []string{"--env", "NOPE"}},
		{"env empty key", []string{"--env", "=value"}},
		{"unknown stop signal", []string{"--stop-signal", "SIGNOPE"}},
		{"negative kill timeout", []string{"--kill-timeout", "-1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", cfg, "run"}, tt.args...)
			args = append(args, "--", "true")
			res := runCLI(testContext(t), "", args...)
			if res.code != exitUsage {
				t.Errorf("code = %d, want %d (stderr %q)", res.code, exitUsage, res.stderr)
			}
		})
	}
}

func TestExecute_RunCancelled(t *testing.T) {
	cfg := writeConfig(t, "")
	ctx, cancel := context.WithCancel(testContext(t))
	time.AfterFunc(300*time.Millisecond, cancel)

	start := time.Now()
	res := runCLI(ctx, "", "--config", cfg, "run", "--", "sleep", "30")
	if res.code != 128+15 {
		t.Errorf("code = %d, want %d (stderr %q)", res.code, 128+15, res.stderr)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("run took %v after cancellation", elapsed)
	}
}

func TestExecute_History(t *testing.T) {
	cfg := writeConfig(t, "")
	ctx := testContext(t)

	res := runCLI(ctx, "", "--config", cfg, "run", "--run-id", "run-one", "--", "sh", "-c", "exit 5")
	if res.code != 5 {
		t.Fatalf("run code = %d, stderr = %s", res.code, res.stderr)
	}

	res = runCLI(ctx, "", "--config", cfg, "history")
	if res.code != 0 {
		t.Fatalf("history code = %d, stderr = %s", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, "run-one") || !strings.Contains(res.stdout, "exited") {
		t.Errorf("history stdout = %q", res.stdout)
	}

	res = runCLI(ctx, "", "--config", cfg, "history", "show", "run-one")
	if res.code != 0 {
		t.Fatalf("show code = %d, stderr = %s", res.code, res.stderr)
	}
	var run struct {
		ID       string `json:"id"`
		State    string `json:"state"`
		ExitCode *int   `json:"exit_code"`
	}
	if err := json.Unmarshal([]byte(res.stdout), &run); err != nil {
		t.Fatalf("decoding show output: %v\n%s", err, res.stdout)
	}
	if run.ID != "run-one" || run.State != "exited" || run.ExitCode == nil || *run.ExitCode != 5 {
		t.Errorf("run = %+v", run)
	}

	res = runCLI(ctx, "", "--config", cfg, "history", "show", "missing")
	if res.code != exitFailure {
		t.Errorf("show missing code = %d", res.code)
	}

	res = runCLI(ctx, "", "--config", cfg, "history", "prune", "--older-than", "24h")
	if res.code != 0 || !strings.Contains(res.stdout, "pruned 0 run(s)") {
		t.Errorf("prune = %+v", res)
	}
}

func TestExecute_HistoryDisabled(t *testing.T) {
	cfg := writeConfig(t, "")
	content, err := os.ReadFile(cfg)
	if err != nil {
		t.Fatal(err)
	}
	disabled := strings.Replace(string(content), "enabled: true", "enabled: false", 1)
	if err := os.WriteFile(cfg, []byte(disabled), 0o600); err != nil {
		t.Fatal(err)
	}

	res := runCLI(testContext(t), "", "--config", cfg, "history")
	if res.code != exitFailure || !strings.Contains(res.stderr, "disabled") {
		t.Errorf("res = %+v", res)
	}

	// Runs still work without history.
	res = runCLI(testContext(t), "", "--config", cfg, "run", "--", "true")
	if res.code != 0 {
		t.Errorf("run code = %d, stderr = %s", res.code, res.stderr)
	}
}

func TestExecute_Token(t *testing.T) {
	cfg := writeConfig(t, fmt.Sprintf("security:\n  jwt:\n    secret: %q\n", testSecret))

	res := runCLI(testContext(t), "", "--config", cfg, "token", "--subject", "ci", "--scope", "control", "--ttl", "5m")
	if res.code != 0 {
		t.Fatalf("code = %d, stderr = %s", res.code, res.stderr)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(res.stdout), testSecret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "ci" || claims.Scope != auth.ScopeControl {
		t.Errorf("claims = %+v", claims)
	}
	if ttl := time.Until(claims.ExpiresAt.Time); ttl > 5*time.Minute || ttl < 4*time.Minute {
		t.Errorf("ttl = %v", ttl)
	}

	res = runCLI(testContext(t), "", "--config", cfg, "token", "--scope", "admin")
	if res.code != exitUsage {
		t.Errorf("bad scope code = %d", res.code)
	}
}

func TestExecute_TokenWithoutSecret(t *testing.T) {
	cfg := writeConfig(t, "")
	res := runCLI(testContext(t), "", "--config", cfg, "token")
	if res.code != exitFailure {
		t.Errorf("code = %d, want %d", res.code, exitFailure)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// TestExecute_RunStoppedViaAPI stops a live run through the HTTP API.
func TestExecute_RunStoppedViaAPI(t *testing.T) {
	port := freePort(t)
	cfg := writeConfig(t, fmt.Sprintf(`
api:
  enabled: true
  host: 127.0.0.1
  port: %d
security:
  jwt:
    secret: %q
`, port, testSecret))

	token, err := auth.GenerateToken("test", auth.ScopeControl, testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	ctx := testContext(t)
	done := make(chan cliResult, 1)
	go func() {
		done <- runCLI(ctx, "", "--config", cfg, "run", "--", "sleep", "30")
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/process/stop", port)
	deadline := time.Now().Add(10 * time.Second)
	for {
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(`{"signal":"SIGUSR1"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusAccepted {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("stop never accepted (last error %v)", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case res := <-done:
		if want := 128 + int(syscall.SIGUSR1); res.code != want {
			t.Errorf("code = %d, want %d (stderr %q)", res.code, want, res.stderr)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not exit after stop")
	}
}

func TestRunFlags_Apply(t *testing.T) {
	cfg := config.Default()
	cfg.Process.Env = map[string]string{"KEEP": "1", "OVERRIDE": "old"}

	f := &runFlags{
		dir:        "/tmp",
		env:        []string{"OVERRIDE=new", "EXTRA=a=b"},
		stopSignal: "INT",
	}
	if err := f.apply(cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if cfg.Process.WorkDir != "/tmp" {
		t.Errorf("WorkDir = %q", cfg.Process.WorkDir)
	}
	if cfg.Process.StopSignal != "INT" {
		t.Errorf("StopSignal = %q", cfg.Process.StopSignal)
	}
	want := map[string]string{"KEEP": "1", "OVERRIDE": "new", "EXTRA": "a=b"}
	for k, v := range want {
		if cfg.Process.Env[k] != v {
			t.Errorf("Env[%s] = %q, want %q", k, cfg.Process.Env[k], v)
		}
	}
}

func TestRunFlags_CommandFor(t *testing.T) {
	argv := (&runFlags{}).commandFor([]string{"ls", "-l"})
	if argv.IsShell() {
		t.Error("argv command reported as shell")
	}

	shell := (&runFlags{shell: true}).commandFor([]string{"ls", "-l"})
	if !shell.IsShell() {
		t.Error("--shell command not reported as shell")
	}
}

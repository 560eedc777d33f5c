package cmdproxyserver_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oriys/cmdproxy/internal/blobstore"
	"github.com/oriys/cmdproxy/internal/broker"
	"github.com/oriys/cmdproxy/internal/cmdproxyclient"
	"github.com/oriys/cmdproxy/internal/cmdproxyserver"
	"github.com/oriys/cmdproxy/internal/invoke/serverend"
	"github.com/oriys/cmdproxy/internal/launcher"
	"github.com/oriys/cmdproxy/internal/param"
	"github.com/oriys/cmdproxy/internal/protocol"
)

func newHarness(t *testing.T, queues []string) (*cmdproxyclient.Client, context.CancelFunc) {
	t.Helper()

	b := broker.NewInMemoryBroker()
	store := blobstore.NewInMemoryStore()

	srv := &cmdproxyserver.Server{
		Broker: b,
		Store:  store,
		Palette: serverend.Palette{
			"sh": "/bin/sh",
		},
		ScratchBaseDir: t.TempDir(),
		Launcher:       launcher.New(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := srv.Serve(ctx, queues); err != nil && ctx.Err() == nil {
			t.Errorf("Serve: %v", err)
		}
	}()

	client := cmdproxyclient.New(b, store, nil)
	return client, cancel
}

func runCtx(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// Scenario 1: echo with local input/output.
func TestScenarioEchoWithLocalFiles(t *testing.T) {
	client, cancel := newHarness(t, []string{"sh"})
	defer cancel()

	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	out := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(in, []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}

	req := &protocol.RunRequest{
		Command: param.CmdName("sh"),
		Args: []*param.Param{
			param.Str("-c"),
			param.Format("cat {i} > {o}", map[string]*param.Param{
				"i": param.InLocalFile(in, "client1"),
				"o": param.OutLocalFile(out, "client1"),
			}),
		},
	}

	ctx, done := runCtx(t)
	defer done()

	code, err := client.Run(ctx, req, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 0 {
		t.Fatalf("unexpected return code: %d", code)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello\n" {
		t.Fatalf("unexpected output content: %q", got)
	}
}

// Scenario 2: stdout capture.
func TestScenarioStdoutCapture(t *testing.T) {
	client, cancel := newHarness(t, []string{"sh"})
	defer cancel()

	dir := t.TempDir()
	stdoutPath := filepath.Join(dir, "stdout")

	req := &protocol.RunRequest{
		Command: param.CmdName("sh"),
		Args:    []*param.Param{param.Str("-c"), param.Str("echo hi")},
		Stdout:  param.OutLocalFile(stdoutPath, "client1"),
	}

	ctx, done := runCtx(t)
	defer done()

	code, err := client.Run(ctx, req, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 0 {
		t.Fatalf("unexpected return code: %d", code)
	}

	got, err := os.ReadFile(stdoutPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hi\n" {
		t.Fatalf("unexpected stdout content: %q", got)
	}
}

// Scenario 3: command not in palette.
func TestScenarioCommandNotInPalette(t *testing.T) {
	client, cancel := newHarness(t, []string{"nonesuch"})
	defer cancel()

	req := &protocol.RunRequest{
		Command: param.CmdName("nonesuch"),
	}

	ctx, done := runCtx(t)
	defer done()

	_, err := client.Run(ctx, req, "")
	if err == nil {
		t.Fatal("expected error for command not in palette")
	}
}

// Scenario 4: passed env.
func TestScenarioPassedEnv(t *testing.T) {
	client, cancel := newHarness(t, []string{"sh"})
	defer cancel()

	dir := t.TempDir()
	outPath := filepath.Join(dir, "o")

	req := &protocol.RunRequest{
		Command: param.CmdPath("/bin/sh"),
		Args: []*param.Param{
			param.Str("-c"),
			param.Format("echo {p}", map[string]*param.Param{"p": param.RemoteEnv("PASSWORD")}),
		},
		Env:    map[string]*param.Param{"PASSWORD": param.Str("secret")},
		Stdout: param.OutLocalFile(outPath, "client1"),
	}

	ctx, done := runCtx(t)
	defer done()

	code, err := client.Run(ctx, req, "sh")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 0 {
		t.Fatalf("unexpected return code: %d", code)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "secret\n" {
		t.Fatalf("unexpected output: %q", got)
	}
}

// Scenario 5: failed command returns non-zero, not an error.
func TestScenarioFailedCommandNonZeroExit(t *testing.T) {
	client, cancel := newHarness(t, []string{"false"})
	defer cancel()

	req := &protocol.RunRequest{
		Command: param.CmdPath("/bin/false"),
	}

	ctx, done := runCtx(t)
	defer done()

	code, err := client.Run(ctx, req, "false")
	if err != nil {
		t.Fatalf("expected no error for non-zero exit, got %v", err)
	}
	if code != 1 {
		t.Fatalf("unexpected return code: %d", code)
	}
}

package serverend

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/oriys/cmdproxy/internal/blobstore"
	"github.com/oriys/cmdproxy/internal/param"
	"github.com/oriys/cmdproxy/internal/protocol"
)

func TestCmdNameResolvesViaPalette(t *testing.T) {
	mw, err := New(blobstore.NewInMemoryStore(), Palette{"sh": "/bin/sh"}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer mw.Close()

	recipe, err := mw.TransformRequest(context.Background(), &protocol.RunRequest{
		Command: param.CmdName("sh"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if recipe.Command != "/bin/sh" {
		t.Fatalf("unexpected resolved command: %q", recipe.Command)
	}
}

func TestCmdNameMissingListsAvailableKeys(t *testing.T) {
	mw, err := New(blobstore.NewInMemoryStore(), Palette{"sh": "/bin/sh", "ls": "/bin/ls"}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer mw.Close()

	_, err = mw.TransformRequest(context.Background(), &protocol.RunRequest{
		Command: param.CmdName("nonesuch"),
	})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), "nonesuch") {
		t.Fatalf("error should mention requested name: %v", err)
	}
	if !strings.Contains(err.Error(), "sh") || !strings.Contains(err.Error(), "ls") {
		t.Fatalf("error should list palette keys: %v", err)
	}
}

func TestEnvResolvedBeforeArgsReferencingIt(t *testing.T) {
	mw, err := New(blobstore.NewInMemoryStore(), Palette{"sh": "/bin/sh"}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer mw.Close()

	recipe, err := mw.TransformRequest(context.Background(), &protocol.RunRequest{
		Command: param.CmdPath("/bin/sh"),
		Args: []*param.Param{
			param.Format("echo {p}", map[string]*param.Param{"p": param.Env("PASSWORD")}),
		},
		Env: map[string]*param.Param{"PASSWORD": param.Str("secret")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if recipe.Args[0] != "echo secret" {
		t.Fatalf("expected passed-env substitution, got %q", recipe.Args[0])
	}
}

func TestEnvFallsBackToOSThenPassedEnv(t *testing.T) {
	mw, err := New(blobstore.NewInMemoryStore(), Palette{}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer mw.Close()

	os.Setenv("CMDPROXY_TEST_VAR", "from-os")
	defer os.Unsetenv("CMDPROXY_TEST_VAR")

	v, err := mw.resolve(context.Background(), param.Env("CMDPROXY_TEST_VAR"))
	if err != nil {
		t.Fatal(err)
	}
	if v != "from-os" {
		t.Fatalf("expected OS env to win, got %q", v)
	}

	mw.passedEnv["ONLY_PASSED"] = "from-passed-env"
	v, err = mw.resolve(context.Background(), param.Env("ONLY_PASSED"))
	if err != nil {
		t.Fatal(err)
	}
	if v != "from-passed-env" {
		t.Fatalf("expected passed-env fallback, got %q", v)
	}

	v, err = mw.resolve(context.Background(), param.Env("TOTALLY_UNSET_VAR"))
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Fatalf("expected empty string for unresolved env, got %q", v)
	}
}

func TestOutCloudFileSkippedIfNotProduced(t *testing.T) {
	store := blobstore.NewInMemoryStore()
	mw, err := New(store, Palette{}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer mw.Close()

	p := param.OutCloudFile("/remote/out.txt", "host1")
	recipe, err := mw.TransformRequest(context.Background(), &protocol.RunRequest{
		Command: param.CmdPath("/bin/true"),
		Stdout:  p,
	})
	if err != nil {
		t.Fatal(err)
	}
	if recipe.Stdout == "" {
		t.Fatal("expected allocated scratch path for stdout")
	}

	resp, err := mw.TransformResponse(context.Background(), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ReturnCode != 0 {
		t.Fatalf("unexpected return code: %d", resp.ReturnCode)
	}

	key, _ := p.CloudKey()
	exists, err := store.Exists(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("expected no upload when the scratch file was never produced")
	}
}

func TestOutCloudFileUploadedWhenProduced(t *testing.T) {
	store := blobstore.NewInMemoryStore()
	mw, err := New(store, Palette{}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer mw.Close()

	p := param.OutCloudFile("/remote/out.txt", "host1")
	recipe, err := mw.TransformRequest(context.Background(), &protocol.RunRequest{
		Command: param.CmdPath("/bin/true"),
		Stdout:  p,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(recipe.Stdout, []byte("produced"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := mw.TransformResponse(context.Background(), 0, nil); err != nil {
		t.Fatal(err)
	}

	key, _ := p.CloudKey()
	got, err := store.ReadString(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if got != "produced" {
		t.Fatalf("unexpected uploaded content: %q", got)
	}
}

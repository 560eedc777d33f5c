package param

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/oriys/cmdproxy/internal/blobstore"
)

func TestAsCloudIdempotent(t *testing.T) {
	cases := []*Param{
		InLocalFile("/a/b", "host1"),
		OutLocalFile("/a/b", "host1"),
		InCloudFile("/a/b", "host1"),
		OutCloudFile("/a/b", "host1"),
	}

	for _, p := range cases {
		first, err := p.AsCloud()
		if err != nil {
			t.Fatalf("AsCloud(%v): %v", p, err)
		}
		second, err := first.AsCloud()
		if err != nil {
			t.Fatalf("AsCloud(AsCloud(%v)): %v", p, err)
		}
		if first.Kind != second.Kind || first.Filepath != second.Filepath || first.Hostname != second.Hostname {
			t.Fatalf("AsCloud not idempotent: %+v vs %+v", first, second)
		}
	}
}

func TestCloudKeyStableAcrossAsCloud(t *testing.T) {
	p := InLocalFile("/tmp/in.txt", "host1")
	key1, err := p.CloudKey()
	if err != nil {
		t.Fatal(err)
	}

	cloud, err := p.AsCloud()
	if err != nil {
		t.Fatal(err)
	}
	key2, err := cloud.CloudKey()
	if err != nil {
		t.Fatal(err)
	}

	if key1 != key2 {
		t.Fatalf("cloud key changed across AsCloud: %q != %q", key1, key2)
	}
	if key1 != "@host1:/tmp/in.txt" {
		t.Fatalf("unexpected cloud key format: %q", key1)
	}
}

func TestAsCloudOnNonFileVariantErrors(t *testing.T) {
	if _, err := Str("x").AsCloud(); err == nil {
		t.Fatal("expected error calling AsCloud on Str")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	cases := []*Param{
		Str("hello"),
		Env("HOME"),
		RemoteEnv("HOME"),
		CmdName("sh"),
		CmdPath("/bin/sh"),
		InLocalFile("/a/b", "host1"),
		OutLocalFile("/a/b", "host1"),
		InCloudFile("/a/b", "host1"),
		OutCloudFile("/a/b", "host1"),
		Format("cat {i} > {o}", map[string]*Param{
			"i": InLocalFile("/tmp/in.txt", "host1"),
			"o": OutLocalFile("/tmp/out.txt", "host1"),
		}),
	}

	for _, p := range cases {
		data, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal %+v: %v", p, err)
		}

		var got Param
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}

		redata, err := json.Marshal(&got)
		if err != nil {
			t.Fatalf("remarshal: %v", err)
		}
		if string(redata) != string(data) {
			t.Fatalf("round trip mismatch: %s != %s", redata, data)
		}
	}
}

func TestWireShapeMatchesSpecExamples(t *testing.T) {
	data, err := json.Marshal(Str("..."))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"Str":{"value":"..."}}` {
		t.Fatalf("unexpected Str wire shape: %s", data)
	}

	data, err = json.Marshal(InLocalFile("/a/b", "host1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"InLocalFile":{"filepath":"/a/b","hostname":"host1"}}` {
		t.Fatalf("unexpected InLocalFile wire shape: %s", data)
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewInMemoryStore()

	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	if err := os.WriteFile(src, []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}

	p := InLocalFile(src, "host1")
	if err := p.UploadInplace(ctx, store); err != nil {
		t.Fatalf("UploadInplace: %v", err)
	}

	exists, err := p.ExistsOnCloud(ctx, store)
	if err != nil || !exists {
		t.Fatalf("expected object to exist on cloud, exists=%v err=%v", exists, err)
	}

	dst := filepath.Join(dir, "out.txt")
	out := OutLocalFile(dst, "host1")
	cloudOut, _ := out.AsCloud()
	if err := cloudOut.Download(ctx, store, dst); err != nil {
		t.Fatalf("download: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello\n" {
		t.Fatalf("unexpected downloaded content: %q", got)
	}

	if err := p.RemoveFromCloud(ctx, store); err != nil {
		t.Fatalf("RemoveFromCloud: %v", err)
	}
	exists, err = p.ExistsOnCloud(ctx, store)
	if err != nil || exists {
		t.Fatalf("expected residue removed, exists=%v err=%v", exists, err)
	}
}

func TestUploadDirectoryZipPacking(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewInMemoryStore()

	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("A"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(srcDir, "nested"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "nested", "b.txt"), []byte("B"), 0644); err != nil {
		t.Fatal(err)
	}

	p := InLocalFile(srcDir, "host1")
	if err := p.UploadInplace(ctx, store); err != nil {
		t.Fatalf("upload dir: %v", err)
	}

	key, _ := p.CloudKey()
	meta, err := store.Metadata(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if meta["content_type"] != DirZipContentType {
		t.Fatalf("expected dir zip content type, got %+v", meta)
	}

	dstDir := filepath.Join(t.TempDir(), "restored")
	cloud, _ := p.AsCloud()
	if err := cloud.Download(ctx, store, dstDir); err != nil {
		t.Fatalf("download dir: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dstDir, "nested", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "B" {
		t.Fatalf("unexpected restored content: %q", got)
	}
}

func TestRenderTemplateUnresolvedPlaceholder(t *testing.T) {
	_, err := RenderTemplate("echo {missing}", map[string]string{"other": "x"})
	if err == nil {
		t.Fatal("expected error for unresolved placeholder")
	}
}

func TestRenderTemplateSubstitutesAll(t *testing.T) {
	out, err := RenderTemplate("cat {i} > {o}", map[string]string{"i": "/tmp/in", "o": "/tmp/out"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "cat /tmp/in > /tmp/out" {
		t.Fatalf("unexpected render: %q", out)
	}
}

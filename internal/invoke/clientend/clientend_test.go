package clientend

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/oriys/cmdproxy/internal/param"
	"github.com/oriys/cmdproxy/internal/protocol"
)

// uploadFailsStore is a minimal blobstore.Store whose Upload always fails;
// used to exercise scenario 6 (upload failure during request).
type uploadFailsStore struct{ err error }

func (s *uploadFailsStore) IDByKey(context.Context, string) (string, error) { return "", nil }
func (s *uploadFailsStore) Exists(context.Context, string) (bool, error)    { return false, nil }
func (s *uploadFailsStore) Delete(context.Context, string) error           { return nil }
func (s *uploadFailsStore) Upload(context.Context, string, io.Reader, map[string]string) (string, error) {
	return "", s.err
}
func (s *uploadFailsStore) Download(context.Context, string, io.Writer) error { return nil }
func (s *uploadFailsStore) ReadString(context.Context, string) (string, error) {
	return "", nil
}
func (s *uploadFailsStore) WriteString(context.Context, string, string) (string, error) {
	return "", nil
}
func (s *uploadFailsStore) Metadata(context.Context, string) (map[string]string, error) {
	return nil, nil
}

func TestTransformRequestAbortsOnUploadFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	if err := os.WriteFile(src, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	store := &uploadFailsStore{err: errors.New("boom")}
	mw := New(store, NewDefaultEnvLookup())

	req := &protocol.RunRequest{
		Command: param.CmdName("sh"),
		Args:    []*param.Param{param.InLocalFile(src, "host1")},
	}

	_, err := mw.TransformRequest(context.Background(), req)
	if err == nil {
		t.Fatal("expected error from failed upload")
	}
	if len(mw.guards) != 0 {
		t.Fatalf("expected guards cleaned up after abort, got %d", len(mw.guards))
	}
}

func TestEnvGuardFailsOnUnsetVar(t *testing.T) {
	mw := New(nil, func(string) (string, bool) { return "", false })

	req := &protocol.RunRequest{
		Command: param.CmdName("sh"),
		Args:    []*param.Param{param.Env("DOES_NOT_EXIST")},
	}

	_, err := mw.TransformRequest(context.Background(), req)
	if err == nil {
		t.Fatal("expected error for unset env var")
	}
}

func TestEnvGuardResolvesSetVar(t *testing.T) {
	mw := New(nil, func(name string) (string, bool) {
		if name == "FOO" {
			return "bar", true
		}
		return "", false
	})

	req := &protocol.RunRequest{
		Command: param.CmdName("sh"),
		Args:    []*param.Param{param.Env("FOO")},
	}

	out, err := mw.TransformRequest(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if out.Args[0].Kind != param.KindStr || out.Args[0].Value != "bar" {
		t.Fatalf("expected Env resolved to Str(bar), got %+v", out.Args[0])
	}

	if _, err := mw.TransformResponse(context.Background(), &protocol.RunResponse{ReturnCode: 0}, nil); err != nil {
		t.Fatalf("TransformResponse: %v", err)
	}
}

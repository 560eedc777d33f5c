// Package param implements the Param algebra: the tagged sum type describing
// every kind of argument a RunRequest can carry, and the operations that
// stage file-bearing variants through a blobstore.Store.
package param

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/oriys/cmdproxy/internal/blobstore"
)

// Kind discriminates the Param variants; it doubles as the JSON type tag.
type Kind string

const (
	KindStr          Kind = "Str"
	KindEnv          Kind = "Env"
	KindRemoteEnv    Kind = "RemoteEnv"
	KindCmdName      Kind = "CmdName"
	KindCmdPath      Kind = "CmdPath"
	KindInLocalFile  Kind = "InLocalFile"
	KindOutLocalFile Kind = "OutLocalFile"
	KindInCloudFile  Kind = "InCloudFile"
	KindOutCloudFile Kind = "OutCloudFile"
	KindFormat       Kind = "Format"
)

// DirZipContentType is the metadata value tagging an uploaded object that is
// actually a zipped directory (§4.1's optional directory-packing extension).
const DirZipContentType = "application/directory+zip"

// Param is a tagged value describing one argument slot. Only the fields
// relevant to Kind are populated; see the constructors.
type Param struct {
	Kind Kind

	Value string // Str

	Name string // Env, RemoteEnv, CmdName

	Path string // CmdPath

	Filepath string // *LocalFile, *CloudFile
	Hostname string // *LocalFile, *CloudFile

	Tmpl string            // Format
	Args map[string]*Param // Format
}

func Str(value string) *Param                   { return &Param{Kind: KindStr, Value: value} }
func Env(name string) *Param                    { return &Param{Kind: KindEnv, Name: name} }
func RemoteEnv(name string) *Param              { return &Param{Kind: KindRemoteEnv, Name: name} }
func CmdName(name string) *Param                { return &Param{Kind: KindCmdName, Name: name} }
func CmdPath(path string) *Param                { return &Param{Kind: KindCmdPath, Path: path} }
func InLocalFile(filepath, hostname string) *Param {
	return &Param{Kind: KindInLocalFile, Filepath: filepath, Hostname: hostname}
}
func OutLocalFile(filepath, hostname string) *Param {
	return &Param{Kind: KindOutLocalFile, Filepath: filepath, Hostname: hostname}
}
func InCloudFile(filepath, hostname string) *Param {
	return &Param{Kind: KindInCloudFile, Filepath: filepath, Hostname: hostname}
}
func OutCloudFile(filepath, hostname string) *Param {
	return &Param{Kind: KindOutCloudFile, Filepath: filepath, Hostname: hostname}
}
func Format(tmpl string, args map[string]*Param) *Param {
	return &Param{Kind: KindFormat, Tmpl: tmpl, Args: args}
}

// IsInput reports whether p is one of the "in" file variants.
func (p *Param) IsInput() bool {
	return p.Kind == KindInLocalFile || p.Kind == KindInCloudFile
}

// IsOutput reports whether p is one of the "out" file variants.
func (p *Param) IsOutput() bool {
	return p.Kind == KindOutLocalFile || p.Kind == KindOutCloudFile
}

// IsLocal reports whether p is a local file variant.
func (p *Param) IsLocal() bool {
	return p.Kind == KindInLocalFile || p.Kind == KindOutLocalFile
}

// IsCloud reports whether p is a cloud file variant.
func (p *Param) IsCloud() bool {
	return p.Kind == KindInCloudFile || p.Kind == KindOutCloudFile
}

func (p *Param) isFile() bool {
	return p.IsLocal() || p.IsCloud()
}

// AsCloud returns the cloud-addressed counterpart of a file Param,
// preserving (hostname, filepath). It is the identity on cloud variants and
// an error on any non-file variant.
func (p *Param) AsCloud() (*Param, error) {
	switch p.Kind {
	case KindInLocalFile:
		return InCloudFile(p.Filepath, p.Hostname), nil
	case KindOutLocalFile:
		return OutCloudFile(p.Filepath, p.Hostname), nil
	case KindInCloudFile, KindOutCloudFile:
		return p, nil
	default:
		return nil, fmt.Errorf("param: AsCloud called on non-file variant %s", p.Kind)
	}
}

// CloudKey formats the composite object-store key "@<hostname>:<filepath>".
// Defined only on file variants.
func (p *Param) CloudKey() (string, error) {
	if !p.isFile() {
		return "", fmt.Errorf("param: CloudKey called on non-file variant %s", p.Kind)
	}
	return fmt.Sprintf("@%s:%s", p.Hostname, p.Filepath), nil
}

// ExistsOnCloud reports whether p's cloud key is present in store.
func (p *Param) ExistsOnCloud(ctx context.Context, store blobstore.Store) (bool, error) {
	key, err := p.CloudKey()
	if err != nil {
		return false, err
	}
	return store.Exists(ctx, key)
}

// RemoveFromCloud deletes p's cloud key from store.
func (p *Param) RemoveFromCloud(ctx context.Context, store blobstore.Store) error {
	key, err := p.CloudKey()
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, key); err != nil {
		return fmt.Errorf("remove %s from cloud: %w", key, err)
	}
	return nil
}

// Upload streams srcPath's content to p's cloud key. If srcPath is a
// directory, it is zip-packed first and the stored object is tagged with
// DirZipContentType metadata (§4.1 optional extension).
func (p *Param) Upload(ctx context.Context, store blobstore.Store, srcPath string) error {
	key, err := p.CloudKey()
	if err != nil {
		return err
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat upload source %q: %w", srcPath, err)
	}

	if info.IsDir() {
		data, err := zipDir(srcPath)
		if err != nil {
			return fmt.Errorf("zip directory %q: %w", srcPath, err)
		}
		if _, err := store.Upload(ctx, key, bytes.NewReader(data), map[string]string{"content_type": DirZipContentType}); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		return nil
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open upload source %q: %w", srcPath, err)
	}
	defer f.Close()

	if _, err := store.Upload(ctx, key, f, nil); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Download streams p's cloud key content to dstPath. If the stored object
// carries DirZipContentType metadata, the fetched bytes are unpacked as a
// directory at dstPath instead of written verbatim.
func (p *Param) Download(ctx context.Context, store blobstore.Store, dstPath string) error {
	key, err := p.CloudKey()
	if err != nil {
		return err
	}

	meta, err := store.Metadata(ctx, key)
	if err != nil {
		return fmt.Errorf("metadata %s: %w", key, err)
	}

	if meta["content_type"] == DirZipContentType {
		var buf bytes.Buffer
		if err := store.Download(ctx, key, &buf); err != nil {
			return fmt.Errorf("download %s: %w", key, err)
		}
		if err := unzipDir(buf.Bytes(), dstPath); err != nil {
			return fmt.Errorf("unzip %s into %q: %w", key, dstPath, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("mkdir for %q: %w", dstPath, err)
	}
	f, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create download dest %q: %w", dstPath, err)
	}
	defer f.Close()

	if err := store.Download(ctx, key, f); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	return nil
}

// UploadInplace uploads using p.Filepath as the source; requires a local
// variant.
func (p *Param) UploadInplace(ctx context.Context, store blobstore.Store) error {
	if !p.IsLocal() {
		return fmt.Errorf("param: UploadInplace called on non-local variant %s", p.Kind)
	}
	return p.Upload(ctx, store, p.Filepath)
}

// DownloadInplace downloads to p.Filepath; requires a local variant.
func (p *Param) DownloadInplace(ctx context.Context, store blobstore.Store) error {
	if !p.IsLocal() {
		return fmt.Errorf("param: DownloadInplace called on non-local variant %s", p.Kind)
	}
	return p.Download(ctx, store, p.Filepath)
}

// UploadFromString uploads the literal string s to p's cloud key.
func (p *Param) UploadFromString(ctx context.Context, store blobstore.Store, s string) error {
	key, err := p.CloudKey()
	if err != nil {
		return err
	}
	if _, err := store.WriteString(ctx, key, s); err != nil {
		return fmt.Errorf("upload string to %s: %w", key, err)
	}
	return nil
}

// DownloadToString reads p's cloud key content as a string.
func (p *Param) DownloadToString(ctx context.Context, store blobstore.Store) (string, error) {
	key, err := p.CloudKey()
	if err != nil {
		return "", err
	}
	s, err := store.ReadString(ctx, key)
	if err != nil {
		return "", fmt.Errorf("download string from %s: %w", key, err)
	}
	return s, nil
}

func zipDir(root string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unzipDir(data []byte, dst string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}

	for _, f := range zr.File {
		target := filepath.Join(dst, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) {
			return fmt.Errorf("zip entry %q escapes destination", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

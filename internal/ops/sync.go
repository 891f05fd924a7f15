package ops

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"fleetrun/internal/secrets"
	"fleetrun/internal/sshexec"
)

// Sync pushes a local script directory to a remote destination as a tar
// stream over the session's stdin.
type Sync struct {
	SourceDir string
	DestDir   string
}

func (Sync) Name() string { return "sync" }

func (s Sync) Describe(*secrets.Store) (sshexec.Operation, error) {
	if s.SourceDir == "" || s.DestDir == "" {
		return sshexec.Operation{}, fmt.Errorf("sync requires source and destination directories")
	}
	info, err := os.Stat(s.SourceDir)
	if err != nil {
		return sshexec.Operation{}, fmt.Errorf("sync source %s: %w", s.SourceDir, err)
	}
	if !info.IsDir() {
		return sshexec.Operation{}, fmt.Errorf("sync source %s is not a directory", s.SourceDir)
	}

	src := s.SourceDir
	return sshexec.Operation{
		RemoteCommand: fmt.Sprintf("mkdir -p %q && tar -xf - -C %q", s.DestDir, s.DestDir),
		UsesStdin:     true,
		Stdin: func() (io.Reader, error) {
			// Archived fresh per host: the tree may change between a
			// failed run and its retry, and each session needs an
			// unconsumed stream.
			return tarDirectory(src)
		},
	}, nil
}

// tarDirectory archives dir's regular files and subdirectories with paths
// relative to dir.
func tarDirectory(dir string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil // symlinks and devices are not shipped
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("archiving %s: %w", dir, err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("archiving %s: %w", dir, err)
	}
	return &buf, nil
}

func readPubKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading public key %s: %w", path, err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("public key %s is empty", path)
	}
	return key + "\n", nil
}

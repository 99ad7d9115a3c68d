// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

package backups

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4/tar"
)

// Workspace is a temporary directory holding the unpacked contents of
// a backup archive, used by the rollback path. Close removes it.
type Workspace struct {
	RootDir string
}

// NewWorkspaceFromArchive unpacks the archive at archivePath into a
// fresh temporary directory.
func NewWorkspaceFromArchive(archivePath string) (*Workspace, error) {
	dir, err := os.MkdirTemp("", "ojsup-restore-")
	if err != nil {
		return nil, errors.Annotate(err, "creating restore workspace")
	}
	if err := Unpack(archivePath, dir); err != nil {
		os.RemoveAll(dir)
		return nil, errors.Trace(err)
	}
	return &Workspace{RootDir: dir}, nil
}

// Close removes the workspace directory.
func (ws *Workspace) Close() error {
	return errors.Trace(os.RemoveAll(ws.RootDir))
}

// SQLDump returns the path of the database dump inside the workspace.
// The archive must contain exactly one member, a regular .sql file;
// anything else fails the restore.
func (ws *Workspace) SQLDump() (string, error) {
	entries, err := os.ReadDir(ws.RootDir)
	if err != nil {
		return "", errors.Trace(err)
	}
	if len(entries) != 1 {
		return "", errors.Errorf("database archive holds %d members, want exactly one dump", len(entries))
	}
	entry := entries[0]
	if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
		return "", errors.Errorf("database archive member %q is not a dump file", entry.Name())
	}
	return filepath.Join(ws.RootDir, entry.Name()), nil
}

// Unpack expands the compressed archive at archivePath into targetDir.
func Unpack(archivePath, targetDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()
	return errors.Annotatef(unpack(f, targetDir), "%q", archivePath)
}

func unpack(archive io.Reader, targetDir string) error {
	uncompressed, err := gzip.NewReader(archive)
	if err != nil {
		return errors.Annotate(err, "uncompressing archive")
	}
	if err := tar.UntarFiles(uncompressed, targetDir); err != nil {
		return errors.Annotate(err, "extracting archive")
	}
	return nil
}

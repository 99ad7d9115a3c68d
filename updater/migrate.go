// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

package updater

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/utils/v4/fs"

	"github.com/ub-jcs/ojsup/instance"
)

// ErrPublicNotEmpty reports a reference tree whose public folder holds
// more than the single placeholder index.html. Replacing it would
// silently discard real assets of the reference build.
const ErrPublicNotEmpty = errors.ConstError("new public folder not empty")

const (
	publicDir         = "public"
	publicPlaceholder = "index.html"
)

// FileMigrator computes the file-tree replacement of an upgrade: the
// live tree is renamed aside with a timestamp, the reference tree
// copied into its place, and the public assets, configuration file and
// custom-files allowlist carried over from the old tree. The renamed
// old tree is the information source for every carry-over step and is
// intentionally retained for manual recovery.
type FileMigrator struct {
	// CustomFiles is the per-instance (or "all") allowlist of relative
	// paths to preserve.
	CustomFiles map[string][]string
	// RenameSuffix marks pre-existing destinations that were put aside
	// instead of overwritten.
	RenameSuffix string
	// Timestamp names the renamed old tree.
	Timestamp string
	// Strict aborts on a missing custom-file source instead of
	// warn-and-skip. Set for forced downgrades.
	Strict bool
}

// Replace swaps live's tree for a copy of ref's. On failure before the
// rename nothing has changed; after it, the old tree is still on disk
// under its timestamped name.
func (m *FileMigrator) Replace(live, ref *instance.Instance) error {
	if live == nil {
		return errors.NotValidf("nil live instance")
	}
	if ref == nil {
		return errors.NotValidf("nil reference instance")
	}
	if _, err := os.Stat(ref.BasePath()); err != nil {
		return errors.NotFoundf("reference folder %q", ref.BasePath())
	}

	oldTree := live.BasePath() + "_" + m.Timestamp
	logger.Infof("replacing %q from %q", live.BasePath(), ref.BasePath())
	if err := os.Rename(live.BasePath(), oldTree); err != nil {
		return errors.Annotate(err, "renaming old instance folder")
	}
	if err := fs.Copy(ref.BasePath(), live.BasePath()); err != nil {
		return errors.Annotate(err, "copying reference folder")
	}
	if err := m.carryPublic(oldTree, live.BasePath()); err != nil {
		return errors.Trace(err)
	}
	if err := m.carryConfig(oldTree, live.BasePath(), live.ConfigFileName()); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(m.carryCustomFiles(oldTree, live.BasePath(), live.Name()))
}

// carryPublic replaces the reference build's placeholder public folder
// with the live one. Anything beyond the single placeholder file in
// the new tree is treated as real assets and aborts the migration.
func (m *FileMigrator) carryPublic(oldTree, newTree string) error {
	public := filepath.Join(newTree, publicDir)
	entries, err := os.ReadDir(public)
	switch {
	case err == nil:
		if len(entries) != 1 || entries[0].Name() != publicPlaceholder {
			return errors.Annotatef(ErrPublicNotEmpty, "%q", public)
		}
		if err := os.RemoveAll(public); err != nil {
			return errors.Trace(err)
		}
	case !os.IsNotExist(err):
		return errors.Trace(err)
	}
	logger.Infof("carrying over public assets")
	return errors.Annotate(fs.Copy(filepath.Join(oldTree, publicDir), public), "copying public folder")
}

// carryConfig keeps the reference configuration as a reviewable
// artifact next to the live one it restores.
func (m *FileMigrator) carryConfig(oldTree, newTree, configFile string) error {
	newConfig := filepath.Join(newTree, configFile)
	aside := newConfig + m.RenameSuffix
	logger.Infof("renaming %q to %q", newConfig, aside)
	if err := os.Rename(newConfig, aside); err != nil {
		return errors.Annotate(err, "renaming reference configuration")
	}
	logger.Infof("restoring configuration from old tree")
	return errors.Annotate(
		fs.Copy(filepath.Join(oldTree, configFile), newConfig),
		"copying configuration")
}

func (m *FileMigrator) carryCustomFiles(oldTree, newTree, name string) error {
	paths := set.NewStrings(m.CustomFiles["all"]...)
	paths = paths.Union(set.NewStrings(m.CustomFiles[name]...))
	if paths.IsEmpty() {
		return nil
	}
	logger.Infof("carrying over custom files")
	for _, rel := range paths.SortedValues() {
		cleaned := filepath.Clean(rel)
		if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			logger.Warningf("custom path %q escapes the instance tree, skipping", rel)
			continue
		}
		if err := m.carryOne(oldTree, newTree, cleaned); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (m *FileMigrator) carryOne(oldTree, newTree, rel string) error {
	src := filepath.Join(oldTree, rel)
	dst := filepath.Join(newTree, rel)

	srcInfo, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			if m.Strict {
				return errors.NotFoundf("custom path %q", src)
			}
			logger.Warningf("custom path %q not found, skipping", src)
			return nil
		}
		return errors.Trace(err)
	}
	logger.Infof("-> copying %q", src)
	if _, err := os.Stat(dst); err == nil {
		if err := os.Rename(dst, dst+m.RenameSuffix); err != nil {
			return errors.Annotatef(err, "renaming %q aside", dst)
		}
	} else if !os.IsNotExist(err) {
		return errors.Trace(err)
	} else if srcInfo.Mode().IsRegular() {
		parent := filepath.Dir(dst)
		if _, err := os.Stat(parent); os.IsNotExist(err) {
			logger.Infof("creating directory %q for %q", parent, filepath.Base(dst))
			if err := os.MkdirAll(parent, 0755); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return errors.Annotatef(fs.Copy(src, dst), "copying %q", rel)
}

// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

// Package catalog indexes the locally available reference copies of
// OJS by their release version.
package catalog

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/version/v2"

	"github.com/ub-jcs/ojsup/instance"
)

var logger = loggo.GetLogger("ojsup.catalog")

// Entry pairs a release version with its reference instance.
type Entry struct {
	Version  version.Number
	Instance *instance.Instance
}

// Catalog maps release versions to reference instances. At most one
// instance per version.
type Catalog struct {
	versions map[version.Number]*instance.Instance
}

// New builds a catalog from entries. A repeated version is an error.
func New(entries []Entry) (*Catalog, error) {
	versions := make(map[version.Number]*instance.Instance)
	for _, entry := range entries {
		if existing, ok := versions[entry.Version]; ok {
			return nil, errors.AlreadyExistsf("version %v (%q and %q)",
				entry.Version, existing.BasePath(), entry.Instance.BasePath())
		}
		versions[entry.Version] = entry.Instance
	}
	return &Catalog{versions: versions}, nil
}

// Scan reads the immediate subdirectories of root, loading every one
// that looks like an OJS installation as a reference instance.
// Subdirectories failing the marker check are skipped silently; a
// missing root fails the whole scan.
func Scan(root string, layout instance.Layout) (*Catalog, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundf("version folder %q", root)
		}
		return nil, errors.Trace(err)
	}
	var entries []Entry
	for _, dirEntry := range dirEntries {
		if !dirEntry.IsDir() {
			continue
		}
		dir := filepath.Join(root, dirEntry.Name())
		if !instance.IsInstance(dir, layout.MarkerFiles) {
			logger.Debugf("skipping %q, not an OJS installation", dir)
			continue
		}
		inst, err := instance.LoadReference(dir, layout)
		if err != nil {
			return nil, errors.Annotatef(err, "loading reference %q", dir)
		}
		entries = append(entries, Entry{Version: inst.Version(), Instance: inst})
	}
	return New(entries)
}

// Get returns the reference instance for the given version.
func (c *Catalog) Get(v version.Number) (*instance.Instance, bool) {
	inst, ok := c.versions[v]
	return inst, ok
}

// Len is the number of catalogued versions.
func (c *Catalog) Len() int {
	return len(c.versions)
}

// Newest returns the highest catalogued version.
func (c *Catalog) Newest() (version.Number, error) {
	if len(c.versions) == 0 {
		return version.Zero, errors.NotFoundf("local OJS versions")
	}
	var newest version.Number
	first := true
	for v := range c.versions {
		if first || v.Compare(newest) > 0 {
			newest = v
			first = false
		}
	}
	return newest, nil
}

// Ascending returns the catalogue entries ordered from oldest to
// newest. Every call builds a fresh slice.
func (c *Catalog) Ascending() []Entry {
	entries := make([]Entry, 0, len(c.versions))
	for v, inst := range c.versions {
		entries = append(entries, Entry{Version: v, Instance: inst})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Version.Compare(entries[j].Version) < 0
	})
	return entries
}

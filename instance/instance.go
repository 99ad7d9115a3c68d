// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

// Package instance models a single on-disk copy of OJS, either a live
// journal or a pristine reference copy used as an upgrade source.
package instance

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/version/v2"
	"gopkg.in/ini.v1"
)

var logger = loggo.GetLogger("ojsup.instance")

const (
	// ErrNotAnInstance reports a directory that fails the marker-file check.
	ErrNotAnInstance = errors.ConstError("not an OJS instance")
)

// BackupKind names one of the backup artifacts kept per instance.
type BackupKind string

const (
	BackupFiles    BackupKind = "files"
	BackupDatabase BackupKind = "database"
)

// Layout describes where an OJS tree keeps its characteristic files.
// It is supplied by the settings layer; the instance package itself has
// no opinion about concrete OJS releases.
type Layout struct {
	// MarkerFiles are paths, relative to the instance root, that must
	// all exist for a directory to count as an OJS installation.
	MarkerFiles []string
	// VersionFile is the relative path of the version descriptor.
	VersionFile string
	// ConfigFile is the relative path of the instance configuration.
	ConfigFile string
	// ToolsDir is the relative path of the php tools directory.
	ToolsDir string
	// Interpreter is the php binary used to run the tools.
	Interpreter string
}

// DatabaseConfig holds the database connection values from the
// instance configuration file.
type DatabaseConfig struct {
	Driver   string
	Host     string
	Username string
	Password string
	Name     string
}

// Instance is one concrete OJS deployment rooted at a directory.
type Instance struct {
	basePath  string
	layout    Layout
	reference bool

	vers   version.Number
	info   map[string]string
	config *ini.File
	tools  map[string]Tool

	backups map[BackupKind]string
}

// IsInstance reports whether dir looks like an OJS installation, by
// checking that every marker file is present.
func IsInstance(dir string, markers []string) bool {
	for _, marker := range markers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err != nil {
			return false
		}
	}
	return true
}

// Load reads the instance rooted at basePath as a live journal.
func Load(basePath string, layout Layout) (*Instance, error) {
	return load(basePath, layout, false)
}

// LoadReference reads the instance rooted at basePath as a pristine
// reference copy. Reference instances are only ever read from.
func LoadReference(basePath string, layout Layout) (*Instance, error) {
	return load(basePath, layout, true)
}

func load(basePath string, layout Layout, reference bool) (*Instance, error) {
	basePath = filepath.Clean(basePath)
	if !IsInstance(basePath, layout.MarkerFiles) {
		return nil, errors.Annotatef(ErrNotAnInstance, "%q", basePath)
	}
	info, err := ReadVersionDescriptor(filepath.Join(basePath, layout.VersionFile))
	if err != nil {
		return nil, errors.Trace(err)
	}
	vers, err := version.Parse(info[releaseTag])
	if err != nil {
		return nil, errors.Annotatef(err, "release in %q", layout.VersionFile)
	}
	inst := &Instance{
		basePath:  basePath,
		layout:    layout,
		reference: reference,
		vers:      vers,
		info:      info,
		backups:   make(map[BackupKind]string),
	}
	if err := inst.ReloadConfig(); err != nil {
		return nil, errors.Trace(err)
	}
	inst.tools = discoverTools(basePath, layout.ToolsDir, layout.Interpreter)
	return inst, nil
}

// Name is the instance directory name, used for backup artifacts and
// the custom-files allowlist.
func (i *Instance) Name() string {
	return filepath.Base(i.basePath)
}

// BasePath is the instance root directory.
func (i *Instance) BasePath() string {
	return i.basePath
}

// Version is the release parsed from the version descriptor.
func (i *Instance) Version() version.Number {
	return i.vers
}

// Info returns the raw version descriptor entries.
func (i *Instance) Info() map[string]string {
	return i.info
}

// IsReference reports whether this instance is a pristine install
// source rather than a live journal.
func (i *Instance) IsReference() bool {
	return i.reference
}

// ConfigFileName is the configuration file path relative to the
// instance root.
func (i *Instance) ConfigFileName() string {
	return i.layout.ConfigFile
}

func (i *Instance) configPath() string {
	return filepath.Join(i.basePath, i.layout.ConfigFile)
}

// ReloadConfig re-reads the configuration file from disk, replacing
// whatever is held in memory.
func (i *Instance) ReloadConfig() error {
	cfg, err := ini.Load(i.configPath())
	if err != nil {
		return errors.Annotatef(err, "loading configuration for %q", i.Name())
	}
	db, err := cfg.GetSection("database")
	if err != nil {
		return errors.NotValidf("configuration %q without database section", i.configPath())
	}
	if !db.HasKey("host") {
		return errors.NotValidf("configuration %q without database host", i.configPath())
	}
	// The host value is commonly double-quoted in config.inc.php.
	host := db.Key("host")
	host.SetValue(strings.Trim(host.String(), `"`))
	i.config = cfg
	return nil
}

// ConfigValue returns the value for key in section, and whether it is set.
func (i *Instance) ConfigValue(section, key string) (string, bool) {
	sec, err := i.config.GetSection(section)
	if err != nil || !sec.HasKey(key) {
		return "", false
	}
	return sec.Key(key).String(), true
}

// IsInstalled reports the general.installed flag, comparing
// case-insensitively against "on".
func (i *Instance) IsInstalled() bool {
	value, _ := i.ConfigValue("general", "installed")
	return strings.EqualFold(value, "on")
}

// Database returns the database connection configuration.
func (i *Instance) Database() (DatabaseConfig, error) {
	db, err := i.config.GetSection("database")
	if err != nil {
		return DatabaseConfig{}, errors.NotValidf("configuration %q without database section", i.configPath())
	}
	return DatabaseConfig{
		Driver:   db.Key("driver").String(),
		Host:     db.Key("host").String(),
		Username: db.Key("username").String(),
		Password: db.Key("password").String(),
		Name:     db.Key("name").String(),
	}, nil
}

// SetConfigValue updates one key in memory, rewrites the whole
// configuration file, and reloads it from disk so the in-memory view
// matches storage. The rewrite does not preserve the original file
// formatting; use ToggleInstalled for the install bracketing.
func (i *Instance) SetConfigValue(section, key, value string) error {
	if i.config == nil {
		return errors.NotValidf("instance %q without configuration", i.Name())
	}
	i.config.Section(section).Key(key).SetValue(value)
	if err := i.config.SaveTo(i.configPath()); err != nil {
		return errors.Annotatef(err, "writing configuration for %q", i.Name())
	}
	return errors.Trace(i.ReloadConfig())
}

var (
	installedOn  = regexp.MustCompile(`(?i)^\s*installed\s*=\s*on\s*$`)
	installedOff = regexp.MustCompile(`(?i)^\s*installed\s*=\s*off\s*$`)
)

// ToggleInstalled flips the installed flag with a line-oriented
// rewrite. Only the matching installed line changes; every other line,
// comments included, is written back byte-identical. This is the only
// mutation that is safe around an upgrade.
func (i *Instance) ToggleInstalled() error {
	data, err := os.ReadFile(i.configPath())
	if err != nil {
		return errors.Trace(err)
	}
	lines := strings.SplitAfter(string(data), "\n")
	for n, line := range lines {
		trimmed := strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		switch {
		case installedOn.MatchString(trimmed):
			lines[n] = "installed = Off\n"
		case installedOff.MatchString(trimmed):
			lines[n] = "installed = On\n"
		}
	}
	rewritten := strings.Join(lines, "")
	if err := os.WriteFile(i.configPath(), []byte(rewritten), 0644); err != nil {
		return errors.Annotatef(err, "rewriting configuration for %q", i.Name())
	}
	return errors.Trace(i.ReloadConfig())
}

// RecordBackup remembers the most recent backup artifact of the given
// kind. Earlier records of the same kind are overwritten.
func (i *Instance) RecordBackup(kind BackupKind, path string) {
	i.backups[kind] = path
}

// Backup returns the most recent backup artifact of the given kind.
func (i *Instance) Backup(kind BackupKind) (string, bool) {
	path, ok := i.backups[kind]
	return path, ok
}

// HasBackups reports whether any backup has been recorded for this
// instance.
func (i *Instance) HasBackups() bool {
	return len(i.backups) > 0
}

// Tool returns the named php tool, if it was discovered at load time.
func (i *Instance) Tool(name string) (Tool, bool) {
	tool, ok := i.tools[name]
	return tool, ok
}

// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

// Package settings loads and validates the operator settings file that
// drives the updater: directory locations, the custom-files allowlist,
// and the external binaries to call.
package settings

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/schema"
	"gopkg.in/yaml.v2"

	"github.com/ub-jcs/ojsup/instance"
)

var logger = loggo.GetLogger("ojsup.settings")

// DefaultFilename is the settings file searched for when none is given
// explicitly.
const DefaultFilename = "ojs_updater_settings.yml"

// lockDirs are tried in order for the advisory lock location when the
// settings file does not name one.
var lockDirs = []string{
	"/run/lock",
	"/var/lock",
	"/run",
	"/var/run",
	"/tmp",
	"/dev/shm",
}

var lookPath = exec.LookPath

// Settings is the validated operator configuration.
type Settings struct {
	// ConfigFile is the instance configuration file name, relative to
	// an instance root.
	ConfigFile string
	// VersionFile is the version descriptor path, relative to an
	// instance root.
	VersionFile string
	// Locations are the marker files an OJS installation must have.
	Locations []string
	// CustomFiles maps instance names, or "all", to relative paths
	// preserved across upgrades.
	CustomFiles map[string][]string
	// VersionFolder holds the labeled reference installations.
	VersionFolder string
	// BackupRoot, FilesBackupDir and DatabaseBackupDir receive backup
	// artifacts.
	BackupRoot        string
	FilesBackupDir    string
	DatabaseBackupDir string
	// MySQLDump and MySQLClient are the database binaries.
	MySQLDump   string
	MySQLClient string
	// PHPInterpreter runs the platform tools.
	PHPInterpreter string
	// Owner and Group are the system accounts the tree belongs to.
	Owner string
	Group string
	// RunDir holds the advisory lock.
	RunDir string
	// TempDir is scratch space.
	TempDir string
	// RenameSuffix marks files put aside instead of overwritten.
	RenameSuffix string
	// TimestampFormat is the Go reference layout for artifact names.
	TimestampFormat string
	// Debug suppresses archive writes and rollback.
	Debug bool
}

var settingsFields = schema.Fields{
	"config_file":        schema.String(),
	"custom_files":       schema.StringMap(schema.List(schema.String())),
	"debug":              schema.Bool(),
	"group":              schema.String(),
	"owner":              schema.String(),
	"locations":          schema.List(schema.String()),
	"mysql_dump":         schema.String(),
	"mysql_client":       schema.String(),
	"ojs_backup_db":      schema.String(),
	"ojs_backup_folder":  schema.String(),
	"ojs_backup_www":     schema.String(),
	"ojs_version_folder": schema.String(),
	"php_interpreter":    schema.String(),
	"run_dir":            schema.String(),
	"suffix_new":         schema.String(),
	"temp_dir":           schema.String(),
	"timestamp_format":   schema.String(),
	"version_file":       schema.String(),
}

var settingsDefaults = schema.Defaults{
	"custom_files":     schema.Omit,
	"debug":            false,
	"mysql_dump":       schema.Omit,
	"mysql_client":     schema.Omit,
	"php_interpreter":  schema.Omit,
	"run_dir":          schema.Omit,
	"temp_dir":         schema.Omit,
	"timestamp_format": "20060102-150405",
}

// DefaultSearchPath lists the directories probed for the settings
// file: the working directory first, then the system locations.
func DefaultSearchPath() []string {
	dirs := []string{}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	return append(dirs, "/usr/local/etc", "/etc")
}

// Find returns the first settings file present in dirs.
func Find(dirs []string, filename string) (string, error) {
	for _, dir := range dirs {
		path := filepath.Join(dir, filename)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", errors.NotFoundf("settings file %q in %v", filename, dirs)
}

// Load reads and validates the settings file at path, filling in the
// discoverable defaults (mysqldump, php, temp and lock directories).
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading settings")
	}
	var raw map[interface{}]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Annotatef(err, "parsing settings %q", path)
	}
	checker := schema.FieldMap(settingsFields, settingsDefaults)
	coerced, err := checker.Coerce(raw, nil)
	if err != nil {
		return nil, errors.Annotatef(err, "invalid settings %q", path)
	}
	attrs := coerced.(map[string]interface{})

	s := &Settings{
		ConfigFile:        attrs["config_file"].(string),
		VersionFile:       attrs["version_file"].(string),
		Locations:         stringList(attrs["locations"]),
		CustomFiles:       stringListMap(attrs["custom_files"]),
		VersionFolder:     attrs["ojs_version_folder"].(string),
		BackupRoot:        attrs["ojs_backup_folder"].(string),
		FilesBackupDir:    attrs["ojs_backup_www"].(string),
		DatabaseBackupDir: attrs["ojs_backup_db"].(string),
		Owner:             attrs["owner"].(string),
		Group:             attrs["group"].(string),
		RenameSuffix:      attrs["suffix_new"].(string),
		TimestampFormat:   attrs["timestamp_format"].(string),
		Debug:             attrs["debug"].(bool),
	}
	if s.MySQLDump, err = binarySetting(attrs, "mysql_dump", "mysqldump", true); err != nil {
		return nil, errors.Trace(err)
	}
	if s.MySQLClient, err = binarySetting(attrs, "mysql_client", "mysql", false); err != nil {
		return nil, errors.Trace(err)
	}
	if s.PHPInterpreter, err = binarySetting(attrs, "php_interpreter", "php", true); err != nil {
		return nil, errors.Trace(err)
	}
	if value, ok := attrs["temp_dir"].(string); ok {
		s.TempDir = value
	} else {
		s.TempDir = os.TempDir()
	}
	if value, ok := attrs["run_dir"].(string); ok {
		s.RunDir = value
	} else {
		s.RunDir = defaultRunDir()
	}
	logger.Debugf("settings loaded from %q", path)
	return s, nil
}

// Layout translates the settings into the instance layout.
func (s *Settings) Layout() instance.Layout {
	return instance.Layout{
		MarkerFiles: s.Locations,
		VersionFile: s.VersionFile,
		ConfigFile:  s.ConfigFile,
		ToolsDir:    "tools",
		Interpreter: s.PHPInterpreter,
	}
}

// binarySetting returns the configured path for key, or looks the
// binary up on PATH. A required binary that cannot be found is an
// error; an optional one falls back to its bare name.
func binarySetting(attrs map[string]interface{}, key, binary string, required bool) (string, error) {
	if value, ok := attrs[key].(string); ok {
		return value, nil
	}
	path, err := lookPath(binary)
	if err == nil {
		return path, nil
	}
	if required {
		return "", errors.NotFoundf("%q on PATH", binary)
	}
	return binary, nil
}

func defaultRunDir() string {
	for _, dir := range lockDirs {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
	}
	return os.TempDir()
}

func stringList(value interface{}) []string {
	items, _ := value.([]interface{})
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.(string))
	}
	return out
}

func stringListMap(value interface{}) map[string][]string {
	entries, _ := value.(map[string]interface{})
	out := make(map[string][]string, len(entries))
	for key, item := range entries {
		out[key] = stringList(item)
	}
	return out
}

// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

// Package updater sequences the upgrade of a live OJS instance to a
// reference copy: backup, file replacement, config toggling and the
// platform's own database migration, with best-effort rollback when
// any of those fail.
package updater

import (
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/version/v2"

	"github.com/ub-jcs/ojsup/backups"
	"github.com/ub-jcs/ojsup/catalog"
	"github.com/ub-jcs/ojsup/instance"
)

var logger = loggo.GetLogger("ojsup.updater")

// upgradeTool is the platform script that migrates the database schema.
const upgradeTool = "upgrade.php"

// Config carries the operator-controlled knobs of an upgrade.
type Config struct {
	// FilesBackupDir and DatabaseBackupDir receive the pre-upgrade
	// backup artifacts.
	FilesBackupDir    string
	DatabaseBackupDir string
	// CustomFiles maps an instance name, or the wildcard "all", to
	// relative paths preserved across the upgrade.
	CustomFiles map[string][]string
	// RenameSuffix marks files put aside instead of overwritten.
	RenameSuffix string
	// TimestampFormat names the renamed old tree.
	TimestampFormat string
	// Force proceeds even when the live version is equal or newer,
	// which allows controlled downgrades.
	Force bool
	// DryRun logs failures instead of rolling back, leaving the
	// instance as-is for inspection.
	DryRun bool
}

// Updater drives upgrades against a catalog of reference versions.
type Updater struct {
	catalog  *catalog.Catalog
	engine   *backups.Engine
	registry *backups.DriverRegistry
	cfg      Config
	clock    clock.Clock
}

// New returns an updater. A nil clk means the wall clock.
func New(cat *catalog.Catalog, engine *backups.Engine, registry *backups.DriverRegistry, cfg Config, clk clock.Clock) *Updater {
	if clk == nil {
		clk = clock.WallClock
	}
	if cfg.TimestampFormat == "" {
		cfg.TimestampFormat = backups.DefaultTimestampFormat
	}
	return &Updater{
		catalog:  cat,
		engine:   engine,
		registry: registry,
		cfg:      cfg,
		clock:    clk,
	}
}

// Backup creates the files and database backups of live without
// upgrading anything.
func (u *Updater) Backup(live *instance.Instance) error {
	return errors.Trace(u.engine.Backup(live, u.cfg.FilesBackupDir, u.cfg.DatabaseBackupDir))
}

// Upgrade brings live to the target version, or to the newest
// catalogued version when target is empty. A live version equal to or
// newer than the target is a no-op unless Force is set.
func (u *Updater) Upgrade(live *instance.Instance, target string) error {
	if live == nil {
		return errors.NotValidf("nil live instance")
	}
	targetVersion, err := u.resolveTarget(target)
	if err != nil {
		return errors.Trace(err)
	}
	ref, ok := u.catalog.Get(targetVersion)
	if !ok {
		return errors.NotFoundf("version %v", targetVersion)
	}
	if !ref.IsReference() {
		return errors.NotValidf("target %q: not a reference copy", ref.BasePath())
	}
	if live.Version().Compare(targetVersion) >= 0 {
		logger.Warningf("no need to upgrade: %q is at %v, target is %v",
			live.Name(), live.Version(), targetVersion)
		if !u.cfg.Force {
			return nil
		}
		logger.Warningf("enforcing upgrade")
	}

	logger.Infof("upgrading %q from %v to %v", live.Name(), live.Version(), targetVersion)
	if err := u.Backup(live); err != nil {
		return errors.Trace(err)
	}

	migrator := &FileMigrator{
		CustomFiles:  u.cfg.CustomFiles,
		RenameSuffix: u.cfg.RenameSuffix,
		Timestamp:    u.clock.Now().Format(u.cfg.TimestampFormat),
		// A forced downgrade carries files from a newer tree into an
		// older layout; skipping a listed path silently would be
		// guesswork there, so missing sources abort instead.
		Strict: live.Version().Compare(targetVersion) > 0,
	}
	steps := []step{
		{"replacing instance folder", func() error {
			return migrator.Replace(live, ref)
		}},
		{"setting instance to uninstalled", live.ToggleInstalled},
		{"upgrading database", func() error {
			return u.migrateDatabase(live)
		}},
		{"setting instance to installed", live.ToggleInstalled},
	}
	return errors.Trace(u.runProtected(live, steps))
}

func (u *Updater) resolveTarget(target string) (version.Number, error) {
	if target == "" {
		newest, err := u.catalog.Newest()
		return newest, errors.Trace(err)
	}
	parsed, err := version.Parse(target)
	if err != nil {
		return version.Zero, errors.NotValidf("target version %q", target)
	}
	return parsed, nil
}

// migrateDatabase runs the platform's own migration script against the
// replaced file tree and the still-old database.
func (u *Updater) migrateDatabase(live *instance.Instance) error {
	tool, ok := live.Tool(upgradeTool)
	if !ok {
		return errors.NotFoundf("tool %q in %q", upgradeTool, live.BasePath())
	}
	return errors.Trace(tool("upgrade"))
}

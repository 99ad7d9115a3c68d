// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

package main

import (
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/juju/mutex/v2"

	"github.com/ub-jcs/ojsup/backups"
	"github.com/ub-jcs/ojsup/catalog"
	"github.com/ub-jcs/ojsup/instance"
	"github.com/ub-jcs/ojsup/settings"
	"github.com/ub-jcs/ojsup/updater"
)

var logger = loggo.GetLogger("ojsup.cmd")

const lockName = "ojsup"

var updateDoc = `
ojsup upgrades a self-hosted OJS instance in place. It scans a folder
of labeled reference installations, backs up the instance's files and
database, replaces the file tree with the target reference copy while
preserving the configuration, public assets and the configured custom
files, and runs OJS's own database migration. Any failure after the
backup triggers a best-effort rollback from the backups just taken.

Settings are read from ` + settings.DefaultFilename + ` in the working
directory, /usr/local/etc or /etc, unless --settings names a file.

Examples:

    ojsup /var/www/journals/journalx
    ojsup --target 3.3.0.1 /var/www/journals/journalx
    ojsup --backup /var/www/journals/journalx
`

type updateCommand struct {
	cmd.CommandBase

	folder       string
	target       string
	settingsPath string
	force        bool
	debug        bool
	backupOnly   bool
	permissive   bool
}

func newUpdateCommand() cmd.Command {
	return &updateCommand{}
}

// Info implements Command.
func (c *updateCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "ojsup",
		Args:    "<folder>",
		Purpose: "Upgrade a self-hosted OJS instance.",
		Doc:     updateDoc,
	}
}

// SetFlags implements Command.
func (c *updateCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.target, "target", "", "upgrade to this version instead of the newest one")
	f.StringVar(&c.settingsPath, "settings", "", "path to the settings file")
	f.BoolVar(&c.force, "force", false, "proceed even if the instance version is equal or newer (allows downgrades)")
	f.BoolVar(&c.debug, "debug", false, "verbose logging; suppress archive writes and rollback")
	f.BoolVar(&c.backupOnly, "backup", false, "run only the backup routine")
	f.BoolVar(&c.permissive, "permissive", false, "do not require running as root")
}

// Init implements Command.
func (c *updateCommand) Init(args []string) error {
	if len(args) < 1 {
		return errors.New("missing OJS folder")
	}
	c.folder, args = args[0], args[1:]
	return cmd.CheckEmpty(args)
}

// Run implements Command.
func (c *updateCommand) Run(ctx *cmd.Context) error {
	level := "INFO"
	if c.debug {
		level = "DEBUG"
	}
	if err := loggo.ConfigureLoggers("ojsup=" + level); err != nil {
		return errors.Trace(err)
	}
	if !c.permissive && os.Geteuid() != 0 {
		return errors.New("must run as root (or pass --permissive)")
	}

	st, err := c.loadSettings()
	if err != nil {
		return errors.Trace(err)
	}
	if c.debug {
		st.Debug = true
	}

	// One upgrade at a time on this machine; the core performs no
	// locking of its own.
	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    lockName,
		Clock:   clock.WallClock,
		Delay:   250 * time.Millisecond,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return errors.Annotate(err, "acquiring upgrade lock")
	}
	defer releaser.Release()

	locations := []string{
		st.TempDir,
		st.VersionFolder,
		st.BackupRoot,
		st.DatabaseBackupDir,
		st.FilesBackupDir,
	}
	if err := checkAccess(locations, readWrite); err != nil {
		return errors.Annotate(err, "insufficient permissions")
	}
	if err := checkDiskSpace(locations, minimumFreeBytes); err != nil {
		return errors.Trace(err)
	}
	logger.Infof("debug mode: %v", st.Debug)

	registry := backups.NewDefaultRegistry(st.MySQLDump, st.MySQLClient)
	engine := backups.NewEngine(backups.EngineConfig{
		Registry:        registry,
		TimestampFormat: st.TimestampFormat,
		DryRun:          st.Debug,
	})

	cat, err := catalog.Scan(st.VersionFolder, st.Layout())
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("known OJS versions:")
	for _, entry := range cat.Ascending() {
		logger.Infof("-> %v (%s; %s)", entry.Version, entry.Instance.Info()["date"], entry.Instance.BasePath())
	}
	newest, err := cat.Newest()
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("newest OJS: %v", newest)

	live, err := instance.Load(c.folder, st.Layout())
	if err != nil {
		return errors.Trace(err)
	}
	if err := checkAccess([]string{live.BasePath()}, readWrite); err != nil {
		return errors.Annotate(err, "insufficient permissions")
	}
	logger.Infof("instance folder: %s", live.BasePath())
	logger.Infof("OJS version: %v", live.Version())

	upd := updater.New(cat, engine, registry, updater.Config{
		FilesBackupDir:    st.FilesBackupDir,
		DatabaseBackupDir: st.DatabaseBackupDir,
		CustomFiles:       st.CustomFiles,
		RenameSuffix:      st.RenameSuffix,
		TimestampFormat:   st.TimestampFormat,
		Force:             c.force,
		DryRun:            st.Debug,
	}, nil)

	if c.backupOnly {
		if err := upd.Backup(live); err != nil {
			return errors.Trace(err)
		}
	} else if err := upd.Upgrade(live, c.target); err != nil {
		return errors.Trace(err)
	}
	logger.Infof("done")
	return nil
}

func (c *updateCommand) loadSettings() (*settings.Settings, error) {
	path := c.settingsPath
	if path == "" {
		var err error
		path, err = settings.Find(settings.DefaultSearchPath(), settings.DefaultFilename)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
	return settings.Load(path)
}

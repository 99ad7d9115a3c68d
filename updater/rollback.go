// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

package updater

import (
	"os"
	"path/filepath"

	"github.com/juju/errors"

	"github.com/ub-jcs/ojsup/backups"
	"github.com/ub-jcs/ojsup/instance"
)

// step is one named operation inside the protected upgrade scope.
type step struct {
	name string
	run  func() error
}

// runProtected executes the steps in order. The first failure triggers
// a best-effort rewind from the recorded backups, and is then still
// returned to the caller: rollback restores state, it never swallows
// the error. In dry-run mode the rewind is skipped so the failed state
// can be inspected.
func (u *Updater) runProtected(live *instance.Instance, steps []step) error {
	for _, s := range steps {
		logger.Infof("%s", s.name)
		if err := s.run(); err != nil {
			logger.Criticalf("upgrade of %q failed while %s: %v", live.Name(), s.name, err)
			if u.cfg.DryRun {
				logger.Warningf("dry run: skipping rollback, instance left for inspection")
			} else {
				u.rewind(live)
			}
			return errors.Annotatef(err, "%s", s.name)
		}
	}
	return nil
}

// rewind restores the instance from the most recently recorded
// backups. Individual restore failures are logged, not retried; there
// is no rollback of a rollback.
func (u *Updater) rewind(live *instance.Instance) {
	if !live.HasBackups() {
		logger.Criticalf("no backups recorded for %q, nothing can be restored", live.Name())
		return
	}
	logger.Infof("rewinding %q to its pre-upgrade state", live.Name())
	u.restoreDatabase(live)
	u.restoreFiles(live)
}

func (u *Updater) restoreDatabase(live *instance.Instance) {
	archive, ok := live.Backup(instance.BackupDatabase)
	if !ok {
		logger.Warningf("no database backup recorded for %q", live.Name())
		return
	}
	ws, err := backups.NewWorkspaceFromArchive(archive)
	if err != nil {
		logger.Warningf("cannot unpack database backup %q: %v", archive, err)
		return
	}
	defer ws.Close()
	dump, err := ws.SQLDump()
	if err != nil {
		logger.Warningf("cannot locate dump in %q: %v", archive, err)
		return
	}
	db, err := live.Database()
	if err != nil {
		logger.Warningf("cannot read database configuration: %v", err)
		return
	}
	driver, err := u.registry.Driver(db.Driver)
	if err != nil {
		logger.Warningf("cannot restore database: %v", err)
		return
	}
	logger.Infof("resetting database %q", db.Name)
	if err := driver.Restore(dump, db.Name, db.Host, db.Username, db.Password); err != nil {
		logger.Warningf("database restore failed: %v", err)
	}
}

func (u *Updater) restoreFiles(live *instance.Instance) {
	archive, ok := live.Backup(instance.BackupFiles)
	if !ok {
		logger.Warningf("no files backup recorded for %q", live.Name())
		return
	}
	logger.Infof("resetting instance folder %q", live.BasePath())
	if err := os.RemoveAll(live.BasePath()); err != nil {
		logger.Warningf("removing %q: %v", live.BasePath(), err)
	}
	if err := backups.Unpack(archive, filepath.Dir(live.BasePath())); err != nil {
		logger.Warningf("restoring instance folder from %q: %v", archive, err)
	}
}

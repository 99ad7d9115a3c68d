// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

// Package backups creates and restores the two backup artifacts an
// upgrade depends on: a compressed archive of the whole instance tree
// and a compressed archive wrapping a raw database dump.
package backups

import (
	stdtar "archive/tar"
	"compress/gzip"
	"crypto/sha1"
	"os"
	"path/filepath"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4/hash"
	"github.com/juju/utils/v4/tar"

	"github.com/ub-jcs/ojsup/instance"
)

var logger = loggo.GetLogger("ojsup.backups")

// DefaultTimestampFormat names backup artifacts, e.g.
// journal_20210429-153012.tar.gz.
const DefaultTimestampFormat = "20060102-150405"

const archiveSuffix = ".tar.gz"

// EngineConfig configures a backup Engine.
type EngineConfig struct {
	// Registry resolves database drivers to dump/restore functions.
	Registry *DriverRegistry
	// Clock provides the artifact timestamps. Defaults to the wall clock.
	Clock clock.Clock
	// TimestampFormat overrides DefaultTimestampFormat.
	TimestampFormat string
	// DryRun suppresses archive writes while keeping the code path.
	DryRun bool
}

// Engine produces backup artifacts for instances.
type Engine struct {
	registry        *DriverRegistry
	clock           clock.Clock
	timestampFormat string
	dryRun          bool
}

// NewEngine returns a backup engine for the given configuration.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.TimestampFormat == "" {
		cfg.TimestampFormat = DefaultTimestampFormat
	}
	return &Engine{
		registry:        cfg.Registry,
		clock:           cfg.Clock,
		timestampFormat: cfg.TimestampFormat,
		dryRun:          cfg.DryRun,
	}
}

func (e *Engine) timestamp() string {
	return e.clock.Now().Format(e.timestampFormat)
}

// Backup creates both artifacts for inst, files first.
func (e *Engine) Backup(inst *instance.Instance, filesDir, databaseDir string) error {
	logger.Infof("creating backup of %q", inst.Name())
	if _, err := e.BackupFiles(inst, filesDir); err != nil {
		return errors.Trace(err)
	}
	if _, err := e.BackupDatabase(inst, databaseDir); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// BackupFiles archives the whole instance tree, rooted at the instance
// name, into destDir. The artifact path is recorded on the instance
// under BackupFiles and returned.
func (e *Engine) BackupFiles(inst *instance.Instance, destDir string) (string, error) {
	if _, err := os.Stat(destDir); err != nil {
		return "", errors.NotFoundf("backup destination %q", destDir)
	}
	archivePath := filepath.Join(destDir, inst.Name()+"_"+e.timestamp()+archiveSuffix)
	logger.Infof("backup archive: %s", archivePath)
	if e.dryRun {
		logger.Infof("dry run, not writing %q", archivePath)
		inst.RecordBackup(instance.BackupFiles, archivePath)
		return archivePath, nil
	}
	if err := e.writeTreeArchive(archivePath, inst.BasePath()); err != nil {
		return "", errors.Annotatef(err, "archiving %q", inst.BasePath())
	}
	inst.RecordBackup(instance.BackupFiles, archivePath)
	logger.Infof("backup created")
	return archivePath, nil
}

func (e *Engine) writeTreeArchive(archivePath, treePath string) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return errors.Annotate(err, "creating archive file")
	}
	defer f.Close()

	// Strip everything up to and including the parent so that the
	// archive unpacks as <instanceName>/...
	stripPrefix := filepath.Dir(treePath) + string(os.PathSeparator)
	hasher := hash.NewHashingWriter(f, sha1.New())
	tarball := gzip.NewWriter(hasher)
	if _, err := tar.TarFiles([]string{treePath}, tarball, stripPrefix); err != nil {
		return errors.Annotate(err, "bundling archive")
	}
	if err := tarball.Close(); err != nil {
		return errors.Annotate(err, "closing archive")
	}
	logger.Debugf("archive checksum: %s", hasher.Base64Sum())
	return nil
}

// BackupDatabase dumps the configured database through the registered
// driver and wraps the dump in a single-entry compressed archive in
// destDir. The artifact path is recorded under BackupDatabase and
// returned. In dry-run mode nothing is written and nothing recorded.
func (e *Engine) BackupDatabase(inst *instance.Instance, destDir string) (string, error) {
	if _, err := os.Stat(destDir); err != nil {
		return "", errors.NotFoundf("backup destination %q", destDir)
	}
	db, err := inst.Database()
	if err != nil {
		return "", errors.Trace(err)
	}
	driver, err := e.registry.Driver(db.Driver)
	if err != nil {
		return "", errors.Trace(err)
	}
	logger.Infof("creating database backup with driver %q", db.Driver)
	dump, err := driver.Dump(db.Name, db.Host, db.Username, db.Password)
	if err != nil {
		return "", errors.Annotatef(err, "dumping database %q", db.Name)
	}

	timestamp := e.timestamp()
	archivePath := filepath.Join(destDir, inst.Name()+"_"+timestamp+archiveSuffix)
	if e.dryRun {
		logger.Infof("dry run, not writing %q", archivePath)
		return archivePath, nil
	}
	logger.Infof("writing database dump to %s", archivePath)
	entryName := db.Name + "_" + timestamp + ".sql"
	if err := e.writeDumpArchive(archivePath, entryName, dump); err != nil {
		return "", errors.Annotatef(err, "archiving dump of %q", db.Name)
	}
	inst.RecordBackup(instance.BackupDatabase, archivePath)
	return archivePath, nil
}

func (e *Engine) writeDumpArchive(archivePath, entryName string, dump []byte) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return errors.Annotate(err, "creating archive file")
	}
	defer f.Close()

	tarball := gzip.NewWriter(f)
	w := stdtar.NewWriter(tarball)
	header := &stdtar.Header{
		Name:    entryName,
		Mode:    0600,
		Size:    int64(len(dump)),
		ModTime: e.clock.Now(),
	}
	if err := w.WriteHeader(header); err != nil {
		return errors.Annotate(err, "writing dump header")
	}
	if _, err := w.Write(dump); err != nil {
		return errors.Annotate(err, "writing dump")
	}
	if err := w.Close(); err != nil {
		return errors.Annotate(err, "closing dump archive")
	}
	return errors.Annotate(tarball.Close(), "closing archive")
}

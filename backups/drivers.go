// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

package backups

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/juju/errors"
)

var execCommand = exec.Command

// DumpFunc produces a raw dump of the named database.
type DumpFunc func(name, host, user, password string) ([]byte, error)

// RestoreFunc drops and re-creates the named database from the dump
// file at dumpPath.
type RestoreFunc func(dumpPath, name, host, user, password string) error

// Driver bundles the dump and restore capability for one database
// driver identifier.
type Driver struct {
	Dump    DumpFunc
	Restore RestoreFunc
}

// DriverRegistry maps driver identifiers from the instance
// configuration to their Driver. It replaces the global lookup tables
// of earlier tooling so tests can substitute drivers without touching
// shared state.
type DriverRegistry struct {
	drivers map[string]Driver
}

// NewDriverRegistry returns an empty registry.
func NewDriverRegistry() *DriverRegistry {
	return &DriverRegistry{drivers: make(map[string]Driver)}
}

// Register adds a driver under name. Registering a name twice is an
// error.
func (r *DriverRegistry) Register(name string, driver Driver) error {
	if driver.Dump == nil || driver.Restore == nil {
		return errors.NotValidf("driver %q without dump or restore", name)
	}
	if _, ok := r.drivers[name]; ok {
		return errors.AlreadyExistsf("driver %q", name)
	}
	r.drivers[name] = driver
	return nil
}

// Driver resolves a driver identifier.
func (r *DriverRegistry) Driver(name string) (Driver, error) {
	driver, ok := r.drivers[name]
	if !ok {
		return Driver{}, errors.NotSupportedf("database driver %q", name)
	}
	return driver, nil
}

// Names lists the registered driver identifiers, sorted.
func (r *DriverRegistry) Names() []string {
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDefaultRegistry returns a registry with the MySQL-family drivers
// OJS configures, both backed by the given client binaries.
func NewDefaultRegistry(mysqldumpBin, mysqlBin string) *DriverRegistry {
	registry := NewDriverRegistry()
	driver := mysqlDriver(mysqldumpBin, mysqlBin)
	for _, name := range []string{"mysql", "mysqli"} {
		if err := registry.Register(name, driver); err != nil {
			// Fresh registry, fixed names.
			panic(err)
		}
	}
	return registry
}

func mysqlDriver(dumpBin, clientBin string) Driver {
	return Driver{
		Dump: func(name, host, user, password string) ([]byte, error) {
			return mysqlDump(dumpBin, name, host, user, password)
		},
		Restore: func(dumpPath, name, host, user, password string) error {
			return mysqlRestore(clientBin, dumpPath, name, host, user, password)
		},
	}
}

// writeOptionFile writes a mysql option file carrying the password, so
// it never shows up on a command line.
func writeOptionFile(password string) (string, error) {
	f, err := os.CreateTemp("", "ojsup-mysql-")
	if err != nil {
		return "", errors.Annotate(err, "creating option file")
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "[client]\npassword=%s\n", password); err != nil {
		os.Remove(f.Name())
		return "", errors.Annotate(err, "writing option file")
	}
	return f.Name(), nil
}

func mysqlDump(dumpBin, name, host, user, password string) ([]byte, error) {
	optionFile, err := writeOptionFile(password)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer os.Remove(optionFile)

	cmd := execCommand(dumpBin,
		"--defaults-extra-file="+optionFile,
		"--single-transaction",
		"--user", user,
		"--host", host,
		name,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Annotatef(err, "database dump of %q failed: %s",
			name, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func mysqlRestore(clientBin, dumpPath, name, host, user, password string) error {
	optionFile, err := writeOptionFile(password)
	if err != nil {
		return errors.Trace(err)
	}
	defer os.Remove(optionFile)

	statements := []string{
		fmt.Sprintf("DROP DATABASE %[1]s; CREATE DATABASE %[1]s;", name),
		fmt.Sprintf("USE %s; SOURCE %s;", name, dumpPath),
	}
	for _, statement := range statements {
		cmd := execCommand(clientBin,
			"--defaults-extra-file="+optionFile,
			"--host", host,
			"--user", user,
			"-e", statement,
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			return errors.Annotatef(err, "database restore of %q failed: %s",
				name, strings.TrimSpace(string(out)))
		}
	}
	return nil
}

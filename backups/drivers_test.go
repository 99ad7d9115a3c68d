// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

package backups_test

import (
	"os/exec"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/ub-jcs/ojsup/backups"
)

type driversSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&driversSuite{})

func (s *driversSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	// IsolationSuite clears the environment; restore a minimal PATH so
	// the fake commands below (echo, true, false) can be resolved.
	s.PatchEnvironment("PATH", "/usr/bin:/bin")
}

func noopDriver() backups.Driver {
	return backups.Driver{
		Dump: func(name, host, user, password string) ([]byte, error) {
			return nil, nil
		},
		Restore: func(dumpPath, name, host, user, password string) error {
			return nil
		},
	}
}

func (s *driversSuite) TestRegisterAndLookup(c *gc.C) {
	registry := backups.NewDriverRegistry()
	c.Assert(registry.Register("mysql", noopDriver()), jc.ErrorIsNil)

	_, err := registry.Driver("mysql")
	c.Assert(err, jc.ErrorIsNil)
}

func (s *driversSuite) TestRegisterDuplicate(c *gc.C) {
	registry := backups.NewDriverRegistry()
	c.Assert(registry.Register("mysql", noopDriver()), jc.ErrorIsNil)
	err := registry.Register("mysql", noopDriver())
	c.Assert(err, jc.Satisfies, errors.IsAlreadyExists)
}

func (s *driversSuite) TestRegisterIncomplete(c *gc.C) {
	registry := backups.NewDriverRegistry()
	err := registry.Register("mysql", backups.Driver{})
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
}

func (s *driversSuite) TestUnknownDriver(c *gc.C) {
	registry := backups.NewDriverRegistry()
	_, err := registry.Driver("postgres")
	c.Assert(err, jc.Satisfies, errors.IsNotSupported)
}

func (s *driversSuite) TestDefaultRegistry(c *gc.C) {
	registry := backups.NewDefaultRegistry("/usr/bin/mysqldump", "/usr/bin/mysql")
	c.Check(registry.Names(), jc.DeepEquals, []string{"mysql", "mysqli"})
}

func (s *driversSuite) TestMySQLDump(c *gc.C) {
	var calls [][]string
	s.PatchValue(backups.ExecCommand, func(name string, args ...string) *exec.Cmd {
		calls = append(calls, append([]string{name}, args...))
		return exec.Command("echo", "-n", "-- dump")
	})

	registry := backups.NewDefaultRegistry("/usr/bin/mysqldump", "/usr/bin/mysql")
	driver, err := registry.Driver("mysqli")
	c.Assert(err, jc.ErrorIsNil)

	dump, err := driver.Dump("journaldb", "dbhost", "ojs", "secret")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(dump), gc.Equals, "-- dump")

	c.Assert(calls, gc.HasLen, 1)
	call := calls[0]
	c.Check(call[0], gc.Equals, "/usr/bin/mysqldump")
	c.Check(strings.HasPrefix(call[1], "--defaults-extra-file="), jc.IsTrue)
	c.Check(call[2:], jc.DeepEquals, []string{
		"--single-transaction", "--user", "ojs", "--host", "dbhost", "journaldb",
	})
}

func (s *driversSuite) TestMySQLDumpFailure(c *gc.C) {
	s.PatchValue(backups.ExecCommand, func(name string, args ...string) *exec.Cmd {
		return exec.Command("false")
	})
	registry := backups.NewDefaultRegistry("/usr/bin/mysqldump", "/usr/bin/mysql")
	driver, err := registry.Driver("mysql")
	c.Assert(err, jc.ErrorIsNil)

	_, err = driver.Dump("journaldb", "dbhost", "ojs", "secret")
	c.Assert(err, gc.ErrorMatches, `database dump of "journaldb" failed.*`)
}

func (s *driversSuite) TestMySQLRestore(c *gc.C) {
	var calls [][]string
	s.PatchValue(backups.ExecCommand, func(name string, args ...string) *exec.Cmd {
		calls = append(calls, append([]string{name}, args...))
		return exec.Command("true")
	})
	registry := backups.NewDefaultRegistry("/usr/bin/mysqldump", "/usr/bin/mysql")
	driver, err := registry.Driver("mysql")
	c.Assert(err, jc.ErrorIsNil)

	err = driver.Restore("/tmp/journaldb.sql", "journaldb", "dbhost", "ojs", "secret")
	c.Assert(err, jc.ErrorIsNil)

	// The restore drops and re-creates the database, then sources the
	// dump into it.
	c.Assert(calls, gc.HasLen, 2)
	c.Check(calls[0][0], gc.Equals, "/usr/bin/mysql")
	c.Check(calls[0][len(calls[0])-1], gc.Equals,
		"DROP DATABASE journaldb; CREATE DATABASE journaldb;")
	c.Check(calls[1][len(calls[1])-1], gc.Equals,
		"USE journaldb; SOURCE /tmp/journaldb.sql;")
}

func (s *driversSuite) TestMySQLRestoreFailure(c *gc.C) {
	s.PatchValue(backups.ExecCommand, func(name string, args ...string) *exec.Cmd {
		return exec.Command("false")
	})
	registry := backups.NewDefaultRegistry("/usr/bin/mysqldump", "/usr/bin/mysql")
	driver, err := registry.Driver("mysql")
	c.Assert(err, jc.ErrorIsNil)

	err = driver.Restore("/tmp/journaldb.sql", "journaldb", "dbhost", "ojs", "secret")
	c.Assert(err, gc.ErrorMatches, `database restore of "journaldb" failed.*`)
}

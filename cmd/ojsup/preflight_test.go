// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

package main

import (
	"math"
	"os"
	"path/filepath"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type preflightSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&preflightSuite{})

func (s *preflightSuite) TestCheckAccess(c *gc.C) {
	err := checkAccess([]string{c.MkDir(), c.MkDir()}, readWrite)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *preflightSuite) TestCheckAccessMissingLocation(c *gc.C) {
	missing := filepath.Join(c.MkDir(), "nope")
	err := checkAccess([]string{c.MkDir(), missing}, readWrite)
	c.Assert(err, gc.ErrorMatches, `access to .*/nope": .*`)
}

func (s *preflightSuite) TestCheckAccessReadOnlyLocation(c *gc.C) {
	if os.Geteuid() == 0 {
		c.Skip("root bypasses permission checks")
	}
	readOnly := c.MkDir()
	err := os.Chmod(readOnly, 0500)
	c.Assert(err, jc.ErrorIsNil)

	err = checkAccess([]string{readOnly}, readWrite)
	c.Assert(err, gc.ErrorMatches, `access to .*: permission denied`)
}

func (s *preflightSuite) TestCheckDiskSpace(c *gc.C) {
	err := checkDiskSpace([]string{c.MkDir()}, 0)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *preflightSuite) TestCheckDiskSpaceInsufficient(c *gc.C) {
	err := checkDiskSpace([]string{c.MkDir()}, math.MaxUint64)
	c.Assert(err, gc.ErrorMatches, `insufficient free disk space at .*`)
}

func (s *preflightSuite) TestCheckDiskSpaceMissingLocation(c *gc.C) {
	err := checkDiskSpace([]string{filepath.Join(c.MkDir(), "nope")}, 0)
	c.Assert(err, gc.ErrorMatches, `statfs .*`)
}

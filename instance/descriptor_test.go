// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

package instance_test

import (
	"path/filepath"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/ub-jcs/ojsup/instance"
	ojsuptesting "github.com/ub-jcs/ojsup/testing"
)

type descriptorSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&descriptorSuite{})

const descriptor = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE version SYSTEM "version.dtd">
<version>
	<application>ojs2</application>
	<type>application</type>
	<release>3.3.0.1</release>
	<date>2021-04-29</date>
	<patch>0</patch>
	<patch>1</patch>
</version>
`

func (s *descriptorSuite) write(c *gc.C, content string) string {
	path := filepath.Join(c.MkDir(), "version.xml")
	ojsuptesting.WriteFile(c, path, content)
	return path
}

func (s *descriptorSuite) TestRead(c *gc.C) {
	info, err := instance.ReadVersionDescriptor(s.write(c, descriptor))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info, jc.DeepEquals, map[string]string{
		"application": "ojs2",
		"type":        "application",
		"release":     "3.3.0.1",
		"date":        "2021-04-29",
	})
}

func (s *descriptorSuite) TestReadIsIdempotent(c *gc.C) {
	path := s.write(c, descriptor)
	first, err := instance.ReadVersionDescriptor(path)
	c.Assert(err, jc.ErrorIsNil)
	second, err := instance.ReadVersionDescriptor(path)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(first, jc.DeepEquals, second)
}

func (s *descriptorSuite) TestPatchEntriesIgnored(c *gc.C) {
	info, err := instance.ReadVersionDescriptor(s.write(c, descriptor))
	c.Assert(err, jc.ErrorIsNil)
	_, ok := info["patch"]
	c.Check(ok, jc.IsFalse)
}

func (s *descriptorSuite) TestDuplicateTagFails(c *gc.C) {
	path := s.write(c, `<version>
	<release>3.3.0.1</release>
	<release>3.3.0.0</release>
	<date>2021-04-29</date>
</version>
`)
	_, err := instance.ReadVersionDescriptor(path)
	c.Assert(err, jc.ErrorIs, instance.ErrMalformedDescriptor)
	c.Assert(err, gc.ErrorMatches, `.*duplicate tag "release".*`)
}

func (s *descriptorSuite) TestMissingReleaseFails(c *gc.C) {
	path := s.write(c, `<version>
	<application>ojs2</application>
	<date>2021-04-29</date>
</version>
`)
	_, err := instance.ReadVersionDescriptor(path)
	c.Assert(err, jc.ErrorIs, instance.ErrMalformedDescriptor)
}

func (s *descriptorSuite) TestMissingFile(c *gc.C) {
	_, err := instance.ReadVersionDescriptor(filepath.Join(c.MkDir(), "version.xml"))
	c.Assert(err, gc.NotNil)
}

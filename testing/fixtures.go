// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

// Package testing holds fixtures shared by the package test suites:
// throwaway OJS trees with the marker files, descriptor and
// configuration that the loaders expect.
package testing

import (
	"fmt"
	"os"
	"path/filepath"

	gc "gopkg.in/check.v1"

	"github.com/ub-jcs/ojsup/instance"
)

// Layout returns the instance layout used by all fixture trees.
func Layout() instance.Layout {
	return instance.Layout{
		MarkerFiles: []string{
			"config.inc.php",
			"dbscripts/xml/version.xml",
			"tools/upgrade.php",
		},
		VersionFile: "dbscripts/xml/version.xml",
		ConfigFile:  "config.inc.php",
		ToolsDir:    "tools",
		Interpreter: "php",
	}
}

// ConfigTemplate is the configuration written into fixture trees. The
// comment lines matter: the toggle tests assert they survive rewrites
// byte-identical.
const ConfigTemplate = `; <?php exit(); ?>
; Site configuration.

[general]
installed = On
base_url = "http://localhost"

[database]
driver = mysql
host = "localhost"
username = ojs
password = secret
name = %s
`

// DescriptorTemplate is the version.xml written into fixture trees.
const DescriptorTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<version>
	<application>ojs2</application>
	<type>application</type>
	<release>%s</release>
	<date>2021-04-29</date>
	<patch>0</patch>
</version>
`

// WriteInstance builds a minimal OJS tree named name under parent and
// returns its path.
func WriteInstance(c *gc.C, parent, name, release string) string {
	base := filepath.Join(parent, name)
	WriteFile(c, filepath.Join(base, "config.inc.php"), fmt.Sprintf(ConfigTemplate, name+"db"))
	WriteFile(c, filepath.Join(base, "dbscripts/xml/version.xml"), fmt.Sprintf(DescriptorTemplate, release))
	WriteFile(c, filepath.Join(base, "tools/upgrade.php"), "<?php // upgrade tool\n")
	WriteFile(c, filepath.Join(base, "public/index.html"), "<html></html>\n")
	WriteFile(c, filepath.Join(base, "index.php"), "<?php\n")
	return base
}

// LoadInstance writes a fixture tree and loads it as a live instance.
func LoadInstance(c *gc.C, parent, name, release string) *instance.Instance {
	base := WriteInstance(c, parent, name, release)
	inst, err := instance.Load(base, Layout())
	c.Assert(err, gc.IsNil)
	return inst
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(c *gc.C, path, content string) {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	c.Assert(err, gc.IsNil)
	err = os.WriteFile(path, []byte(content), 0644)
	c.Assert(err, gc.IsNil)
}

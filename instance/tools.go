// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

package instance

import (
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
)

// toolExtension marks the scripts picked up from the tools directory.
const toolExtension = ".php"

var execCommand = exec.Command

// Tool invokes one of the instance's maintenance scripts with a single
// directive argument, e.g. "upgrade". A non-zero exit of the
// interpreter is returned as an error carrying the script name.
type Tool func(arg string) error

func discoverTools(basePath, toolsDir, interpreter string) map[string]Tool {
	tools := make(map[string]Tool)
	matches, err := filepath.Glob(filepath.Join(basePath, toolsDir, "*"+toolExtension))
	if err != nil {
		// Only bad patterns error here; the pattern above is fixed.
		return tools
	}
	for _, script := range matches {
		script := script
		tools[filepath.Base(script)] = func(arg string) error {
			return runTool(interpreter, script, arg)
		}
	}
	return tools
}

func runTool(interpreter, script, arg string) error {
	logger.Debugf("running %s %s %s", interpreter, script, arg)
	out, err := execCommand(interpreter, script, arg).CombinedOutput()
	if output := strings.TrimSpace(string(out)); output != "" {
		logger.Infof("%s output:\n%s", filepath.Base(script), output)
	}
	if err != nil {
		return errors.Annotatef(err, "tool %q", filepath.Base(script))
	}
	return nil
}

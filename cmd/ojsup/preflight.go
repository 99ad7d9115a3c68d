// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

package main

import (
	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// minimumFreeBytes is the free disk space every involved location must
// have before an upgrade starts.
const minimumFreeBytes = 1 << 30

const readWrite = unix.R_OK | unix.W_OK

// checkAccess verifies the process can access every location with the
// given mode.
func checkAccess(locations []string, mode uint32) error {
	for _, location := range locations {
		err := unix.Access(location, mode)
		logger.Infof("check permissions (%#o) for %q: %v", mode, location, err == nil)
		if err != nil {
			return errors.Annotatef(err, "access to %q", location)
		}
	}
	return nil
}

// checkDiskSpace verifies every location has at least minimum free
// bytes available.
func checkDiskSpace(locations []string, minimum uint64) error {
	for _, location := range locations {
		var stat unix.Statfs_t
		if err := unix.Statfs(location, &stat); err != nil {
			return errors.Annotatef(err, "statfs %q", location)
		}
		free := stat.Bavail * uint64(stat.Bsize)
		if free <= minimum {
			return errors.Errorf("insufficient free disk space at %q: %d bytes", location, free)
		}
	}
	return nil
}

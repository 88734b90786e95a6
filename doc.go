// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xfer holds code to drive non-blocking serial bus transfers
// (SPI/I2C/MSPI controllers), their clock configuration and a paged
// log buffer for block-erase storage media.
//
// Sub-packages:
//   - clkdiv: bus clock generator fields,
//   - bus: transfer descriptors, completion registry and sequencer,
//   - ringlog, nvm: paged log buffer over a block-erase medium,
//   - simbus, spidev, i2cbus, uartbridge: bus controllers,
//   - board, confdb: board descriptions from YAML files or a database,
//   - daqsrv: tdaq run-control server.
package xfer // import "github.com/go-lpc/xfer"

import (
	"fmt"
	"runtime/debug"
)

const root = "github.com/go-lpc/xfer"

// Version returns the version of xfer and its checksum.
// For the commands of this module, the version is the VCS revision the
// binary was built from when no module version is available.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	if b.Main.Path == root {
		version = b.Main.Version
		if version == "" || version == "(devel)" {
			version = revision(b.Settings)
		}
		return version, b.Main.Sum
	}

	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace == nil {
			return m.Version, m.Sum
		}
		r := m.Replace
		switch {
		case r.Version != "" && r.Path != "":
			return fmt.Sprintf("%s %s", r.Path, r.Version), r.Sum
		case r.Version != "":
			return r.Version, r.Sum
		case r.Path != "":
			return r.Path, r.Sum
		default:
			return m.Version + "*", ""
		}
	}
	return "", ""
}

// revision returns the short VCS revision recorded in the build settings,
// with a "-dirty" suffix for modified work trees.
func revision(settings []debug.BuildSetting) string {
	var rev, dirty string
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "-dirty"
			}
		}
	}
	if rev == "" {
		return "(devel)"
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return rev + dirty
}

// Copyright 2016 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package testutil holds small helpers shared by the kernel package tests.
package testutil

import (
	"os"
)

// Verbose returns true if the test binary was run with KERNEL_DEBUG=1.
// Packages that log scheduler ticks, IDE transfers or bitmap scans behind
// a verbosity gate check this instead of always printing.
func Verbose() bool {
	return os.Getenv("KERNEL_DEBUG") == "1"
}

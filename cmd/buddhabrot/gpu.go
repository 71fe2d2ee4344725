//go:build !nogpu

package main

import _ "github.com/gogpu/buddhabrot/gpu" // GPU batches when a device is available

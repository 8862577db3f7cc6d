//go:build !unix && !windows

package engine

import "os/exec"

func killTree(*exec.Cmd) {}

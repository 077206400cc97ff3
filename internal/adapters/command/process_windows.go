//go:build windows

package command

import "os/exec"

// configureProcessGroup keeps the default behaviour on Windows, where
// exec.CommandContext kills the direct child only.
func configureProcessGroup(_ *exec.Cmd) {}

package server

import (
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// ProcessLauncher is the adapter a LaunchHandler drives to spawn the
// executable named by a launch_executable_request, grounded on
// async_spawn/on_launch_executable_request in
// original_source/src/target.c. Launch must return promptly: it reports
// only whether the spawn itself could be started (mirroring
// async_spawn's "request posted" semantics, not "process exited"), and
// later invokes onDone exactly once, with the process's real exit code,
// when it actually terminates.
type ProcessLauncher interface {
	Launch(path, arguments string, onDone func(resultCode uint32)) error
}

// ExecLauncher is the reference ProcessLauncher, built on os/exec -- there
// is no third-party process-supervision library in the retrieved pack that
// fits a one-shot spawn-and-wait this directly, and os/exec is precisely
// the standard tool for it, so no adapter substitute was sought.
type ExecLauncher struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// NewExecLauncher returns an ExecLauncher wired to the process's own
// standard streams.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

func (l *ExecLauncher) Launch(path, arguments string, onDone func(resultCode uint32)) error {
	args := strings.Fields(arguments)
	cmd := exec.Command(path, args...)
	cmd.Stdin = l.Stdin
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "spawn %s", path)
	}

	go func() {
		err := cmd.Wait()
		onDone(exitCodeOf(err))
	}()
	return nil
}

func exitCodeOf(err error) uint32 {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		if code < 0 {
			// Killed by signal or otherwise couldn't report a real code.
			return 255
		}
		return uint32(code)
	}
	return 255
}

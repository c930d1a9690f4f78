package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// ProcessAlive reports whether a process with the given pid exists.
// No single probe works everywhere (signal 0 needs permissions, /proc
// is Linux-only, containers may lack ps), so the checks are combined:
// any positive answer wins, and only after all probes deny do we report
// the process dead.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	// Signal 0 probes without delivering. EPERM still proves existence.
	err := syscall.Kill(pid, 0)
	if err == nil || errors.Is(err, syscall.EPERM) {
		return true
	}

	if _, statErr := os.Stat(fmt.Sprintf("/proc/%d", pid)); statErr == nil {
		return true
	}

	return psAlive(pid)
}

// psAlive shells out to ps as the portable last resort.
func psAlive(pid int) bool {
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "pid=").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == strconv.Itoa(pid)
}

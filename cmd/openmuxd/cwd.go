package main

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// readProcessCwd best-effort resolves pid's live working directory via
// /proc, the only portable-enough source without shelling out; ok is false
// on any platform or permission failure, leaving the caller to fall back
// to the PTY's initially configured directory.
func readProcessCwd(pid int) (string, bool) {
	if runtime.GOOS != "linux" {
		return "", false
	}
	link, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid))
	if err != nil {
		return "", false
	}
	return link, true
}

// readForegroundProcess best-effort resolves the most recently spawned
// child of shellPid (the shim's proxy for "the foreground process"; a real
// tty foreground process group would need a TIOCGPGRP ioctl against the
// PTY's master fd, which ptyhost does not currently expose) via
// /proc/<pid>/task/<pid>/children, the same portable-enough-on-Linux
// source readProcessCwd uses for cwd. ok is false on any platform or
// permission failure, or when the shell has no live children.
func readForegroundProcess(shellPid int) (pid int, command string, ok bool) {
	if runtime.GOOS != "linux" {
		return 0, "", false
	}
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/task/%d/children", shellPid, shellPid))
	if err != nil {
		return 0, "", false
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0, "", false
	}
	childPid, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0, "", false
	}
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", childPid))
	if err != nil {
		return 0, "", false
	}
	return childPid, string(bytes.TrimSpace(comm)), true
}

package svcctl

import (
	"errors"
	"strings"
)

// ErrEmptyCommandLine is returned when a service registration carries no
// binary path.
var ErrEmptyCommandLine = errors.New("service command line is empty")

// ParseExecutable extracts the executable path from a registered service
// command line, discarding any trailing arguments. The path may be wrapped
// in double quotes and contain embedded spaces:
//
//	"C:\Program Files\Svc\x y.exe" --flag  ->  C:\Program Files\Svc\x y.exe
//	C:\Windows\svc.exe -r                  ->  C:\Windows\svc.exe
func ParseExecutable(cmdline string) (string, error) {
	cmdline = strings.TrimSpace(cmdline)
	if cmdline == "" {
		return "", ErrEmptyCommandLine
	}

	if cmdline[0] == '"' {
		rest := cmdline[1:]
		end := strings.IndexByte(rest, '"')
		if end < 0 {
			return "", errors.New("unterminated quote in service command line")
		}
		exe := rest[:end]
		if exe == "" {
			return "", ErrEmptyCommandLine
		}
		return exe, nil
	}

	// Unquoted: the executable reference ends at the first space. An
	// unquoted path with embedded spaces is ambiguous by Windows rules
	// too; services registering such paths must quote them.
	if i := strings.IndexByte(cmdline, ' '); i >= 0 {
		return cmdline[:i], nil
	}
	return cmdline, nil
}

// containingDir returns the directory holding path, accepting either
// Windows or POSIX separators so resolution behaves identically under test
// on any host.
func containingDir(path string) string {
	i := strings.LastIndexAny(path, `\/`)
	if i < 0 {
		return "."
	}
	return path[:i]
}

// baseOf returns the final path element, accepting either separator.
func baseOf(path string) string {
	i := strings.LastIndexAny(path, `\/`)
	return path[i+1:]
}

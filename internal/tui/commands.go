package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// command is a parsed slash command.
type command struct {
	name  string
	args  []string
	force bool
}

var errNotCommand = errors.New("not a command")

var usage = map[string]string{
	"join":     "/join <channel>",
	"channels": "/channels",
	"thread":   "/thread <n>",
	"close":    "/close",
	"react":    "/react <n> <emoji>",
	"upload":   "/upload [--force] <path>",
	"b":        "/b <n>",
	"quit":     "/quit",
}

// minArgs is the number of positional arguments each command needs.
var minArgs = map[string]int{
	"join":   1,
	"thread": 1,
	"react":  2,
	"upload": 1,
	"b":      1,
}

// parseCommand parses a line starting with "/". Lines that do not start with
// a slash return errNotCommand; "//text" escapes a leading slash.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		return command{}, errNotCommand
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return command{}, errors.New("empty command")
	}

	cmd := command{name: strings.ToLower(fields[0])}
	if _, ok := usage[cmd.name]; !ok {
		return command{}, fmt.Errorf("unknown command /%s", cmd.name)
	}
	for _, f := range fields[1:] {
		if cmd.name == "upload" && f == "--force" {
			cmd.force = true
			continue
		}
		cmd.args = append(cmd.args, f)
	}
	if len(cmd.args) < minArgs[cmd.name] {
		return command{}, fmt.Errorf("usage: %s", usage[cmd.name])
	}
	return cmd, nil
}

// unescape strips the escape of a "//" line.
func unescape(line string) string {
	if strings.HasPrefix(strings.TrimSpace(line), "//") {
		return strings.TrimPrefix(strings.TrimSpace(line), "/")
	}
	return line
}

// index parses a 1-based position into a slice of length n.
func index(arg string, n int) (int, error) {
	i, err := strconv.Atoi(arg)
	if err != nil || i < 1 || i > n {
		return 0, fmt.Errorf("no item %s", arg)
	}
	return i - 1, nil
}

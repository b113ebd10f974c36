package tui

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    command
		wantErr bool
	}{
		{line: "/join ops", want: command{name: "join", args: []string{"ops"}}},
		{line: "  /JOIN receipts:p1 ", want: command{name: "join", args: []string{"receipts:p1"}}},
		{line: "/upload --force ~/r.jpg", want: command{name: "upload", args: []string{"~/r.jpg"}, force: true}},
		{line: "/upload r.jpg", want: command{name: "upload", args: []string{"r.jpg"}}},
		{line: "/react 3 👍", want: command{name: "react", args: []string{"3", "👍"}}},
		{line: "/close", want: command{name: "close"}},
		{line: "/react 3", wantErr: true},
		{line: "/b", wantErr: true},
		{line: "/frobnicate", wantErr: true},
		{line: "/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCommand(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestParseCommandPlainText(t *testing.T) {
	for _, line := range []string{"hello", "//join is a command", "yes"} {
		if _, err := parseCommand(line); !errors.Is(err, errNotCommand) {
			t.Errorf("parseCommand(%q) error = %v, want errNotCommand", line, err)
		}
	}
	if got := unescape("//join is a command"); got != "/join is a command" {
		t.Errorf("unescape() = %q", got)
	}
}

func TestIndex(t *testing.T) {
	if i, err := index("2", 3); err != nil || i != 1 {
		t.Errorf("index(2, 3) = %d, %v", i, err)
	}
	for _, arg := range []string{"0", "4", "x"} {
		if _, err := index(arg, 3); err == nil {
			t.Errorf("index(%q, 3) error = nil", arg)
		}
	}
}

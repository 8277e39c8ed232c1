// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func testTree(ran *string) *Command {
	return &Command{
		Name:    "tether",
		Summary: "test tree",
		Subcommands: []*Command{
			{
				Name:    "status",
				Summary: "show status",
				Run: func(args []string) error {
					*ran = "status"
					return nil
				},
			},
			{
				Name:    "endpoint",
				Summary: "manage endpoints",
				Subcommands: []*Command{
					{
						Name:    "register",
						Summary: "register a channel",
						Run: func(args []string) error {
							*ran = "endpoint register " + strings.Join(args, " ")
							return nil
						},
					},
				},
			},
		},
	}
}

func TestExecuteDispatch(t *testing.T) {
	var ran string
	root := testTree(&ran)

	if err := root.Execute([]string{"status"}); err != nil {
		t.Fatalf("Execute(status): %v", err)
	}
	if ran != "status" {
		t.Errorf("ran = %q, want %q", ran, "status")
	}
}

func TestExecuteNestedDispatch(t *testing.T) {
	var ran string
	root := testTree(&ran)

	if err := root.Execute([]string{"endpoint", "register", "kitchen-panel"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ran != "endpoint register kitchen-panel" {
		t.Errorf("ran = %q, want nested dispatch with args", ran)
	}
}

func TestExecuteUnknownCommandSuggests(t *testing.T) {
	var ran string
	root := testTree(&ran)

	err := root.Execute([]string{"stauts"})
	if err == nil {
		t.Fatal("Execute(stauts) succeeded, want error")
	}
	if !strings.Contains(err.Error(), `did you mean "status"`) {
		t.Errorf("error %q does not suggest status", err)
	}
	if ran != "" {
		t.Errorf("command ran despite unknown name: %q", ran)
	}
}

func TestExecuteUnknownCommandNoCloseMatch(t *testing.T) {
	var ran string
	root := testTree(&ran)

	err := root.Execute([]string{"frobnicate"})
	if err == nil {
		t.Fatal("Execute(frobnicate) succeeded, want error")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error %q suggests a match for a distant name", err)
	}
}

func TestExecuteSubcommandRequired(t *testing.T) {
	var ran string
	root := testTree(&ran)

	if err := root.Execute(nil); err == nil {
		t.Fatal("Execute with no args succeeded, want subcommand-required error")
	}
}

func TestExecuteFlagParsing(t *testing.T) {
	var limit int
	var got []string
	command := &Command{
		Name: "history",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
			flagSet.IntVar(&limit, "limit", 20, "record count")
			return flagSet
		},
		Run: func(args []string) error {
			got = args
			return nil
		},
	}

	if err := command.Execute([]string{"--limit", "5", "extra"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if limit != 5 {
		t.Errorf("limit = %d, want 5", limit)
	}
	if len(got) != 1 || got[0] != "extra" {
		t.Errorf("positional args = %v, want [extra]", got)
	}
}

func TestExecuteUnknownFlagSuggests(t *testing.T) {
	command := &Command{
		Name: "history",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
			flagSet.Int("limit", 20, "record count")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--limti", "5"})
	if err == nil {
		t.Fatal("Execute with unknown flag succeeded, want error")
	}
	if !strings.Contains(err.Error(), "--limit") {
		t.Errorf("error %q does not suggest --limit", err)
	}
}

func TestPrintHelpListsSubcommands(t *testing.T) {
	var ran string
	root := testTree(&ran)

	var out strings.Builder
	root.PrintHelp(&out)

	for _, want := range []string{"status", "show status", "endpoint", "manage endpoints"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("help output missing %q:\n%s", want, out.String())
		}
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"status", "status", 0},
		{"stauts", "status", 2},
		{"helth", "health", 1},
		{"watch", "status", 6},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

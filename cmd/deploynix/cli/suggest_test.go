// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"switch", "switch", 0},
		{"swich", "switch", 1},
		{"boot", "boto", 2},
		{"", "test", 4},
		{"dry", "dry-activate", 9},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}

func TestSuggestCommand(t *testing.T) {
	t.Parallel()

	commands := []*Command{
		{Name: "switch"},
		{Name: "boot"},
		{Name: "dry-activate"},
	}

	if got := suggestCommand("swithc", commands); got != "switch" {
		t.Errorf("suggestCommand = %q, want switch", got)
	}
	if got := suggestCommand("completely-unrelated", commands); got != "" {
		t.Errorf("suggestCommand = %q, want no suggestion", got)
	}
}

func TestSuggestFlag(t *testing.T) {
	t.Parallel()

	newFlags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flagSet.String("target-host", "", "")
		flagSet.String("build-host", "", "")
		flagSet.BoolP("bypass-root-check", "R", false, "")
		return flagSet
	}

	if got := suggestFlag([]string{"--target-hots", "x"}, newFlags()); got != "--target-host" {
		t.Errorf("suggestFlag = %q, want --target-host", got)
	}
	if got := suggestFlag([]string{"--build-host=x", "--targt-host=y"}, newFlags()); got != "--target-host" {
		t.Errorf("suggestFlag should skip defined flags, got %q", got)
	}
	if got := suggestFlag([]string{"--zzzzzzzzzzz"}, newFlags()); got != "" {
		t.Errorf("suggestFlag = %q, want no suggestion", got)
	}
}

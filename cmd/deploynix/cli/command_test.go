// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestExecuteDispatchesSubcommand(t *testing.T) {
	t.Parallel()

	var ran bool
	root := &Command{
		Name: "deploynix",
		Subcommands: []*Command{
			{
				Name: "os",
				Subcommands: []*Command{
					{
						Name: "switch",
						Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
							ran = true
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"os", "switch"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !ran {
		t.Error("nested subcommand did not run")
	}
}

func TestExecuteUnknownSubcommandSuggests(t *testing.T) {
	t.Parallel()

	root := &Command{
		Name: "deploynix",
		Subcommands: []*Command{
			{Name: "switch"},
			{Name: "boot"},
		},
	}

	err := root.Execute(context.Background(), []string{"swich"})
	if err == nil {
		t.Fatal("expected error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), `did you mean "switch"`) {
		t.Errorf("error should suggest switch: %q", err)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	t.Parallel()

	var target string
	var gotArgs []string
	command := &Command{
		Name: "switch",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("switch", pflag.ContinueOnError)
			flagSet.StringVar(&target, "target-host", "", "")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			gotArgs = args
			return nil
		},
	}

	err := command.Execute(context.Background(), []string{"--target-host", "web1", ".#box"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if target != "web1" {
		t.Errorf("target-host = %q", target)
	}
	if !reflect.DeepEqual(gotArgs, []string{".#box"}) {
		t.Errorf("args = %v", gotArgs)
	}
}

func TestExecutePreservesDashSeparator(t *testing.T) {
	t.Parallel()

	var gotArgs []string
	command := &Command{
		Name: "switch",
		Flags: func() *pflag.FlagSet {
			return pflag.NewFlagSet("switch", pflag.ContinueOnError)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			gotArgs = args
			return nil
		},
	}

	err := command.Execute(context.Background(), []string{".#box", "--", "--refresh", "--impure"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	positional, extra := SplitDash(gotArgs)
	if !reflect.DeepEqual(positional, []string{".#box"}) {
		t.Errorf("positional = %v", positional)
	}
	if !reflect.DeepEqual(extra, []string{"--refresh", "--impure"}) {
		t.Errorf("extra = %v", extra)
	}
}

func TestSplitDashWithoutSeparator(t *testing.T) {
	t.Parallel()

	positional, extra := SplitDash([]string{"a", "b"})
	if !reflect.DeepEqual(positional, []string{"a", "b"}) {
		t.Errorf("positional = %v", positional)
	}
	if extra != nil {
		t.Errorf("extra = %v, want nil", extra)
	}
}

func TestExecuteUnknownFlagSuggests(t *testing.T) {
	t.Parallel()

	command := &Command{
		Name: "switch",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("switch", pflag.ContinueOnError)
			flagSet.String("target-host", "", "")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			return nil
		},
	}

	err := command.Execute(context.Background(), []string{"--target-hots=web1"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if !strings.Contains(err.Error(), "--target-host") {
		t.Errorf("error should suggest --target-host: %q", err)
	}
}

func TestExecuteSubcommandRequired(t *testing.T) {
	t.Parallel()

	root := &Command{
		Name:        "deploynix",
		Subcommands: []*Command{{Name: "os"}},
	}
	if err := root.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected subcommand-required error")
	}
}

func TestFullName(t *testing.T) {
	t.Parallel()

	leaf := &Command{
		Name: "switch",
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			return nil
		},
	}
	group := &Command{Name: "os", Subcommands: []*Command{leaf}}
	root := &Command{Name: "deploynix", Subcommands: []*Command{group}}

	if err := root.Execute(context.Background(), []string{"os", "switch"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := leaf.fullName(); got != "deploynix os switch" {
		t.Errorf("fullName = %q", got)
	}
}

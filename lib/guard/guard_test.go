// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		euid    int
		bypass  bool
		wantErr bool
	}{
		{name: "unprivileged", euid: 1000, bypass: false, wantErr: false},
		{name: "unprivileged with bypass", euid: 1000, bypass: true, wantErr: false},
		{name: "root without bypass", euid: 0, bypass: false, wantErr: true},
		{name: "root with bypass", euid: 0, bypass: true, wantErr: false},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			err := Check(nil, testCase.euid, testCase.bypass)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected RootCheckViolation")
				}
				var violation RootCheckViolation
				if !errors.As(err, &violation) {
					t.Errorf("error = %T, want RootCheckViolation", err)
				}
				if !strings.Contains(err.Error(), "--bypass-root-check") {
					t.Errorf("error %q should mention the bypass flag", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckBypassWarns(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buffer, nil))

	if err := Check(logger, 0, true); err != nil {
		t.Fatalf("bypassed root check should pass: %v", err)
	}
	if !strings.Contains(buffer.String(), "root check bypassed") {
		t.Errorf("bypass should be logged, got %q", buffer.String())
	}

	buffer.Reset()
	if err := Check(logger, 1000, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buffer.Len() != 0 {
		t.Errorf("no warning expected for unprivileged bypass, got %q", buffer.String())
	}
}

// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

package os

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/deploynix/deploynix/lib/deploy"
)

var (
	stageStyle   = lipgloss.NewStyle().Width(26)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// renderReport formats the per-stage outcome table shown after every
// run, plus the artifact and specialisation lines when known.
func renderReport(report deploy.Report) string {
	var b strings.Builder
	for _, result := range report.Stages {
		b.WriteString("  ")
		b.WriteString(stageStyle.Render(string(result.Stage)))
		b.WriteString(statusText(result))
		b.WriteByte('\n')
	}
	if report.Artifact != "" {
		fmt.Fprintf(&b, "\n  %s %s\n", labelStyle.Render("artifact"), report.Artifact)
	}
	if report.Specialisation != "" {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("specialisation"), report.Specialisation)
	}
	return b.String()
}

func statusText(result deploy.StageResult) string {
	switch result.Status {
	case deploy.StatusOK:
		return okStyle.Render("ok")
	case deploy.StatusFailed:
		text := "failed"
		if result.Err != nil {
			text = "failed: " + result.Err.Error()
		}
		return failedStyle.Render(text)
	default:
		return skippedStyle.Render("skipped")
	}
}

// reportJSON is the machine-readable form of a run report. Stage errors
// are flattened to strings so the document round-trips through JSON.
type reportJSON struct {
	Stages         []stageJSON `json:"stages"`
	Artifact       string      `json:"artifact,omitempty"`
	Specialisation string      `json:"specialisation,omitempty"`
	Error          string      `json:"error,omitempty"`
}

type stageJSON struct {
	Stage  string `json:"stage"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func reportDocument(report deploy.Report, runErr error) reportJSON {
	document := reportJSON{
		Stages:         make([]stageJSON, 0, len(report.Stages)),
		Artifact:       report.Artifact,
		Specialisation: report.Specialisation,
	}
	for _, result := range report.Stages {
		row := stageJSON{Stage: string(result.Stage), Status: string(result.Status)}
		if result.Err != nil {
			row.Error = result.Err.Error()
		}
		document.Stages = append(document.Stages, row)
	}
	if runErr != nil {
		document.Error = runErr.Error()
	}
	return document
}

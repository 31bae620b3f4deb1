package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommandOutputs(t *testing.T) {
	t.Setenv("REPLAY_GUARD_AGENT_ID", "agent-cli")

	cases := map[string]string{
		"json": `"agent_id": "agent-cli"`,
		"yaml": "agent_id: agent-cli",
	}
	for format, want := range cases {
		t.Run(format, func(t *testing.T) {
			var out bytes.Buffer
			rootCmd.SetOut(&out)
			rootCmd.SetArgs([]string{"version", "--output", format})
			if err := rootCmd.Execute(); err != nil {
				t.Fatalf("execute: %v", err)
			}
			if !strings.Contains(out.String(), want) {
				t.Fatalf("output %q missing %q", out.String(), want)
			}
		})
	}
}

func TestVersionCommandRejectsUnknownFormat(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"version", "--output", "xml"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatalf("expected error for unknown output format")
	}
}

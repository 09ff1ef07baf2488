package cli

import (
	"testing"

	"github.com/loomline-systems/loomline/internal/profiles"
)

// Test command initialization and registration
func TestCommandsRegistered(t *testing.T) {
	cfg = profiles.Default()

	if rootCmd == nil {
		t.Fatal("rootCmd should not be nil")
	}

	commands := rootCmd.Commands()
	expectedCommands := map[string]bool{
		"pipeline":    false,
		"validations": false,
		"alerts":      false,
		"events":      false,
		"profile":     false,
		"seed":        false,
	}

	for _, cmd := range commands {
		cmdName := cmd.Use
		for key := range expectedCommands {
			if len(cmdName) >= len(key) && cmdName[:len(key)] == key {
				expectedCommands[key] = true
				break
			}
		}
	}

	for cmdName, found := range expectedCommands {
		if !found {
			t.Errorf("expected command '%s' to be registered with root command", cmdName)
		}
	}
}

func TestPipelineCommandHasSubcommands(t *testing.T) {
	if pipelineCmd == nil {
		t.Fatal("pipelineCmd should not be nil")
	}

	subcommands := pipelineCmd.Commands()
	expectedCommands := map[string]bool{
		"create":    false,
		"list":      false,
		"show":      false,
		"advance":   false,
		"cancel":    false,
		"set-stage": false,
		"clear":     false,
	}

	for _, cmd := range subcommands {
		// Extract command name (handles "show [id]" -> "show")
		cmdName := cmd.Use
		for key := range expectedCommands {
			if len(cmdName) >= len(key) && cmdName[:len(key)] == key {
				expectedCommands[key] = true
			}
		}
	}

	for cmdName, found := range expectedCommands {
		if !found {
			t.Errorf("pipeline command should have '%s' subcommand", cmdName)
		}
	}
}

func TestValidationsCommandHasSubcommands(t *testing.T) {
	if validationsCmd == nil {
		t.Fatal("validationsCmd should not be nil")
	}

	subcommands := validationsCmd.Commands()
	hasList := false
	hasRespond := false

	for _, cmd := range subcommands {
		switch {
		case cmd.Use == "list":
			hasList = true
		case len(cmd.Use) >= 7 && cmd.Use[:7] == "respond":
			hasRespond = true
		}
	}

	if !hasList {
		t.Error("validations command should have 'list' subcommand")
	}
	if !hasRespond {
		t.Error("validations command should have 'respond' subcommand")
	}
}

func TestAlertsCommandHasSubcommands(t *testing.T) {
	if alertsCmd == nil {
		t.Fatal("alertsCmd should not be nil")
	}

	subcommands := alertsCmd.Commands()
	expectedCommands := map[string]bool{
		"list":    false,
		"show":    false,
		"resolve": false,
	}

	for _, cmd := range subcommands {
		cmdName := cmd.Use
		for key := range expectedCommands {
			if len(cmdName) >= len(key) && cmdName[:len(key)] == key {
				expectedCommands[key] = true
			}
		}
	}

	for cmdName, found := range expectedCommands {
		if !found {
			t.Errorf("alerts command should have '%s' subcommand", cmdName)
		}
	}
}

func TestEventsCommandHasSubcommands(t *testing.T) {
	if eventsCmd == nil {
		t.Fatal("eventsCmd should not be nil")
	}

	subcommands := eventsCmd.Commands()
	hasList := false
	hasPublish := false

	for _, cmd := range subcommands {
		switch {
		case cmd.Use == "list":
			hasList = true
		case len(cmd.Use) >= 7 && cmd.Use[:7] == "publish":
			hasPublish = true
		}
	}

	if !hasList {
		t.Error("events command should have 'list' subcommand")
	}
	if !hasPublish {
		t.Error("events command should have 'publish' subcommand")
	}
}

func TestProfileCommandHasSubcommands(t *testing.T) {
	if profileCmd == nil {
		t.Fatal("profileCmd should not be nil")
	}

	subcommands := profileCmd.Commands()
	expectedCommands := map[string]bool{
		"set":    false,
		"list":   false,
		"use":    false,
		"remove": false,
	}

	for _, cmd := range subcommands {
		cmdName := cmd.Use
		for key := range expectedCommands {
			if len(cmdName) >= len(key) && cmdName[:len(key)] == key {
				expectedCommands[key] = true
			}
		}
	}

	for cmdName, found := range expectedCommands {
		if !found {
			t.Errorf("profile command should have '%s' subcommand", cmdName)
		}
	}
}

func TestGlobalFlags(t *testing.T) {
	if rootCmd == nil {
		t.Fatal("rootCmd should not be nil")
	}

	flags := []string{"config", "profile", "server", "output"}
	for _, flagName := range flags {
		flag := rootCmd.PersistentFlags().Lookup(flagName)
		if flag == nil {
			t.Errorf("expected global flag '%s' to be defined", flagName)
		}
	}
}

func TestPipelineListCommandFlags(t *testing.T) {
	if pipelineListCmd == nil {
		t.Fatal("pipelineListCmd should not be nil")
	}

	flags := []string{"stage", "blocked", "limit"}
	for _, flagName := range flags {
		flag := pipelineListCmd.Flags().Lookup(flagName)
		if flag == nil {
			t.Errorf("expected flag '%s' to be defined on pipeline list command", flagName)
		}
	}
}

func TestValidationsRespondCommandFlags(t *testing.T) {
	if validationsRespondCmd == nil {
		t.Fatal("validationsRespondCmd should not be nil")
	}

	flags := []string{"approve", "reject", "reason", "by"}
	for _, flagName := range flags {
		flag := validationsRespondCmd.Flags().Lookup(flagName)
		if flag == nil {
			t.Errorf("expected flag '%s' to be defined on validations respond command", flagName)
		}
	}
}

func TestAlertsListCommandFlags(t *testing.T) {
	if alertsListCmd == nil {
		t.Fatal("alertsListCmd should not be nil")
	}

	flags := []string{"status", "severity", "category", "limit"}
	for _, flagName := range flags {
		flag := alertsListCmd.Flags().Lookup(flagName)
		if flag == nil {
			t.Errorf("expected flag '%s' to be defined on alerts list command", flagName)
		}
	}
}

func TestSeedCommandFlags(t *testing.T) {
	if seedCmd == nil {
		t.Fatal("seedCmd should not be nil")
	}

	flags := []string{"items", "events"}
	for _, flagName := range flags {
		flag := seedCmd.Flags().Lookup(flagName)
		if flag == nil {
			t.Errorf("expected flag '%s' to be defined on seed command", flagName)
		}
	}
}

func TestSeedGeneratorsCoverCounterparts(t *testing.T) {
	sources := make(map[string]bool)
	for _, gen := range seedGenerators {
		sources[gen.source] = true

		payload := gen.payload()
		if _, ok := payload["title"].(string); !ok {
			t.Errorf("generator for %s should produce a title", gen.kind)
		}
		if _, ok := payload["message"].(string); !ok {
			t.Errorf("generator for %s should produce a message", gen.kind)
		}
	}

	for _, source := range []string{"finance", "operations", "marketing"} {
		if !sources[source] {
			t.Errorf("expected a seed generator impersonating %s", source)
		}
	}
}

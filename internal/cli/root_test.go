package cli

import (
	"testing"
)

func TestRootCommandTree(t *testing.T) {
	root := NewRootCmd()
	AddCommands(root)

	expected := []string{"ls", "mkdir", "mv", "cp", "rename", "rm", "put", "get", "queue", "config"}
	found := make(map[string]bool)
	for _, sub := range root.Commands() {
		found[sub.Name()] = true
	}
	for _, name := range expected {
		if !found[name] {
			t.Errorf("Subcommand '%s' not found", name)
		}
	}

	for _, flag := range []string{"config", "api-key", "token-file", "api-url", "state-file", "verbose", "debug"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("--%s flag not found", flag)
		}
	}
}

// TestAliases checks the long names still resolve to the short commands.
func TestAliases(t *testing.T) {
	root := NewRootCmd()
	AddCommands(root)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"upload", "a", "b"}, "put"},
		{[]string{"download", "f1"}, "get"},
		{[]string{"queue", "ls"}, "list"},
	}
	for _, tt := range tests {
		cmd, _, err := root.Find(tt.args)
		if err != nil {
			t.Errorf("Find(%v): %v", tt.args, err)
			continue
		}
		if cmd.Name() != tt.want {
			t.Errorf("Find(%v) = %s, want %s", tt.args, cmd.Name(), tt.want)
		}
	}
}

func TestArgValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"mkdir needs two args", []string{"mkdir", "only-parent"}},
		{"mv needs a folder", []string{"mv", "f1"}},
		{"cp needs a folder", []string{"cp", "f1"}},
		{"rename needs a name", []string{"rename", "f1"}},
		{"put needs a folder", []string{"put", "file.dat"}},
		{"get needs an id", []string{"get"}},
		{"rm needs an id", []string{"rm"}},
		{"ls takes one folder", []string{"ls", "a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := NewRootCmd()
			AddCommands(root)
			cmd, flags, err := root.Find(tt.args)
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			if cmd.Args == nil {
				t.Fatal("no argument validator")
			}
			if err := cmd.Args(cmd, flags); err == nil {
				t.Errorf("expected argument error for %v", tt.args)
			}
		})
	}
}

func TestGetContextDefault(t *testing.T) {
	if GetContext() == nil {
		t.Fatal("GetContext() returned nil")
	}
	if GetLogger() == nil {
		t.Fatal("GetLogger() returned nil")
	}
}

package main

import "testing"

func TestConfigPathPrecedence(t *testing.T) {
	t.Setenv(configEnv, "")
	cfgPath = ""
	if got := configPath(); got != "./config.yaml" {
		t.Fatalf("default path = %q", got)
	}

	t.Setenv(configEnv, "/etc/taskcycle/config.yaml")
	if got := configPath(); got != "/etc/taskcycle/config.yaml" {
		t.Fatalf("env path = %q", got)
	}

	cfgPath = " ./local.yaml "
	defer func() { cfgPath = "" }()
	if got := configPath(); got != "./local.yaml" {
		t.Fatalf("flag path = %q", got)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"serve": false, "sweep": false, "plan": false, "activate": false, "evaluate": false, "next": false, "import": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("command %q not registered", name)
		}
	}
	if rootCmd.PersistentFlags().Lookup("config") == nil {
		t.Fatalf("--config flag missing")
	}
}

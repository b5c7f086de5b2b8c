package tools

import (
	"testing"

	"github.com/HexSleeves/buzz/internal/config"
)

func TestDefinitions(t *testing.T) {
	defs := Definitions()
	want := []string{"get_current_time", "calculate", "list_user_chats", "search_chat_history"}
	if len(defs) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(defs))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("tool %d = %s, want %s", i, defs[i].Name, name)
		}
		if defs[i].Description == "" {
			t.Errorf("%s has no description", name)
		}
		if defs[i].InputSchema["type"] != "object" {
			t.Errorf("%s schema is not an object", name)
		}
	}

	// Callers get a copy.
	defs[0].Name = "mutated"
	if Definitions()[0].Name != "get_current_time" {
		t.Error("Definitions exposed the registry")
	}
}

func TestListEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ToolsConfig
		want []string
	}{
		{"disabled", config.ToolsConfig{Enabled: false}, nil},
		{"disabled ignores allow-list", config.ToolsConfig{Enabled: false, Allowed: []string{"calculate"}}, nil},
		{"all", config.ToolsConfig{Enabled: true}, []string{"get_current_time", "calculate", "list_user_chats", "search_chat_history"}},
		{"allow-list keeps registry order", config.ToolsConfig{Enabled: true, Allowed: []string{"search_chat_history", "calculate"}}, []string{"calculate", "search_chat_history"}},
		{"empty allow-list", config.ToolsConfig{Enabled: true, Allowed: []string{}}, nil},
		{"unknown names dropped", config.ToolsConfig{Enabled: true, Allowed: []string{"shell", "calculate"}}, []string{"calculate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ListEnabled(tt.cfg)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d tools, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Name != tt.want[i] {
					t.Errorf("tool %d = %s, want %s", i, got[i].Name, tt.want[i])
				}
			}
		})
	}
}

func TestCheckAllowed(t *testing.T) {
	unknown := CheckAllowed([]string{"calculate", "search", "rm_rf"})
	if len(unknown) != 2 {
		t.Fatalf("expected 2 unknown names, got %+v", unknown)
	}
	if unknown[0].Name != "search" || unknown[0].Suggestion != "search_chat_history" {
		t.Errorf("unexpected suggestion %+v", unknown[0])
	}
	if unknown[1].Name != "rm_rf" || unknown[1].Suggestion != "" {
		t.Errorf("unexpected suggestion %+v", unknown[1])
	}
	if got := CheckAllowed(nil); len(got) != 0 {
		t.Errorf("expected no unknown names, got %+v", got)
	}
}

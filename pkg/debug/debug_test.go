package debug

import (
	"context"
	"log/slog"
	"testing"
)

func TestParseCategories(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]bool
	}{
		{"empty", "", map[string]bool{}},
		{"single", "strategies", map[string]bool{"strategies": true}},
		{"multiple", "strategies,session", map[string]bool{"strategies": true, "session": true}},
		{"all", "all", map[string]bool{"all": true}},
		{"with spaces", " strategies , session ", map[string]bool{"strategies": true, "session": true}},
		{"uppercase normalized", "STRATEGIES,Session", map[string]bool{"strategies": true, "session": true}},
		{"empty segments", "strategies,,session", map[string]bool{"strategies": true, "session": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCategories(tt.input)
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("got[%q] = %v, want %v", k, got[k], v)
				}
			}
			if len(got) != len(tt.want) {
				t.Errorf("len(got) = %d, want %d", len(got), len(tt.want))
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	// Save and restore.
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("strategies,session")

	if !Enabled("strategies") {
		t.Error("strategies should be enabled")
	}
	if !Enabled("session") {
		t.Error("session should be enabled")
	}
	if Enabled("storage") {
		t.Error("storage should not be enabled")
	}
	if Enabled("all") {
		t.Error("all should not be enabled (not in categories)")
	}
}

func TestEnabled_All(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("all")

	if !Enabled("strategies") {
		t.Error("strategies should be enabled via 'all'")
	}
	if !Enabled("session") {
		t.Error("session should be enabled via 'all'")
	}
	if !Enabled("anything") {
		t.Error("anything should be enabled via 'all'")
	}
}

func TestEnabled_Empty(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("")

	if Enabled("strategies") {
		t.Error("nothing should be enabled when no categories set")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"TRACE", LevelTrace},
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate short = %q, want %q", got, "short")
	}
	if got := Truncate("this is a long string", 10); got != "this is a ..." {
		t.Errorf("Truncate long = %q, want %q", got, "this is a ...")
	}
}

func TestLog_DisabledCategory(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("")

	// Should not panic or produce output.
	Log("strategies", "test message", "key", "value")
	Trace("strategies", "trace message", "key", "value")
}

func TestInit(t *testing.T) {
	origCats, origLogger := categories, slog.Default()
	defer func() {
		categories = origCats
		slog.SetDefault(origLogger)
	}()

	t.Setenv("TURNSTILE_DEBUG", "")
	t.Setenv("TURNSTILE_LOG_LEVEL", "")
	Init("auth, session", "debug", "json")

	if !Enabled("auth") || !Enabled("session") || Enabled("storage") {
		t.Errorf("categories = %v, want auth and session", Categories())
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level should be enabled")
	}
	if _, ok := slog.Default().Handler().(*slog.JSONHandler); !ok {
		t.Errorf("handler = %T, want *slog.JSONHandler", slog.Default().Handler())
	}

	// Environment wins over config.
	t.Setenv("TURNSTILE_DEBUG", "storage")
	t.Setenv("TURNSTILE_LOG_LEVEL", "error")
	Init("auth", "debug", "text")

	if Enabled("auth") || !Enabled("storage") {
		t.Errorf("categories = %v, want storage only", Categories())
	}
	if slog.Default().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be disabled at error level")
	}
	if _, ok := slog.Default().Handler().(*slog.TextHandler); !ok {
		t.Errorf("handler = %T, want *slog.TextHandler", slog.Default().Handler())
	}
}

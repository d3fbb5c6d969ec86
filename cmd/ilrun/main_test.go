package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tangzhangming/ilengine/internal/cil"
	"github.com/tangzhangming/ilengine/internal/config"
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
)

const programSource = `
.module app
.class App.Program
{
	.method static int32 Main()
	{
		ldc.i4.s 42
		ret
	}
	.method static int32 Twice(int32)
	{
		ldarg.0
		ldc.i4.2
		mul
		ret
	}
	.method static int32 Other()
	{
		ldc.i4.1
		ret
	}
}
`

func assemble(t *testing.T) *meta.Module {
	t.Helper()
	mod, err := cil.AssembleModule(programSource, cil.ModuleOptions{Corlib: meta.LoadCorlib().Module})
	if err != nil {
		t.Fatalf("AssembleModule: %v", err)
	}
	return mod
}

func TestFindEntry(t *testing.T) {
	mod := assemble(t)
	tests := []struct {
		name    string
		entry   string
		want    string
		wantErr bool
	}{
		{"default main", "", "App.Program::Main", false},
		{"named", "App.Program::Other", "App.Program::Other", false},
		{"takes parameters", "App.Program::Twice", "", true},
		{"missing", "App.Program::Nope", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := findEntry(mod, tt.entry)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %s", got.FullName())
				}
				return
			}
			if err != nil {
				t.Fatalf("findEntry: %v", err)
			}
			if got.FullName() != tt.want {
				t.Errorf("entry = %s, want %s", got.FullName(), tt.want)
			}
		})
	}
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		name string
		typ  *meta.Type
		slot jit.Slot
		want string
	}{
		{"void", meta.Void, jit.Slot{}, ""},
		{"int", meta.Int32, jit.Int(-5), "-5"},
		{"bool", meta.Bool, jit.Int(1), "true"},
		{"char", meta.Char, jit.Int('A'), "A"},
		{"double", meta.Float64, jit.Float(1.5), "1.5"},
		{"unsigned", meta.UInt32, jit.Long(0xFFFFFFFF), "4294967295"},
		{"null", meta.String, jit.Slot{}, "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatResult(tt.typ, tt.slot); got != tt.want {
				t.Errorf("formatResult = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDumpModule(t *testing.T) {
	out := dumpModule(assemble(t))
	for _, want := range []string{".module app", ".method App.Program::Main", "ldc.i4.s", "ret"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in\n%s", want, out)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadConfig("", dir)
	if err != nil || cfg.Engine.OptimizationLevel != config.Default().Engine.OptimizationLevel {
		t.Fatalf("default config = %+v, %v", cfg, err)
	}

	data := "[engine]\nunsafe_allowed = true\n"
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig("", dir)
	if err != nil || !cfg.Engine.UnsafeAllowed {
		t.Errorf("config next to module = %+v, %v", cfg, err)
	}

	if _, err := loadConfig(filepath.Join(dir, "missing.toml"), dir); err == nil {
		t.Error("explicit missing config accepted")
	}
}

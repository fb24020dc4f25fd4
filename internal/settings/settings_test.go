package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	s := Load()
	if s.BatchSize != 512 {
		t.Errorf("default batch size: got %d, want 512", s.BatchSize)
	}
	if s.ModelPath != "" {
		t.Errorf("default model path: got %q, want empty", s.ModelPath)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	in := Settings{
		ModelPath:     "/models/llama.onnx",
		TokenizerPath: "/models/tokenizer.json",
		BatchSize:     128,
		ExportAddr:    "localhost:3000",
	}
	if err := in.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	out := Load()
	if out != in {
		t.Errorf("round trip: got %+v, want %+v", out, in)
	}
}

func TestLoadCorruptFileFallsBack(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.WriteFile(filepath.Join(home, fileName), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := Load()
	if s != Default() {
		t.Errorf("corrupt file: got %+v, want defaults", s)
	}
}

func TestLoadNormalizesBatchSize(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.WriteFile(filepath.Join(home, fileName), []byte(`{"batch_size": -4}`), 0o600); err != nil {
		t.Fatal(err)
	}

	if s := Load(); s.BatchSize != 512 {
		t.Errorf("batch size: got %d, want 512", s.BatchSize)
	}
}

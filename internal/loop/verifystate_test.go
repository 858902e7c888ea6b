package loop

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadVerifyStateMissingFile(t *testing.T) {
	vs, err := LoadVerifyState(filepath.Join(t.TempDir(), "verify-active.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if vs != nil {
		t.Errorf("vs = %+v, want nil", vs)
	}
}

func TestLoadVerifyStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verify-active.json")

	in := &VerifyState{
		Config: VerifyConfig{
			Command:       "go test ./...",
			TimeoutMS:     60000,
			MaxIterations: 8,
			WorkingDir:    "/repo",
			OriginalGoal:  "fix the tests",
		},
		State: VerifyProgress{Iteration: 2, LastResult: "FAIL", SessionID: "ralph-12345678"},
	}
	if err := SaveVerifyState(path, in); err != nil {
		t.Fatalf("SaveVerifyState: %v", err)
	}

	out, err := LoadVerifyState(path)
	if err != nil {
		t.Fatalf("LoadVerifyState: %v", err)
	}
	if *out != *in {
		t.Errorf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}

func TestLoadVerifyStateMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verify-active.json")
	if err := os.WriteFile(path, []byte("{oops"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadVerifyState(path); err == nil {
		t.Error("malformed state should error so the caller disarms")
	}
}

func TestLoadVerifyStateRequiresCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verify-active.json")
	if err := os.WriteFile(path, []byte(`{"config": {"command": "  "}}`), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadVerifyState(path); err == nil {
		t.Error("empty command should error")
	}
}

func TestLoadVerifyStateDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verify-active.json")
	if err := os.WriteFile(path, []byte(`{"config": {"command": "true"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	vs, err := LoadVerifyState(path)
	if err != nil {
		t.Fatal(err)
	}
	if vs.Config.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d, want default 10", vs.Config.MaxIterations)
	}
	if vs.Config.TimeoutMS != 120000 {
		t.Errorf("TimeoutMS = %d, want default 120000", vs.Config.TimeoutMS)
	}
}

func TestClearVerifyState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verify-active.json")
	if err := SaveVerifyState(path, &VerifyState{Config: VerifyConfig{Command: "true"}}); err != nil {
		t.Fatal(err)
	}

	ClearVerifyState(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("state file still exists after clear")
	}

	// Clearing an already-missing file is fine.
	ClearVerifyState(path)
}

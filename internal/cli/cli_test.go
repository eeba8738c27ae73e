package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

// testConfig writes a config that keeps the database and logs inside the
// test's temp dir.
func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "sumcheck.yaml")
	body := "db_path: " + filepath.Join(dir, "sumcheck.db") + "\nlog:\n  level: error\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func execute(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--config", cfg, "--no-progress"))
	err := cmd.Execute()
	return out.String(), err
}

func executeNoProgressFlag(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--config", cfg))
	err := cmd.Execute()
	return out.String(), err
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCreateThenVerify(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{"data/a.txt": "alpha", "data/sub/b.txt": "beta"})
	sums := filepath.Join(root, "data.sha256")

	out, err := execute(t, cfg, "create", filepath.Join(root, "data"), "-o", sums)
	if err != nil {
		t.Fatalf("create: %v\n%s", err, out)
	}
	if !strings.Contains(out, "wrote 2 entries") {
		t.Errorf("create output:\n%s", out)
	}
	raw, err := os.ReadFile(sums)
	if err != nil {
		t.Fatal(err)
	}
	line := regexp.MustCompile(`^[0-9a-f]{64} \*data/a\.txt$`)
	if !line.MatchString(strings.Split(string(raw), "\n")[0]) {
		t.Errorf("checksum file:\n%s", raw)
	}

	out, err = execute(t, cfg, "verify", sums)
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2 files: 2 ok, 0 bad, 0 missing") {
		t.Errorf("verify output:\n%s", out)
	}
}

func TestVerifyReportsProblems(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a": "one", "b": "two"})
	sums := filepath.Join(root, "s.md5")
	if out, err := execute(t, cfg, "create", filepath.Join(root, "a"), filepath.Join(root, "b"), "-o", sums); err != nil {
		t.Fatalf("create: %v\n%s", err, out)
	}
	writeTree(t, root, map[string]string{"a": "ONE"})
	if err := os.Remove(filepath.Join(root, "b")); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, cfg, "verify", sums)
	if !errors.Is(err, errVerifyFailed) {
		t.Fatalf("verify error = %v", err)
	}
	for _, want := range []string{"BAD", "MISSING", "1 bad, 1 missing"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCreateAlgorithmFromExtension(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{"f": "x"})
	sums := filepath.Join(root, "f.md5")
	if out, err := execute(t, cfg, "create", filepath.Join(root, "f"), "-o", sums); err != nil {
		t.Fatalf("create: %v\n%s", err, out)
	}
	raw, _ := os.ReadFile(sums)
	if !regexp.MustCompile(`^[0-9a-f]{32} \*f\n$`).Match(raw) {
		t.Errorf("checksum file = %q", raw)
	}
}

func TestCreateRequiresOutput(t *testing.T) {
	if _, err := execute(t, testConfig(t), "create", t.TempDir()); err == nil {
		t.Fatal("expected an error without -o")
	}
}

func TestJobsLifecycle(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{"d/x": "x", "d/y": "y"})
	sums := filepath.Join(root, "d.sha1")

	out, err := executeNoProgressFlag(t, cfg, "jobs", "add", filepath.Join(root, "d"), "-o", sums)
	if err != nil || !strings.Contains(out, "queued create job") {
		t.Fatalf("jobs add create: %v\n%s", err, out)
	}
	out, err = executeNoProgressFlag(t, cfg, "jobs", "add", sums)
	if err != nil || !strings.Contains(out, "queued verify job") {
		t.Fatalf("jobs add verify: %v\n%s", err, out)
	}
	extra, err := executeNoProgressFlag(t, cfg, "jobs", "add", filepath.Join(root, "other.md5"))
	if err != nil {
		t.Fatal(err)
	}
	extraID := strings.Fields(extra)[3]

	if out, err = executeNoProgressFlag(t, cfg, "jobs", "rm", extraID); err != nil {
		t.Fatalf("jobs rm: %v\n%s", err, out)
	}

	out, err = execute(t, cfg, "jobs", "run")
	if err != nil || !strings.Contains(out, "2 jobs processed") {
		t.Fatalf("jobs run: %v\n%s", err, out)
	}

	out, err = executeNoProgressFlag(t, cfg, "jobs", "list")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(out, "done") != 2 || strings.Contains(out, extraID) {
		t.Errorf("jobs list:\n%s", out)
	}
	if _, err := os.Stat(sums); err != nil {
		t.Errorf("create job did not write %s: %v", sums, err)
	}
}

func TestVerifyJobNeedsOneFile(t *testing.T) {
	if _, err := executeNoProgressFlag(t, testConfig(t), "jobs", "add", "a.md5", "b.md5"); err == nil {
		t.Fatal("expected an error")
	}
}

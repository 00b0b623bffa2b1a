package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// row52Server serves the same five asking prices for every search.
func row52Server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rows []string
		for i, p := range []int{98, 100, 102, 105, 500} {
			rows = append(rows, fmt.Sprintf(`{"askingPrice": %d, "partName": %q, "url": "https://row52.com/p/%d",
			  "vehicle": {"year": 2015, "make": "Honda", "model": "Civic"}, "yard": {"name": "Yard %d"}}`,
				p, r.URL.Query().Get("part"), i, i))
		}
		fmt.Fprintf(w, `{"value": [%s]}`, strings.Join(rows, ","))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// setup points the CLI at a temp SQLite store and a single Row52 source.
func setup(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	srcFile := filepath.Join(dir, "sources.yaml")
	yaml := fmt.Sprintf("sources:\n  - name: row52\n    base_url: %s\n    max_results: 5\n", row52Server(t).URL)
	if err := os.WriteFile(srcFile, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SOURCES_FILE", srcFile)
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "pricing.db"))
	t.Setenv("CATALOG_BACKEND", "memory")
	t.Setenv("NATS_URL", "")
	t.Setenv("BATCH_DELAY", "-1s")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	c := &cli{out: &out, errOut: &errOut}
	root := c.root()
	root.SetArgs(args)
	err := root.Execute()
	c.close()
	return out.String(), err
}

func TestResearchCommand(t *testing.T) {
	setup(t)
	out, err := execute(t, "research", "alt-1", "--name", "alternator", "--year", "2015", "--make", "honda", "--model", "civic")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"mean         101.25", "recommended  86.00", "sample       5 (1 outliers removed)", "source       row52     5 observations"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestResearchCommandRequiresVehicle(t *testing.T) {
	setup(t)
	if _, err := execute(t, "research", "alt-1", "--name", "alternator"); err == nil {
		t.Fatal("expected a validation error")
	}
}

func TestBulkThenHistory(t *testing.T) {
	setup(t)
	vehicle := []string{"--year", "2015", "--make", "honda", "--model", "civic"}

	args := append([]string{"bulk", "alt-1", "door-2", "ghost", "--item", "alt-1=alternator", "--item", "door-2=driver door"}, vehicle...)
	out, err := execute(t, args...)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "3/3 processed, 0 cached, 1 errors") {
		t.Fatalf("first run:\n%s", out)
	}

	// Second run reads the same SQLite file and serves both from cache.
	out, err = execute(t, args...)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "3/3 processed, 2 cached, 1 errors") {
		t.Fatalf("second run:\n%s", out)
	}

	out, err = execute(t, append([]string{"bulk", "alt-1", "--force", "--item", "alt-1=alternator"}, vehicle...)...)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "alt-1            new     86.00") {
		t.Fatalf("forced run:\n%s", out)
	}

	out, err = execute(t, "history", "alt-1")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "active") || !strings.Contains(lines[1], "superseded") {
		t.Fatalf("history:\n%s", out)
	}
}

func TestSourcesCommand(t *testing.T) {
	setup(t)
	out, err := execute(t, "sources")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "row52") || !strings.Contains(out, "enabled") {
		t.Fatalf("sources:\n%s", out)
	}
}

package report

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ivlev/stampdetect/internal/analyzer"
	"github.com/ivlev/stampdetect/internal/engine"
)

func sampleResponse() *engine.Response {
	r := engine.NewResponse()
	r.Add("page1", analyzer.PageResult{
		Detections: []analyzer.Region{
			{BBox: [4]int{10, 20, 100, 200}, Label: "mix", Confidence: 0.75},
		},
		ImageWithAnnotations: "data:image/jpeg;base64,AA==",
	})
	r.Add("page2", analyzer.PageResult{ImageWithAnnotations: "data:image/jpeg;base64,AA=="})
	return r
}

func TestWriteRead(t *testing.T) {
	for _, ext := range []string{".yaml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out", "contract_report"+ext)
			rep := New("contract.pdf", "contrast", sampleResponse())

			if err := Write(rep, path); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			back, err := Read(path)
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}

			if back.Source != rep.Source || back.Model != rep.Model {
				t.Errorf("header mismatch: %+v", back)
			}
			if !back.GeneratedAt.Equal(rep.GeneratedAt) {
				t.Errorf("GeneratedAt = %v, want %v", back.GeneratedAt, rep.GeneratedAt)
			}
			if back.Counts != (analyzer.Counts{Signatures: 1, Stamps: 1}) {
				t.Errorf("Counts = %+v", back.Counts)
			}
			if !reflect.DeepEqual(back.Pages.Keys(), []string{"page1", "page2"}) {
				t.Errorf("keys = %v", back.Pages.Keys())
			}
			if !reflect.DeepEqual(back.Pages.Pages(), rep.Pages.Pages()) {
				t.Error("pages differ after round trip")
			}
		})
	}
}

func TestGeneratePath(t *testing.T) {
	path := GeneratePath("reports", "/tmp/My Contract.pdf")

	if filepath.Dir(path) != "reports" {
		t.Errorf("Path should be in reports: %s", path)
	}
	if !strings.HasPrefix(filepath.Base(path), "My_Contract_report_") {
		t.Errorf("unexpected name: %s", path)
	}
	if filepath.Ext(path) != ".yaml" {
		t.Errorf("unexpected extension: %s", path)
	}
	t.Logf("Generated path: %s", path)
}

func TestFindLatest(t *testing.T) {
	dir := t.TempDir()

	files := []string{
		filepath.Join(dir, "a_report_2026-02-12_10-00-00.yaml"),
		filepath.Join(dir, "b_report_2026-02-13_01-00-00.json"),
		filepath.Join(dir, "c_report_2026-02-11_15-30-00.yaml"),
	}
	for i, f := range files {
		if err := os.WriteFile(f, []byte("test"), 0644); err != nil {
			t.Fatal(err)
		}
		modTime := time.Now().Add(time.Duration(i) * time.Hour)
		os.Chtimes(f, modTime, modTime)
	}
	// not a report
	os.WriteFile(filepath.Join(dir, "notes.yaml"), []byte("x"), 0644)

	latest, err := FindLatest(dir)
	if err != nil {
		t.Fatalf("FindLatest failed: %v", err)
	}
	if latest != files[2] {
		t.Errorf("Expected %s, got %s", files[2], latest)
	}
}

func TestFindLatestEmpty(t *testing.T) {
	if _, err := FindLatest(t.TempDir()); err == nil {
		t.Error("expected error for empty directory")
	}
	if _, err := FindLatest(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}

package replay

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/turnguard/turnguard/internal/model"
)

const corpusPath = "testdata/regression_corpus.json"

func TestLoadCorpus(t *testing.T) {
	corpus, err := LoadCorpus(corpusPath)
	if err != nil {
		t.Fatalf("load corpus: %v", err)
	}
	if len(corpus.Cases) == 0 {
		t.Fatal("corpus is empty")
	}
}

func TestLoadCorpusValidation(t *testing.T) {
	write := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "corpus.json")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tests := []struct {
		name    string
		content string
	}{
		{"no cases", `{"cases": []}`},
		{"empty case id", `{"cases": [{"case_id": "", "turns": [{"turn_id": 1, "role": "user", "expected_verdict": "allow"}]}]}`},
		{"duplicate case id", `{"cases": [
			{"case_id": "a", "turns": [{"turn_id": 1, "role": "user", "expected_verdict": "allow"}]},
			{"case_id": "a", "turns": [{"turn_id": 1, "role": "user", "expected_verdict": "allow"}]}]}`},
		{"no turns", `{"cases": [{"case_id": "a", "turns": []}]}`},
		{"non increasing turn ids", `{"cases": [{"case_id": "a", "turns": [
			{"turn_id": 2, "role": "user", "expected_verdict": "allow"},
			{"turn_id": 2, "role": "user", "expected_verdict": "allow"}]}]}`},
		{"bad role", `{"cases": [{"case_id": "a", "turns": [{"turn_id": 1, "role": "robot", "expected_verdict": "allow"}]}]}`},
		{"bad verdict", `{"cases": [{"case_id": "a", "turns": [{"turn_id": 1, "role": "user", "expected_verdict": "maybe"}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadCorpus(write(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRunRegressionCorpusPasses(t *testing.T) {
	corpus, err := LoadCorpus(corpusPath)
	if err != nil {
		t.Fatal(err)
	}

	report := NewRunner(nil).Run(context.Background(), corpus, false)
	if !report.Passed() {
		t.Fatalf("regression corpus failed under default policy:\n%s", report.Format())
	}
	if len(report.Results) != len(corpus.Cases) {
		t.Errorf("expected %d results, got %d", len(corpus.Cases), len(report.Results))
	}
}

func TestRunParallelMatchesSequential(t *testing.T) {
	corpus, err := LoadCorpus(corpusPath)
	if err != nil {
		t.Fatal(err)
	}

	seq := NewRunner(nil).Run(context.Background(), corpus, false)
	par := NewRunner(nil).Run(context.Background(), corpus, true)

	if len(seq.Results) != len(par.Results) {
		t.Fatal("result count differs")
	}
	for i := range seq.Results {
		if seq.Results[i].CaseID != par.Results[i].CaseID {
			t.Errorf("result %d: order must match corpus order, got %s vs %s",
				i, seq.Results[i].CaseID, par.Results[i].CaseID)
		}
		if seq.Results[i].Passed != par.Results[i].Passed {
			t.Errorf("case %s: verdict differs between modes", seq.Results[i].CaseID)
		}
	}
}

func TestRunReportsMismatch(t *testing.T) {
	corpus, err := LoadCorpus(corpusPath)
	if err != nil {
		t.Fatal(err)
	}

	// Flip one expectation: exactly that case must fail, with detail.
	corpus.Cases[0].Turns[0].ExpectedVerdict = model.VerdictBlock
	flipped := corpus.Cases[0].CaseID

	report := NewRunner(nil).Run(context.Background(), corpus, false)
	if report.Passed() {
		t.Fatal("corrupted expectation must fail the run")
	}
	if report.FailedCount() != 1 {
		t.Fatalf("expected exactly 1 failed case, got %d", report.FailedCount())
	}

	for _, res := range report.Results {
		if res.CaseID == flipped {
			if res.Passed {
				t.Error("flipped case reported as passed")
			}
			if len(res.Mismatches) == 0 {
				t.Fatal("mismatch detail missing")
			}
			m := res.Mismatches[0]
			if m.ExpectedVerdict != model.VerdictBlock || m.ActualVerdict != model.VerdictAllow {
				t.Errorf("mismatch detail: %+v", m)
			}
		} else if !res.Passed {
			t.Errorf("unrelated case %s failed", res.CaseID)
		}
	}
}

func TestReportSerializesToJSON(t *testing.T) {
	report := &Report{Results: []CaseResult{{CaseID: "a", Passed: true, Turns: 2}}}
	data, err := json.Marshal(report)
	if err != nil {
		t.Fatal(err)
	}
	var back Report
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if len(back.Results) != 1 || back.Results[0].CaseID != "a" {
		t.Errorf("round trip: %+v", back)
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNormalizeCommand(t *testing.T) {
	in := `{"title": "Fractions", "learning_sequences": [{"sequence_name": "Halves", "phases": [{"phase_name": "Intro"}]}]}`

	var out bytes.Buffer
	root := newRootCmd()
	root.SetIn(strings.NewReader(in))
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"normalize", "--log-level", "error"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}

	var doc struct {
		Solution struct {
			DidacticTemplate struct {
				LearningSequences []struct {
					ID     string `json:"sequence_id"`
					Phases []struct {
						ID string `json:"phase_id"`
					} `json:"phases"`
				} `json:"learning_sequences"`
			} `json:"didactic_template"`
		} `json:"solution"`
		Actors []any `json:"actors"`
	}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	seqs := doc.Solution.DidacticTemplate.LearningSequences
	if len(seqs) != 1 || seqs[0].ID != "SEQ1" || seqs[0].Phases[0].ID != "SEQ1-P1" {
		t.Errorf("sequences = %+v", seqs)
	}
	if doc.Actors == nil {
		t.Error("actors not materialized")
	}
}

func TestNormalizeCommandToFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.json")
	dst := filepath.Join(dir, "out.json")
	if err := os.WriteFile(src, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"normalize", src, "-o", dst})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(data) || !strings.Contains(string(data), `"learning_sequences"`) {
		t.Errorf("output = %s", data)
	}
}

func TestNormalizeCommandRejectsNonJSON(t *testing.T) {
	root := newRootCmd()
	root.SetIn(strings.NewReader("not json"))
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"normalize"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected an error")
	}
}

func TestGenerateNeedsOnePlanSource(t *testing.T) {
	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"generate", "--intent", "halves"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "--plan or --id") {
		t.Fatalf("err = %v", err)
	}
}

func TestSetupLogging(t *testing.T) {
	tests := []struct {
		format, level string
		ok            bool
	}{
		{"json", "debug", true},
		{"text", "WARN", true},
		{"", "info", true},
		{"xml", "info", false},
		{"json", "loud", false},
	}
	for _, tt := range tests {
		t.Run(tt.format+"/"+tt.level, func(t *testing.T) {
			err := setupLogging(io.Discard, tt.format, tt.level)
			if (err == nil) != tt.ok {
				t.Errorf("setupLogging(%q, %q) = %v", tt.format, tt.level, err)
			}
		})
	}
}

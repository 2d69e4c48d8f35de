package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/hourglass/internal/evaluator"
)

func TestListEvaluators(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/evaluators")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var entries []evaluator.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "synthetic" {
		t.Fatalf("entries = %+v, want [synthetic]", entries)
	}
	if entries[0].Info.Metric == "" {
		t.Error("expected evaluator metric")
	}
}

func TestGetSearchSpace(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/searchspace")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var algs []struct {
		Name   string           `json:"name"`
		Kind   string           `json:"kind"`
		Params map[string][]any `json:"params"`
		Size   int              `json:"size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&algs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(algs) != 2 {
		t.Fatalf("got %d algorithms, want 2", len(algs))
	}
	// Sorted by name; alpha is inherited from the shared block.
	if algs[0].Name != "BernoulliNB" || algs[0].Size != 6 || len(algs[0].Params["alpha"]) != 3 {
		t.Errorf("algs[0] = %+v, want BernoulliNB with 6 combinations", algs[0])
	}
	if algs[1].Name != "GaussianNB" || algs[1].Size != 1 || algs[1].Kind != "classifier" {
		t.Errorf("algs[1] = %+v, want GaussianNB with 1 combination", algs[1])
	}
}

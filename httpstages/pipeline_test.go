package httpstages

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dcshock/hookpipe/config"
	"github.com/dcshock/hookpipe/hook"
	"github.com/dcshock/hookpipe/pipeline"
)

func statusOK(v interface{}) error {
	m, ok := v.(map[string]interface{})
	if !ok {
		return fmt.Errorf("expected map")
	}
	if s, _ := m["status"].(string); s != "ok" {
		return fmt.Errorf("unexpected status: %v", m["status"])
	}
	return nil
}

func checkPipeline(url string) *pipeline.Pipeline {
	p := pipeline.New("http-check", nil)
	_ = p.Register("fetch", Get(nil, url), pipeline.StepOrder(0))
	_ = p.Register("decode", ParseJSON(), pipeline.StepOrder(10))
	_ = p.Register("check", Expect(statusOK), pipeline.StepOrder(20))
	return p
}

// TestPipeline_GET_ParseJSON_Expect runs a full pipeline: GET -> ParseJSON -> Expect (pass).
func TestPipeline_GET_ParseJSON_Expect(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":1}`))
	}))
	defer ts.Close()

	payload := &Payload{}
	res, err := checkPipeline(ts.URL).Run(context.Background(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() {
		t.Fatal(res.Err())
	}
	m := payload.Value.(map[string]interface{})
	if m["status"] != "ok" || m["version"].(float64) != 1 {
		t.Errorf("unexpected result: %v", payload.Value)
	}
}

// TestPipeline_GET_ParseJSON_Expect_Fail verifies the check step fails when Expect fails.
func TestPipeline_GET_ParseJSON_Expect_Fail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error"}`))
	}))
	defer ts.Close()

	res, err := checkPipeline(ts.URL).Run(context.Background(), &Payload{})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Failed(); len(got) != 1 || got[0] != "check" {
		t.Fatalf("failed steps: %v", got)
	}
}

func TestRegister_ConfigActions(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	reg := config.NewRegistry()
	Register(reg, ts.Client())
	cfg, err := config.ParsePipelineConfig([]byte(`
name: api
steps:
  - name: fetch
    action: http.fetch
  - name: decode
    action: json.decode
    order: 10
`))
	if err != nil {
		t.Fatal(err)
	}
	p, err := config.BuildPipeline(reg, hook.New(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	payload := &Payload{URL: ts.URL}
	res, err := p.Run(context.Background(), payload)
	if err != nil || !res.OK() {
		t.Fatal(err, res.Err())
	}
	if err := statusOK(payload.Value); err != nil {
		t.Error(err)
	}
}

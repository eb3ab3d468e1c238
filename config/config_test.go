package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/dcshock/hookpipe/hook"
	"github.com/dcshock/hookpipe/pipeline"
	"github.com/dcshock/hookpipe/priority"
)

func boolPtr(b bool) *bool { return &b }

func recorder(log *[]string, name string) hook.Callback {
	return func(ctx context.Context, args ...interface{}) error {
		*log = append(*log, name)
		return nil
	}
}

func TestRegistry_RegisterGet(t *testing.T) {
	reg := NewRegistry()
	reg.Register("noop", pipeline.Noop())
	a, ok := reg.Get("noop")
	if !ok || a == nil {
		t.Fatal("Get(noop) should return action")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("Get(missing) should return false")
	}
	reg.Register("b", pipeline.Noop())
	if diff := cmp.Diff([]string{"b", "noop"}, reg.Names()); diff != "" {
		t.Errorf("Names (-want +got):\n%s", diff)
	}
}

func TestRegistry_MustGet_Panic(t *testing.T) {
	reg := NewRegistry()
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustGet missing should panic")
		}
	}()
	reg.MustGet("nope")
}

func TestParsePipelineConfig_Simple(t *testing.T) {
	src := `
name: test-pipeline
steps:
  - fetch
  - parse
  - validate
`
	cfg, err := ParsePipelineConfig([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	want := &PipelineConfig{
		Name:  "test-pipeline",
		Steps: []StepRef{{Name: "fetch"}, {Name: "parse"}, {Name: "validate"}},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestParsePipelineConfig_WithOptions(t *testing.T) {
	src := `
name: with-options
sentinels: true
observers: [db]
steps:
  - fetch
  - name: parse
    action: json.decode
    order: high
    before: false
    protected: true
    retry: exponential
    timeout: 60s
    initial: 5s
    cap: 1m
    multiplier: 3
    max_attempts: 5
  - name: validate
    order: -7
`
	cfg, err := ParsePipelineConfig([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	want := &PipelineConfig{
		Name:      "with-options",
		Sentinels: true,
		Observers: []string{"db"},
		Steps: []StepRef{
			{Name: "fetch"},
			{
				Name:        "parse",
				Action:      "json.decode",
				Order:       PriorityOf(priority.High),
				Before:      boolPtr(false),
				Protected:   true,
				Retry:       "exponential",
				Timeout:     Duration(60 * time.Second),
				Initial:     Duration(5 * time.Second),
				Cap:         Duration(time.Minute),
				Multiplier:  3,
				MaxAttempts: 5,
			},
			{Name: "validate", Order: PriorityOf(-7)},
		},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
	if cfg.Steps[1].ActionName() != "json.decode" || cfg.Steps[0].ActionName() != "fetch" {
		t.Error("ActionName should default to the step name")
	}
}

func TestPriority_UnmarshalInvalid(t *testing.T) {
	var p Priority
	if err := yaml.Unmarshal([]byte(`urgent`), &p); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	var d Duration
	if err := yaml.Unmarshal([]byte(`"90s"`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Duration() != 90*time.Second {
		t.Errorf("got %v", d.Duration())
	}
	if err := yaml.Unmarshal([]byte(`soon`), &d); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestParseYAML_SingleAndMulti(t *testing.T) {
	multi, err := ParseYAML([]byte(`
pipelines:
  sync:
    steps: [fetch]
sequences:
  nightly:
    pipelines: [sync]
`))
	if err != nil {
		t.Fatal(err)
	}
	if len(multi.Pipelines) != 1 || len(multi.Sequences) != 1 {
		t.Fatalf("multi = %+v", multi)
	}

	single, err := ParseYAML([]byte("name: solo\nsteps: [a]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := single.Pipelines["solo"]; !ok {
		t.Errorf("single document should become pipeline solo: %+v", single)
	}

	if _, err := ParseYAML([]byte("steps: [a]\n")); err == nil {
		t.Error("expected error when nothing is named")
	}
}

func TestBuildPipeline_StepsAndOrder(t *testing.T) {
	var ran []string
	reg := NewRegistry()
	reg.Register("fetch", recorder(&ran, "fetch"))
	reg.Register("parse", recorder(&ran, "parse"))
	reg.Register("store", recorder(&ran, "store"))

	cfg := &PipelineConfig{
		Name:      "sync",
		Sentinels: true,
		Steps: []StepRef{
			{Name: "store", Order: PriorityOf(10)},
			{Name: "fetch", Order: PriorityOf(priority.High)},
			{Name: "parse"},
		},
	}
	p, err := BuildPipeline(reg, hook.New(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Run(context.Background())
	if err != nil || !res.OK() {
		t.Fatal(err, res.Err())
	}
	if diff := cmp.Diff([]string{"fetch", "parse", "store"}, ran); diff != "" {
		t.Errorf("ran (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{pipeline.BeginStep, "fetch", "parse", "store", pipeline.EndStep}, res.Steps); diff != "" {
		t.Errorf("steps (-want +got):\n%s", diff)
	}
}

func TestBuildPipeline_HookToggles(t *testing.T) {
	var ran []string
	reg := NewRegistry()
	reg.Register("a", recorder(&ran, "a"))
	hooks := hook.New()
	cfg := &PipelineConfig{Name: "p", Steps: []StepRef{{Name: "a", Before: boolPtr(false), Protected: true}}}
	p, err := BuildPipeline(reg, hooks, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	p.Before("a", recorder(&ran, "before"))
	p.After("a", recorder(&ran, "after"))
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "after"}, ran); diff != "" {
		t.Errorf("ran (-want +got):\n%s", diff)
	}
	if err := p.Unregister("a"); err == nil {
		t.Error("protected step should not be removable")
	}
}

func TestBuildPipeline_UnknownAction(t *testing.T) {
	reg := NewRegistry()
	cfg := &PipelineConfig{Name: "p", Steps: []StepRef{{Name: "x", Action: "missing"}}}
	if _, err := BuildPipeline(reg, hook.New(), cfg, nil); err == nil {
		t.Fatal("expected error for unregistered action")
	}
	if _, err := BuildPipeline(reg, hook.New(), nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestBuildPipeline_UnknownRetry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("x", pipeline.Noop())
	cfg := &PipelineConfig{Name: "p", Steps: []StepRef{{Name: "x", Retry: "forever"}}}
	if _, err := BuildPipeline(reg, hook.New(), cfg, nil); err == nil {
		t.Fatal("expected error for unsupported retry")
	}
}

func TestBuildPipeline_Retry_EndToEnd(t *testing.T) {
	calls := 0
	reg := NewRegistry()
	reg.Register("flaky", func(ctx context.Context, args ...interface{}) error {
		calls++
		if calls < 3 {
			return pipeline.RetryableErr(errors.New("transient"))
		}
		return nil
	})
	cfg := &PipelineConfig{Name: "p", Steps: []StepRef{{
		Name:        "flaky",
		Retry:       "exponential",
		Initial:     Duration(time.Millisecond),
		MaxAttempts: 5,
	}}}
	p, err := BuildPipeline(reg, hook.New(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Run(context.Background())
	if err != nil || !res.OK() {
		t.Fatal(err, res.Err())
	}
	if calls != 3 {
		t.Errorf("calls = %d", calls)
	}
}

func TestBuildPipeline_Timeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register("slow", func(ctx context.Context, args ...interface{}) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cfg := &PipelineConfig{Name: "p", Steps: []StepRef{{Name: "slow", Timeout: Duration(10 * time.Millisecond)}}}
	p, err := BuildPipeline(reg, hook.New(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, _ := p.Run(context.Background())
	if len(res.Errors) != 1 || !errors.Is(res.Errors[0].Err, context.DeadlineExceeded) {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestBuildPipeline_Observers(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", pipeline.Noop())
	var seen []string
	obsReg := NewObserverRegistry()
	obsReg.Register("log", pipeline.ObserverFuncs{OnBeforeStep: func(ctx context.Context, run pipeline.RunInfo) error {
		seen = append(seen, run.Step)
		return nil
	}})
	cfg := &PipelineConfig{Name: "p", Observers: []string{"log"}, Steps: []StepRef{{Name: "a"}}}

	if _, err := BuildPipeline(reg, hook.New(), cfg, nil); err == nil {
		t.Error("observers without a registry should fail")
	}
	if _, err := BuildPipeline(reg, hook.New(), &PipelineConfig{Name: "p", Observers: []string{"nope"}}, &BuildOptions{ObserverRegistry: obsReg}); err == nil {
		t.Error("unknown observer should fail")
	}

	p, err := BuildPipeline(reg, hook.New(), cfg, &BuildOptions{ObserverRegistry: obsReg})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a"}, seen); diff != "" {
		t.Errorf("observer (-want +got):\n%s", diff)
	}
}

func TestBuildAllPipelinesAndSequences(t *testing.T) {
	var ran []string
	reg := NewRegistry()
	reg.Register("a", recorder(&ran, "a"))
	reg.Register("b", recorder(&ran, "b"))
	multi, err := ParseMultiPipelineConfig([]byte(`
pipelines:
  first:
    steps: [a]
  second:
    name: second
    steps: [b]
sequences:
  both:
    pipelines: [first, second]
  broken:
    pipelines: [first, ghost]
`))
	if err != nil {
		t.Fatal(err)
	}
	hooks := hook.New()
	built, err := BuildAllPipelines(reg, hooks, multi, nil)
	if err != nil {
		t.Fatal(err)
	}
	if built["first"].Name() != "first" {
		t.Errorf("map key should name the pipeline, got %q", built["first"].Name())
	}

	if _, err := BuildAllSequences(multi, built); err == nil {
		t.Fatal("sequence with unknown pipeline should fail")
	}
	delete(multi.Sequences, "broken")
	seqs, err := BuildAllSequences(multi, built)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := seqs["both"].Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ran); diff != "" {
		t.Errorf("ran (-want +got):\n%s", diff)
	}
}

func TestApply_RespectsProtection(t *testing.T) {
	reg := NewRegistry()
	reg.Register("x", pipeline.Noop())
	p := pipeline.New("p", nil, pipeline.WithSentinels())
	err := Apply(reg, p, &PipelineConfig{Steps: []StepRef{{Name: pipeline.BeginStep, Action: "x"}}})
	if err == nil {
		t.Fatal("config must not replace a protected sentinel")
	}
}

func TestLoadFile_ByExtension(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "pipes.yaml")
	hclPath := filepath.Join(dir, "pipes.hcl")
	if err := os.WriteFile(yamlPath, []byte("name: y\nsteps: [a]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(hclPath, []byte("pipeline \"h\" {\n  step \"a\" {}\n}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	y, err := LoadFile(yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := y.Pipelines["y"]; !ok {
		t.Errorf("yaml: %+v", y)
	}
	h, err := LoadFile(hclPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := h.Pipelines["h"]; !ok {
		t.Errorf("hcl: %+v", h)
	}
	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

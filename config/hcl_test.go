package config

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dcshock/hookpipe/priority"
)

func TestParseHCL(t *testing.T) {
	src := `
pipeline "sync" {
  sentinels = true
  observers = ["db", "status"]

  step "fetch" {
    action  = "http.get"
    order   = priority.high
    timeout = "30s"
  }

  step "store" {
    order        = 10
    after        = false
    protected    = true
    retry        = "exponential"
    initial      = "2s"
    cap          = "1m"
    multiplier   = 1.5
    max_attempts = 4
  }
}

pipeline "notify" {
  step "send" {}
}

sequence "nightly" {
  pipelines = ["sync", "notify"]
}
`
	got, err := ParseHCL([]byte(src), "test.hcl")
	if err != nil {
		t.Fatal(err)
	}
	want := &MultiPipelineConfig{
		Pipelines: map[string]PipelineConfig{
			"sync": {
				Name:      "sync",
				Sentinels: true,
				Observers: []string{"db", "status"},
				Steps: []StepRef{
					{
						Name:    "fetch",
						Action:  "http.get",
						Order:   PriorityOf(priority.High),
						Timeout: Duration(30 * time.Second),
					},
					{
						Name:        "store",
						Order:       PriorityOf(10),
						After:       boolPtr(false),
						Protected:   true,
						Retry:       "exponential",
						Initial:     Duration(2 * time.Second),
						Cap:         Duration(time.Minute),
						Multiplier:  1.5,
						MaxAttempts: 4,
					},
				},
			},
			"notify": {
				Name:  "notify",
				Steps: []StepRef{{Name: "send"}},
			},
		},
		Sequences: map[string]SequenceConfig{
			"nightly": {Name: "nightly", Pipelines: []string{"sync", "notify"}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseHCL (-want +got):\n%s", diff)
	}
}

func TestParseHCL_Errors(t *testing.T) {
	cases := map[string]string{
		"syntax":        `pipeline "x" {`,
		"unknown attr":  `pipeline "x" { colour = "red" }`,
		"bad duration":  `pipeline "x" { step "s" { timeout = "soon" } }`,
		"duplicate":     "pipeline \"x\" {}\npipeline \"x\" {}",
		"unknown tier":  `pipeline "x" { step "s" { order = priority.urgent } }`,
		"missing label": `pipeline { }`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseHCL([]byte(src), "bad.hcl")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "bad.hcl") {
				t.Errorf("error should name the file: %v", err)
			}
		})
	}
}

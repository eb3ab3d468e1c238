package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/dcshock/hookpipe/priority"
)

// hclFile represents the top-level structure of an HCL pipeline file for decoding.
type hclFile struct {
	Pipelines []*hclPipeline `hcl:"pipeline,block"`
	Sequences []*hclSequence `hcl:"sequence,block"`
}

type hclPipeline struct {
	Name      string     `hcl:"name,label"`
	Sentinels *bool      `hcl:"sentinels,optional"`
	Observers []string   `hcl:"observers,optional"`
	Steps     []*hclStep `hcl:"step,block"`
}

type hclStep struct {
	Name        string   `hcl:"name,label"`
	Action      *string  `hcl:"action,optional"`
	Order       *int     `hcl:"order,optional"`
	Before      *bool    `hcl:"before,optional"`
	After       *bool    `hcl:"after,optional"`
	Protected   *bool    `hcl:"protected,optional"`
	Timeout     *string  `hcl:"timeout,optional"`
	Retry       *string  `hcl:"retry,optional"`
	Initial     *string  `hcl:"initial,optional"`
	Multiplier  *float64 `hcl:"multiplier,optional"`
	Cap         *string  `hcl:"cap,optional"`
	MaxAttempts *int     `hcl:"max_attempts,optional"`
}

type hclSequence struct {
	Name      string   `hcl:"name,label"`
	Pipelines []string `hcl:"pipelines"`
}

// evalContext exposes the priority tiers as priority.highest ... priority.lowest.
func evalContext() *hcl.EvalContext {
	tiers := make(map[string]cty.Value)
	for name, v := range priority.Tiers() {
		tiers[name] = cty.NumberIntVal(int64(v))
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"priority": cty.ObjectVal(tiers)},
	}
}

// ParseHCL parses HCL pipeline definitions:
//
//	pipeline "sync" {
//	  sentinels = true
//	  step "fetch" {
//	    action  = "http.get"
//	    order   = priority.high
//	    timeout = "30s"
//	  }
//	  step "store" {
//	    order = 10
//	    retry = "exponential"
//	  }
//	}
//
//	sequence "nightly" {
//	  pipelines = ["sync"]
//	}
//
// filename is used in diagnostics only.
func ParseHCL(data []byte, filename string) (*MultiPipelineConfig, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var parsed hclFile
	diags = gohcl.DecodeBody(file.Body, evalContext(), &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	out := &MultiPipelineConfig{
		Pipelines: make(map[string]PipelineConfig, len(parsed.Pipelines)),
		Sequences: make(map[string]SequenceConfig, len(parsed.Sequences)),
	}
	for _, hp := range parsed.Pipelines {
		if _, dup := out.Pipelines[hp.Name]; dup {
			return nil, fmt.Errorf("%s: pipeline %q defined twice", filename, hp.Name)
		}
		cfg := PipelineConfig{Name: hp.Name, Observers: hp.Observers}
		if hp.Sentinels != nil {
			cfg.Sentinels = *hp.Sentinels
		}
		for _, hs := range hp.Steps {
			ref, err := hs.stepRef()
			if err != nil {
				return nil, fmt.Errorf("%s: pipeline %q step %q: %w", filename, hp.Name, hs.Name, err)
			}
			cfg.Steps = append(cfg.Steps, ref)
		}
		out.Pipelines[hp.Name] = cfg
	}
	for _, hs := range parsed.Sequences {
		out.Sequences[hs.Name] = SequenceConfig{Name: hs.Name, Pipelines: hs.Pipelines}
	}
	return out, nil
}

func (s *hclStep) stepRef() (StepRef, error) {
	ref := StepRef{Name: s.Name, Before: s.Before, After: s.After}
	if s.Action != nil {
		ref.Action = *s.Action
	}
	if s.Order != nil {
		ref.Order = PriorityOf(*s.Order)
	}
	if s.Protected != nil {
		ref.Protected = *s.Protected
	}
	if s.Retry != nil {
		ref.Retry = *s.Retry
	}
	if s.Multiplier != nil {
		ref.Multiplier = *s.Multiplier
	}
	if s.MaxAttempts != nil {
		ref.MaxAttempts = *s.MaxAttempts
	}
	for _, d := range []struct {
		src *string
		dst *Duration
	}{
		{s.Timeout, &ref.Timeout},
		{s.Initial, &ref.Initial},
		{s.Cap, &ref.Cap},
	} {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return StepRef{}, fmt.Errorf("duration %q: %w", *d.src, err)
		}
		*d.dst = Duration(parsed)
	}
	return ref, nil
}

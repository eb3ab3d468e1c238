// Package config provides an action registry and human-readable pipeline configuration.
//
// Register actions by name, then define pipelines in YAML (or HCL, or structs) that
// reference those names and optional modifiers (order, hooks, retry, timeout):
//
//	pipelines:
//	  sync:
//	    sentinels: true
//	    steps:
//	      - fetch
//	      - name: parse
//	        action: json.decode
//	        order: high
//	        retry: exponential
//	        timeout: 60s
//	        initial: 5s
//	        max_attempts: 5
//	      - name: store
//	        after: false
//	        protected: true
//
// Build pipelines with BuildPipeline(registry, hooks, config, opts), or register
// the steps on an existing pipeline with Apply. Retries run in place with
// exponential backoff and only for errors marked with pipeline.RetryableErr.
//
// LoadFile picks the format by extension (.hcl or YAML). NewWatcher signals when
// definition files change so callers can rebuild.
package config

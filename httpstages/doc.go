// Package httpstages provides pipeline actions for HTTP requests and
// response handling.
//
// The actions share a *Payload passed as a run argument: Get or Fetch
// perform a GET and fill in the status and body, ParseJSON decodes the body
// into Value, and Expect checks Value and fails the step if it is not as
// expected.
//
// Example pipeline: fetch → decode → check
//
//	p := pipeline.New("check-api", nil)
//	p.Register("fetch", httpstages.Get(nil, "https://api.example.com/status"))
//	p.Register("decode", httpstages.ParseJSON(), pipeline.StepOrder(10))
//	p.Register("check", httpstages.Expect(func(v interface{}) error {
//	    m, _ := v.(map[string]interface{})
//	    if m["status"] != "ok" { return fmt.Errorf("unexpected status") }
//	    return nil
//	}), pipeline.StepOrder(20))
//	res, err := p.Run(ctx, &httpstages.Payload{})
//
// Transport errors and 5xx responses are marked with pipeline.RetryableErr,
// so a step wrapped in pipeline.Retry (or configured with retry) retries
// them.
package httpstages

package pipeline_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/dcshock/hookpipe/hook"
	"github.com/dcshock/hookpipe/pipeline"
)

type syncJob struct {
	log []string
}

func step(name string) hook.Callback {
	return func(ctx context.Context, args ...interface{}) error {
		job := args[0].(*syncJob)
		job.log = append(job.log, name)
		return nil
	}
}

func Example() {
	hooks := hook.New()
	sync := pipeline.New("sync", hooks, pipeline.WithSentinels())
	_ = sync.Register("fetch", step("fetch"), pipeline.StepOrder(10))
	_ = sync.Register("transform", func(ctx context.Context, args ...interface{}) error {
		return errors.New("bad record")
	}, pipeline.StepOrder(20))
	_ = sync.Register("store", step("store"), pipeline.StepOrder(30))

	// Another module extends the fetch step without touching its action.
	sync.After("fetch", step("dedupe"))

	job := &syncJob{}
	res, err := sync.Run(context.Background(), job)
	if err != nil {
		fmt.Println("run failed:", err)
		return
	}
	fmt.Println(job.log)
	fmt.Println(res.Steps)
	for _, e := range res.Errors {
		fmt.Println(e.Step, "failed")
	}
	fmt.Println("current:", sync.CurrentStep())
	// Output:
	// [fetch dedupe store]
	// [begin fetch transform store end]
	// transform failed
	// current: end
}

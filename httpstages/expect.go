package httpstages

import (
	"context"
	"fmt"
	"net/http"
	"reflect"

	"github.com/dcshock/hookpipe/config"
	"github.com/dcshock/hookpipe/hook"
)

// Expect returns an action that runs the predicate on payload.Value. If the
// predicate returns an error, the step fails with it.
func Expect(predicate func(interface{}) error) hook.Callback {
	if predicate == nil {
		panic("httpstages.Expect: predicate must not be nil")
	}
	return func(ctx context.Context, args ...interface{}) error {
		p, err := payloadOf(args)
		if err != nil {
			return err
		}
		if err := predicate(p.Value); err != nil {
			return fmt.Errorf("expect: %w", err)
		}
		return nil
	}
}

// ExpectEqual returns an action that checks payload.Value equals expected
// using reflect.DeepEqual. Works for primitives, slices and maps (e.g.
// parsed JSON).
func ExpectEqual(expected interface{}) hook.Callback {
	return Expect(func(v interface{}) error {
		if !reflect.DeepEqual(v, expected) {
			return fmt.Errorf("got %v, want %v", v, expected)
		}
		return nil
	})
}

// Register adds the payload actions to reg as "http.fetch" and
// "json.decode" so pipeline definitions can name them.
func Register(reg *config.Registry, client *http.Client) {
	reg.Register("http.fetch", Fetch(client))
	reg.Register("json.decode", ParseJSON())
}

package httpstages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dcshock/hookpipe/hook"
)

// ParseJSON returns an action that unmarshals payload.Body into
// payload.Value (e.g. map[string]interface{} for objects).
func ParseJSON() hook.Callback {
	return func(ctx context.Context, args ...interface{}) error {
		p, err := payloadOf(args)
		if err != nil {
			return err
		}
		var out interface{}
		if err := json.Unmarshal(p.Body, &out); err != nil {
			return fmt.Errorf("parsejson: %w", err)
		}
		p.Value = out
		return nil
	}
}

// ParseJSONTo returns an action that unmarshals payload.Body into a new T
// and stores the *T in payload.Value.
func ParseJSONTo[T any]() hook.Callback {
	return func(ctx context.Context, args ...interface{}) error {
		p, err := payloadOf(args)
		if err != nil {
			return err
		}
		out := new(T)
		if err := json.Unmarshal(p.Body, out); err != nil {
			return fmt.Errorf("parsejsonto: %w", err)
		}
		p.Value = out
		return nil
	}
}

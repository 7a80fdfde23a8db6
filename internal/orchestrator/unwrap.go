package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"taskhub/internal/tasks"
)

// Unwrap decodes the business payload of a successful status. A success
// without a payload yields ErrMissingResult instead of a zero value.
func Unwrap[T any](st *StatusResponse) (T, error) {
	var zero T
	if st == nil {
		return zero, ErrMissingResult
	}
	if st.Status != tasks.StatusSuccess {
		return zero, fmt.Errorf("cannot unwrap result of a %s task", st.Status)
	}
	raw := bytes.TrimSpace(st.Result)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return zero, ErrMissingResult
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("decode task result: %w", err)
	}
	return out, nil
}

// AwaitResult runs an orchestration and decodes its payload into T.
func AwaitResult[T any](ctx context.Context, o *Orchestrator, submit SubmitFunc, meta tasks.Meta, opts ...PollOption) (T, error) {
	st, err := o.Await(ctx, submit, meta, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return Unwrap[T](st)
}

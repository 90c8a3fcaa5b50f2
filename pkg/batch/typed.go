package batch

import (
	"context"
	"encoding/json"
)

// Fetch dispatches req and decodes the payload into T.
func Fetch[T any](ctx context.Context, d *Dispatcher, req Request) (T, error) {
	var out T
	data, err := d.Dispatch(ctx, req)
	if err != nil {
		return out, err
	}
	return decodeInto[T](data)
}

// FetchWithRetry is DispatchWithRetry with the payload decoded into T.
func FetchWithRetry[T any](ctx context.Context, d *Dispatcher, req Request, maxAttempts int) (T, error) {
	var out T
	data, err := d.DispatchWithRetry(ctx, req, maxAttempts)
	if err != nil {
		return out, err
	}
	return decodeInto[T](data)
}

// DecodeResponse decodes a successful batch Response into T.
func DecodeResponse[T any](resp Response) (T, error) {
	var out T
	err := resp.Decode(&out)
	return out, err
}

func decodeInto[T any](data json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return out, &Error{
			StatusCode: StatusFailed,
			ErrorClass: ErrorClassDecode,
			Message:    "decode payload: " + err.Error(),
			Err:        err,
		}
	}
	return out, nil
}

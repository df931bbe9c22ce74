package cmdserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lydakis/hgx/options"
)

// JSONTemplate is the template option value that makes hg emit JSON.
const JSONTemplate = "json"

// RunJSON runs command with the json template (-T json) and decodes the
// concatenated output into T.
func RunJSON[T any](ctx context.Context, c *Client, command string, args []string, opts options.Set) (T, error) {
	chunks, err := c.Run(ctx, command, args, opts.String("T", JSONTemplate))
	if err != nil {
		var zero T
		return zero, err
	}
	return DecodeJSON[T](command, chunks)
}

// RunRawJSON is RunJSON for callers that do not know the output's shape.
func RunRawJSON(ctx context.Context, c *Client, command string, args []string, opts options.Set) (json.RawMessage, error) {
	return RunJSON[json.RawMessage](ctx, c, command, args, opts)
}

// DecodeJSON decodes the output chunks of a command run with the json
// template.
func DecodeJSON[T any](command string, chunks [][]byte) (T, error) {
	var out T
	if err := json.Unmarshal([]byte(Join(chunks)), &out); err != nil {
		return out, fmt.Errorf("%w: %s: %w", ErrDecode, command, err)
	}
	return out, nil
}

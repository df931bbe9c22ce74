// Package cmdserver drives Mercurial through its command server.
//
// A Client owns one `hg serve --cmdserver pipe` process and runs commands
// over its stdin/stdout pipes:
//
//	c := cmdserver.New("/src/repo")
//	defer c.Stop()
//
//	out, err := c.RunString(ctx, "log", nil, options.New().String("l", "1"))
//
// The process is started by the first Run and reused until Stop. When the
// server asks for input, the registered line or byte provider answers.
// Registry keeps one Client per repository for long-running programs.
package cmdserver

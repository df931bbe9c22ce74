package mcpserve

import (
	"errors"
	"fmt"

	"github.com/lydakis/hgx/cmdserver"
	"github.com/lydakis/hgx/internal/config"
	"github.com/mark3labs/mcp-go/mcp"
)

// errorClass groups failures by who can fix them.
type errorClass int

const (
	classUsage errorClass = iota
	classCommand
	classInternal
)

func classifyError(err error) errorClass {
	if errors.Is(err, errBadArgument) || errors.Is(err, config.ErrUnknownRepo) {
		return classUsage
	}
	switch cmdserver.Classify(err) {
	case cmdserver.KindInvalidOption:
		return classUsage
	case cmdserver.KindCommand, cmdserver.KindInputUnavailable, cmdserver.KindDecode:
		return classCommand
	default:
		return classInternal
	}
}

func (s *Server) toolError(err error) *mcp.CallToolResult {
	var msg string
	switch classifyError(err) {
	case classUsage:
		msg = fmt.Sprintf("invalid request: %v", err)
	case classCommand:
		var cmdErr *cmdserver.CommandError
		if errors.As(err, &cmdErr) {
			msg = cmdErr.Message()
		} else {
			msg = err.Error()
		}
	default:
		s.logger.Error("command server failure", "error", err, "kind", cmdserver.Classify(err).String())
		msg = fmt.Sprintf("internal error: %v", err)
	}
	return mcp.NewToolResultError(msg)
}

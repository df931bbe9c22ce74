package cli

import (
	"errors"

	"github.com/lydakis/hgx/cmdserver"
	"github.com/lydakis/hgx/internal/config"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitCommandErr = 1
	ExitUsageErr   = 2
	ExitInternal   = 3
)

func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, config.ErrUnknownRepo) {
		return ExitUsageErr
	}

	switch cmdserver.Classify(err) {
	case cmdserver.KindNone:
		return ExitOK
	case cmdserver.KindInvalidOption:
		return ExitUsageErr
	case cmdserver.KindCommand, cmdserver.KindInputUnavailable, cmdserver.KindDecode:
		return ExitCommandErr
	default:
		return ExitInternal
	}
}

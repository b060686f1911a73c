package cmd

import (
	"fmt"
	"os"

	"frontpipe/pkg/errors"
	"frontpipe/pkg/logger"
)

// CLIErrorHandler turns pipeline errors into user-facing messages and exit
// codes.
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: verbose,
	}
}

// HandleError prints a friendly rendering of the error and returns the
// process exit code.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Error("Command failed")

	if pipelineErr, ok := errors.AsPipelineError(err); ok {
		return h.handlePipelineError(pipelineErr)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func (h *CLIErrorHandler) handlePipelineError(err *errors.PipelineError) int {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		fmt.Fprintf(os.Stderr, "\nContext:\n")
		for key, value := range err.Context {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", key, value)
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", err.Suggestion)
	}

	if help := h.categoryHelp(err.Category); help != "" {
		fmt.Fprintf(os.Stderr, "\n%s\n", help)
	}

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(os.Stderr, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) categoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryConfiguration:
		return "Check the config file: feed patterns must compile and the target date rule must be supported."
	case errors.CategoryState:
		return "Check the state backend: the state directory must be writable, or the Postgres DSN reachable."
	case errors.CategoryCollaborator:
		return "Check the mail source: the inbox path or IMAP connection settings."
	case errors.CategoryRelocation:
		return "Check the base directory: the drop directory must be creatable and writable."
	default:
		return ""
	}
}

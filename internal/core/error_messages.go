package core

// # Error Codes Reference
//
// This file defines user-facing error messages with codes for support
// reference. Codes are grouped by category:
//
// # Reference Data (REF001-REF099)
//
//	REF001 - No reference data: none of the foundational files could be read
//	         Action: Check that the source directory contains the export files
//	         Matches: ErrNoReferenceData
//
// # Runs (RUN001-RUN099)
//
//	RUN001 - Run not found: the run ID is unknown or has expired
//	         Matches: ErrRunNotFound
//	RUN002 - System busy: too many runs in progress
//	         Matches: ErrTooManyRuns
//	RUN003 - Run cancelled
//	         Matches: context.Canceled, "context canceled"
//	RUN004 - Run timed out
//	         Matches: context.DeadlineExceeded, "deadline exceeded"
//	RUN005 - Run not finished: the document is not available yet
//	         Matches: ErrRunNotFinished
//
// # Files (FILE001-FILE099)
//
//	FILE001 - Source not found: "no such file or directory"
//	FILE002 - Invalid CSV: "parse error", "bare quote", "extraneous"
//
// # Storage (DB001-DB099)
//
//	DB001 - Database unreachable: "connection refused", "no such host"
//	DB002 - Persistence failed: "persist"
//
// # Configuration (CFG001-CFG099)
//
//	CFG001 - Invalid configuration: "pattern file", "invalid configuration"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Support staff should check the logs for the
// technical error, which is always logged alongside the request ID.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// errorSentinel maps a sentinel error, checked with errors.Is, to a message.
type errorSentinel struct {
	err error
	msg UserMessage
}

var errorSentinels = []errorSentinel{
	{ErrNoReferenceData, UserMessage{
		Message: "No reference data could be loaded",
		Action:  "Check that the source directory contains the export files",
		Code:    "REF001",
	}},
	{ErrRunNotFound, UserMessage{
		Message: "Run not found",
		Action:  "The run may have expired. Start a new run",
		Code:    "RUN001",
	}},
	{ErrTooManyRuns, UserMessage{
		Message: "Too many runs in progress",
		Action:  "Please wait a moment and try again",
		Code:    "RUN002",
	}},
	{context.Canceled, UserMessage{
		Message: "Run was cancelled",
		Action:  "Start a new run when ready",
		Code:    "RUN003",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Run timed out",
		Action:  "Increase the run timeout or convert a smaller export",
		Code:    "RUN004",
	}},
	{ErrRunNotFinished, UserMessage{
		Message: "Run has not finished",
		Action:  "Poll the run status until it completes",
		Code:    "RUN005",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to messages for
// errors that crossed a boundary and lost their identity. The first match
// wins, so specific patterns come first.
var errorPatterns = []errorPattern{
	{
		pattern: "no reference data",
		msg:     errorSentinels[0].msg,
	},
	{
		pattern: "context canceled",
		msg:     errorSentinels[3].msg,
	},
	{
		pattern: "deadline exceeded",
		msg:     errorSentinels[4].msg,
	},
	{
		pattern: "no such file or directory",
		msg: UserMessage{
			Message: "Source file or directory not found",
			Action:  "Check the source directory path",
			Code:    "FILE001",
		},
	},
	{
		pattern: "parse error",
		msg: UserMessage{
			Message: "A source file is not valid CSV",
			Action:  "Ensure files are comma-separated with a header row",
			Code:    "FILE002",
		},
	},
	{
		pattern: "bare \" in non-quoted-field",
		msg: UserMessage{
			Message: "A source file is not valid CSV",
			Action:  "Ensure files are comma-separated with a header row",
			Code:    "FILE002",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Check that the database is running",
			Code:    "DB001",
		},
	},
	{
		pattern: "no such host",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Check the database host in DATABASE_URL",
			Code:    "DB001",
		},
	},
	{
		pattern: "persist",
		msg: UserMessage{
			Message: "Converted rows could not be stored",
			Action:  "Check the database connection and try again",
			Code:    "DB002",
		},
	},
	{
		pattern: "pattern file",
		msg: UserMessage{
			Message: "The framework pattern file is invalid",
			Action:  "Fix the YAML file or remove it to use the built-in table",
			Code:    "CFG001",
		},
	},
	{
		pattern: "invalid configuration",
		msg: UserMessage{
			Message: "The configuration is invalid",
			Action:  "Review the environment settings",
			Code:    "CFG001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Sentinel
// errors are matched with errors.Is first, then the error text is matched
// against known patterns. If nothing matches, ERR000 is returned.
//
// Example:
//
//	msg := MapError(fmt.Errorf("start run: %w", ErrTooManyRuns))
//	// msg.Code == "RUN002"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range errorSentinels {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

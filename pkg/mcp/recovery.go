package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// RecoveryAction determines how to handle an MCP operation failure.
type RecoveryAction int

const (
	// NoRetry: bad request, auth failure, timeout or unknown error.
	NoRetry RecoveryAction = iota
	// RetrySameSession: transient error on a healthy session.
	RetrySameSession
	// RetryNewSession: the transport broke; reconnect and retry.
	RetryNewSession
)

func (a RecoveryAction) String() string {
	switch a {
	case RetrySameSession:
		return "retry_same_session"
	case RetryNewSession:
		return "retry_new_session"
	default:
		return "no_retry"
	}
}

const (
	// MCPInitTimeout bounds transport setup plus the initialize handshake.
	MCPInitTimeout = 30 * time.Second

	// ReinitTimeout bounds session recreation during recovery.
	ReinitTimeout = 10 * time.Second

	// OperationTimeout is the per-call deadline for CallTool and ListTools.
	// The agent timeout is the hard ceiling above this.
	OperationTimeout = 60 * time.Second

	RetryBackoffMin = 250 * time.Millisecond
	RetryBackoffMax = 750 * time.Millisecond
)

var (
	connectionErrorMarkers = []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	}
	transientErrorMarkers = []string{
		"too many requests",
		"rate limit",
		"503",
	}
)

// ClassifyError determines the recovery action for an MCP operation error.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry
		}
		return RetryNewSession
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return RetryNewSession
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, connectionErrorMarkers) {
		return RetryNewSession
	}
	if containsAny(msg, transientErrorMarkers) {
		return RetrySameSession
	}
	return NoRetry
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

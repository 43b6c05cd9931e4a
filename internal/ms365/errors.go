package ms365

import (
	"errors"
	"strings"
)

var (
	// ErrAuthenticationFailed indicates credentials were rejected or a token could not be obtained
	ErrAuthenticationFailed = errors.New("microsoft 365 authentication failed")
	// ErrPermissionDenied indicates the app registration lacks a required API permission
	ErrPermissionDenied = errors.New("microsoft 365 permission denied")
	// ErrUnsupportedOperation indicates the operation is not available for the tenant's access method
	ErrUnsupportedOperation = errors.New("operation not supported by this access method")
	// ErrTracesUnavailable indicates the Graph message trace endpoint is not enabled for the tenant
	ErrTracesUnavailable = errors.New("graph message trace endpoint not available")
	// ErrTransientNetwork indicates a network-level failure that may succeed on retry
	ErrTransientNetwork = errors.New("transient network error")
	// ErrUnexpectedResponse indicates the API returned something other than the expected payload
	ErrUnexpectedResponse = errors.New("unexpected api response")
	// ErrInvalidCertificate indicates the certificate file could not be loaded or parsed
	ErrInvalidCertificate = errors.New("invalid certificate")
)

// permissionHints are substrings that identify a missing-permission failure
// in Graph error bodies. Matching is done case-sensitively because Graph
// returns these strings verbatim.
var permissionHints = []string{
	"Domain.Read.All",
	"Insufficient permissions",
	"Authorization_RequestDenied",
}

// IsPermissionError reports whether err indicates a missing Graph API
// permission, either by sentinel or by a recognizable hint in the message.
func IsPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermissionDenied) {
		return true
	}
	msg := err.Error()
	for _, hint := range permissionHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

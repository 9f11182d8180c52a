// Package ssh builds plans on a remote host. A Client holds the SSH
// connection and its SFTP session; a Runner adapts it to invoker.Runner so
// the same build steps run remotely, and the Client itself serves as the
// probe.Shell for checking requirements on that host.
package ssh

import "time"

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	Host        string
	Port        int
	User        string
	ConnectedAt time.Time

	// Proxied is true when the connection goes through a jump host.
	Proxied bool
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the operation may succeed.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

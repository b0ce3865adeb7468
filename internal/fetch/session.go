package fetch

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"time"
)

// SessionConfig configures the transport session a unit runs on. A config
// must not be modified once a unit uses it; transports may cache clients
// per config.
type SessionConfig struct {
	Timeout               time.Duration
	ResponseHeaderTimeout time.Duration
	TLSHandshakeTimeout   time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConnsPerHost   int

	// MaxResponseBytes bounds the body the transport will deliver. Zero
	// means unbounded.
	MaxResponseBytes int64

	// UserAgent is set on requests that do not carry one.
	UserAgent string

	TLSMinVersion uint16

	// RootCAs is used by default server-trust handling. Nil means the
	// system pool.
	RootCAs *x509.CertPool

	// ClientCertificates are offered on client-certificate challenges
	// handled by default.
	ClientCertificates []tls.Certificate

	// TrustPolicy decides server-trust challenges. Nil leaves them to
	// default handling (standard chain and hostname verification).
	TrustPolicy TrustPolicy
}

// DefaultSessionConfig returns a fresh copy of the standard configuration.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		Timeout:               60 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   8,
		UserAgent:             "netfetch/1.0",
		TLSMinVersion:         tls.VersionTLS12,
	}
}

// defaultSession is shared by units created without WithSessionConfig, so
// they share one transport session.
var defaultSession = DefaultSessionConfig()

// ChallengeKind tells what a Challenge asks for.
type ChallengeKind int

const (
	// ChallengeServerTrust asks whether the presented server identity is
	// acceptable.
	ChallengeServerTrust ChallengeKind = iota
	// ChallengeClientCertificate asks for a client certificate.
	ChallengeClientCertificate
)

func (k ChallengeKind) String() string {
	switch k {
	case ChallengeServerTrust:
		return "server-trust"
	case ChallengeClientCertificate:
		return "client-certificate"
	default:
		return "unknown"
	}
}

// ServerTrust is the identity material a server presented.
type ServerTrust struct {
	ServerName                  string
	PeerCertificates            []*x509.Certificate
	OCSPResponse                []byte
	SignedCertificateTimestamps [][]byte
	Version                     uint16
	CipherSuite                 uint16
}

// Challenge is a credential or identity request raised by the transport.
type Challenge struct {
	Kind ChallengeKind
	Host string

	// Trust is set for server-trust challenges.
	Trust *ServerTrust

	// CertificateRequest is set for client-certificate challenges.
	CertificateRequest *tls.CertificateRequestInfo
}

// ChallengeDisposition is the answer to a Challenge.
type ChallengeDisposition int

const (
	UseCredential ChallengeDisposition = iota
	PerformDefaultHandling
	RejectProtectionSpace
)

func (d ChallengeDisposition) String() string {
	switch d {
	case UseCredential:
		return "use-credential"
	case PerformDefaultHandling:
		return "default-handling"
	case RejectProtectionSpace:
		return "reject"
	default:
		return "unknown"
	}
}

// Credential accompanies UseCredential.
type Credential struct {
	Trust       *ServerTrust
	Certificate *tls.Certificate
}

// CredentialForTrust is the credential issued for an accepted server trust.
func CredentialForTrust(trust *ServerTrust) *Credential {
	return &Credential{Trust: trust}
}

// ResponseDisposition tells the transport whether to read the body.
type ResponseDisposition int

const (
	ResponseAllow ResponseDisposition = iota
	ResponseCancel
)

func (d ResponseDisposition) String() string {
	if d == ResponseAllow {
		return "allow"
	}
	return "cancel"
}

// TrustPolicy accepts (nil) or rejects a server identity for host.
type TrustPolicy interface {
	Evaluate(trust ServerTrust, host string) error
}

// EventSink receives a task's events, in this order:
//
//	challenge* -> response -> data* -> completion
//
// DidComplete is called exactly once and ends the sequence. Events for one
// task are never delivered concurrently.
type EventSink interface {
	DidReceiveChallenge(task TransportTask, ch Challenge, respond func(ChallengeDisposition, *Credential))
	DidReceiveResponse(task TransportTask, resp *http.Response, respond func(ResponseDisposition))
	DidReceiveData(task TransportTask, chunk []byte)
	DidComplete(task TransportTask, err error)
}

// TransportTask is one in-flight exchange. Resume and Cancel are
// idempotent; Resume after Cancel does nothing.
type TransportTask interface {
	Resume()
	Cancel()
}

// Transport creates tasks. A task must not deliver events before Resume,
// and Resume must return without waiting for any event to be handled.
type Transport interface {
	NewTask(req *http.Request, cfg *SessionConfig, sink EventSink) (TransportTask, error)
}

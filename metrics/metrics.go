// Package metrics records protocol events. Components accept a Recorder and
// default to NoopRecorder.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	AddCounter(name string, value float64, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Counter and latency names emitted by dns402.
const (
	ChallengeIssued = "challenge_issued"
	SessionHit      = "session_hit"
	VerifyOK        = "verify_ok"
	VerifyFailed    = "verify_failed"
	ProofReplayed   = "proof_replayed"
	PaymentSent     = "payment_sent"
	PaymentFailed   = "payment_failed"
	PolicyRejected  = "policy_rejected"
	HookFailed      = "hook_failed"
	SessionsSwept   = "sessions_swept" // counts sessions removed, not sweep runs

	LatencyVerify   = "verify"
	LatencySend     = "send"
	LatencyDiscover = "discover"
)

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}

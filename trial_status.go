package licensekit

// TrialStatus is the terminal outcome of GetTrialStatus. The client has no
// way to detect server-side trial exhaustion without asking the server;
// that check happens only when a new trial is actually requested.
type TrialStatus string

const (
	// TrialAvailable means no trial activation is stored locally for this
	// product and machine.
	TrialAvailable TrialStatus = "TrialAvailable"
	// TrialExpired means the most valuable local trial activation has
	// expired.
	TrialExpired TrialStatus = "TrialExpired"
	// TrialActive means a non-expired trial activation is stored locally.
	TrialActive TrialStatus = "TrialActive"
)

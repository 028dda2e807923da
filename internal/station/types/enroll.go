package types

// Stage names the step an enrollment session is in.
type Stage string

const (
	StageInactive Stage = "inactive"

	// rfid
	StageWaitingFirstTap  Stage = "waiting_first_tap"
	StageWaitingSecondTap Stage = "waiting_second_tap"
	StageReady            Stage = "ready"

	// fingerprint
	StageCapturing   Stage = "capturing"
	StageFirstPress  Stage = "first_press"
	StageFirstLift   Stage = "first_lift"
	StageSecondPress Stage = "second_press"

	StageSucceeded Stage = "succeeded"
	StageFailed    Stage = "failed"
	StageTimedOut  Stage = "timed_out"
)

// EnrollProfile is the operator-entered data an enrollment is started with.
// Slot is only used by fingerprint enrollment.
type EnrollProfile struct {
	Name string `json:"name"`
	Slot int    `json:"slot,omitempty"`
}

// EnrollmentStatus is what a UI needs to render enrollment progress.
type EnrollmentStatus struct {
	Kind              Kind        `json:"kind"`
	Stage             Stage       `json:"stage"`
	Message           string      `json:"message"`
	PendingCredential *Credential `json:"pending_credential,omitempty"`
}

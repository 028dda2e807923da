package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the credential technology.
type Kind string

const (
	KindRFID        Kind = "rfid"
	KindFingerprint Kind = "fingerprint"
)

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindRFID, KindFingerprint:
		return k, nil
	case "fp":
		return KindFingerprint, nil
	}
	return "", fmt.Errorf("unknown credential kind %q", s)
}

// Credential is a decoded identifier presented by a reader. It has not been
// judged for authorization yet.
type Credential struct {
	Kind       Kind   `json:"kind"`
	ExternalID string `json:"external_id"`
}

func RFIDCredential(card string) Credential {
	return Credential{Kind: KindRFID, ExternalID: card}
}

func FingerprintCredential(slot int) Credential {
	return Credential{Kind: KindFingerprint, ExternalID: strconv.Itoa(slot)}
}

func (c Credential) String() string { return string(c.Kind) + ":" + c.ExternalID }

// UserRecord is an entry in the user directory.
type UserRecord struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Kind       Kind      `json:"kind"`
	ExternalID string    `json:"external_id"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewUser is the registration payload for a freshly enrolled credential.
type NewUser struct {
	Name       string
	Kind       Kind
	ExternalID string
	Active     bool
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// AccessAttempt is written once per decoded credential outside enrollment.
type AccessAttempt struct {
	ID            string     `json:"id"`
	Credential    Credential `json:"credential"`
	MatchedUserID *int64     `json:"matched_user_id"`
	MatchedName   string     `json:"matched_name,omitempty"`
	Outcome       Outcome    `json:"outcome"`
	Reason        string     `json:"reason"`
	Timestamp     time.Time  `json:"timestamp"`
}

// AccessLogRecord is the audit-sink row for an AccessAttempt.
type AccessLogRecord struct {
	AttemptID string
	UserID    *int64
	Kind      Kind
	DataRaw   string
	Success   bool
	Reason    string
	InTime    time.Time
	OutTime   *time.Time
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes the notification flavors tracked per ownership row.
type Kind string

const (
	// KindInitial is the first notification sent after classification data lands.
	KindInitial Kind = "m"
	// KindChasing is the follow-up sent when no action was taken on the data.
	KindChasing Kind = "c"
)

func (k Kind) String() string { return string(k) }

func (k Kind) IsValid() bool {
	switch k {
	case KindInitial, KindChasing:
		return true
	}
	return false
}

func ParseKindFromString(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid notification kind %q", ErrValidation, s)
	}
	return k, nil
}

// UserNotification is one pending or finished notification for an ownership row.
// A notification is pending iff Finished is false. Only the reconciliation
// gateway flips Finished; rows are never deleted by the delivery engine.
type UserNotification struct {
	ID               int64
	PSID             string
	RawID            int64
	Kind             Kind
	Finished         bool
	IsError          bool
	NotificationDate *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FileOwner maps an owner identifier to the address notifications go to.
type FileOwner struct {
	PSID       string
	OwnerEmail string
	OwnerName  string
	CreatedAt  time.Time
}

// RawDocument is one row of a raw classification load. LoadDomain tags which
// dashboard the row belongs to (e.g. "OVR", "HR") and scopes every fetch and
// reconcile in the delivery engine.
type RawDocument struct {
	ID            int64
	PathID        int64
	FullPath      string
	DocumentName  string
	OwnerName     string
	OwnerLogin    string
	ModifierLogin string
	AccessorLogin string
	ClassifyTime  string
	Tags          string
	Ownership     string
	LoadDomain    string
	CreatedAt     time.Time
}

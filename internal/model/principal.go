package model

import "fmt"

// PrincipalKind selects which of the two otherwise-identical session
// populations an operation targets: channel owners paying out fees, or
// subscribers paying for access. Each kind persists into its own table.
type PrincipalKind string

const (
	PrincipalOwner      PrincipalKind = "owner"
	PrincipalSubscriber PrincipalKind = "subscriber"
)

func (k PrincipalKind) String() string {
	return string(k)
}

func (k PrincipalKind) Valid() bool {
	return k == PrincipalOwner || k == PrincipalSubscriber
}

func ParsePrincipalKind(s string) (PrincipalKind, error) {
	k := PrincipalKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown principal kind %q", s)
	}
	return k, nil
}

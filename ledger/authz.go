/*
authz.go - Authorization gate as a single policy table

PURPOSE:
  Answers "may this profile do this action on this transaction type".
  Evaluated once per call; the engine consumes only the boolean.

TABLE SHAPE:
  Rule{Profile, Action, Types}
  - Types empty  => any type code
  - No matching rule => deny

DEFAULT TABLE:
  Admin        create any, view any, open accounts
  Maintenance  view deposits only
  User         nothing on transactions

SEE ALSO:
  - engine.go: ActionCreate check in Apply
  - query.go:  ActionView / ActionOpenAccount checks
  - config/config.go: table overrides
*/
package ledger

import (
	"fmt"
	"strings"
)

// Profile is the role class of an authenticated actor.
type Profile string

const (
	ProfileAdmin       Profile = "Admin"
	ProfileUser        Profile = "User"
	ProfileMaintenance Profile = "Maintenance"
)

// ParseProfile accepts role names case-insensitively, including the Spanish
// "Mantenimiento" used by older tokens.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return ProfileAdmin, nil
	case "user":
		return ProfileUser, nil
	case "maintenance", "mantenimiento":
		return ProfileMaintenance, nil
	}
	return "", fmt.Errorf("unknown profile %q", s)
}

type Action string

const (
	ActionCreate      Action = "create"
	ActionView        Action = "view"
	ActionOpenAccount Action = "open_account"
)

// Gate decides authorization. PolicyTable is the only implementation in the
// repository; tests substitute their own.
type Gate interface {
	Allows(profile Profile, action Action, code TypeCode) bool

	// HasAction reports whether the profile holds the action for any type.
	HasAction(profile Profile, action Action) bool
}

// Rule grants one action to one profile, optionally limited to some type codes.
type Rule struct {
	Profile Profile
	Action  Action
	Types   []TypeCode
}

// PolicyTable is an allow-list of rules.
type PolicyTable struct {
	rules map[Profile]map[Action][]TypeCode
}

func NewPolicyTable(rules []Rule) *PolicyTable {
	t := &PolicyTable{rules: make(map[Profile]map[Action][]TypeCode)}
	for _, r := range rules {
		if t.rules[r.Profile] == nil {
			t.rules[r.Profile] = make(map[Action][]TypeCode)
		}
		existing, seen := t.rules[r.Profile][r.Action]
		switch {
		case seen && existing == nil:
			// already unrestricted
		case len(r.Types) == 0:
			t.rules[r.Profile][r.Action] = nil
		default:
			t.rules[r.Profile][r.Action] = append(existing, r.Types...)
		}
	}
	return t
}

// DefaultPolicyTable mirrors the observed role behaviour of the back office.
func DefaultPolicyTable() *PolicyTable {
	return NewPolicyTable([]Rule{
		{Profile: ProfileAdmin, Action: ActionCreate},
		{Profile: ProfileAdmin, Action: ActionView},
		{Profile: ProfileAdmin, Action: ActionOpenAccount},
		{Profile: ProfileMaintenance, Action: ActionView, Types: []TypeCode{TypeDeposit}},
	})
}

func (t *PolicyTable) Allows(profile Profile, action Action, code TypeCode) bool {
	types, ok := t.rules[profile][action]
	if !ok {
		return false
	}
	if types == nil {
		return true
	}
	for _, c := range types {
		if c == code {
			return true
		}
	}
	return false
}

func (t *PolicyTable) HasAction(profile Profile, action Action) bool {
	_, ok := t.rules[profile][action]
	return ok
}

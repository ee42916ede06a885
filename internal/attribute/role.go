package attribute

import "fmt"

// Role identifies which side of a conversation this session is viewing from.
// The platform has exactly two: the initiator opens conversations, the
// counterpart answers them. Both run the same engine.
type Role string

const (
	RoleInitiator   Role = "initiator"
	RoleCounterpart Role = "counterpart"
)

// ParseRole validates a role string from config.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleInitiator, RoleCounterpart:
		return Role(s), nil
	}
	return "", fmt.Errorf("invalid role %q: must be %q or %q", s, RoleInitiator, RoleCounterpart)
}

// Author is message authorship relative to the viewing session.
type Author int

const (
	AuthorSelf Author = iota
	AuthorPeer
)

func (a Author) String() string {
	if a == AuthorSelf {
		return "self"
	}
	return "peer"
}

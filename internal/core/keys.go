package core

import (
	"fmt"
	"strings"
)

// DefaultGroup is used when a key is created without a group.
const DefaultGroup = "DEFAULT"

// Key identifies a job or a trigger by group and name.
// Its storage form is "<group>:<name>".
type Key struct {
	Group string `json:"group"`
	Name  string `json:"name"`
}

// NewKey builds a key, substituting DefaultGroup for an empty group.
func NewKey(group, name string) Key {
	if group == "" {
		group = DefaultGroup
	}
	return Key{Group: group, Name: name}
}

// String returns the composite "<group>:<name>" form.
func (k Key) String() string {
	return k.Group + ":" + k.Name
}

// IsZero reports whether the key has neither group nor name.
func (k Key) IsZero() bool {
	return k.Group == "" && k.Name == ""
}

// Validate checks that the key can be stored and parsed back.
func (k Key) Validate() error {
	if k.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidKey)
	}
	if k.Group == "" {
		return fmt.Errorf("%w: group is required", ErrInvalidKey)
	}
	if strings.Contains(k.Group, ":") {
		return fmt.Errorf("%w: group %q must not contain ':'", ErrInvalidKey, k.Group)
	}
	return nil
}

// ParseKey parses the composite form. The group ends at the first ':'.
// A string without ':' is a name in DefaultGroup.
func ParseKey(s string) (Key, error) {
	group, name, ok := strings.Cut(s, ":")
	if !ok {
		group, name = DefaultGroup, s
	}
	k := Key{Group: group, Name: name}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

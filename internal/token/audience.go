// Package token holds the domain model of the token lifecycle: audience
// flags, per-token state machine, and usage kinds. It has no storage or
// transport dependencies.
package token

import (
	"fmt"
	"sort"
	"strings"
)

// Audience is a bit-flag set naming the backend surfaces a token may be used
// against. It is persisted as a bigint and appears as a list of names at the
// API boundary.
type Audience uint64

const (
	// AudienceBuildAPI allows calls to the build-metadata API.
	AudienceBuildAPI Audience = 1 << iota
	// AudienceCacheRead allows remote cache reads.
	AudienceCacheRead
	// AudienceCacheWrite allows remote cache writes.
	AudienceCacheWrite
	// AudienceRemoteExec allows scheduling remote execution work.
	AudienceRemoteExec
	// AudienceImpersonate allows an org admin to act as another user of the
	// same customer.
	AudienceImpersonate
	// AudienceUISession marks browser/UI session tokens; required to mint
	// exchange codes.
	AudienceUISession
)

var audienceNames = map[Audience]string{
	AudienceBuildAPI:    "build-api",
	AudienceCacheRead:   "cache-read",
	AudienceCacheWrite:  "cache-write",
	AudienceRemoteExec:  "remote-exec",
	AudienceImpersonate: "impersonate",
	AudienceUISession:   "ui",
}

// Has reports whether every flag in a is set on the receiver.
func (a Audience) Has(flag Audience) bool {
	return a&flag == flag
}

// Intersect returns the flags present in both sets.
func (a Audience) Intersect(other Audience) Audience {
	return a & other
}

// Without returns the receiver with the given flags cleared.
func (a Audience) Without(flag Audience) Audience {
	return a &^ flag
}

// Names returns the sorted list of flag names set on a.
func (a Audience) Names() []string {
	names := make([]string, 0, len(audienceNames))
	for flag, name := range audienceNames {
		if a.Has(flag) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (a Audience) String() string {
	if a == 0 {
		return ""
	}
	return strings.Join(a.Names(), ",")
}

// ParseAudienceName resolves a single flag name.
func ParseAudienceName(name string) (Audience, error) {
	for flag, n := range audienceNames {
		if n == name {
			return flag, nil
		}
	}
	return 0, fmt.Errorf("unknown audience %q", name)
}

// ParseAudience composes an Audience from a list of flag names.
func ParseAudience(names []string) (Audience, error) {
	var a Audience
	for _, name := range names {
		flag, err := ParseAudienceName(strings.TrimSpace(name))
		if err != nil {
			return 0, err
		}
		a |= flag
	}
	return a, nil
}

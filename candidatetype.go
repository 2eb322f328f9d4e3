// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"fmt"
	"strings"
)

// CandidateType tells how a candidate was learned.
type CandidateType byte

// Candidate types, named as in SDP candidate lines.
const (
	CandidateTypeUnspecified CandidateType = iota
	CandidateTypeHost
	CandidateTypeServerReflexive
	CandidateTypePeerReflexive
	CandidateTypeRelay
)

var candidateTypeNames = map[CandidateType]string{ //nolint:gochecknoglobals
	CandidateTypeHost:            "host",
	CandidateTypeServerReflexive: "srflx",
	CandidateTypePeerReflexive:   "prflx",
	CandidateTypeRelay:           "relay",
}

// ParseCandidateType accepts the short names printed by String.
func ParseCandidateType(raw string) (CandidateType, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for t, n := range candidateTypeNames {
		if n == name {
			return t, nil
		}
	}

	return CandidateTypeUnspecified, fmt.Errorf("%w: %q", errUnknownCandidateType, raw)
}

func (c CandidateType) String() string {
	if name, ok := candidateTypeNames[c]; ok {
		return name
	}

	return "unknown"
}

// Preference is the type preference of RFC 8445 section 5.1.2.2: 126 for
// host, 110 for peer reflexive, 100 for server reflexive and 0 for relayed
// candidates.
func (c CandidateType) Preference() uint16 {
	switch c {
	case CandidateTypeHost:
		return 126
	case CandidateTypePeerReflexive:
		return 110
	case CandidateTypeServerReflexive:
		return 100
	default:
		return 0
	}
}

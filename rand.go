// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import "github.com/pion/randutil"

const (
	credentialRunes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	iceCharRunes    = credentialRunes + "0123456789+/"

	ufragLength       = 16
	pwdLength         = 32
	candidateIDLength = 32
)

// ids is shared by every resolver: a generator seeded per call would repeat
// sequences when the clock is coarse.
var ids = newIDSource() //nolint:gochecknoglobals

// idSource produces identifiers that are visible to peers but carry no
// secret, and the random starting point of port range scans.
type idSource struct {
	randutil.MathRandomGenerator
}

func newIDSource() *idSource {
	return &idSource{MathRandomGenerator: randutil.NewMathRandomGenerator()}
}

// candidateID returns "candidate:" followed by 32 ice-chars (RFC 5245 section 15.1).
func (s *idSource) candidateID() string {
	return "candidate:" + s.GenerateString(candidateIDLength, iceCharRunes)
}

// portIn picks a port in [lo, hi].
func (s *idSource) portIn(lo, hi int) int {
	return lo + s.Intn(hi-lo+1)
}

// newCredentials draws an ICE username fragment and password from a
// cryptographic source.
func newCredentials() (ufrag, pwd string, err error) {
	if ufrag, err = randutil.GenerateCryptoRandomString(ufragLength, credentialRunes); err != nil {
		return "", "", err
	}
	if pwd, err = randutil.GenerateCryptoRandomString(pwdLength, credentialRunes); err != nil {
		return "", "", err
	}

	return ufrag, pwd, nil
}

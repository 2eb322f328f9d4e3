// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jingle-go/nat"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServer(t *testing.T) {
	server, err := parseServer("stun.example.org:19302")
	require.NoError(t, err)
	assert.Equal(t, nat.STUNServer{Host: "stun.example.org", Port: 19302}, server)

	server, err = parseServer("stun.example.org")
	require.NoError(t, err)
	assert.Equal(t, nat.STUNServer{Host: "stun.example.org", Port: nat.DefaultSTUNPort}, server)

	_, err = parseServer("stun.example.org:http")
	require.Error(t, err)
}

func TestZerologFactory(t *testing.T) {
	var buf bytes.Buffer
	factory := newLoggerFactory(zerolog.New(&buf).Level(zerolog.InfoLevel))

	log := factory.NewLogger("nat")
	log.Debugf("hidden %d", 1)
	log.Warnf("probe %s failed", "stun.example.org")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "nat", entry["scope"])
	assert.Equal(t, "probe stun.example.org failed", entry["message"])
}

func TestResolveFixed(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"resolve", "--strategy", "fixed", "--address", "203.0.113.9", "--port", "5000", "--repeat", "2"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "203.0.113.9:5000")
	assert.Equal(t, 2, strings.Count(out.String(), "\n"), "header and one candidate")
}

func TestResolveUnknownStrategy(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"resolve", "--strategy", "upnp"})

	require.ErrorIs(t, cmd.Execute(), errUnknownStrategy)
}

func TestResolveRejectsUnknownCandidateType(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"resolve", "--strategy", "ice", "--types", "host,bogus"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package servicedetect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitProductVersion(t *testing.T) {
	product, version := splitProductVersion("nginx/1.18.0 (Ubuntu)")
	require.Equal(t, "nginx", product)
	require.Equal(t, "1.18.0", version)

	product, version = splitProductVersion("")
	require.Equal(t, "", product)
	require.Equal(t, "", version)
}

func TestParseProbeDBGrammar(t *testing.T) {
	data := `
Probe TCP GetRequest q|GET / HTTP/1.0\r\n\r\n|
ports 80,443
rarity 1
match http m|^HTTP/1\.[01]| p/HTTP/
softmatch unknown-http m|^HTTP|
`
	db, err := ParseProbeDB(data)
	require.NoError(t, err)
	require.Len(t, db.Probes, 1)

	p := db.Probes[0]
	require.Equal(t, ProtoTCP, p.Proto)
	require.Equal(t, "GetRequest", p.Name)
	require.Equal(t, "GET / HTTP/1.0\r\n\r\n", string(p.ProbeString))
	require.Equal(t, []uint16{80, 443}, p.Ports)
	require.Equal(t, 1, p.Rarity)
	require.Len(t, p.Matches, 1)
	require.Len(t, p.SoftMatches, 1)
	require.Equal(t, "http", p.Matches[0].Service)
	require.Equal(t, "HTTP", p.Matches[0].ProductTpl)
}

func TestParsePortListRanges(t *testing.T) {
	ports, err := parsePortList("80,443,8000-8002")
	require.NoError(t, err)
	require.Equal(t, []uint16{80, 443, 8000, 8001, 8002}, ports)
}

func TestUnescapeProbeString(t *testing.T) {
	require.Equal(t, []byte("GET / HTTP/1.0\r\n\r\n"), unescape(`GET / HTTP/1.0\r\n\r\n`))
	require.Equal(t, []byte{0xff, 0x00}, unescape(`\xff\x00`))
}

func TestSubstituteCaptures(t *testing.T) {
	groups := []string{"SSH-2.0-OpenSSH_8.9", "2.0", "OpenSSH_8.9"}
	require.Equal(t, "OpenSSH_8.9 version 2.0", substituteCaptures("$2 version $1", groups))
	require.Equal(t, "", substituteCaptures("", groups))
}

func TestDefaultProbeDBParses(t *testing.T) {
	require.NotNil(t, DefaultProbeDB)
	require.NotEmpty(t, DefaultProbeDB.Probes)

	null := DefaultProbeDB.ProbesForPort(22, ProtoTCP, false)
	require.NotEmpty(t, null)
	foundNull := false
	for _, p := range null {
		if p.Name == "NULL" {
			foundNull = true
		}
	}
	require.True(t, foundNull, "NULL probe should apply to every TCP port (no port hint)")
}

func TestMatchResponseSSHBanner(t *testing.T) {
	nullProbe := DefaultProbeDB.Probes[0]
	require.Equal(t, "NULL", nullProbe.Name)

	r, ok := matchResponse(nullProbe.Matches, []byte("SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1\r\n"))
	require.True(t, ok)
	require.Equal(t, "ssh", r.service)
	require.Equal(t, "2.0", r.version)
	require.Equal(t, "OpenSSH_8.9p1", r.product)
}

func TestConfidenceScoring(t *testing.T) {
	require.InDelta(t, 0.5, Confidence(Detection{}), 0.001)
	require.InDelta(t, 0.65, Confidence(Detection{Version: "1.2"}), 0.001)
	require.InDelta(t, 0.85, Confidence(Detection{Version: "1.2", PatternHit: true}), 0.001)
	require.InDelta(t, 0.95, Confidence(Detection{Version: "1.2", OSHint: "Linux", PatternHit: true}), 0.001)
}

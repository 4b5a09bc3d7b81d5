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

package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prtip/prtip/pkg/models"
)

func TestParseOneTargetCIDR(t *testing.T) {
	target, err := parseOneTarget("192.0.2.0/28")
	require.NoError(t, err)
	require.Equal(t, models.TargetCIDR, target.Kind)
}

func TestParseOneTargetRange(t *testing.T) {
	target, err := parseOneTarget("192.0.2.1-192.0.2.10")
	require.NoError(t, err)
	require.Equal(t, models.TargetRange, target.Kind)
}

func TestParseOneTargetAddr(t *testing.T) {
	target, err := parseOneTarget("192.0.2.1")
	require.NoError(t, err)
	require.Equal(t, models.TargetAddr, target.Kind)
}

func TestParseOneTargetHostname(t *testing.T) {
	target, err := parseOneTarget("scanme.example.com")
	require.NoError(t, err)
	require.Equal(t, models.TargetHostname, target.Kind)
	require.Equal(t, "scanme.example.com", target.Hostname)
}

func TestParseTargetsSplitsAndTrims(t *testing.T) {
	targets, err := parseTargets(" 192.0.2.1 , 192.0.2.0/28 ")
	require.NoError(t, err)
	require.Len(t, targets, 2)
}

func TestParseTargetsRejectsEmpty(t *testing.T) {
	_, err := parseTargets("")
	require.Error(t, err)
}

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

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var errInvalidDuration = errors.New("models: invalid duration value")

// Duration unmarshals from either a JSON number (nanoseconds) or a Go
// duration string ("5s", "100ms"), matching how the rest of this family
// of configs has always accepted durations.
type Duration time.Duration

func (d Duration) AsTime() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		*d = Duration(dur)
		return nil
	default:
		return errInvalidDuration
	}
}

// ScanType selects the per-technique state machine a scan runs.
type ScanType int

const (
	ScanConnect ScanType = iota
	ScanSYN
	ScanUDP
	ScanFIN
	ScanNULL
	ScanXmas
	ScanACK
	ScanIdle
)

func ParseScanType(s string) (ScanType, error) {
	switch s {
	case "connect":
		return ScanConnect, nil
	case "syn":
		return ScanSYN, nil
	case "udp":
		return ScanUDP, nil
	case "fin":
		return ScanFIN, nil
	case "null":
		return ScanNULL, nil
	case "xmas":
		return ScanXmas, nil
	case "ack":
		return ScanACK, nil
	case "idle":
		return ScanIdle, nil
	default:
		return 0, fmt.Errorf("models: unknown scan type %q", s)
	}
}

func (t ScanType) String() string {
	switch t {
	case ScanConnect:
		return "connect"
	case ScanSYN:
		return "syn"
	case ScanUDP:
		return "udp"
	case ScanFIN:
		return "fin"
	case ScanNULL:
		return "null"
	case ScanXmas:
		return "xmas"
	case ScanACK:
		return "ack"
	case ScanIdle:
		return "idle"
	default:
		return "unknown"
	}
}

func (t ScanType) RequiresRawSocket() bool {
	switch t {
	case ScanSYN, ScanFIN, ScanNULL, ScanXmas, ScanACK, ScanIdle:
		return true
	default:
		return false
	}
}

// TimingTemplate is one of Nmap's T0-T5 conventions: (min-rtt, max-rtt,
// retries, parallelism-divisor). original_source's types.rs (which
// would define these) was not present in the retrieval pack, so this
// table is supplied directly per SPEC_FULL.md's open-question resolution.
type TimingTemplate struct {
	Name               string
	MinRTT, MaxRTT     time.Duration
	Retries            int
	ParallelismDivisor int // adaptive-parallelism figure is divided by this
}

var TimingTemplates = [6]TimingTemplate{
	{Name: "paranoid", MinRTT: 100 * time.Millisecond, MaxRTT: 10 * time.Second, Retries: 5, ParallelismDivisor: 20},
	{Name: "sneaky", MinRTT: 100 * time.Millisecond, MaxRTT: 10 * time.Second, Retries: 4, ParallelismDivisor: 10},
	{Name: "polite", MinRTT: 100 * time.Millisecond, MaxRTT: 10 * time.Second, Retries: 3, ParallelismDivisor: 4},
	{Name: "normal", MinRTT: 100 * time.Millisecond, MaxRTT: 10 * time.Second, Retries: 2, ParallelismDivisor: 1},
	{Name: "aggressive", MinRTT: 50 * time.Millisecond, MaxRTT: 1250 * time.Millisecond, Retries: 1, ParallelismDivisor: 1},
	{Name: "insane", MinRTT: 25 * time.Millisecond, MaxRTT: 300 * time.Millisecond, Retries: 0, ParallelismDivisor: 1},
}

func TimingTemplateByIndex(i int) (TimingTemplate, error) {
	if i < 0 || i > 5 {
		return TimingTemplate{}, fmt.Errorf("models: timing template %d out of range [0,5]", i)
	}
	return TimingTemplates[i], nil
}

// Config is the scheduler's validated input. Steps in 4.J's spec
// correspond to field checks in Validate.
type Config struct {
	ScanType       ScanType `json:"scan_type"`
	Timing         int      `json:"timing"` // index into TimingTemplates
	TimeoutMS      int      `json:"timeout_ms"`
	Retries        int      `json:"retries"`
	MaxRatePPS     int      `json:"max_rate_pps"`
	MaxConcurrent  int      `json:"max_concurrent"`
	Ulimit         int      `json:"ulimit"`
	Interface      string   `json:"interface"`
	Interface6     string   `json:"interface6"`
	DiscoveryFirst bool     `json:"discovery_first"`
	ServiceDetect  bool     `json:"service_detect"`
	Intensity      int      `json:"intensity"` // 0-9, probe rarity ceiling
}

// Validate implements step 1 of 4.J Scheduler: validate config before any
// packet is sent.
func (c Config) Validate() error {
	if c.TimeoutMS <= 0 || c.TimeoutMS > 3_600_000 {
		return fmt.Errorf("models: timeout_ms %d out of range (0,3600000]", c.TimeoutMS)
	}
	if c.Retries < 0 || c.Retries > 10 {
		return fmt.Errorf("models: retries %d out of range [0,10]", c.Retries)
	}
	if c.MaxConcurrent < 0 || c.MaxConcurrent > 100_000 {
		return fmt.Errorf("models: max_concurrent %d out of range [0,100000]", c.MaxConcurrent)
	}
	if c.Timing < 0 || c.Timing > 5 {
		return fmt.Errorf("models: timing %d out of range [0,5]", c.Timing)
	}
	if c.Intensity < 0 || c.Intensity > 9 {
		return fmt.Errorf("models: intensity %d out of range [0,9]", c.Intensity)
	}
	return nil
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

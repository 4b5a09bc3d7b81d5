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

package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recvWithTimeout(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed before an event arrived")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBusPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(AllEvents(), false)
	defer unsubscribe()

	require.Equal(t, 1, bus.SubscriberCount())
	bus.Publish(EventWarningIssued, WarningIssuedData{Message: "hello"})

	ev := recvWithTimeout(t, ch)
	require.Equal(t, EventWarningIssued, ev.Type)
	require.Equal(t, WarningIssuedData{Message: "hello"}, ev.Data)
}

func TestBusFilterByTypeExcludesOthers(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(FilterTypes(EventPortFound), false)
	defer unsubscribe()

	bus.Publish(EventScanStarted, ScanStartedData{Targets: 1, Ports: 1})
	bus.Publish(EventPortFound, PortFoundData{})

	ev := recvWithTimeout(t, ch)
	require.Equal(t, EventPortFound, ev.Type)

	select {
	case v := <-ch:
		t.Fatalf("expected no further event, got %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusQueuesForSlowSubscriberWithoutDropping(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(AllEvents(), false)
	defer unsubscribe()

	bus.Publish(EventProgressUpdate, ProgressUpdateData{Completed: 1, Total: 10})
	bus.Publish(EventProgressUpdate, ProgressUpdateData{Completed: 2, Total: 10})

	first := recvWithTimeout(t, ch)
	require.Equal(t, ProgressUpdateData{Completed: 1, Total: 10}, first.Data)
	second := recvWithTimeout(t, ch)
	require.Equal(t, ProgressUpdateData{Completed: 2, Total: 10}, second.Data)
}

func TestBusCollapsesIdenticalBackToBackPublishes(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(AllEvents(), false)
	defer unsubscribe()

	bus.Publish(EventHostDiscovered, map[string]string{"addr": "192.0.2.1"})
	bus.Publish(EventHostDiscovered, map[string]string{"addr": "192.0.2.1"})
	bus.Publish(EventHostDiscovered, map[string]string{"addr": "192.0.2.2"})

	first := recvWithTimeout(t, ch)
	require.Equal(t, map[string]string{"addr": "192.0.2.1"}, first.Data)
	second := recvWithTimeout(t, ch)
	require.Equal(t, map[string]string{"addr": "192.0.2.2"}, second.Data)

	select {
	case v := <-ch:
		t.Fatalf("expected only two events, got a third: %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(AllEvents(), false)
	unsubscribe()
	require.Equal(t, 0, bus.SubscriberCount())

	_, ok := <-ch
	require.False(t, ok)
}

func TestBusHistoryRetainsRecentEvents(t *testing.T) {
	bus := NewBus()
	bus.Publish(EventScanStarted, ScanStartedData{Targets: 1, Ports: 1})
	bus.Publish(EventPortFound, PortFoundData{})
	bus.Publish(EventScanCompleted, ScanCompletedData{Results: 1})

	all := bus.History(AllEvents(), 0)
	require.Len(t, all, 3)

	onlyPortFound := bus.History(FilterTypes(EventPortFound), 0)
	require.Len(t, onlyPortFound, 1)
	require.Equal(t, EventPortFound, onlyPortFound[0].Type)

	limited := bus.History(AllEvents(), 2)
	require.Len(t, limited, 2)
	require.Equal(t, EventPortFound, limited[0].Type)
	require.Equal(t, EventScanCompleted, limited[1].Type)
}

func TestBusSubscribeReplaysHistoryWhenRequested(t *testing.T) {
	bus := NewBus()
	bus.Publish(EventScanStarted, ScanStartedData{Targets: 2, Ports: 2})

	ch, unsubscribe := bus.Subscribe(AllEvents(), true)
	defer unsubscribe()

	ev := recvWithTimeout(t, ch)
	require.Equal(t, EventScanStarted, ev.Type)
}

func TestNewSecurityProviderDefaultsToNone(t *testing.T) {
	p, err := NewSecurityProvider(context.Background(), SecurityConfig{})
	require.NoError(t, err)
	_, ok := p.(*NoSecurityProvider)
	require.True(t, ok)
}

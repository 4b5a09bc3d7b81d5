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

package sink

import (
	"context"
	"database/sql"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/prtip/prtip/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS scan_results (
	target_ip     TEXT NOT NULL,
	port          INTEGER NOT NULL,
	state         INTEGER NOT NULL,
	service       TEXT,
	product       TEXT,
	version       TEXT,
	banner        TEXT,
	response_time_ns INTEGER NOT NULL,
	timestamp_ns  INTEGER NOT NULL,
	PRIMARY KEY (target_ip, port)
);`

// AsyncSQLiteSink buffers writes in a channel drained by one background
// goroutine, so a probe-handling goroutine never blocks on disk I/O.
// Close's ordering is load-bearing, per original_source's
// storage_backend.rs: the write channel must be closed *before* the
// caller waits on the drain goroutine, or the goroutine blocks forever
// reading from a channel nobody will ever close.
type AsyncSQLiteSink struct {
	db        *sql.DB
	writeCh   chan models.ScanResult
	done      chan struct{}
	closeOnce sync.Once
}

func NewAsyncSQLiteSink(path string, bufferSize int) (*AsyncSQLiteSink, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("sink: open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sink: create schema: %w", err)
	}

	s := &AsyncSQLiteSink{
		db:      db,
		writeCh: make(chan models.ScanResult, bufferSize),
		done:    make(chan struct{}),
	}
	go s.drain()
	return s, nil
}

func (s *AsyncSQLiteSink) drain() {
	defer close(s.done)

	stmt, err := s.db.Prepare(`
		INSERT INTO scan_results (target_ip, port, state, service, product, version, banner, response_time_ns, timestamp_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target_ip, port) DO UPDATE SET
			state=excluded.state, service=excluded.service, product=excluded.product,
			version=excluded.version, banner=excluded.banner,
			response_time_ns=excluded.response_time_ns, timestamp_ns=excluded.timestamp_ns`)
	if err != nil {
		return
	}
	defer stmt.Close()

	for r := range s.writeCh {
		_, _ = stmt.Exec(r.TargetIP.String(), r.Port, int(r.State), r.Service, r.Product, r.Version, r.Banner,
			r.ResponseTime.Nanoseconds(), r.Timestamp.UnixNano())
	}
}

func (s *AsyncSQLiteSink) Write(ctx context.Context, result models.ScanResult) error {
	select {
	case s.writeCh <- result:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush is a no-op beyond what SQLite's WAL mode already guarantees;
// the drain goroutine commits every statement as it executes. A forced
// checkpoint would require draining writeCh first, which only Close
// can safely do without racing concurrent writers.
func (s *AsyncSQLiteSink) Flush(_ context.Context) error {
	return nil
}

// Close closes writeCh first, THEN waits on done. Waiting before
// closing would deadlock: the drain goroutine's range loop never exits
// until the channel is closed, and nothing else closes it.
func (s *AsyncSQLiteSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.writeCh)
		<-s.done
		err = s.db.Close()
	})
	return err
}

// Collect reads back every committed row, ordered the same way
// MemorySink.Results sorts its in-memory slice. Rows queued in writeCh
// but not yet drained are not visible until the drain goroutine commits
// them; Flush does not wait for that, only Close does.
func (s *AsyncSQLiteSink) Collect(ctx context.Context) ([]models.ScanResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_ip, port, state, service, product, version, banner, response_time_ns, timestamp_ns
		FROM scan_results ORDER BY target_ip, port`)
	if err != nil {
		return nil, fmt.Errorf("sink: query sqlite: %w", err)
	}
	defer rows.Close()

	var out []models.ScanResult
	for rows.Next() {
		var (
			targetIP                          string
			port                              uint16
			state                             int
			service, product, version, banner string
			responseTimeNS, timestampNS       int64
		)
		if err := rows.Scan(&targetIP, &port, &state, &service, &product, &version, &banner, &responseTimeNS, &timestampNS); err != nil {
			return nil, fmt.Errorf("sink: scan sqlite row: %w", err)
		}
		addr, err := netip.ParseAddr(targetIP)
		if err != nil {
			return nil, fmt.Errorf("sink: parse stored target_ip: %w", err)
		}
		out = append(out, models.ScanResult{
			TargetIP:     addr,
			Port:         port,
			State:        models.PortState(state),
			Service:      service,
			Product:      product,
			Version:      version,
			Banner:       banner,
			ResponseTime: time.Duration(responseTimeNS),
			Timestamp:    time.Unix(0, timestampNS),
		})
	}
	// target_ip is stored as text, so ORDER BY sorts it lexically
	// ("10.0.0.10" before "10.0.0.9"); re-sort by address value.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TargetIP != out[j].TargetIP {
			return out[i].TargetIP.Less(out[j].TargetIP)
		}
		return out[i].Port < out[j].Port
	})
	return out, rows.Err()
}

func (s *AsyncSQLiteSink) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scan_results`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sink: count sqlite rows: %w", err)
	}
	return n, nil
}

// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package std

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"
)

// Stats accumulates IPC-level counters the way kcp.Snmp accumulates
// protocol counters in the teacher repo: a flat struct of atomically
// updated fields, walked by Header/ToSlice for periodic CSV logging.
// The fields this build tracks are the ones spec.md §7 calls out as
// silently-dropped conditions worth observing from outside: send
// success/failure, recv success/timeout, and the three kinds of silent
// drop (auth failure, framing error, queue overflow).
type Stats struct {
	SendOK       uint64
	SendErr      uint64
	RecvOK       uint64
	RecvTimeout  uint64
	DropAuth     uint64
	DropFraming  uint64
	DropOverflow uint64
}

// DefaultStats is the process-wide counter set, mirroring kcp.DefaultSnmp.
var DefaultStats = &Stats{}

func (s *Stats) IncSendOK()       { atomic.AddUint64(&s.SendOK, 1) }
func (s *Stats) IncSendErr()      { atomic.AddUint64(&s.SendErr, 1) }
func (s *Stats) IncRecvOK()       { atomic.AddUint64(&s.RecvOK, 1) }
func (s *Stats) IncRecvTimeout()  { atomic.AddUint64(&s.RecvTimeout, 1) }
func (s *Stats) IncDropAuth()     { atomic.AddUint64(&s.DropAuth, 1) }
func (s *Stats) IncDropFraming()  { atomic.AddUint64(&s.DropFraming, 1) }
func (s *Stats) IncDropOverflow() { atomic.AddUint64(&s.DropOverflow, 1) }

// Header returns the CSV column names, in the same order as ToSlice.
func (s *Stats) Header() []string {
	return []string{
		"SendOK", "SendErr", "RecvOK", "RecvTimeout",
		"DropAuth", "DropFraming", "DropOverflow",
	}
}

// ToSlice snapshots the counters as strings, for one CSV row.
func (s *Stats) ToSlice() []string {
	fields := []uint64{
		atomic.LoadUint64(&s.SendOK),
		atomic.LoadUint64(&s.SendErr),
		atomic.LoadUint64(&s.RecvOK),
		atomic.LoadUint64(&s.RecvTimeout),
		atomic.LoadUint64(&s.DropAuth),
		atomic.LoadUint64(&s.DropFraming),
		atomic.LoadUint64(&s.DropOverflow),
	}
	out := make([]string, len(fields))
	for i, v := range fields {
		out[i] = strconv.FormatUint(v, 10)
	}
	return out
}

// StatsLogger periodically appends a CSV row of s's counters to path,
// the way the teacher's SnmpLogger appends kcp.DefaultSnmp rows. path is
// formatted through time.Now().Format on its filename component, so a
// pattern like "lattice-20060102.csv" rolls to a new file each day.
func StatsLogger(path string, interval int, s *Stats) {
	if path == "" || interval == 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		logdir, logfile := filepath.Split(path)
		f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Println(err)
			return
		}
		w := csv.NewWriter(f)
		if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
			if err := w.Write(append([]string{"Unix"}, s.Header()...)); err != nil {
				log.Println(err)
			}
		}
		if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, s.ToSlice()...)); err != nil {
			log.Println(err)
		}
		w.Flush()
		f.Close()
	}
}

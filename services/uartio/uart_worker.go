// services/uartio/uart_worker.go
package uartio

import (
	"context"
	"sync"
	"time"

	"softuart-go/x/mathx"
	"softuart-go/x/timex"
)

// Port is the receive side of a byte stream with a readiness edge, as
// provided by softuart.Port.
type Port interface {
	Readable() <-chan struct{}
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
}

// Event is one chunk of traffic. Release returns Data to the worker's pool.
type Event struct {
	DevID string
	Dir   string // "rx" | "tx"
	Data  []byte
	TS    time.Time

	pool *sync.Pool
}

func (e *Event) Release() {
	if e.pool == nil {
		return
	}
	e.pool.Put(e.Data[:0])
	e.Data, e.pool = nil, nil
}

type ReaderCfg struct {
	DevID     string
	Port      Port
	Mode      string        // "bytes" | "lines"
	MaxFrame  int           // clamp 8..256
	IdleFlush time.Duration // clamp 0..2s (lines mode)
}

type Worker struct {
	outQ chan *Event

	mu    sync.Mutex
	pools map[string]*sync.Pool
}

func New(outBuf int) *Worker {
	if outBuf <= 0 {
		outBuf = 64
	}
	return &Worker{outQ: make(chan *Event, outBuf), pools: map[string]*sync.Pool{}}
}

func (w *Worker) Events() <-chan *Event { return w.outQ }

func (w *Worker) pool(devID string, size int) *sync.Pool {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.pools[devID]
	if p == nil {
		p = &sync.Pool{New: func() any { return make([]byte, 0, size) }}
		w.pools[devID] = p
	}
	return p
}

func (w *Worker) emit(p *sync.Pool, devID, dir string, data []byte, ts time.Time) {
	buf := p.Get().([]byte)
	ev := &Event{DevID: devID, Dir: dir, Data: append(buf[:0], data...), TS: ts, pool: p}
	select {
	case w.outQ <- ev:
	default:
		// drop if consumer is slow
		ev.Release()
	}
}

// Register starts a bounded reader goroutine for a port. Returns cancel.
func (w *Worker) Register(ctx context.Context, cfg ReaderCfg) (func(), error) {
	max := mathx.Clamp(cfg.MaxFrame, 8, 256)
	idle := mathx.Clamp(cfg.IdleFlush, 0, 2*time.Second)
	pool := w.pool(cfg.DevID, max)
	cctx, cancel := context.WithCancel(ctx)

	go func() {
		buf := make([]byte, max)
		var line []byte

		timer := time.NewTimer(time.Hour)
		if !timer.Stop() {
			timex.DrainTimer(timer)
		}
		defer timer.Stop()

		flush := func(now time.Time) {
			if len(line) == 0 {
				return
			}
			w.emit(pool, cfg.DevID, "rx", line, now)
			line = line[:0]
		}

		for {
			if cfg.Mode == "lines" && len(line) > 0 && idle > 0 {
				timex.ResetTimer(timer, idle)
			} else {
				timex.ResetTimer(timer, time.Hour)
			}
			select {
			case <-cctx.Done():
				return
			case <-cfg.Port.Readable():
			case <-timer.C:
				flush(time.Now())
				continue
			}
			// drain everything buffered; readiness is edge-triggered
			for {
				rctx, rcancel := context.WithTimeout(cctx, time.Millisecond)
				n, _ := cfg.Port.RecvSomeContext(rctx, buf)
				rcancel()
				if n <= 0 {
					break
				}
				now := time.Now()
				if cfg.Mode != "lines" {
					w.emit(pool, cfg.DevID, "rx", buf[:n], now)
					continue
				}
				for _, b := range buf[:n] {
					switch b {
					case '\n':
						flush(now)
					case '\r':
					default:
						if len(line) < max {
							line = append(line, b)
						}
					}
				}
			}
		}
	}()

	return cancel, nil
}

// EmitTX publishes a TX echo, split into frames of the device's MaxFrame.
func (w *Worker) EmitTX(devID string, data []byte) {
	w.mu.Lock()
	p := w.pools[devID]
	w.mu.Unlock()
	if p == nil {
		p = w.pool(devID, 64)
	}
	buf := p.Get().([]byte)
	size := cap(buf)
	p.Put(buf)

	now := time.Now()
	for len(data) > 0 {
		n := min(len(data), size)
		w.emit(p, devID, "tx", data[:n], now)
		data = data[n:]
	}
}

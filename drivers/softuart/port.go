package softuart

import (
	"context"

	"tinygo.org/x/drivers"

	"softuart-go/errcode"
)

// Port is a byte stream over a UART configured for 8 data bits or fewer.
// Receive error flags are dropped; use ReceiveData to see them. A Port is
// one reader and one writer: Read and Write may run concurrently with each
// other but not with themselves.
type Port struct {
	u    *UART
	rbuf []RxWord
	wbuf []uint32
}

var _ drivers.UART = (*Port)(nil)

func (u *UART) Port() *Port {
	return &Port{u: u, rbuf: make([]RxWord, 64), wbuf: make([]uint32, 64)}
}

// Buffered returns the number of received bytes waiting.
func (p *Port) Buffered() int {
	_, used := p.u.RXFIFOStatus()
	return used
}

// Read copies waiting bytes into b without blocking. It returns 0, nil when
// nothing is buffered, like a hardware UART.
func (p *Port) Read(b []byte) (int, error) {
	return p.TryRead(b), nil
}

func (p *Port) TryRead(b []byte) int {
	total := 0
	for total < len(b) {
		want := min(len(b)-total, len(p.rbuf))
		n := p.u.ReceiveData(p.rbuf[:want])
		for i := 0; i < n; i++ {
			b[total+i] = byte(p.rbuf[i].Data)
		}
		total += n
		if n < want {
			break
		}
	}
	return total
}

// Readable fires when the RX FIFO goes from empty to non-empty.
func (p *Port) Readable() <-chan struct{} {
	if f := p.u.frame.Load(); f != nil && f.rx != nil {
		return f.rx.Readable()
	}
	return nil
}

// RecvSomeContext blocks until at least one byte is read or ctx ends.
func (p *Port) RecvSomeContext(ctx context.Context, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		if n := p.TryRead(b); n > 0 {
			return n, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-p.Readable():
		}
	}
}

// TryWrite queues as much of b as fits and returns the count.
func (p *Port) TryWrite(b []byte) int {
	total := 0
	for total < len(b) {
		n := min(len(b)-total, len(p.wbuf))
		for i := 0; i < n; i++ {
			p.wbuf[i] = uint32(b[total+i])
		}
		got := p.u.TransmitData(p.wbuf[:n])
		total += got
		if got < n {
			break
		}
	}
	return total
}

// Write blocks until all of b is queued.
func (p *Port) Write(b []byte) (int, error) {
	return p.WriteContext(context.Background(), b)
}

func (p *Port) WriteByte(c byte) error {
	_, err := p.Write([]byte{c})
	return err
}

// WriteContext queues b, waiting for FIFO space as needed, until done or
// ctx ends.
func (p *Port) WriteContext(ctx context.Context, b []byte) (int, error) {
	f := p.u.frame.Load()
	if f == nil || f.tx == nil {
		return 0, &errcode.E{C: errcode.NotInitialised, Op: "write", Msg: p.u.name}
	}
	total := 0
	for total < len(b) {
		total += p.TryWrite(b[total:])
		if total == len(b) {
			break
		}
		if err := f.tx.Producer().WaitSpace(ctx); err != nil {
			return total, err
		}
	}
	return total, nil
}

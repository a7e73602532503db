package protocol

import (
	"bytes"
	"io"
	"sync"
)

// bufferedPipe is an in-memory pipe whose writes never block, like an OS
// pipe with room to spare.
type bufferedPipe struct {
	mu         sync.Mutex
	cond       *sync.Cond
	buf        bytes.Buffer
	readClosed bool
	eof        bool
}

func newBufferedPipe() *bufferedPipe {
	p := &bufferedPipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *bufferedPipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.buf.Len() == 0 {
		if p.readClosed {
			return 0, io.ErrClosedPipe
		}
		if p.eof {
			return 0, io.EOF
		}
		p.cond.Wait()
	}
	return p.buf.Read(b)
}

func (p *bufferedPipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readClosed || p.eof {
		return 0, io.ErrClosedPipe
	}
	n, err := p.buf.Write(b)
	p.cond.Broadcast()
	return n, err
}

func (p *bufferedPipe) closeWrite() {
	p.mu.Lock()
	p.eof = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *bufferedPipe) closeRead() {
	p.mu.Lock()
	p.readClosed = true
	p.buf.Reset()
	p.cond.Broadcast()
	p.mu.Unlock()
}

type pipeEnd struct {
	in  *bufferedPipe
	out *bufferedPipe
}

func (e pipeEnd) Close() error {
	e.out.closeWrite()
	e.in.closeRead()
	return nil
}

// Pipe returns two connected in-memory channels. Closing one makes the other
// observe io.EOF once it has read what was already sent.
func Pipe() (*StreamChannel, *StreamChannel) {
	ab, ba := newBufferedPipe(), newBufferedPipe()
	a := NewStreamChannel(ba, ab, pipeEnd{in: ba, out: ab})
	b := NewStreamChannel(ab, ba, pipeEnd{in: ab, out: ba})
	return a, b
}


// Package asyncwriter moves appends of unordered log records off the caller's
// goroutine. Records are queued, written by one background goroutine through
// a bufio.Writer and flushed on a ticker, on request and on close.
package asyncwriter

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

var ErrWriteAfterClose = errors.New("write called after writer closed")

const DefaultFlushInterval = 100 * time.Millisecond

type AsyncWriter struct {
	queue    chan *bytes.Buffer
	done     chan struct{}
	writer   *bufio.Writer
	wg       sync.WaitGroup
	flushReq chan chan error
	once     sync.Once
	// closeMu orders queue sends before close(done), so drain sees every
	// accepted record
	closeMu  sync.RWMutex
	pool     sync.Pool
	interval time.Duration

	// first write or flush error; sticky, reported by every later call
	errMu sync.Mutex
	err   error
}

func NewAsyncWriterSize(w io.Writer, writerBufferSize int) *AsyncWriter {
	return NewAsyncWriter(w, writerBufferSize, DefaultFlushInterval)
}

func NewAsyncWriter(w io.Writer, writerBufferSize int, interval time.Duration) *AsyncWriter {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	aw := &AsyncWriter{
		queue:    make(chan *bytes.Buffer, 64),
		done:     make(chan struct{}),
		writer:   bufio.NewWriterSize(w, writerBufferSize),
		flushReq: make(chan chan error),
		interval: interval,
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, 512))
			},
		},
	}
	aw.wg.Add(1)
	go aw.writerLoop()
	return aw
}

func (aw *AsyncWriter) writerLoop() {
	defer aw.wg.Done()
	ticker := time.NewTicker(aw.interval)
	defer ticker.Stop()

	for {
		select {
		case data := <-aw.queue:
			aw.write(data)
		case <-ticker.C:
			aw.flush()
		case resp := <-aw.flushReq:
			aw.drain()
			resp <- aw.flush()
		case <-aw.done:
			aw.drain()
			aw.flush()
			return
		}
	}
}

// drain writes everything already queued.
func (aw *AsyncWriter) drain() {
	for {
		select {
		case data := <-aw.queue:
			aw.write(data)
		default:
			return
		}
	}
}

func (aw *AsyncWriter) write(data *bytes.Buffer) {
	if aw.Err() == nil {
		if _, err := aw.writer.Write(data.Bytes()); err != nil {
			aw.setErr(err)
		}
	}
	aw.pool.Put(data)
}

func (aw *AsyncWriter) flush() error {
	if err := aw.Err(); err != nil {
		return err
	}
	if err := aw.writer.Flush(); err != nil {
		aw.setErr(err)
		return err
	}
	return nil
}

func (aw *AsyncWriter) setErr(err error) {
	aw.errMu.Lock()
	defer aw.errMu.Unlock()
	if aw.err == nil {
		aw.err = err
	}
}

// Err returns the first background write failure, if any.
func (aw *AsyncWriter) Err() error {
	aw.errMu.Lock()
	defer aw.errMu.Unlock()
	return aw.err
}

// Write queues a copy of b. A failure of an earlier background write is
// returned here so callers learn about it on their next append.
func (aw *AsyncWriter) Write(b []byte) (int, error) {
	if err := aw.Err(); err != nil {
		return 0, err
	}

	poolBuf := aw.pool.Get().(*bytes.Buffer)
	poolBuf.Reset()
	poolBuf.Write(b)

	aw.closeMu.RLock()
	defer aw.closeMu.RUnlock()

	select {
	case <-aw.done:
		aw.pool.Put(poolBuf)
		return 0, ErrWriteAfterClose
	default:
	}

	// the loop keeps receiving until done is closed, which Close cannot do
	// while we hold the read lock
	aw.queue <- poolBuf
	return len(b), nil
}

// Flush writes all queued records and flushes the buffer.
func (aw *AsyncWriter) Flush() error {
	resp := make(chan error, 1)
	select {
	case aw.flushReq <- resp:
		return <-resp
	case <-aw.done:
		return ErrWriteAfterClose
	}
}

func (aw *AsyncWriter) Close() error {
	aw.once.Do(func() {
		aw.closeMu.Lock()
		close(aw.done)
		aw.closeMu.Unlock()
	})
	aw.wg.Wait()
	return aw.Err()
}

var _ io.WriteCloser = (*AsyncWriter)(nil)

// Package serialmux provides an abstraction over a serial port with the
// ability for multiple clients to subscribe to the raw byte stream coming
// from a single device and to send commands to it.
package serialmux

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/lidarsweep/internal/timeutil"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

const (
	// DefaultReadSize is the largest chunk requested from the port per Read.
	DefaultReadSize = 4096
	// SubscriberBuffer is the number of chunks buffered per subscriber.
	// A full lossy subscriber misses chunks; a full lossless one stalls the
	// reader.
	SubscriberBuffer = 256
)

// Chunk is one Read worth of bytes, stamped on arrival.
type Chunk struct {
	Data      []byte
	Timestamp int64 // monotonic nanoseconds, see timeutil.Stamper
}

// ReaderStats counts traffic seen by a ChunkReader.
type ReaderStats struct {
	Chunks  int64 `json:"chunks"`
	Bytes   int64 `json:"bytes"`
	Dropped int64 `json:"dropped"` // chunks not delivered to a full lossy subscriber
}

type subscriber struct {
	ch       chan Chunk
	lossless bool
}

// ChunkReader fans the raw byte stream of a serial port out to subscribers.
// Unlike a line scanner it never interprets the data: the sensor speaks a
// binary protocol and framing is left to the consumer.
type ChunkReader[T SerialPorter] struct {
	port         T
	stamper      *timeutil.Stamper
	readSize     int
	subscribers  map[string]*subscriber
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      atomic.Bool
	done         chan struct{}
	closeOnce    sync.Once

	chunks  atomic.Int64
	bytes   atomic.Int64
	dropped atomic.Int64
}

// NewChunkReader creates a ChunkReader for port. Timestamps come from clock;
// nil uses the real clock.
func NewChunkReader[T SerialPorter](port T, clock timeutil.Clock) *ChunkReader[T] {
	return &ChunkReader[T]{
		port:        port,
		stamper:     timeutil.NewStamper(clock),
		readSize:    DefaultReadSize,
		subscribers: make(map[string]*subscriber),
		done:        make(chan struct{}),
	}
}

// Port returns the underlying port.
func (s *ChunkReader[T]) Port() T { return s.port }

// Stamper returns the timestamp source used for chunks.
func (s *ChunkReader[T]) Stamper() *timeutil.Stamper { return s.stamper }

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a new channel receiving chunks read from the port. A
// subscriber that falls SubscriberBuffer chunks behind misses chunks, which
// suits observers such as serial-tail. The ID identifies the channel when
// unsubscribing.
func (s *ChunkReader[T]) Subscribe() (string, chan Chunk) {
	return s.subscribe(false)
}

// SubscribeLossless creates a channel that receives every chunk in order.
// When it is full Monitor waits, so the port is not read until the
// subscriber catches up. The subscriber must keep receiving until it
// unsubscribes or the Monitor context ends.
func (s *ChunkReader[T]) SubscribeLossless() (string, chan Chunk) {
	return s.subscribe(true)
}

func (s *ChunkReader[T]) subscribe(lossless bool) (string, chan Chunk) {
	id := randomID()
	ch := make(chan Chunk, SubscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = &subscriber{ch: ch, lossless: lossless}
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *ChunkReader[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if sub, ok := s.subscribers[id]; ok {
		close(sub.ch)
		delete(s.subscribers, id)
	}
}

// SendCommand writes a complete command frame to the port.
func (s *ChunkReader[T]) SendCommand(frame []byte) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	n, err := s.port.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return ErrWriteFailed
	}
	return nil
}

// Stats returns a snapshot of the traffic counters.
func (s *ChunkReader[T]) Stats() ReaderStats {
	return ReaderStats{
		Chunks:  s.chunks.Load(),
		Bytes:   s.bytes.Load(),
		Dropped: s.dropped.Load(),
	}
}

// Monitor reads from the port until ctx is cancelled, the port reports
// io.EOF (replay files), or a read fails. Each non-empty read is delivered to
// every subscriber: lossless subscribers in full, the others only if they
// have room.
func (s *ChunkReader[T]) Monitor(ctx context.Context) error {
	chunkChan := make(chan Chunk)
	readErrChan := make(chan error, 1)

	// The blocking Read runs on its own goroutine so the loop below can
	// observe cancellation. Closing the port unblocks it.
	go func() {
		defer close(chunkChan)
		buf := make([]byte, s.readSize)
		for {
			n, err := s.port.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case chunkChan <- Chunk{Data: data, Timestamp: s.stamper.Stamp()}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					select {
					case readErrChan <- err:
					case <-ctx.Done():
					}
				}
				return
			}
			// n == 0 with no error is a read timeout; keep polling.
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrChan:
			if s.closing.Load() {
				return nil
			}
			return err

		case chunk, ok := <-chunkChan:
			if !ok {
				select {
				case err := <-readErrChan:
					if s.closing.Load() {
						return nil
					}
					return err
				default:
					return nil
				}
			}
			if s.closing.Load() {
				return nil
			}
			s.chunks.Add(1)
			s.bytes.Add(int64(len(chunk.Data)))

			if err := s.deliver(ctx, chunk); err != nil {
				return err
			}
		}
	}
}

// deliver hands chunk to every subscriber. It returns early only when ctx
// ends or the reader is closed while waiting on a lossless subscriber.
func (s *ChunkReader[T]) deliver(ctx context.Context, chunk Chunk) error {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, sub := range s.subscribers {
		if !sub.lossless {
			select {
			case sub.ch <- chunk:
			default:
				s.dropped.Add(1)
			}
			continue
		}
		select {
		case sub.ch <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		}
	}
	return nil
}

// Close closes all subscriber channels and the port.
func (s *ChunkReader[T]) Close() error {
	s.closing.Store(true)
	s.closeOnce.Do(func() { close(s.done) })

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, sub := range s.subscribers {
		close(sub.ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/packetline/pool"
	"github.com/pithecene-io/packetline/types"
)

// Source yields captured packets. Next returns io.EOF at a clean end.
// An error whose IsFatal method reports false loses one frame only and
// Next may be called again. ipc.Reader satisfies Source.
type Source interface {
	Next(ctx context.Context) (types.Packet, error)
}

// IngestErrorKind classifies Consume failures.
type IngestErrorKind int

const (
	// IngestErrorStream indicates a fatal capture stream error.
	IngestErrorStream IngestErrorKind = iota
	// IngestErrorCanceled indicates the context ended the stream.
	IngestErrorCanceled
	// IngestErrorStopped indicates the pipeline stopped accepting packets.
	IngestErrorStopped
)

// IngestError is returned by Consume.
type IngestError struct {
	Kind IngestErrorKind
	// Consumed is the number of packets handed to parsing before the error.
	Consumed int
	Err      error
}

func (e *IngestError) Error() string {
	return e.Err.Error()
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// IsStreamError returns true if err is a fatal capture stream error.
func IsStreamError(err error) bool {
	var ingErr *IngestError
	return errors.As(err, &ingErr) && ingErr.Kind == IngestErrorStream
}

// Consume reads src to the end on a capture pool worker and ingests every
// packet. It blocks until the stream ends and returns the number of packets
// ingested. Non-fatal stream errors are counted and skipped.
func (c *Coordinator) Consume(ctx context.Context, src Source) (int, error) {
	h, err := pool.Submit(c.pools.Capture(), func() (int, error) {
		return c.consume(ctx, src)
	})
	if err != nil {
		return 0, &IngestError{Kind: IngestErrorStopped, Err: err}
	}
	return h.Wait(context.WithoutCancel(ctx))
}

func (c *Coordinator) consume(ctx context.Context, src Source) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, &IngestError{Kind: IngestErrorCanceled, Consumed: n, Err: err}
		}

		pkt, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Debug("capture stream ended", map[string]any{"packets": n})
				return n, nil
			}
			if ctx.Err() != nil {
				return n, &IngestError{Kind: IngestErrorCanceled, Consumed: n, Err: ctx.Err()}
			}
			c.collector.IncStreamError()
			if !isFatal(err) {
				c.logger.Warn("capture frame skipped", map[string]any{"error": err.Error()})
				continue
			}
			c.logger.Error("capture stream error", map[string]any{
				"error":   err.Error(),
				"packets": n,
			})
			return n, &IngestError{Kind: IngestErrorStream, Consumed: n, Err: fmt.Errorf("capture stream: %w", err)}
		}

		if err := c.Ingest(pkt); err != nil {
			return n, &IngestError{Kind: IngestErrorStopped, Consumed: n, Err: err}
		}
		n++
	}
}

// isFatal treats errors without an IsFatal method as fatal.
func isFatal(err error) bool {
	var classified interface{ IsFatal() bool }
	if errors.As(err, &classified) {
		return classified.IsFatal()
	}
	return true
}

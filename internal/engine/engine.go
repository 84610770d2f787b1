// Package engine defines the contract between the job controller and the
// code that performs the conversion stages.
package engine

import (
	"context"
	"fmt"

	"conversion-job-service/internal/entity"
)

// ProgressSink receives progress samples for the stage being executed.
// Fractions reported by one stage must not decrease.
type ProgressSink func(sample entity.StageProgressSample)

type Document struct {
	Source string
	Title  string
	Items  []string
	Bytes  int64
}

type Audio struct {
	Path     string
	MIME     string
	Bytes    int64
	Checksum string
}

type AssembleInput struct {
	Document    *Document
	Audio       *Audio
	StagingPath string
}

type Package struct {
	Path      string
	ItemCount int
	Bytes     int64
}

// Engine runs one conversion stage per method. Implementations check ctx
// between units of work and return its error once it is done; a unit that
// has started is always finished.
type Engine interface {
	FetchSource(ctx context.Context, sourceURL string, sink ProgressSink) (*Document, error)
	IngestAudio(ctx context.Context, audioPath string, sink ProgressSink) (*Audio, error)
	AssembleOutput(ctx context.Context, in AssembleInput, sink ProgressSink) (*Package, error)
}

// InputError reports a failure intrinsic to the job input.
type InputError struct {
	Stage   string
	Message string
	Err     error
}

func (e *InputError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

func (e *InputError) Unprocessable() bool { return true }

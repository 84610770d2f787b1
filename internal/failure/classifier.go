package failure

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/url"
	"syscall"

	"conversion-job-service/internal/entity"
)

// Unprocessable is implemented by errors whose cause is intrinsic to the
// job input (corrupt audio, empty document, ...).
type Unprocessable interface {
	Unprocessable() bool
}

var guidance = map[entity.ErrorKind]struct {
	message     string
	suggestions []string
}{
	entity.KindValidation: {
		message:     "the request is invalid",
		suggestions: []string{"fix the reported fields and submit a new request"},
	},
	entity.KindResourceLimit: {
		message:     "a resource limit was exceeded",
		suggestions: []string{"reduce the input size below the configured limit", "free disk space in the destination directory"},
	},
	entity.KindNetwork: {
		message:     "the source document could not be fetched",
		suggestions: []string{"check network connectivity and retry", "verify the source URL is reachable"},
	},
	entity.KindEngine: {
		message:     "the input could not be converted",
		suggestions: []string{"verify the source document and audio file are not corrupt"},
	},
	entity.KindCancelled: {
		message: "the job was cancelled",
	},
	entity.KindInternal: {
		message:     "an unexpected internal error occurred",
		suggestions: []string{"retry the job; report the problem if it persists"},
	},
}

// Classify maps any error onto exactly one taxonomy kind. Unrecognised
// errors (including nil) become KindInternal.
func Classify(err error) *entity.JobError {
	kind, msg, suggestions := classify(err)

	g := guidance[kind]
	if msg == "" {
		msg = g.message
	}
	if len(suggestions) == 0 {
		suggestions = g.suggestions
	}

	return &entity.JobError{
		Kind:        kind,
		Message:     msg,
		Suggestions: append([]string(nil), suggestions...),
	}
}

func classify(err error) (entity.ErrorKind, string, []string) {
	if err == nil {
		return entity.KindInternal, "", nil
	}

	var typed *Error
	if errors.As(err, &typed) && typed != nil && isKnownKind(typed.Kind) {
		return typed.Kind, typed.Message, typed.Suggestions
	}

	if errors.Is(err, context.Canceled) {
		return entity.KindCancelled, "", nil
	}

	if errors.Is(err, ErrTooLarge) ||
		errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EDQUOT) ||
		errors.Is(err, syscall.EFBIG) {
		return entity.KindResourceLimit, "", nil
	}

	if isNetwork(err) {
		return entity.KindNetwork, "", nil
	}

	var up Unprocessable
	if errors.As(err, &up) && up.Unprocessable() {
		return entity.KindEngine, err.Error(), nil
	}

	if errors.Is(err, fs.ErrPermission) {
		return entity.KindInternal, "permission denied while accessing job files",
			[]string{"check file system permissions for the audio file and destination"}
	}

	return entity.KindInternal, "", nil
}

func isNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isKnownKind(kind entity.ErrorKind) bool {
	_, ok := guidance[kind]
	return ok
}

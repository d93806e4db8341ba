package wake

import (
	"errors"
	"strings"
)

// Fragment is one transcript fragment from the streaming source. Interim and
// final fragments are both delivered.
type Fragment struct {
	Transcript string
	Confidence float64
	IsFinal    bool
}

// Source abstracts a continuous streaming transcription engine. It must
// tolerate repeated start/stop cycles.
type Source interface {
	Start() error
	Stop() error

	// Active reports whether the source is currently delivering results.
	// Streaming engines can die silently; the detector polls this.
	Active() bool

	SetResultHandler(func(Fragment))
	SetErrorHandler(func(code string))
}

// ErrAlreadyStarted is reported by a Source whose underlying engine was
// already running. The detector treats it as success.
var ErrAlreadyStarted = errors.New("transcription source already started")

// isAlreadyStarted matches the sentinel plus the message shape foreign
// sources tend to use.
func isAlreadyStarted(err error) bool {
	if errors.Is(err, ErrAlreadyStarted) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already started")
}

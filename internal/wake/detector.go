// Package wake implements continuous activation-phrase listening on top of a
// streaming transcription source.
//
// The detector is a two-state machine (Idle, Listening). Matching a fragment
// does not change state: the wake callback fires and scanning continues, so
// repeated fragments each re-trigger. Debouncing is the caller's concern.
package wake

import (
	"strings"
	"sync"
	"time"

	"seven/internal/fuzzy"
	"seven/internal/logging"
)

// Config holds detector settings.
type Config struct {
	// Phrase is the activation phrase. An empty phrase never matches.
	Phrase string

	// Threshold is the per-word similarity threshold. Lower values are
	// deliberately biased toward recall over precision.
	Threshold float64

	// LivenessInterval is how often the supervision loop verifies the
	// source is still active.
	LivenessInterval time.Duration

	// RestartBackoff is the delay before restarting after a source error.
	RestartBackoff time.Duration
}

// State is a snapshot of the detector's listening state.
type State struct {
	Listening   bool
	LastHeardAt time.Time
}

// Detector supervises a transcription source and fires a callback whenever
// the activation phrase is heard.
type Detector struct {
	mu     sync.Mutex
	cfg    Config
	source Source
	onWake func(transcript string)

	listening   bool
	lastHeardAt time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewDetector creates a detector bound to the given source. The wake callback
// is invoked once per matching fragment, on the source's delivery goroutine.
func NewDetector(cfg Config, source Source, onWake func(transcript string)) *Detector {
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = 5 * time.Second
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = time.Second
	}
	d := &Detector{
		cfg:    cfg,
		source: source,
		onWake: onWake,
	}
	source.SetResultHandler(d.handleResult)
	source.SetErrorHandler(d.handleError)
	return d
}

// Start transitions to Listening. A no-op when already listening. A source
// that reports it was already started is treated as success.
func (d *Detector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.listening {
		return nil
	}

	if err := d.source.Start(); err != nil && !isAlreadyStarted(err) {
		return err
	}

	d.listening = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	go d.supervise(d.stopCh, d.doneCh)

	logging.Wake("listening for %q (threshold %.2f)", d.cfg.Phrase, d.cfg.Threshold)
	return nil
}

// Stop transitions to Idle, cancels supervision and resets the wake state.
// With silent set, the stop-induced abort from the source is not reported;
// this is the normal path when handing the microphone to voice capture.
func (d *Detector) Stop(silent bool) {
	d.mu.Lock()
	if !d.listening {
		d.mu.Unlock()
		return
	}
	d.listening = false
	d.lastHeardAt = time.Time{}
	close(d.stopCh)
	done := d.doneCh
	d.mu.Unlock()

	<-done

	if err := d.source.Stop(); err != nil && !silent {
		logging.WakeWarn("source stop: %v", err)
	}
	logging.Wake("stopped listening")
}

// State returns a snapshot of the listening state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return State{Listening: d.listening, LastHeardAt: d.lastHeardAt}
}

// handleResult scans one transcript fragment for the activation phrase.
func (d *Detector) handleResult(f Fragment) {
	transcript := strings.TrimSpace(f.Transcript)
	if transcript == "" {
		return
	}

	d.mu.Lock()
	if !d.listening {
		// In-flight fragment from a source we already stopped.
		d.mu.Unlock()
		return
	}
	d.lastHeardAt = time.Now()
	phrase := d.cfg.Phrase
	threshold := d.cfg.Threshold
	cb := d.onWake
	d.mu.Unlock()

	if phrase == "" {
		return
	}

	if fuzzy.ContainsTarget(transcript, phrase, threshold) {
		logging.Wake("activation heard in %q (final=%v)", transcript, f.IsFinal)
		if cb != nil {
			cb(transcript)
		}
	}
}

// handleError handles a source error. "aborted" is the expected result of a
// deliberate stop and is swallowed; anything else restarts the source after
// a fixed backoff.
func (d *Detector) handleError(code string) {
	d.mu.Lock()
	listening := d.listening
	stop := d.stopCh
	backoff := d.cfg.RestartBackoff
	d.mu.Unlock()

	if !listening {
		return
	}
	if code == "aborted" {
		logging.WakeDebug("source aborted (expected during handoff)")
		return
	}

	logging.WakeWarn("source error %q, restarting in %v", code, backoff)
	go func() {
		t := time.NewTimer(backoff)
		defer t.Stop()
		select {
		case <-stop:
		case <-t.C:
			d.restart()
		}
	}()
}

// supervise periodically verifies the source is still delivering. A source
// that died silently while we believe we are listening is restarted without
// surfacing a user-visible error.
func (d *Detector) supervise(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.cfg.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.mu.Lock()
			listening := d.listening
			d.mu.Unlock()
			if listening && !d.source.Active() {
				logging.WakeWarn("source went silent, restarting")
				d.restart()
			}
		}
	}
}

// restart cycles the source if we are still supposed to be listening.
func (d *Detector) restart() {
	d.mu.Lock()
	if !d.listening {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	_ = d.source.Stop()
	if err := d.source.Start(); err != nil && !isAlreadyStarted(err) {
		logging.WakeWarn("restart failed: %v", err)
	}
}

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"seven/internal/wake"
)

// stdinSource adapts typed lines to the streaming transcription contract so
// the detector can be exercised without a microphone.
type stdinSource struct {
	mu       sync.Mutex
	onResult func(wake.Fragment)
	onError  func(string)
	active   bool
}

func (s *stdinSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return wake.ErrAlreadyStarted
	}
	s.active = true
	return nil
}

func (s *stdinSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	return nil
}

func (s *stdinSource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *stdinSource) SetResultHandler(f func(wake.Fragment)) { s.onResult = f }
func (s *stdinSource) SetErrorHandler(f func(string))         { s.onError = f }

func (s *stdinSource) deliver(line string) {
	if s.onResult != nil {
		s.onResult(wake.Fragment{Transcript: line, Confidence: 1.0, IsFinal: true})
	}
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	source := &stdinSource{}
	detector := wake.NewDetector(wake.Config{
		Phrase:           cfg.Wake.Phrase,
		Threshold:        cfg.Wake.Threshold,
		LivenessInterval: cfg.GetLivenessInterval(),
		RestartBackoff:   cfg.GetRestartBackoff(),
	}, source, func(transcript string) {
		fmt.Println(sevenStyle.Render("  ✓ wake!") + faintStyle.Render(" heard in: "+transcript))
	})

	if err := detector.Start(); err != nil {
		return err
	}
	defer detector.Stop(true)

	fmt.Printf("Listening for %q (threshold %.2f). Type transcript fragments; Ctrl+D to stop.\n",
		cfg.Wake.Phrase, cfg.Wake.Threshold)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		source.deliver(line)
	}
	return scanner.Err()
}

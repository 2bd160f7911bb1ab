// Package sink writes a stage's latency vector to a named file in a result
// directory. Writes are atomic: each artifact is written to a temp file in
// the same directory and renamed into place, so a reader never observes a
// truncated file.
package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrSinkFailure wraps any failure to persist a stage artifact.
var ErrSinkFailure = errors.New("sink: write failed")

// Sink writes per-stage latency artifacts into a result directory.
type Sink struct {
	dir string
}

// New returns a Sink rooted at dir. dir must already exist; a missing
// result directory is an error at plan start, not something the sink
// creates on the run's behalf.
func New(dir string) (*Sink, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: result directory: %v", ErrSinkFailure, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSinkFailure, dir)
	}
	return &Sink{dir: dir}, nil
}

// Write persists samples (in nanoseconds, completion order) as the JSON
// artifact for the given stage index and nominal rate, atomically.
func (s *Sink) Write(stageIndex int, nominalRateSPS float64, samplesNS []int64) error {
	if samplesNS == nil {
		samplesNS = []int64{}
	}
	body, err := json.Marshal(samplesNS)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrSinkFailure, err)
	}

	name := filename(stageIndex, nominalRateSPS)
	final := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrSinkFailure, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write: %v", ErrSinkFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync: %v", ErrSinkFailure, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrSinkFailure, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return fmt.Errorf("%w: rename: %v", ErrSinkFailure, err)
	}
	return nil
}

func filename(stageIndex int, nominalRateSPS float64) string {
	return fmt.Sprintf("stage-%04d-rate-%d.json", stageIndex, int64(nominalRateSPS))
}

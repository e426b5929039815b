// Package counters reads and resets the passenger counter file maintained by the
// vision pipeline. The file holds three whitespace-separated integers: in, out and
// the camera liveness flag.
package counters

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Counts is the content of the counter file.
type Counts struct {
	In   int
	Out  int
	Flag int
}

// Onboard returns the number of passengers currently on board.
func (c Counts) Onboard() int {
	return c.In - c.Out
}

// CameraConnected returns the camera liveness flag written by the vision pipeline.
func (c Counts) CameraConnected() int {
	return c.Flag
}

// Read parses the counter file at path.
func Read(path string) (Counts, error) {
	f, err := os.Open(path)
	if err != nil {
		return Counts{}, fmt.Errorf("counters: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)

	var vals [3]int
	for i := range vals {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return Counts{}, fmt.Errorf("counters: %w", err)
			}
			return Counts{}, fmt.Errorf("counters: %s has %d values, want 3", path, i)
		}
		v, err := strconv.Atoi(sc.Text())
		if err != nil {
			return Counts{}, fmt.Errorf("counters: value %d: %w", i+1, err)
		}
		vals[i] = v
	}
	return Counts{In: vals[0], Out: vals[1], Flag: vals[2]}, nil
}

// Reset writes in=0, out=0, flag=1, one value per line. The file is replaced atomically.
func Reset(path string) error {
	return Write(path, Counts{In: 0, Out: 0, Flag: 1})
}

// Write replaces the counter file with c.
func Write(path string, c Counts) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".counts-*")
	if err != nil {
		return fmt.Errorf("counters: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := fmt.Fprintf(tmp, "%d\n%d\n%d\n", c.In, c.Out, c.Flag); err != nil {
		tmp.Close()
		return fmt.Errorf("counters: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("counters: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("counters: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("counters: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("counters: %w", err)
	}
	return nil
}

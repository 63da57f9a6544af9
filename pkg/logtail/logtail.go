// Package logtail attaches to project log files: either a bounded dump of
// the tail or a follow loop driven by filesystem notifications.
package logtail

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/snackbag/hostctl/pkg/telemetry"
)

// DefaultTailLines is how many trailing lines Dump shows.
const DefaultTailLines = 50

// Dump writes the last n lines of each file to out. Missing files are
// reported, not fatal: a freshly created project may not have logged yet.
func Dump(out io.Writer, files []string, n int) error {
	if n <= 0 {
		n = DefaultTailLines
	}
	for _, path := range files {
		fmt.Fprintf(out, "==> %s <==\n", path)
		if err := dumpOne(out, path, n); err != nil {
			fmt.Fprintf(out, "(%v)\n", err)
		}
	}
	return nil
}

func dumpOne(out io.Writer, path string, n int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	lines := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(lines) == n {
			copy(lines, lines[1:])
			lines = lines[:n-1]
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	return nil
}

// Follow streams appended data from path to out until ctx is cancelled.
// The file may not exist yet; Follow waits for it to appear.
func Follow(ctx context.Context, out io.Writer, path string) error {
	logger := telemetry.NewComponentLogger("logtail")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: the log file itself may be rotated or not
	// exist yet.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	var f *os.File
	var offset int64
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	open := func() {
		file, err := os.Open(path)
		if err != nil {
			return
		}
		if f != nil {
			f.Close()
		}
		f = file
		// Start at the end: follow shows new output, Dump covers the
		// past.
		offset, _ = f.Seek(0, io.SeekEnd)
	}

	drain := func() {
		if f == nil {
			return
		}
		// Rotation truncates; restart from the top when the file shrank.
		if info, err := f.Stat(); err == nil && info.Size() < offset {
			offset, _ = f.Seek(0, io.SeekStart)
		}
		n, _ := io.Copy(out, f)
		offset += n
	}

	open()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Create):
				open()
				drain()
			case event.Op.Has(fsnotify.Write):
				if f == nil {
					open()
				}
				drain()
			case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
				if f != nil {
					f.Close()
					f = nil
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

package lproc

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Tail implements the `tail -f`-analog described in spec.md §4.B.2: it
// streams existing content immediately, then blocks for appended data,
// emitting complete lines as they appear. It never exits on EOF; the loop
// ends when done is closed, when the watcher's channels close, or on a
// watcher error.
func Tail(path string, lines chan<- string, done <-chan struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	// pending holds an unterminated tail until its newline is appended.
	var pending string
	emit := func() error {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				pending += line
				return nil
			}
			select {
			case lines <- pending + line:
				pending = ""
			case <-done:
				return io.EOF
			}
		}
	}

	if err := emit(); err == io.EOF {
		return nil
	}

	for {
		select {
		case <-done:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := emit(); err == io.EOF {
					return nil
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok || err != nil {
				return err
			}
		}
	}
}

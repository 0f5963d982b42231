package pipeline

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchBlocklistFile reloads the blocklist whenever path changes on
// disk. Editors that replace the file are handled by re-adding the
// watch; bursts of events collapse into one debounced reload.
func WatchBlocklistFile(bl *Blocklist, path string) error {
	if path == "" {
		return nil
	}
	if err := bl.LoadFile(path); err != nil {
		slog.Error("blocklist initial load", "path", path, "err", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						slog.Error("blocklist watch re-add", "path", ev.Name, "err", err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				if err := bl.LoadFile(path); err != nil {
					slog.Error("blocklist reload failed", "path", path, "err", err)
					continue
				}
				slog.Info("blocklist reloaded", "path", path, "entries", bl.Len())
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("blocklist watch error", "err", err)
			}
		}
	}()
	return nil
}

package bot

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the event bursts editors produce on save.
const watchDebounce = 250 * time.Millisecond

// watcher reloads the settings file when it changes on disk. The watch is
// on the parent directory so atomic save strategies (write temp, rename)
// are still seen. The bot's own saves trigger a reload too; merging a
// document the tree already matches changes nothing and fires no observers.
type watcher struct {
	bot     *Bot
	fsw     *fsnotify.Watcher
	done    chan struct{}
	stopped sync.Once

	mu      sync.Mutex
	pending *time.Timer
}

func newWatcher(b *Bot) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(b.opts.SettingsPath)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &watcher{bot: b, fsw: fsw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *watcher) run() {
	target := filepath.Clean(w.bot.opts.SettingsPath)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.schedule()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.bot.logger.Error().Err(err).Msg("settings watcher error")
		}
	}
}

// schedule arms the debounce timer, restarting it if already armed.
func (w *watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(watchDebounce, w.reload)
}

func (w *watcher) reload() {
	if err := w.bot.mergeSettingsFile(); err != nil {
		w.bot.logger.Error().Err(err).Msg("settings reload failed")
		return
	}
	w.bot.logger.Info().Msg("settings reloaded from disk")
}

func (w *watcher) stop() {
	w.stopped.Do(func() {
		close(w.done)
		w.fsw.Close()
		w.mu.Lock()
		if w.pending != nil {
			w.pending.Stop()
		}
		w.mu.Unlock()
	})
}

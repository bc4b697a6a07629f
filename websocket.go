package main

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/Kighlander1975/dbe-exercise-file-upload/logging"
	"github.com/Kighlander1975/dbe-exercise-file-upload/scan"
)

const (
	wsChunkSize    = 10
	watchDebounce  = 250 * time.Millisecond
	sortByName     = "name"
	sortBySize     = "size"
	sortByModified = "mtime"
)

// wsRequest asks for the listing of a directory.
type wsRequest struct {
	Path      string `json:"path"`
	RequestID int    `json:"requestId"`
	SortBy    string `json:"sortBy"`
	Dir       string `json:"dir"`
}

// wsMessage carries one chunk of a listing. An empty Items slice ends the
// listing for RequestID. Refresh is set when the listing is re-sent after
// the directory changed.
type wsMessage struct {
	RequestID int         `json:"requestId"`
	Items     []entryView `json:"items"`
	Refresh   bool        `json:"refresh,omitempty"`
}

func isWebSocketUpgrade(c *fiber.Ctx) bool {
	return websocket.IsWebSocketUpgrade(c)
}

func (s *server) websocketHandler() fiber.Handler {
	return websocket.New(s.handleWebSocket)
}

// wsSession serializes writes to one connection; listings are pushed both
// from the read loop and from the directory watcher.
type wsSession struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	watcher dirWatcher
	logger  *zap.Logger
}

func (s *server) handleWebSocket(c *websocket.Conn) {
	logger := logging.L()
	if l, ok := c.Locals("logger").(*zap.Logger); ok {
		logger = l
	}
	sess := &wsSession{conn: c, logger: logger}
	defer c.Close()
	defer sess.watcher.close()

	logger.Debug("websocket connected")

	for {
		var req wsRequest
		if err := c.ReadJSON(&req); err != nil {
			logger.Debug("websocket closed", zap.Error(err))
			return
		}

		dir, err := s.browsePath(req.Path)
		if err != nil {
			logger.Debug("websocket listing refused", zap.String("path", req.Path), zap.Error(err))
			if err := sess.send(req.RequestID, nil, false); err != nil {
				return
			}
			continue
		}

		if err := sess.send(req.RequestID, s.listing(dir, req.SortBy, req.Dir), false); err != nil {
			logger.Debug("websocket write failed", zap.Error(err))
			return
		}

		err = sess.watcher.watch(dir, func() {
			s.treeCache.Clear()
			if err := sess.send(req.RequestID, s.listing(dir, req.SortBy, req.Dir), true); err != nil {
				logger.Debug("websocket refresh failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Debug("directory watch unavailable", zap.String("path", dir), zap.Error(err))
		}
	}
}

// send writes items in chunks of wsChunkSize followed by an empty
// completion message.
func (ws *wsSession) send(requestID int, items []entryView, refresh bool) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	for i := 0; i < len(items); i += wsChunkSize {
		end := min(i+wsChunkSize, len(items))
		if err := ws.conn.WriteJSON(wsMessage{RequestID: requestID, Items: items[i:end], Refresh: refresh}); err != nil {
			return err
		}
	}
	return ws.conn.WriteJSON(wsMessage{RequestID: requestID, Items: []entryView{}, Refresh: refresh})
}

// listing returns the rows of dir with "." and ".." first, then folders,
// then files, each group ordered by sortBy ("name", "size" or "mtime") and
// reversed when order is "desc".
func (s *server) listing(dir, sortBy, order string) []entryView {
	entries := s.entryViews(scan.List(dir, s.hidden))

	var special, folders, files []entryView
	for _, e := range entries {
		switch {
		case e.IsSpecial:
			special = append(special, e)
		case e.IsDir:
			folders = append(folders, e)
		default:
			files = append(files, e)
		}
	}

	sortItems := func(items []entryView) {
		sort.SliceStable(items, func(i, j int) bool {
			a, b := items[i], items[j]
			if order == "desc" {
				a, b = b, a
			}
			switch sortBy {
			case sortBySize:
				return a.Size < b.Size
			case sortByModified:
				return a.ModTime.Before(b.ModTime)
			default:
				return strings.ToLower(a.Name) < strings.ToLower(b.Name)
			}
		})
	}
	sortItems(folders)
	sortItems(files)

	result := make([]entryView, 0, len(entries))
	result = append(result, special...)
	result = append(result, folders...)
	return append(result, files...)
}

// dirWatcher watches a single directory at a time; a new watch replaces
// the previous one.
type dirWatcher struct {
	mu      sync.Mutex
	current *fsnotify.Watcher
	cancel  context.CancelFunc
}

func (m *dirWatcher) watch(dir string, onChange func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.current = watcher
	m.cancel = cancel

	go watchDirWithContext(ctx, watcher, onChange)
	return nil
}

func (m *dirWatcher) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *dirWatcher) stopLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
}

// watchDirWithContext calls onChange once a burst of events has settled.
// onChange is never called after ctx is done.
func watchDirWithContext(ctx context.Context, watcher *fsnotify.Watcher, onChange func()) {
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		onChange()
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(watchDebounce, fire)
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.L().Debug("watcher error", zap.Error(err))
		}
	}
}

package broadcast

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/shared/id"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/shared/paths"
)

// DefaultPollInterval is how often a FileBus looks for new messages.
const DefaultPollInterval = 250 * time.Millisecond

// record is one line of the spool file.
type record struct {
	Origin string `json:"origin"`
	Type   string `json:"type"`
}

// FileBus is a broadcast bus shared across processes through an
// append-only JSON-lines spool file. Every instance polls the file and
// dispatches lines appended after it opened, skipping its own.
type FileBus struct {
	path     string
	origin   string
	interval time.Duration
	logger   *zap.Logger
	subs     subscribers

	mu     sync.Mutex
	offset int64
	closed bool

	stop chan struct{}
	done chan struct{}
}

// OpenFileBus opens the channel name inside dir.
func OpenFileBus(dir, name string, interval time.Duration, logger *zap.Logger) (*FileBus, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	profile := paths.Profile{Dir: dir}
	path, err := profile.Broadcast(name)
	if err != nil {
		return nil, err
	}
	if err := profile.Ensure(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open broadcast spool: %w", err)
	}
	info, err := f.Stat()
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to stat broadcast spool: %w", err)
	}

	b := &FileBus{
		path:     path,
		origin:   id.Default().Generate().String(),
		interval: interval,
		logger:   logger,
		offset:   info.Size(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.run()
	return b, nil
}

// Publish appends msg to the spool.
func (b *FileBus) Publish(msg Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	line, err := sonic.Marshal(record{Origin: b.origin, Type: msg.Type})
	if err != nil {
		return fmt.Errorf("failed to encode broadcast: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open broadcast spool: %w", err)
	}
	defer f.Close()

	// One write per record keeps appends from interleaving.
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to append broadcast: %w", err)
	}
	return nil
}

// Subscribe registers h and returns a function that removes it.
func (b *FileBus) Subscribe(h Handler) func() {
	return b.subs.add(h)
}

// Close stops polling and drops all subscribers.
func (b *FileBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stop)
	<-b.done
	b.subs.clear()
	return nil
}

func (b *FileBus) run() {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if err := b.poll(); err != nil {
				b.logger.Warn("broadcast poll failed", zap.String("path", b.path), zap.Error(err))
			}
		}
	}
}

func (b *FileBus) poll() error {
	f, err := os.Open(b.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	b.mu.Lock()
	offset := b.offset
	b.mu.Unlock()

	if info.Size() < offset {
		// Spool was truncated by someone; start from the top.
		offset = 0
	}
	if info.Size() == offset {
		return nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	chunk, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	// Only consume complete lines; a partial tail is picked up next poll.
	end := bytes.LastIndexByte(chunk, '\n')
	if end < 0 {
		return nil
	}
	complete := chunk[:end+1]

	b.mu.Lock()
	b.offset = offset + int64(len(complete))
	b.mu.Unlock()

	for _, line := range bytes.Split(complete, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := sonic.Unmarshal(line, &rec); err != nil {
			b.logger.Warn("dropping malformed broadcast line", zap.Error(err))
			continue
		}
		if rec.Origin == b.origin {
			continue
		}
		b.subs.dispatch(Message{Type: rec.Type})
	}
	return nil
}

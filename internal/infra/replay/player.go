// Package replay feeds recorded relay frames into the pipeline when no live
// relay is connected.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"orderflow_go/internal/domain"
)

// BaseInterval is the gap between two frames at speed 1.
const BaseInterval = time.Second

// Load reads recorded frames from path: a JSON array or one JSON frame per line.
func Load(path string) ([]*domain.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses frames from r. Records whose type is not a feed are skipped.
func Decode(r io.Reader) ([]*domain.Frame, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if first == '[' {
		if err := json.NewDecoder(br).Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode frame array: %w", err)
		}
	} else {
		sc := bufio.NewScanner(br)
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for line := 1; sc.Scan(); line++ {
			b := bytes.TrimSpace(sc.Bytes())
			if len(b) == 0 {
				continue
			}
			if !json.Valid(b) {
				return nil, fmt.Errorf("line %d: %w", line, domain.ErrInvalidValue)
			}
			raw = append(raw, append(json.RawMessage(nil), b...))
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	}

	frames := make([]*domain.Frame, 0, len(raw))
	for i, msg := range raw {
		var fr domain.Frame
		if err := json.Unmarshal(msg, &fr); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		switch fr.Type {
		case "", domain.MsgLiveFeed, domain.MsgInitialFeed:
			frames = append(frames, &fr)
		}
	}
	return frames, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// Player cycles through recorded frames at BaseInterval/speed. It pauses
// while a live relay is connected.
type Player struct {
	frames []*domain.Frame
	sink   domain.FrameSink
	logger *slog.Logger

	mu      sync.RWMutex
	speed   float64
	live    bool
	running bool
	next    int
	changed chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPlayer creates a player over frames; speed <= 0 means 1.
func NewPlayer(frames []*domain.Frame, speed float64, sink domain.FrameSink, logger *slog.Logger) *Player {
	if speed <= 0 {
		speed = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		frames:  frames,
		sink:    sink,
		logger:  logger.With(slog.String("component", "replay")),
		speed:   speed,
		changed: make(chan struct{}, 1),
	}
}

// Connect starts playback. It satisfies domain.FeedSource.
func (p *Player) Connect(ctx context.Context) error {
	if len(p.frames) == 0 {
		return fmt.Errorf("replay: no frames: %w", domain.ErrMissingField)
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.Info("replay started", slog.Int("frames", len(p.frames)), slog.Float64("speed", p.Speed()))
	return nil
}

// Disconnect stops playback and waits for the loop to exit.
func (p *Player) Disconnect() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

// IsConnected reports whether playback is running and not paused.
func (p *Player) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running && !p.live
}

// SetLive pauses playback while a live relay is connected and resumes it after.
func (p *Player) SetLive(live bool) {
	p.mu.Lock()
	changed := p.live != live
	p.live = live
	p.mu.Unlock()
	if changed {
		p.logger.Info("replay live mode changed", slog.Bool("live", live))
		p.notify()
	}
}

// SetSpeed changes the playback rate; non-positive values are ignored.
func (p *Player) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	p.mu.Lock()
	p.speed = speed
	p.mu.Unlock()
	p.notify()
}

func (p *Player) Speed() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.speed
}

func (p *Player) notify() {
	select {
	case p.changed <- struct{}{}:
	default:
	}
}

func (p *Player) interval() (time.Duration, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(float64(BaseInterval) / p.speed), p.live
}

func (p *Player) loop(ctx context.Context) {
	defer p.wg.Done()

	for {
		d, live := p.interval()
		if live {
			select {
			case <-ctx.Done():
				return
			case <-p.changed:
				continue
			}
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.changed:
			timer.Stop()
			continue
		case <-timer.C:
		}

		p.sink.SubmitFrame(p.frames[p.next])
		p.next = (p.next + 1) % len(p.frames)
	}
}

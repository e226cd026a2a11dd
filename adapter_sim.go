package canconf

import (
	"context"
	"fmt"
	"sync"

	"github.com/roffe/canconf/pkg/playback"
)

// Sim replays a recorded log instead of talking to hardware. The port
// passed to Init is the log file path.
type Sim struct {
	*BaseAdapter

	mu      sync.Mutex
	player  *playback.Player
	running bool
	loop    bool
}

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "Sim",
		Description:        "replays a recorded CSV log, port is the file path",
		RequiresSerialPort: false,
		New:                NewSim,
	}); err != nil {
		panic(err)
	}
}

func NewSim(cfg *AdapterConfig) (Adapter, error) {
	return &Sim{
		BaseAdapter: NewBaseAdapter("Sim", cfg),
		loop:        true,
	}, nil
}

// NewSimPlayer builds a Sim around an already loaded player.
func NewSimPlayer(player *playback.Player, cfg *AdapterConfig) *Sim {
	return &Sim{
		BaseAdapter: NewBaseAdapter("Sim", cfg),
		player:      player,
		loop:        player.Loop(),
	}
}

func (s *Sim) Init(ctx context.Context, port string, rate Bitrate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyStarted
	}
	if port == "" && s.player != nil {
		return nil
	}
	l, err := playback.Load(port, func(format string, args ...any) {
		s.cfg.OnMessage(fmt.Sprintf(format, args...))
	})
	if err != nil {
		return err
	}
	s.player = playback.NewPlayer(l)
	s.player.SetLoop(s.loop)
	s.Info("loaded " + l.Name)
	return nil
}

func (s *Sim) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return ErrNotInitialized
	}
	if s.running {
		return ErrAlreadyStarted
	}
	s.newCycle()
	s.player.SetHandler(s.emit)
	if err := s.player.Play(); err != nil {
		return err
	}
	s.running = true
	return nil
}

func (s *Sim) emit(r playback.Record) {
	frameType := Incoming
	if r.Direction == playback.Tx {
		frameType = Outgoing
	}
	s.deliver(NewFrame(r.ID, r.Data, frameType))
}

// Stop pauses playback, a following Start resumes where it left off.
func (s *Sim) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	player := s.player
	s.running = false
	s.mu.Unlock()
	// Pause waits for an in-flight emit, which may call back into s
	player.Pause()
	player.SetHandler(nil)
	return nil
}

// Write accepts frames while running and drops them.
func (s *Sim) Write(frame *CANFrame) error {
	if len(frame.Data) > MaxPayload {
		return ErrPayloadTooLong
	}
	if !s.Connected() {
		return ErrNotConnected
	}
	s.Debug("sim tx " + frame.String())
	return nil
}

func (s *Sim) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Player exposes playback control.
func (s *Sim) Player() *playback.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

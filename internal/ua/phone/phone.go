// Package phone is the top-level user agent. It owns the single account of
// the process, hands out call sessions and exposes the engine's device and
// codec helpers.
package phone

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sebas/softphone/internal/ua/engine"
	"github.com/sebas/softphone/internal/ua/session"
)

// Phone is the user agent facade.
type Phone struct {
	log       *slog.Logger
	eng       engine.Engine
	dir       *session.Directory
	playerCfg session.PlayerConfig

	mu      sync.Mutex
	account *session.RegistrationSession

	obsMu        sync.Mutex
	nextObs      int
	accountObs   map[int]func(session.AccountEvent)
	callObs      map[int]func(*session.CallSession)
	unsubAccount func()
}

// Option configures a Phone.
type Option func(*Phone)

// WithLogger sets the logger passed down to every session.
func WithLogger(log *slog.Logger) Option {
	return func(p *Phone) { p.log = log }
}

// WithDirectory sets the call directory shared by all calls.
func WithDirectory(d *session.Directory) Option {
	return func(p *Phone) { p.dir = d }
}

// WithPlayerConfig sets the default player and recorder for every call.
func WithPlayerConfig(cfg session.PlayerConfig) Option {
	return func(p *Phone) { p.playerCfg = cfg }
}

// New creates a phone over eng.
func New(eng engine.Engine, opts ...Option) *Phone {
	p := &Phone{
		eng:        eng,
		accountObs: make(map[int]func(session.AccountEvent)),
		callObs:    make(map[int]func(*session.CallSession)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.dir == nil {
		p.dir = session.NewDirectory()
	}
	return p
}

// Directory returns the call directory.
func (p *Phone) Directory() *session.Directory { return p.dir }

// PlayerConfig returns the default player configuration.
func (p *Phone) PlayerConfig() session.PlayerConfig { return p.playerCfg }

// Account returns the current registration session, or nil before the
// first MakeAccount.
func (p *Phone) Account() *session.RegistrationSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.account
}

// MakeAccount registers cfg. The first call creates the account; later calls
// modify it and re-register through the same session.
func (p *Phone) MakeAccount(cfg engine.AccountConfig) (*session.Completion, error) {
	p.mu.Lock()
	rs := p.account
	if rs == nil {
		rs = session.NewRegistrationSession(p.eng,
			session.WithLogger(p.log),
			session.WithDirectory(p.dir),
			session.WithPlayerConfig(p.playerCfg),
		)
		p.account = rs
		p.unsubAccount = rs.OnEvent(p.onAccountEvent)
	}
	p.mu.Unlock()

	p.log.Info("[Phone] Registering account", "account", cfg.IDURI, "registrar", cfg.Registrar)
	return rs.Register(cfg)
}

// RemoveAccount unregisters the account. It fails with session.ErrNoAccount
// before MakeAccount and is a no-op when the account is already offline.
func (p *Phone) RemoveAccount() (*session.Completion, error) {
	rs := p.Account()
	if rs == nil {
		return nil, session.ErrNoAccount
	}
	p.log.Info("[Phone] Removing account", "account", rs.ID(), "state", rs.State().String())
	return rs.Unregister()
}

// RenewAccount refreshes the registration of a Registered account.
func (p *Phone) RenewAccount() error {
	rs := p.Account()
	if rs == nil {
		return session.ErrNoAccount
	}
	p.log.Info("[Phone] Renewing registration", "account", rs.ID())
	return rs.Renew()
}

// MakeCall places a call from the current account.
func (p *Phone) MakeCall(destination string, opts session.MakeCallOptions) (*session.CallSession, error) {
	rs := p.Account()
	if rs == nil {
		return nil, session.ErrNoAccount
	}
	cs, err := rs.MakeCall(destination, opts)
	if err != nil {
		return nil, err
	}
	p.notifyCall(cs)
	return cs, nil
}

// Call returns the live call with the engine id id.
func (p *Phone) Call(id string) (*session.CallSession, bool) {
	return p.dir.Lookup(id)
}

// CreatePlayer creates a player that is already playing path.
func (p *Phone) CreatePlayer(path string) (engine.Player, error) {
	player, err := p.eng.CreatePlayer()
	if err != nil {
		return nil, fmt.Errorf("create player: %w", err)
	}
	if err := player.Play(path); err != nil {
		_ = player.Close()
		return nil, fmt.Errorf("play %s: %w", path, err)
	}
	return player, nil
}

// CreateRecorder creates a recorder writing to path.
func (p *Phone) CreateRecorder(path string) (engine.Recorder, error) {
	r, err := p.eng.CreateRecorder(path)
	if err != nil {
		return nil, fmt.Errorf("create recorder: %w", err)
	}
	return r, nil
}

// AudioDevices lists the engine's audio devices.
func (p *Phone) AudioDevices() ([]engine.DeviceInfo, error) {
	return p.eng.AudioDevices()
}

// Codecs lists the engine's codecs with their priorities.
func (p *Phone) Codecs() ([]engine.CodecInfo, error) {
	return p.eng.Codecs()
}

// SetCodecPriority changes one codec's priority. 0 disables the codec.
func (p *Phone) SetCodecPriority(codecID string, priority int) error {
	if priority < 0 || priority > 255 {
		return fmt.Errorf("codec %s: priority %d out of range", codecID, priority)
	}
	return p.eng.SetCodecPriority(codecID, priority)
}

// OnAccountEvent registers a listener for the account's events. It survives
// account modification. Returns an unsubscribe func.
func (p *Phone) OnAccountEvent(fn func(session.AccountEvent)) func() {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	id := p.nextObs
	p.nextObs++
	p.accountObs[id] = fn
	return func() {
		p.obsMu.Lock()
		delete(p.accountObs, id)
		p.obsMu.Unlock()
	}
}

// OnCall registers a listener invoked for every new call session, placed or
// received. Returns an unsubscribe func.
func (p *Phone) OnCall(fn func(*session.CallSession)) func() {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	id := p.nextObs
	p.nextObs++
	p.callObs[id] = fn
	return func() {
		p.obsMu.Lock()
		delete(p.callObs, id)
		p.obsMu.Unlock()
	}
}

func (p *Phone) onAccountEvent(ev session.AccountEvent) {
	if ev.Type == session.AccountEventIncomingCall && ev.Call != nil {
		p.notifyCall(ev.Call)
	}
	p.obsMu.Lock()
	fns := make([]func(session.AccountEvent), 0, len(p.accountObs))
	for i := 0; i < p.nextObs; i++ {
		if fn, ok := p.accountObs[i]; ok {
			fns = append(fns, fn)
		}
	}
	p.obsMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Phone) notifyCall(cs *session.CallSession) {
	p.obsMu.Lock()
	fns := make([]func(*session.CallSession), 0, len(p.callObs))
	for i := 0; i < p.nextObs; i++ {
		if fn, ok := p.callObs[i]; ok {
			fns = append(fns, fn)
		}
	}
	p.obsMu.Unlock()
	for _, fn := range fns {
		fn(cs)
	}
}

// Close hangs up live calls and shuts the account down.
func (p *Phone) Close() error {
	var errs []error
	for _, cs := range p.dir.List() {
		if _, err := cs.Hangup(0, ""); err != nil && !errors.Is(err, session.ErrCallTerminated) && !errors.Is(err, session.ErrOperationInProgress) {
			errs = append(errs, err)
		}
	}

	p.mu.Lock()
	rs, unsub := p.account, p.unsubAccount
	p.account, p.unsubAccount = nil, nil
	p.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if rs != nil {
		if err := rs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Package enginetest provides a scripted in-memory engine. Every command the
// core issues is recorded in order, and tests drive notifications
// synchronously through the returned objects.
package enginetest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sebas/softphone/internal/ua/engine"
)

// Engine is a fake engine.Engine.
type Engine struct {
	mu        sync.Mutex
	commands  []string
	failures  map[string]error
	accounts  []*Account
	players   []*Player
	recorders []*Recorder
	nextCall  int
	devices   []engine.DeviceInfo
	codecs    []engine.CodecInfo
}

var _ engine.Engine = (*Engine)(nil)

// New creates an empty fake engine with one null device and G.711 codecs.
func New() *Engine {
	return &Engine{
		failures: make(map[string]error),
		devices: []engine.DeviceInfo{
			{ID: 0, Name: "null", Driver: "null", InputCount: 1, OutputCount: 1, DefaultSampleRate: 8000},
		},
		codecs: []engine.CodecInfo{
			{ID: "PCMU/8000/1", Priority: 128},
			{ID: "PCMA/8000/1", Priority: 127},
		},
	}
}

// FailOn makes every subsequent command named op (e.g. "call.hangup") fail with err.
func (e *Engine) FailOn(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[op] = err
}

// Commands returns the recorded commands in issue order.
func (e *Engine) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.commands))
	copy(out, e.commands)
	return out
}

// CommandsFor returns the recorded commands issued on the named object.
func (e *Engine) CommandsFor(name string) []string {
	var out []string
	for _, c := range e.Commands() {
		if strings.HasPrefix(c, name+".") {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the command log.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = nil
}

func (e *Engine) record(op, target string, args ...any) error {
	cmd := target + "." + op[strings.Index(op, ".")+1:]
	for _, a := range args {
		cmd += " " + fmt.Sprint(a)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, cmd)
	return e.failures[op]
}

// Accounts returns the accounts created so far.
func (e *Engine) Accounts() []*Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Account(nil), e.accounts...)
}

// Players returns the players created so far.
func (e *Engine) Players() []*Player {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Player(nil), e.players...)
}

// Recorders returns the recorders created so far.
func (e *Engine) Recorders() []*Recorder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Recorder(nil), e.recorders...)
}

func (e *Engine) CreateAccount(cfg engine.AccountConfig) (engine.Account, error) {
	e.mu.Lock()
	name := fmt.Sprintf("account-%d", len(e.accounts)+1)
	e.mu.Unlock()
	if err := e.record("engine.createAccount", "engine", cfg.IDURI); err != nil {
		return nil, err
	}
	a := &Account{e: e, name: name, cfg: cfg, buddies: make(map[string]*Buddy)}
	e.mu.Lock()
	e.accounts = append(e.accounts, a)
	e.mu.Unlock()
	return a, nil
}

func (e *Engine) CreatePlayer() (engine.Player, error) {
	e.mu.Lock()
	name := fmt.Sprintf("player-%d", len(e.players)+1)
	e.mu.Unlock()
	if err := e.record("engine.createPlayer", "engine"); err != nil {
		return nil, err
	}
	p := &Player{Port: Port{e: e, name: name}}
	e.mu.Lock()
	e.players = append(e.players, p)
	e.mu.Unlock()
	return p, nil
}

func (e *Engine) CreateRecorder(path string) (engine.Recorder, error) {
	e.mu.Lock()
	name := fmt.Sprintf("recorder-%d", len(e.recorders)+1)
	e.mu.Unlock()
	if err := e.record("engine.createRecorder", "engine", path); err != nil {
		return nil, err
	}
	r := &Recorder{Port: Port{e: e, name: name}, Path: path}
	e.mu.Lock()
	e.recorders = append(e.recorders, r)
	e.mu.Unlock()
	return r, nil
}

func (e *Engine) AudioDevices() ([]engine.DeviceInfo, error) {
	if err := e.record("engine.audioDevices", "engine"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.DeviceInfo(nil), e.devices...), nil
}

func (e *Engine) Codecs() ([]engine.CodecInfo, error) {
	if err := e.record("engine.codecs", "engine"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.CodecInfo(nil), e.codecs...), nil
}

func (e *Engine) SetCodecPriority(codecID string, priority int) error {
	if err := e.record("engine.setCodecPriority", "engine", codecID, priority); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.codecs {
		if e.codecs[i].ID == codecID {
			e.codecs[i].Priority = priority
			return nil
		}
	}
	return fmt.Errorf("codec %q not found", codecID)
}

// Account is a fake engine.Account.
type Account struct {
	e       *Engine
	name    string
	mu      sync.Mutex
	cfg     engine.AccountConfig
	handler engine.AccountHandler
	calls   []*Call
	buddies map[string]*Buddy
}

// Name returns the command-log name of the account.
func (a *Account) Name() string { return a.name }

// Config returns the last configuration applied to the account.
func (a *Account) Config() engine.AccountConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// HasHandler reports whether a notification handler is installed.
func (a *Account) HasHandler() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handler != nil
}

func (a *Account) SetHandler(h engine.AccountHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

func (a *Account) Modify(cfg engine.AccountConfig) error {
	if err := a.e.record("account.modify", a.name, cfg.IDURI); err != nil {
		return err
	}
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	return nil
}

func (a *Account) SetRegistration(renew bool) error {
	return a.e.record("account.setRegistration", a.name, renew)
}

func (a *Account) MakeCall(destination string, opts engine.CallOptions) (engine.Call, error) {
	if err := a.e.record("account.makeCall", a.name, destination); err != nil {
		return nil, err
	}
	return a.newCall(destination, opts, false), nil
}

func (a *Account) newCall(remote string, opts engine.CallOptions, incoming bool) *Call {
	a.e.mu.Lock()
	a.e.nextCall++
	id := fmt.Sprintf("call-%d", a.e.nextCall)
	a.e.mu.Unlock()
	c := &Call{e: a.e, id: id, remote: remote, opts: opts, incoming: incoming, media: make(map[int]*Port)}
	a.mu.Lock()
	a.calls = append(a.calls, c)
	a.mu.Unlock()
	return c
}

func (a *Account) AddBuddy(uri string, subscribe bool) (engine.Buddy, error) {
	if err := a.e.record("account.addBuddy", a.name, uri, subscribe); err != nil {
		return nil, err
	}
	b := &Buddy{e: a.e, uri: uri, subscribed: subscribe}
	a.mu.Lock()
	a.buddies[uri] = b
	a.mu.Unlock()
	return b, nil
}

func (a *Account) DelBuddy(uri string) error {
	if err := a.e.record("account.delBuddy", a.name, uri); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.buddies[uri]; !ok {
		return fmt.Errorf("buddy %q not found", uri)
	}
	delete(a.buddies, uri)
	return nil
}

// Buddy returns the buddy added for uri, or nil.
func (a *Account) Buddy(uri string) *Buddy {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buddies[uri]
}

func (a *Account) Shutdown() error {
	return a.e.record("account.shutdown", a.name)
}

// Calls returns every call created on or delivered to this account.
func (a *Account) Calls() []*Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Call(nil), a.calls...)
}

// LastCall returns the most recent call, or nil.
func (a *Account) LastCall() *Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.calls) == 0 {
		return nil
	}
	return a.calls[len(a.calls)-1]
}

func (a *Account) currentHandler() engine.AccountHandler {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handler
}

// RegState delivers a registration notification.
func (a *Account) RegState(active bool, statusCode int) {
	if h := a.currentHandler(); h != nil {
		h.OnRegState(engine.RegStateInfo{Active: active, StatusCode: statusCode})
	}
}

// IncomingCall delivers an incoming call from remoteURI and returns it.
func (a *Account) IncomingCall(remoteURI string) *Call {
	c := a.newCall(remoteURI, engine.CallOptions{}, true)
	if h := a.currentHandler(); h != nil {
		h.OnIncomingCall(c.Info(), c)
	}
	return c
}

// InstantMessage delivers an out-of-dialog MESSAGE.
func (a *Account) InstantMessage(fromURI, text string) {
	if h := a.currentHandler(); h != nil {
		h.OnInstantMessage(fromURI, text)
	}
}

// Call is a fake engine.Call.
type Call struct {
	e        *Engine
	id       string
	remote   string
	opts     engine.CallOptions
	incoming bool

	mu      sync.Mutex
	handler engine.CallHandler
	state   engine.CallState
	code    int
	media   map[int]*Port
}

// ID returns the engine id of the call.
func (c *Call) ID() string { return c.id }

// Options returns the options the call was created with.
func (c *Call) Options() engine.CallOptions { return c.opts }

// HasHandler reports whether a notification handler is installed.
func (c *Call) HasHandler() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

func (c *Call) SetHandler(h engine.CallHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *Call) Answer(statusCode int, reason string) error {
	return c.e.record("call.answer", c.id, statusCode)
}

func (c *Call) Hangup(statusCode int, reason string) error {
	return c.e.record("call.hangup", c.id, statusCode)
}

func (c *Call) SendInstantMessage(text string) error {
	return c.e.record("call.sendInstantMessage", c.id, text)
}

func (c *Call) DialDTMF(digits string) error {
	return c.e.record("call.dialDtmf", c.id, digits)
}

func (c *Call) Info() engine.CallInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return engine.CallInfo{
		ID:             c.id,
		RemoteURI:      c.remote,
		State:          c.state,
		StateText:      c.state.String(),
		LastStatusCode: c.code,
		Incoming:       c.incoming,
	}
}

func (c *Call) currentHandler() engine.CallHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// State delivers a call state notification.
func (c *Call) State(state engine.CallState, lastStatusCode int) {
	c.mu.Lock()
	c.state = state
	c.code = lastStatusCode
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h.OnCallState(engine.CallStateInfo{ID: c.id, State: state, LastStatusCode: lastStatusCode})
	}
}

// MediaPort returns the conference port of endpoint index i.
func (c *Call) MediaPort(i int) *Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.media[i]
	if !ok {
		p = &Port{e: c.e, name: fmt.Sprintf("%s/media-%d", c.id, i)}
		c.media[i] = p
	}
	return p
}

// Media delivers a media state notification with one endpoint per status.
func (c *Call) Media(statuses ...engine.MediaStatus) {
	eps := make([]engine.MediaEndpoint, len(statuses))
	for i, st := range statuses {
		eps[i] = engine.MediaEndpoint{Index: i, Status: st, Audio: c.MediaPort(i)}
	}
	if h := c.currentHandler(); h != nil {
		h.OnMediaState(eps)
	}
}

// DTMF delivers a received digit.
func (c *Call) DTMF(digit string) {
	if h := c.currentHandler(); h != nil {
		h.OnDTMF(digit)
	}
}

// InstantMessage delivers an in-dialog MESSAGE.
func (c *Call) InstantMessage(fromURI, text string) {
	if h := c.currentHandler(); h != nil {
		h.OnInstantMessage(fromURI, text)
	}
}

// Port returns a standalone conference port named name.
func (e *Engine) Port(name string) *Port {
	return &Port{e: e, name: name}
}

// Port is a fake conference port.
type Port struct {
	e    *Engine
	name string
}

// Name returns the command-log name of the port.
func (p *Port) Name() string { return p.name }

func (p *Port) StartTransmit(sink engine.AudioMedia) error {
	return p.e.record("port.startTransmit", p.name, portName(sink))
}

func (p *Port) StopTransmit(sink engine.AudioMedia) error {
	return p.e.record("port.stopTransmit", p.name, portName(sink))
}

func portName(m engine.AudioMedia) string {
	if n, ok := m.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", m)
}

// Player is a fake engine.Player.
type Player struct {
	Port
	mu      sync.Mutex
	handler func(engine.PlaybackStatus)
	path    string
}

func (p *Player) Play(path string) error {
	if err := p.e.record("player.play", p.name, path); err != nil {
		return err
	}
	p.mu.Lock()
	p.path = path
	p.mu.Unlock()
	return nil
}

func (p *Player) SetStatusHandler(fn func(engine.PlaybackStatus)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = fn
}

func (p *Player) Close() error {
	return p.e.record("player.close", p.name)
}

// Status delivers a playback status notification for the current file.
func (p *Player) Status(ev engine.PlaybackEvent, param int) {
	p.mu.Lock()
	h, path := p.handler, p.path
	p.mu.Unlock()
	if h != nil {
		h(engine.PlaybackStatus{Path: path, Event: ev, Param: param})
	}
}

// Recorder is a fake engine.Recorder.
type Recorder struct {
	Port
	Path string
}

func (r *Recorder) Close() error {
	return r.e.record("recorder.close", r.name)
}

// Buddy is a fake engine.Buddy.
type Buddy struct {
	e          *Engine
	uri        string
	mu         sync.Mutex
	subscribed bool
	handler    func(engine.BuddyState)
}

func (b *Buddy) URI() string { return b.uri }

func (b *Buddy) SubscribePresence(subscribe bool) error {
	if err := b.e.record("buddy.subscribePresence", "buddy:"+b.uri, subscribe); err != nil {
		return err
	}
	b.mu.Lock()
	b.subscribed = subscribe
	b.mu.Unlock()
	return nil
}

func (b *Buddy) SendInstantMessage(text string) error {
	return b.e.record("buddy.sendInstantMessage", "buddy:"+b.uri, text)
}

func (b *Buddy) SetStateHandler(fn func(engine.BuddyState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

// State delivers a presence update.
func (b *Buddy) State(stateText string) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		h(engine.BuddyState{URI: b.uri, StateText: stateText})
	}
}

// Package sipengine is the signaling and media engine behind the softphone:
// SIP accounts, calls and presence over sipgo, with RTP audio ports for file
// players, WAV recorders and call streams.
package sipengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/sebas/softphone/internal/sipengine/media"
	"github.com/sebas/softphone/internal/sipengine/portpool"
	"github.com/sebas/softphone/internal/ua/engine"
)

// Config holds engine settings.
type Config struct {
	// BindAddr is the local address for SIP and RTP sockets.
	BindAddr string
	// Port is the SIP listen port.
	Port int
	// AdvertiseAddr is placed in Contact headers and SDP.
	AdvertiseAddr string
	// Transport is the SIP transport, "udp" or "tcp".
	Transport string
	// UserAgent is sent in the User-Agent header.
	UserAgent  string
	RTPPortMin int
	RTPPortMax int
	// RequestTimeout bounds non-INVITE transactions.
	RequestTimeout time.Duration
	// AckTimeout bounds the wait for the ACK of an answered call.
	AckTimeout time.Duration
	Logger     *slog.Logger
}

func (c *Config) setDefaults() {
	if c.BindAddr == "" {
		c.BindAddr = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 5060
	}
	if c.AdvertiseAddr == "" {
		c.AdvertiseAddr = "127.0.0.1"
	}
	if c.Transport == "" {
		c.Transport = "udp"
	}
	if c.UserAgent == "" {
		c.UserAgent = "softphone"
	}
	if c.RTPPortMin == 0 {
		c.RTPPortMin = 10000
	}
	if c.RTPPortMax == 0 {
		c.RTPPortMax = 20000
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 32 * time.Second // RFC 3261 Timer F
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 32 * time.Second // RFC 3261 Timer H
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine implements engine.Engine over sipgo.
type Engine struct {
	cfg      Config
	log      *slog.Logger
	ua       *sipgo.UserAgent
	srv      *sipgo.Server
	client   *sipgo.Client
	dialogUA *sipgo.DialogUA
	codecs   *media.CodecTable
	ports    *portpool.PortPool

	ctx    context.Context
	cancel context.CancelFunc
	nextID atomic.Uint64

	mu       sync.RWMutex
	accounts []*account
	calls    map[string]*call
	closed   bool
}

// New creates the SIP user agent and registers request handlers. Call Serve
// to start listening.
func New(cfg Config) (*Engine, error) {
	cfg.setDefaults()

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(cfg.UserAgent))
	if err != nil {
		return nil, fmt.Errorf("failed to create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	client, err := sipgo.NewClient(ua, sipgo.WithClientHostname(cfg.AdvertiseAddr))
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:    cfg,
		log:    cfg.Logger,
		ua:     ua,
		srv:    srv,
		client: client,
		codecs: media.NewCodecTable(),
		ports:  portpool.NewPortPool(cfg.RTPPortMin, cfg.RTPPortMax),
		ctx:    ctx,
		cancel: cancel,
		calls:  make(map[string]*call),
	}
	e.dialogUA = &sipgo.DialogUA{
		Client:     client,
		ContactHDR: sip.ContactHeader{Address: e.contactURI("softphone")},
	}

	srv.OnRequest(sip.INVITE, e.handleInvite)
	srv.OnRequest(sip.ACK, e.handleAck)
	srv.OnRequest(sip.BYE, e.handleBye)
	srv.OnRequest(sip.CANCEL, e.handleCancel)
	srv.OnRequest(sip.MESSAGE, e.handleMessage)
	srv.OnRequest(sip.NOTIFY, e.handleNotify)
	srv.OnRequest(sip.OPTIONS, e.handleOptions)

	e.log.Info("[SIPEngine] Created",
		"bind", cfg.BindAddr,
		"port", cfg.Port,
		"advertise", cfg.AdvertiseAddr,
		"transport", cfg.Transport,
		"rtp_ports", fmt.Sprintf("%d-%d", cfg.RTPPortMin, cfg.RTPPortMax),
	)
	return e, nil
}

// Serve listens for SIP traffic until ctx is cancelled.
func (e *Engine) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(e.cfg.BindAddr, fmt.Sprint(e.cfg.Port))
	e.log.Info("[SIPEngine] Listening", "addr", addr, "transport", e.cfg.Transport)
	if err := e.srv.ListenAndServe(ctx, e.cfg.Transport, addr); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("listen %s %s: %w", e.cfg.Transport, addr, err)
	}
	return nil
}

// Close ends every call, deletes every account and closes the user agent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	calls := make([]*call, 0, len(e.calls))
	for _, c := range e.calls {
		calls = append(calls, c)
	}
	accounts := append([]*account(nil), e.accounts...)
	e.mu.Unlock()

	for _, c := range calls {
		c.terminate(500, "Engine Shutdown")
	}
	for _, a := range accounts {
		a.Shutdown()
	}
	e.cancel()
	e.log.Info("[SIPEngine] Closed", "calls", len(calls), "accounts", len(accounts))
	return e.ua.Close()
}

func (e *Engine) contactURI(user string) sip.Uri {
	return sip.Uri{
		Scheme: "sip",
		User:   user,
		Host:   e.cfg.AdvertiseAddr,
		Port:   e.cfg.Port,
	}
}

func (e *Engine) newName(kind string) string {
	return fmt.Sprintf("%s-%d", kind, e.nextID.Add(1))
}

// CreateAccount creates an account and starts its registration.
func (e *Engine) CreateAccount(cfg engine.AccountConfig) (engine.Account, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, errEngineClosed
	}

	a, err := newAccount(e, cfg)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.accounts = append(e.accounts, a)
	e.mu.Unlock()

	go a.register(a.expires())
	return a, nil
}

// CreatePlayer creates an idle file player.
func (e *Engine) CreatePlayer() (engine.Player, error) {
	return newPlayer(e.newName("player"), e.log), nil
}

// CreateRecorder creates a recorder writing to path.
func (e *Engine) CreateRecorder(path string) (engine.Recorder, error) {
	r, err := newRecorder(e.newName("recorder"), path, e.log)
	if err != nil {
		return nil, fmt.Errorf("create recorder: %w", err)
	}
	return r, nil
}

// AudioDevices lists the sound devices. Audio is file and network only, so
// the single entry is the null device.
func (e *Engine) AudioDevices() ([]engine.DeviceInfo, error) {
	return []engine.DeviceInfo{{
		ID:                0,
		Name:              "Null Audio",
		Driver:            "null",
		InputCount:        1,
		OutputCount:       1,
		DefaultSampleRate: media.TargetSampleRate,
	}}, nil
}

// Codecs lists the audio codecs by descending priority.
func (e *Engine) Codecs() ([]engine.CodecInfo, error) {
	list := e.codecs.List()
	out := make([]engine.CodecInfo, 0, len(list))
	for _, cp := range list {
		out = append(out, engine.CodecInfo{ID: cp.Codec.ID(), Priority: cp.Priority})
	}
	return out, nil
}

// SetCodecPriority changes a codec's priority. Zero disables it.
func (e *Engine) SetCodecPriority(codecID string, priority int) error {
	return e.codecs.SetPriority(codecID, priority)
}

func (e *Engine) addCall(c *call) {
	e.mu.Lock()
	e.calls[c.id] = c
	e.mu.Unlock()
}

func (e *Engine) removeCall(c *call) {
	e.mu.Lock()
	if e.calls[c.id] == c {
		delete(e.calls, c.id)
	}
	e.mu.Unlock()
}

func (e *Engine) callByID(id string) (*call, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.calls[id]
	return c, ok
}

func (e *Engine) removeAccount(a *account) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.accounts {
		if existing == a {
			e.accounts = append(e.accounts[:i], e.accounts[i+1:]...)
			return
		}
	}
}

// accountFor picks the account addressed by user, falling back to the
// first account.
func (e *Engine) accountFor(user string) *account {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, a := range e.accounts {
		if a.user() == user {
			return a
		}
	}
	if len(e.accounts) > 0 {
		return e.accounts[0]
	}
	return nil
}

func (e *Engine) buddyFor(uri sip.Uri) *buddy {
	e.mu.RLock()
	accounts := append([]*account(nil), e.accounts...)
	e.mu.RUnlock()
	for _, a := range accounts {
		if b := a.buddyFor(uri); b != nil {
			return b
		}
	}
	return nil
}

// openStream allocates an RTP port and wraps it in a call stream.
func (e *Engine) openStream(name string) (*stream, error) {
	conn, port, err := e.ports.Listen(e.cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("allocate RTP port: %w", err)
	}
	return newStream(name, conn, port, e.ports, e.log), nil
}

func generateCallID() string {
	return uuid.New().String()
}

func generateTag() string {
	return uuid.New().String()[:8]
}

var errEngineClosed = errors.New("engine closed")

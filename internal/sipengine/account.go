package sipengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/sebas/softphone/internal/ua/engine"
)

// DefaultExpires is the registration lifetime used when the account asks
// for none.
const DefaultExpires = 300

var errAccountClosed = errors.New("account deleted")

// account is one SIP identity. Registration runs on background goroutines;
// outcomes are posted to the account notifier.
type account struct {
	eng    *Engine
	log    *slog.Logger
	notify *notifier[engine.AccountHandler]
	ctx    context.Context
	cancel context.CancelFunc

	regMu sync.Mutex // one REGISTER exchange at a time

	mu         sync.Mutex
	cfg        engine.AccountConfig
	aor        sip.Uri
	registrar  sip.Uri
	local      bool // no registrar: never sends REGISTER
	regCallID  string
	tag        string
	cseq       uint32
	registered bool
	refresh    *time.Timer
	buddies    map[string]*buddy
	closed     bool
}

func newAccount(e *Engine, cfg engine.AccountConfig) (*account, error) {
	ctx, cancel := context.WithCancel(e.ctx)
	a := &account{
		eng:       e,
		log:       e.log,
		notify:    newNotifier[engine.AccountHandler](),
		ctx:       ctx,
		cancel:    cancel,
		regCallID: generateCallID(),
		tag:       generateTag(),
		buddies:   make(map[string]*buddy),
	}
	if err := a.apply(cfg); err != nil {
		cancel()
		a.notify.close()
		return nil, err
	}
	return a, nil
}

func (a *account) apply(cfg engine.AccountConfig) error {
	var aor, registrar sip.Uri
	if err := sip.ParseUri(cfg.IDURI, &aor); err != nil {
		return fmt.Errorf("invalid account URI %q: %w", cfg.IDURI, err)
	}
	local := cfg.Registrar == ""
	if !local {
		if err := sip.ParseUri(cfg.Registrar, &registrar); err != nil {
			return fmt.Errorf("invalid registrar URI %q: %w", cfg.Registrar, err)
		}
	}

	a.mu.Lock()
	a.cfg = cfg
	a.aor = aor
	a.registrar = registrar
	a.local = local
	a.mu.Unlock()
	return nil
}

func (a *account) user() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.aor.User
}

func (a *account) uri() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.IDURI
}

func (a *account) credentials() []engine.Credentials {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Credentials
}

func (a *account) expires() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.Expires <= 0 {
		return DefaultExpires
	}
	return a.cfg.Expires
}

// fromHeader returns the account identity with its local tag.
func (a *account) fromHeader() *sip.FromHeader {
	a.mu.Lock()
	defer a.mu.Unlock()
	params := sip.NewParams()
	params.Add("tag", a.tag)
	return &sip.FromHeader{Address: a.aor, Params: params}
}

// SetHandler installs the account's notification handler.
func (a *account) SetHandler(h engine.AccountHandler) {
	a.notify.setHandler(h)
}

// Modify replaces the configuration and re-registers.
func (a *account) Modify(cfg engine.AccountConfig) error {
	if a.isClosed() {
		return errAccountClosed
	}
	if err := a.apply(cfg); err != nil {
		return err
	}
	a.log.Info("[SIPEngine] Account modified", "account", cfg.IDURI)
	go a.register(a.expires())
	return nil
}

// SetRegistration re-registers when renew is true and unregisters otherwise.
func (a *account) SetRegistration(renew bool) error {
	if a.isClosed() {
		return errAccountClosed
	}
	expires := 0
	if renew {
		expires = a.expires()
	}
	go a.register(expires)
	return nil
}

// MakeCall starts an outbound INVITE.
func (a *account) MakeCall(destination string, opts engine.CallOptions) (engine.Call, error) {
	if a.isClosed() {
		return nil, errAccountClosed
	}
	return a.eng.dial(a, destination, opts)
}

func (a *account) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Shutdown removes the account from the engine. A live registration is
// dropped with a final unregister.
func (a *account) Shutdown() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.stopRefreshLocked()
	registered := a.registered && !a.local
	buddies := make([]*buddy, 0, len(a.buddies))
	for _, b := range a.buddies {
		buddies = append(buddies, b)
	}
	a.buddies = map[string]*buddy{}
	a.mu.Unlock()

	for _, b := range buddies {
		b.close()
	}
	if registered {
		ctx, cancel := context.WithTimeout(context.Background(), a.eng.cfg.RequestTimeout)
		defer cancel()
		if _, _, err := a.exchange(ctx, 0); err != nil {
			a.log.Warn("[SIPEngine] Final unregister failed", "account", a.uri(), "error", err)
		}
	}
	a.cancel()
	a.notify.close()
	a.eng.removeAccount(a)
	a.log.Info("[SIPEngine] Account deleted", "account", a.uri())
	return nil
}

func (a *account) stopRefreshLocked() {
	if a.refresh != nil {
		a.refresh.Stop()
		a.refresh = nil
	}
}

func (a *account) buildRegister(expires int) *sip.Request {
	a.mu.Lock()
	a.cseq++
	aor, registrar, callID, tag, cseq := a.aor, a.registrar, a.regCallID, a.tag, a.cseq
	a.mu.Unlock()

	req := sip.NewRequest(sip.REGISTER, registrar)

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", tag)
	req.AppendHeader(&sip.FromHeader{Address: aor, Params: fromParams})
	req.AppendHeader(&sip.ToHeader{Address: aor, Params: sip.NewParams()})

	callIDHdr := sip.CallIDHeader(callID)
	req.AppendHeader(&callIDHdr)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: sip.REGISTER})
	req.AppendHeader(&sip.ContactHeader{Address: a.eng.contactURI(aor.User)})

	exp := sip.ExpiresHeader(expires)
	req.AppendHeader(&exp)
	return req
}

// exchange sends one REGISTER (with digest retry) and returns the final
// status. The CSeq counter follows the request that got the answer.
func (a *account) exchange(ctx context.Context, expires int) (*sip.Response, int, error) {
	req := a.buildRegister(expires)
	res, sent, err := a.eng.requestWithAuth(ctx, req, a.credentials())
	if cseq := sent.CSeq(); cseq != nil {
		a.mu.Lock()
		if cseq.SeqNo > a.cseq {
			a.cseq = cseq.SeqNo
		}
		a.mu.Unlock()
	}
	if err != nil {
		return nil, 0, err
	}
	return res, grantedExpires(res, expires), nil
}

// register runs one registration (expires > 0) or unregistration
// (expires == 0) and posts the outcome.
func (a *account) register(expires int) {
	a.regMu.Lock()
	defer a.regMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.stopRefreshLocked()
	local, id := a.local, a.cfg.IDURI
	a.mu.Unlock()

	if local {
		a.mu.Lock()
		a.registered = expires > 0
		a.mu.Unlock()
		a.post(engine.RegStateInfo{Active: expires > 0, StatusCode: 200, Reason: "OK"})
		return
	}

	ctx, cancel := context.WithTimeout(a.ctx, a.eng.cfg.RequestTimeout)
	defer cancel()

	a.log.Debug("[SIPEngine] REGISTER", "account", id, "expires", expires)
	res, granted, err := a.exchange(ctx, expires)

	info := engine.RegStateInfo{}
	ok := false
	if err != nil {
		if a.ctx.Err() != nil {
			return
		}
		info.StatusCode, info.Reason = 408, "Request Timeout"
		a.log.Warn("[SIPEngine] REGISTER failed", "account", id, "error", err)
	} else {
		info.StatusCode, info.Reason = int(res.StatusCode), res.Reason
		ok = res.IsSuccess()
	}

	a.mu.Lock()
	switch {
	case expires > 0 && ok:
		info.Active = true
		info.Expires = granted
		a.registered = true
		if !a.closed {
			a.refresh = time.AfterFunc(refreshAfter(granted), a.onRefresh)
		}
	case expires > 0:
		a.registered = false
	case ok:
		a.registered = false
	default:
		// failed unregister leaves the binding in place
		info.Active = a.registered
	}
	a.mu.Unlock()

	a.log.Info("[SIPEngine] Registration state",
		"account", id,
		"active", info.Active,
		"status", info.StatusCode,
		"expires", info.Expires,
	)
	a.post(info)
}

func (a *account) onRefresh() {
	a.register(a.expires())
}

func (a *account) post(info engine.RegStateInfo) {
	a.notify.post(func(h engine.AccountHandler) { h.OnRegState(info) })
}

func (a *account) postIncomingCall(c *call) {
	info := c.Info()
	a.notify.post(func(h engine.AccountHandler) { h.OnIncomingCall(info, c) })
}

func (a *account) postMessage(from, text string) {
	a.notify.post(func(h engine.AccountHandler) { h.OnInstantMessage(from, text) })
}

// grantedExpires reads the lifetime granted by the registrar, preferring
// the Contact expires parameter over the Expires header.
func grantedExpires(res *sip.Response, requested int) int {
	if c := res.Contact(); c != nil {
		if v, ok := c.Params.Get("expires"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	if h := res.GetHeader("Expires"); h != nil {
		if n, err := strconv.Atoi(h.Value()); err == nil {
			return n
		}
	}
	return requested
}

// refreshAfter schedules the refresh ahead of expiry.
func refreshAfter(expires int) time.Duration {
	if expires <= 0 {
		expires = DefaultExpires
	}
	d := time.Duration(expires) * time.Second * 9 / 10
	if d < time.Second {
		d = time.Second
	}
	return d
}

// AddBuddy adds a presence peer.
func (a *account) AddBuddy(uri string, subscribe bool) (engine.Buddy, error) {
	var target sip.Uri
	if err := sip.ParseUri(uri, &target); err != nil {
		return nil, fmt.Errorf("invalid buddy URI %q: %w", uri, err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, errAccountClosed
	}
	if _, ok := a.buddies[uri]; ok {
		a.mu.Unlock()
		return nil, fmt.Errorf("buddy %s already exists", uri)
	}
	b := newBuddy(a, uri, target)
	a.buddies[uri] = b
	a.mu.Unlock()

	if subscribe {
		if err := b.SubscribePresence(true); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// DelBuddy removes a presence peer, ending its subscription.
func (a *account) DelBuddy(uri string) error {
	a.mu.Lock()
	b, ok := a.buddies[uri]
	delete(a.buddies, uri)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("buddy %s not found", uri)
	}
	b.close()
	return nil
}

func (a *account) buddyFor(uri sip.Uri) *buddy {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, b := range a.buddies {
		if b.target.User == uri.User && b.target.Host == uri.Host {
			return b
		}
	}
	return nil
}

var _ engine.Account = (*account)(nil)

package sipengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/sebas/softphone/internal/sipengine/media"
	"github.com/sebas/softphone/internal/ua/engine"
)

var (
	errCallDisconnected = errors.New("call already disconnected")
	errNotEstablished   = errors.New("call not established")
	errNotAnswerable    = errors.New("call cannot be answered in its current state")
)

// dialog holds what in-dialog requests need.
type dialog struct {
	callID string
	local  *sip.FromHeader
	remote *sip.ToHeader
	target sip.Uri
	dest   string
	cseq   uint32
}

func (d *dialog) request(method sip.RequestMethod) *sip.Request {
	req := sip.NewRequest(method, d.target)
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(&sip.FromHeader{DisplayName: d.local.DisplayName, Address: d.local.Address, Params: d.local.Params.Clone()})
	req.AppendHeader(&sip.ToHeader{DisplayName: d.remote.DisplayName, Address: d.remote.Address, Params: d.remote.Params.Clone()})
	callIDHdr := sip.CallIDHeader(d.callID)
	req.AppendHeader(&callIDHdr)
	d.cseq++
	req.AppendHeader(&sip.CSeqHeader{SeqNo: d.cseq, MethodName: method})
	if d.dest != "" {
		req.SetDestination(d.dest)
	}
	return req
}

// call is one INVITE dialog and its audio stream.
type call struct {
	eng      *Engine
	acc      *account
	log      *slog.Logger
	id       string
	notify   *notifier[engine.CallHandler]
	stream   *stream
	incoming bool
	sdpID    uint64

	mu          sync.Mutex
	info        engine.CallInfo
	sdpVersion  uint64
	dlg         *dialog
	remote      *remoteMedia
	terminated  bool
	connectedAt time.Time

	// outbound
	cancelInvite context.CancelFunc
	hangingUp    bool

	// inbound
	inviteReq *sip.Request
	inviteTx  sip.ServerTransaction
	session   *sipgo.DialogServerSession
	answered  bool // final response sent
	ackTimer  *time.Timer
}

func newCall(e *Engine, a *account, id string, incoming bool, st *stream) *call {
	c := &call{
		eng:      e,
		acc:      a,
		log:      e.log,
		id:       id,
		notify:   newNotifier[engine.CallHandler](),
		stream:   st,
		incoming: incoming,
		sdpID:    rand.Uint64() >> 1,
		info: engine.CallInfo{
			ID:       id,
			LocalURI: a.uri(),
			Incoming: incoming,
		},
	}
	st.setDigitHandler(c.postDTMF)
	return c
}

// SetHandler installs the call's notification handler.
func (c *call) SetHandler(h engine.CallHandler) {
	c.notify.setHandler(h)
}

// Info returns a snapshot of the call.
func (c *call) Info() engine.CallInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.info
	info.StateText = info.State.String()
	if !c.connectedAt.IsZero() {
		info.ConnectDuration = time.Since(c.connectedAt)
	}
	return info
}

// setState records a state change and posts it. Disconnected is applied once
// and releases the stream.
func (c *call) setState(state engine.CallState, code int, reason string) {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.info.State = state
	c.info.LastStatusCode = code
	c.info.LastReason = reason
	if state == engine.CallStateConfirmed && c.connectedAt.IsZero() {
		c.connectedAt = time.Now()
	}
	terminal := state == engine.CallStateDisconnected
	if terminal {
		c.terminated = true
		if !c.connectedAt.IsZero() {
			c.info.ConnectDuration = time.Since(c.connectedAt)
		}
		c.connectedAt = time.Time{}
		if c.ackTimer != nil {
			c.ackTimer.Stop()
		}
	}
	session := c.session
	c.mu.Unlock()

	c.log.Debug("[SIPEngine] Call state", "call_id", c.id, "state", state.String(), "status", code)
	info := engine.CallStateInfo{ID: c.id, State: state, LastStatusCode: code, LastReason: reason}
	c.notify.post(func(h engine.CallHandler) { h.OnCallState(info) })

	if terminal {
		c.stream.close()
		if session != nil {
			session.Close()
		}
		c.eng.removeCall(c)
		c.notify.close()
		c.log.Info("[SIPEngine] Call ended", "call_id", c.id, "status", code, "reason", reason)
	}
}

func (c *call) postMedia(status engine.MediaStatus) {
	eps := []engine.MediaEndpoint{{Index: 0, Status: status, Audio: c.stream}}
	c.notify.post(func(h engine.CallHandler) { h.OnMediaState(eps) })
}

func (c *call) postDTMF(digit string) {
	c.notify.post(func(h engine.CallHandler) { h.OnDTMF(digit) })
}

func (c *call) postMessage(from, text string) {
	c.notify.post(func(h engine.CallHandler) { h.OnInstantMessage(from, text) })
}

func (c *call) isTerminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

func (c *call) state() engine.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info.State
}

// localSDP builds our description of the stream.
func (c *call) localSDP(codecs []media.Codec, direction string) ([]byte, error) {
	c.mu.Lock()
	c.sdpVersion++
	version := c.sdpVersion
	c.mu.Unlock()
	return buildSDP(c.sdpID, version, c.eng.cfg.AdvertiseAddr, c.stream.port, codecs, direction)
}

// applyRemote negotiates rm against the enabled codecs and points the
// stream at the peer.
func (c *call) applyRemote(rm *remoteMedia) (media.Codec, error) {
	codec, ok := selectCodec(c.eng.codecs.Enabled(), rm.Formats)
	if !ok {
		return media.Codec{}, fmt.Errorf("no common codec in %v", rm.Formats)
	}
	if err := c.stream.configure(rm, codec); err != nil {
		return media.Codec{}, err
	}
	c.mu.Lock()
	c.remote = rm
	c.mu.Unlock()
	return codec, nil
}

// Answer responds to an inbound INVITE. 1xx is provisional, 2xx accepts
// with an SDP answer, anything else rejects.
func (c *call) Answer(statusCode int, reason string) error {
	c.mu.Lock()
	if !c.incoming || c.answered {
		c.mu.Unlock()
		return errNotAnswerable
	}
	if c.terminated {
		c.mu.Unlock()
		return errCallDisconnected
	}
	req, tx, offer := c.inviteReq, c.inviteTx, c.remote
	if statusCode >= 200 {
		c.answered = true
	}
	c.mu.Unlock()

	if reason == "" {
		reason = reasonPhrase(statusCode)
	}

	switch {
	case statusCode < 200:
		res := sip.NewResponseFromRequest(req, sip.StatusCode(statusCode), reason, nil)
		if err := tx.Respond(res); err != nil {
			return fmt.Errorf("send %d: %w", statusCode, err)
		}
		c.setState(engine.CallStateEarly, statusCode, reason)
		return nil

	case statusCode < 300:
		return c.accept(req, tx, offer, statusCode, reason)

	default:
		res := sip.NewResponseFromRequest(req, sip.StatusCode(statusCode), reason, nil)
		if err := tx.Respond(res); err != nil {
			c.log.Warn("[SIPEngine] Failed to send rejection", "call_id", c.id, "status", statusCode, "error", err)
		}
		c.setState(engine.CallStateDisconnected, statusCode, reason)
		return nil
	}
}

func (c *call) accept(req *sip.Request, tx sip.ServerTransaction, offer *remoteMedia, code int, reason string) error {
	codec, err := c.applyRemote(offer)
	if err != nil {
		res := sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil)
		tx.Respond(res)
		c.setState(engine.CallStateDisconnected, 488, "Not Acceptable Here")
		return nil
	}
	answer, err := c.localSDP([]media.Codec{codec}, answerDirection(offer.Direction))
	if err != nil {
		c.setState(engine.CallStateDisconnected, 500, "Server Internal Error")
		return fmt.Errorf("build SDP answer: %w", err)
	}

	session, err := c.eng.dialogUA.ReadInvite(req, tx)
	if err != nil {
		c.setState(engine.CallStateDisconnected, 500, "Server Internal Error")
		return fmt.Errorf("create dialog session: %w", err)
	}
	if err := session.RespondSDP(answer); err != nil {
		session.Close()
		c.setState(engine.CallStateDisconnected, 500, "Server Internal Error")
		return fmt.Errorf("send %d: %w", code, err)
	}

	dlg := &dialog{
		callID: c.id,
		remote: toHeaderFrom(req.From()),
		target: req.From().Address,
		dest:   req.Source(),
	}
	if contact := req.Contact(); contact != nil {
		dlg.target = contact.Address
	}
	if to := session.InviteResponse.To(); to != nil {
		dlg.local = &sip.FromHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params}
	}

	c.mu.Lock()
	c.session = session
	c.dlg = dlg
	c.ackTimer = time.AfterFunc(c.eng.cfg.AckTimeout, c.onAckTimeout)
	c.mu.Unlock()

	c.log.Info("[SIPEngine] Call answered", "call_id", c.id, "codec", codec.ID())
	c.setState(engine.CallStateConnecting, code, reason)
	return nil
}

func toHeaderFrom(from *sip.FromHeader) *sip.ToHeader {
	return &sip.ToHeader{DisplayName: from.DisplayName, Address: from.Address, Params: from.Params}
}

// onAck confirms an answered inbound call.
func (c *call) onAck(req *sip.Request, tx sip.ServerTransaction) {
	c.mu.Lock()
	if c.terminated || c.info.State != engine.CallStateConnecting || c.session == nil {
		c.mu.Unlock()
		return
	}
	session, rm := c.session, c.remote
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	c.mu.Unlock()

	if err := session.ReadAck(req, tx); err != nil {
		c.log.Warn("[SIPEngine] Failed to read ACK", "call_id", c.id, "error", err)
	}
	c.setState(engine.CallStateConfirmed, 200, "OK")
	c.postMedia(mediaStatus(rm.Direction))
}

func (c *call) onAckTimeout() {
	if c.state() != engine.CallStateConnecting {
		return
	}
	c.log.Warn("[SIPEngine] ACK timeout", "call_id", c.id)
	c.terminate(408, "ACK Timeout")
}

// Hangup ends the call: CANCEL or BYE for an outbound call, a final
// response or BYE for an inbound one.
func (c *call) Hangup(statusCode int, reason string) error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return errCallDisconnected
	}
	if c.incoming && !c.answered {
		c.answered = true
		req, tx := c.inviteReq, c.inviteTx
		c.mu.Unlock()

		if statusCode < 300 {
			statusCode = 603
		}
		if reason == "" {
			reason = reasonPhrase(statusCode)
		}
		if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCode(statusCode), reason, nil)); err != nil {
			c.log.Warn("[SIPEngine] Failed to send rejection", "call_id", c.id, "error", err)
		}
		c.setState(engine.CallStateDisconnected, statusCode, reason)
		return nil
	}
	if !c.incoming && c.dlg == nil {
		c.hangingUp = true
		cancel := c.cancelInvite
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}
	c.mu.Unlock()

	go c.terminate(200, "Normal call clearing")
	return nil
}

// terminate sends BYE for an established dialog, or gives up on a pending
// one, and reports Disconnected with code.
func (c *call) terminate(code int, reason string) {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	session, dlg, cancel := c.session, c.dlg, c.cancelInvite
	incomingPending := c.incoming && !c.answered
	if incomingPending {
		c.answered = true
	}
	req, tx := c.inviteReq, c.inviteTx
	c.mu.Unlock()

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	switch {
	case incomingPending:
		tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCode(code), reason, nil))
	case session != nil:
		if err := session.Bye(ctx); err != nil {
			c.log.Warn("[SIPEngine] Failed to send BYE", "call_id", c.id, "error", err)
		}
	case dlg != nil:
		c.sendBye(ctx)
	case cancel != nil:
		cancel()
	}
	c.setState(engine.CallStateDisconnected, code, reason)
}

func (c *call) sendBye(ctx context.Context) {
	c.mu.Lock()
	bye := c.dlg.request(sip.BYE)
	c.mu.Unlock()

	res, err := c.eng.transact(ctx, bye)
	if err != nil {
		c.log.Warn("[SIPEngine] Failed to send BYE", "call_id", c.id, "error", err)
		return
	}
	c.log.Debug("[SIPEngine] BYE answered", "call_id", c.id, "status", int(res.StatusCode))
}

// SendInstantMessage sends an in-dialog MESSAGE in the background.
func (c *call) SendInstantMessage(text string) error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return errCallDisconnected
	}
	if c.dlg == nil || c.dlg.local == nil {
		c.mu.Unlock()
		return errNotEstablished
	}
	req := c.dlg.request(sip.MESSAGE)
	c.mu.Unlock()

	ct := sip.ContentTypeHeader("text/plain")
	req.AppendHeader(&ct)
	req.SetBody([]byte(text))

	go func() {
		ctx, cancel := context.WithTimeout(c.eng.ctx, c.eng.cfg.RequestTimeout)
		defer cancel()
		res, err := c.eng.transact(ctx, req)
		switch {
		case err != nil:
			c.log.Warn("[SIPEngine] MESSAGE failed", "call_id", c.id, "error", err)
		case !res.IsSuccess():
			c.log.Warn("[SIPEngine] MESSAGE rejected", "call_id", c.id, "status", int(res.StatusCode))
		}
	}()
	return nil
}

// DialDTMF sends digits as RFC 4733 telephone events.
func (c *call) DialDTMF(digits string) error {
	c.mu.Lock()
	terminated, established := c.terminated, c.dlg != nil
	c.mu.Unlock()
	if terminated {
		return errCallDisconnected
	}
	if !established {
		return errNotEstablished
	}
	return c.stream.sendDTMF(digits)
}

// onReinvite handles a re-INVITE on a confirmed dialog, e.g. hold/resume.
func (c *call) onReinvite(req *sip.Request, tx sip.ServerTransaction) {
	rm, err := parseSDP(req.Body())
	if err != nil {
		tx.Respond(sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil))
		return
	}
	codec, err := c.applyRemote(rm)
	if err != nil {
		tx.Respond(sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil))
		return
	}
	answer, err := c.localSDP([]media.Codec{codec}, answerDirection(rm.Direction))
	if err != nil {
		tx.Respond(sip.NewResponseFromRequest(req, 500, "Server Internal Error", nil))
		return
	}

	res := sip.NewResponseFromRequest(req, 200, "OK", answer)
	ct := sip.ContentTypeHeader("application/sdp")
	res.AppendHeader(&ct)
	res.AppendHeader(&sip.ContactHeader{Address: c.eng.contactURI(c.acc.user())})
	if err := tx.Respond(res); err != nil {
		c.log.Warn("[SIPEngine] Failed to answer re-INVITE", "call_id", c.id, "error", err)
		return
	}

	status := mediaStatus(rm.Direction)
	c.log.Info("[SIPEngine] Media renegotiated", "call_id", c.id, "status", status.String())
	c.postMedia(status)
}

// onBye handles a BYE from the peer.
func (c *call) onBye(req *sip.Request, tx sip.ServerTransaction) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session != nil {
		if err := session.ReadBye(req, tx); err != nil {
			c.log.Warn("[SIPEngine] Failed to read BYE", "call_id", c.id, "error", err)
		}
	} else if err := tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil)); err != nil {
		c.log.Warn("[SIPEngine] Failed to respond to BYE", "call_id", c.id, "error", err)
	}
	c.setState(engine.CallStateDisconnected, 200, "Normal call clearing")
}

// onCancel handles a CANCEL of an inbound INVITE not yet answered.
func (c *call) onCancel(req *sip.Request, tx sip.ServerTransaction) bool {
	c.mu.Lock()
	if !c.incoming || c.answered || c.terminated {
		c.mu.Unlock()
		return false
	}
	c.answered = true
	invite, inviteTx := c.inviteReq, c.inviteTx
	c.mu.Unlock()

	if err := tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil)); err != nil {
		c.log.Warn("[SIPEngine] Failed to respond to CANCEL", "call_id", c.id, "error", err)
	}
	inviteTx.Respond(sip.NewResponseFromRequest(invite, 487, "Request Terminated", nil))
	c.setState(engine.CallStateDisconnected, 487, "Request Terminated")
	return true
}

// dial places an outbound call from a.
func (e *Engine) dial(a *account, destination string, opts engine.CallOptions) (*call, error) {
	var target sip.Uri
	if err := sip.ParseUri(destination, &target); err != nil {
		return nil, fmt.Errorf("invalid destination %q: %w", destination, err)
	}

	callID := generateCallID()
	st, err := e.openStream(callID)
	if err != nil {
		return nil, err
	}
	c := newCall(e, a, callID, false, st)
	c.info.RemoteURI = destination

	offer, err := c.localSDP(e.codecs.Enabled(), dirSendRecv)
	if err != nil {
		st.close()
		return nil, fmt.Errorf("build SDP offer: %w", err)
	}
	invite := c.buildInvite(target, offer, opts)

	ctx, cancel := context.WithCancel(e.ctx)
	c.cancelInvite = cancel
	e.addCall(c)

	if opts.AudioDeviceID > 0 {
		e.log.Info("[SIPEngine] Audio device requested", "call_id", callID, "device", opts.AudioDeviceID)
	}
	e.log.Info("[SIPEngine] Dialing", "call_id", callID, "from", a.uri(), "to", destination)

	go c.runInvite(ctx, invite)
	return c, nil
}

func (c *call) buildInvite(target sip.Uri, offer []byte, opts engine.CallOptions) *sip.Request {
	invite := sip.NewRequest(sip.INVITE, target)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)
	from := c.acc.fromHeader()
	invite.AppendHeader(from)
	invite.AppendHeader(&sip.ToHeader{Address: target, Params: sip.NewParams()})

	callIDHdr := sip.CallIDHeader(c.id)
	invite.AppendHeader(&callIDHdr)
	invite.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	invite.AppendHeader(&sip.ContactHeader{Address: c.eng.contactURI(from.Address.User)})

	// Param carries extra "Name: value" header lines
	for _, line := range strings.Split(opts.Param, "\n") {
		name, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && name != "" {
			invite.AppendHeader(sip.NewHeader(strings.TrimSpace(name), strings.TrimSpace(value)))
		}
	}

	ct := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&ct)
	invite.SetBody(offer)
	return invite
}

// runInvite drives the outbound INVITE transaction to a final outcome.
func (c *call) runInvite(ctx context.Context, invite *sip.Request) {
	c.setState(engine.CallStateCalling, 0, "")
	authorized := false

	for {
		tx, err := c.eng.client.TransactionRequest(c.eng.ctx, invite)
		if err != nil {
			c.log.Warn("[SIPEngine] INVITE failed", "call_id", c.id, "error", err)
			c.setState(engine.CallStateDisconnected, 503, "Service Unavailable")
			return
		}

		res, cancelled, err := c.awaitFinal(ctx, tx, invite)
		switch {
		case err != nil:
			if cancelled {
				c.setState(engine.CallStateDisconnected, 487, "Request Terminated")
			} else {
				c.setState(engine.CallStateDisconnected, 408, "Request Timeout")
			}
			return

		case isChallenge(res) && !authorized && !cancelled && len(c.acc.credentials()) > 0:
			authorized = true
			authInvite, err := authorize(invite, res, c.acc.credentials())
			if err != nil {
				c.log.Warn("[SIPEngine] Cannot answer INVITE challenge", "call_id", c.id, "error", err)
				c.setState(engine.CallStateDisconnected, int(res.StatusCode), res.Reason)
				return
			}
			invite = authInvite
			continue

		case res.IsSuccess():
			c.established(res, invite, cancelled)
			return

		default:
			c.setState(engine.CallStateDisconnected, int(res.StatusCode), res.Reason)
			return
		}
	}
}

// awaitFinal waits for the final INVITE response, reporting ringing as
// Early. Cancelling ctx sends CANCEL and keeps waiting for the answer to
// the INVITE.
func (c *call) awaitFinal(ctx context.Context, tx sip.ClientTransaction, invite *sip.Request) (*sip.Response, bool, error) {
	cancelled := false
	done := ctx.Done()
	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok || res == nil {
				return nil, cancelled, errNoResponse
			}
			if res.IsProvisional() {
				if res.StatusCode > 100 {
					c.setState(engine.CallStateEarly, int(res.StatusCode), res.Reason)
				}
				continue
			}
			return res, cancelled, nil

		case <-tx.Done():
			return nil, cancelled, errNoResponse

		case <-done:
			done = nil
			cancelled = true
			go c.sendCancel(invite)
		}
	}
}

// established handles a 2xx: ACK, then Confirmed and media.
func (c *call) established(res *sip.Response, invite *sip.Request, cancelled bool) {
	dlg := &dialog{
		callID: c.id,
		local:  invite.From(),
		remote: res.To(),
		target: invite.Recipient,
		dest:   res.Source(),
	}
	if contact := res.Contact(); contact != nil {
		dlg.target = contact.Address
	}
	if cseq := invite.CSeq(); cseq != nil {
		dlg.cseq = cseq.SeqNo
	}

	c.mu.Lock()
	c.dlg = dlg
	hangingUp := cancelled || c.hangingUp || c.terminated
	c.mu.Unlock()

	if err := c.sendAck(res, invite); err != nil {
		c.log.Error("[SIPEngine] Failed to send ACK", "call_id", c.id, "error", err)
	}

	if hangingUp {
		// the answer raced the CANCEL
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.sendBye(ctx)
		c.setState(engine.CallStateDisconnected, 487, "Request Terminated")
		return
	}

	c.setState(engine.CallStateConnecting, int(res.StatusCode), res.Reason)

	rm, err := parseSDP(res.Body())
	if err == nil {
		_, err = c.applyRemote(rm)
	}
	if err != nil {
		c.log.Warn("[SIPEngine] Unusable SDP answer", "call_id", c.id, "error", err)
		c.terminate(488, "Not Acceptable Here")
		return
	}

	c.log.Info("[SIPEngine] Call answered", "call_id", c.id, "remote", fmt.Sprintf("%s:%d", rm.Addr, rm.Port))
	c.setState(engine.CallStateConfirmed, int(res.StatusCode), res.Reason)
	c.postMedia(mediaStatus(rm.Direction))
}

// sendAck acknowledges a 2xx. The ACK is sent outside the transaction to
// the remote target.
func (c *call) sendAck(res *sip.Response, invite *sip.Request) error {
	requestURI := invite.Recipient
	if contact := res.Contact(); contact != nil {
		requestURI = contact.Address
	}

	ack := sip.NewRequest(sip.ACK, requestURI)
	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)
	if to := res.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params})
	}
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	if src := res.Source(); src != "" {
		ack.SetDestination(src)
	}
	if err := c.eng.client.WriteRequest(ack); err != nil {
		return fmt.Errorf("write ACK: %w", err)
	}
	return nil
}

// sendCancel cancels a pending outbound INVITE.
func (c *call) sendCancel(invite *sip.Request) {
	cancelReq := sip.NewRequest(sip.CANCEL, invite.Recipient)
	sip.CopyHeaders("Via", invite, cancelReq)
	sip.CopyHeaders("From", invite, cancelReq)
	sip.CopyHeaders("To", invite, cancelReq)
	sip.CopyHeaders("Call-ID", invite, cancelReq)
	if cseq := invite.CSeq(); cseq != nil {
		cancelReq.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancelReq.AppendHeader(&maxFwd)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.eng.transact(ctx, cancelReq)
	if err != nil {
		c.log.Warn("[SIPEngine] CANCEL failed", "call_id", c.id, "error", err)
		return
	}
	c.log.Debug("[SIPEngine] CANCEL answered", "call_id", c.id, "status", int(res.StatusCode))
}

var _ engine.Call = (*call)(nil)

package sipengine

import (
	"github.com/emiago/sipgo/sip"
	"github.com/sebas/softphone/internal/ua/engine"
)

var reasonPhrases = map[int]string{
	100: "Trying",
	180: "Ringing",
	183: "Session Progress",
	200: "OK",
	202: "Accepted",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	408: "Request Timeout",
	480: "Temporarily Unavailable",
	481: "Call/Transaction Does Not Exist",
	486: "Busy Here",
	487: "Request Terminated",
	488: "Not Acceptable Here",
	491: "Request Pending",
	500: "Server Internal Error",
	503: "Service Unavailable",
	603: "Decline",
}

// reasonPhrase returns the RFC 3261 reason phrase for code.
func reasonPhrase(code int) string {
	if r, ok := reasonPhrases[code]; ok {
		return r
	}
	switch {
	case code < 200:
		return "Session Progress"
	case code < 300:
		return "OK"
	case code < 600:
		return "Request Failed"
	default:
		return "Decline"
	}
}

func (e *Engine) respond(req *sip.Request, tx sip.ServerTransaction, code int, body []byte) {
	res := sip.NewResponseFromRequest(req, sip.StatusCode(code), reasonPhrase(code), body)
	if err := tx.Respond(res); err != nil {
		e.log.Warn("[SIPEngine] Failed to respond",
			"method", string(req.Method),
			"status", code,
			"error", err,
		)
	}
}

// handleInvite accepts new inbound calls and re-INVITEs on existing ones.
func (e *Engine) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().String()

	if c, ok := e.callByID(callID); ok {
		if c.state() == engine.CallStateConfirmed {
			c.onReinvite(req, tx)
			return
		}
		// retransmission or glare on a pending dialog
		e.respond(req, tx, 491, nil)
		return
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		e.respond(req, tx, 503, nil)
		return
	}

	acc := e.accountFor(req.Recipient.User)
	if acc == nil {
		e.log.Warn("[SIPEngine] INVITE with no account", "call_id", callID, "to", req.Recipient.String())
		e.respond(req, tx, 480, nil)
		return
	}

	offer, err := parseSDP(req.Body())
	if err != nil {
		e.log.Warn("[SIPEngine] INVITE with unusable SDP", "call_id", callID, "error", err)
		e.respond(req, tx, 488, nil)
		return
	}

	e.respond(req, tx, 100, nil)

	st, err := e.openStream(callID)
	if err != nil {
		e.log.Error("[SIPEngine] No media port for INVITE", "call_id", callID, "error", err)
		e.respond(req, tx, 503, nil)
		return
	}

	c := newCall(e, acc, callID, true, st)
	c.inviteReq = req
	c.inviteTx = tx
	c.remote = offer
	c.info.State = engine.CallStateIncoming
	c.info.RemoteURI = req.From().Address.String()
	if contact := req.Contact(); contact != nil {
		c.info.RemoteContact = contact.Address.String()
	}
	e.addCall(c)

	e.log.Info("[SIPEngine] Incoming call",
		"call_id", callID,
		"from", c.info.RemoteURI,
		"account", acc.uri(),
		"source", req.Source(),
	)
	acc.postIncomingCall(c)
}

func (e *Engine) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	c, ok := e.callByID(req.CallID().String())
	if !ok {
		return
	}
	c.onAck(req, tx)
}

func (e *Engine) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().String()
	c, ok := e.callByID(callID)
	if !ok {
		e.log.Debug("[SIPEngine] BYE for unknown call", "call_id", callID)
		e.respond(req, tx, 481, nil)
		return
	}
	e.log.Info("[SIPEngine] BYE received", "call_id", callID)
	c.onBye(req, tx)
}

func (e *Engine) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().String()
	c, ok := e.callByID(callID)
	if !ok || !c.onCancel(req, tx) {
		e.respond(req, tx, 481, nil)
		return
	}
	e.log.Info("[SIPEngine] INVITE cancelled", "call_id", callID)
}

// handleMessage delivers MESSAGE bodies to the call they belong to, or to
// the addressed account.
func (e *Engine) handleMessage(req *sip.Request, tx sip.ServerTransaction) {
	from := req.From().Address.String()
	text := string(req.Body())

	if c, ok := e.callByID(req.CallID().String()); ok {
		c.postMessage(from, text)
		e.respond(req, tx, 200, nil)
		return
	}
	acc := e.accountFor(req.Recipient.User)
	if acc == nil {
		e.respond(req, tx, 404, nil)
		return
	}
	acc.postMessage(from, text)
	e.respond(req, tx, 200, nil)
}

// handleNotify takes presence NOTIFYs for known buddies.
func (e *Engine) handleNotify(req *sip.Request, tx sip.ServerTransaction) {
	b := e.buddyFor(req.From().Address)
	if b == nil {
		e.respond(req, tx, 481, nil)
		return
	}
	e.respond(req, tx, 200, nil)
	b.onNotify(req.Body())
}

func (e *Engine) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, BYE, CANCEL, MESSAGE, NOTIFY, OPTIONS"))
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp, text/plain, application/pidf+xml"))
	if err := tx.Respond(res); err != nil {
		e.log.Warn("[SIPEngine] Failed to respond to OPTIONS", "error", err)
	}
}

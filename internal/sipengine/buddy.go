package sipengine

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/sebas/softphone/internal/ua/engine"
)

// presenceExpires is the SUBSCRIBE lifetime for presence.
const presenceExpires = 600

// Presence state texts.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// buddy is a presence subscription (RFC 3856) and a MESSAGE peer.
type buddy struct {
	acc    *account
	log    *slog.Logger
	uri    string
	target sip.Uri

	mu         sync.Mutex
	handler    func(engine.BuddyState)
	callID     string
	tag        string
	cseq       uint32
	subscribed bool
	refresh    *time.Timer
	closed     bool
}

func newBuddy(a *account, uri string, target sip.Uri) *buddy {
	return &buddy{
		acc:    a,
		log:    a.log,
		uri:    uri,
		target: target,
		callID: generateCallID(),
		tag:    generateTag(),
	}
}

// URI returns the buddy URI.
func (b *buddy) URI() string { return b.uri }

// SetStateHandler installs the presence callback.
func (b *buddy) SetStateHandler(fn func(engine.BuddyState)) {
	b.mu.Lock()
	b.handler = fn
	b.mu.Unlock()
}

// SubscribePresence starts (or refreshes) or ends the presence subscription.
// The SUBSCRIBE is sent in the background.
func (b *buddy) SubscribePresence(subscribe bool) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errAccountClosed
	}
	b.subscribed = subscribe
	b.mu.Unlock()

	expires := 0
	if subscribe {
		expires = presenceExpires
	}
	go b.subscribe(expires)
	return nil
}

func (b *buddy) buildSubscribe(expires int) *sip.Request {
	b.mu.Lock()
	b.cseq++
	callID, tag, cseq := b.callID, b.tag, b.cseq
	b.mu.Unlock()

	req := sip.NewRequest(sip.SUBSCRIBE, b.target)
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	from := b.acc.fromHeader()
	from.Params = sip.NewParams()
	from.Params.Add("tag", tag)
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: b.target, Params: sip.NewParams()})

	callIDHdr := sip.CallIDHeader(callID)
	req.AppendHeader(&callIDHdr)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: sip.SUBSCRIBE})
	req.AppendHeader(&sip.ContactHeader{Address: b.acc.eng.contactURI(from.Address.User)})
	req.AppendHeader(sip.NewHeader("Event", "presence"))
	req.AppendHeader(sip.NewHeader("Accept", "application/pidf+xml"))

	exp := sip.ExpiresHeader(expires)
	req.AppendHeader(&exp)
	return req
}

func (b *buddy) subscribe(expires int) {
	ctx, cancel := context.WithTimeout(b.acc.ctx, b.acc.eng.cfg.RequestTimeout)
	defer cancel()

	res, sent, err := b.acc.eng.requestWithAuth(ctx, b.buildSubscribe(expires), b.acc.credentials())
	if cseq := sent.CSeq(); cseq != nil {
		b.mu.Lock()
		if cseq.SeqNo > b.cseq {
			b.cseq = cseq.SeqNo
		}
		b.mu.Unlock()
	}
	if err != nil {
		b.log.Warn("[SIPEngine] SUBSCRIBE failed", "buddy", b.uri, "error", err)
		return
	}
	if !res.IsSuccess() {
		b.log.Warn("[SIPEngine] SUBSCRIBE rejected", "buddy", b.uri, "status", int(res.StatusCode), "reason", res.Reason)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refresh != nil {
		b.refresh.Stop()
		b.refresh = nil
	}
	if expires > 0 && b.subscribed && !b.closed {
		granted := grantedExpires(res, expires)
		b.refresh = time.AfterFunc(refreshAfter(granted), func() { b.subscribe(presenceExpires) })
	}
	b.log.Debug("[SIPEngine] Presence subscription", "buddy", b.uri, "expires", expires)
}

// SendInstantMessage sends an out-of-dialog MESSAGE in the background.
func (b *buddy) SendInstantMessage(text string) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return errAccountClosed
	}
	b.acc.sendMessage(b.target, text)
	return nil
}

// onNotify delivers a presence document.
func (b *buddy) onNotify(body []byte) {
	state := parsePresence(body)
	b.mu.Lock()
	fn := b.handler
	b.mu.Unlock()

	b.log.Debug("[SIPEngine] Presence", "buddy", b.uri, "state", state)
	if fn != nil {
		fn(engine.BuddyState{URI: b.uri, StateText: state})
	}
}

// close ends the subscription and drops the handler.
func (b *buddy) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.handler = nil
	if b.refresh != nil {
		b.refresh.Stop()
		b.refresh = nil
	}
	subscribed := b.subscribed
	b.subscribed = false
	b.mu.Unlock()

	if subscribed {
		go b.subscribe(0)
	}
}

type pidfDocument struct {
	XMLName xml.Name `xml:"presence"`
	Tuples  []struct {
		Basic string `xml:"status>basic"`
	} `xml:"tuple"`
}

// parsePresence reduces a PIDF document (RFC 3863) to online or offline.
func parsePresence(body []byte) string {
	var doc pidfDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return PresenceOffline
	}
	for _, t := range doc.Tuples {
		if strings.EqualFold(strings.TrimSpace(t.Basic), "open") {
			return PresenceOnline
		}
	}
	return PresenceOffline
}

// sendMessage sends an out-of-dialog MESSAGE from the account.
func (a *account) sendMessage(target sip.Uri, text string) {
	req := sip.NewRequest(sip.MESSAGE, target)
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(a.fromHeader())
	req.AppendHeader(&sip.ToHeader{Address: target, Params: sip.NewParams()})
	callIDHdr := sip.CallIDHeader(generateCallID())
	req.AppendHeader(&callIDHdr)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.MESSAGE})
	ct := sip.ContentTypeHeader("text/plain")
	req.AppendHeader(&ct)
	req.SetBody([]byte(text))

	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, a.eng.cfg.RequestTimeout)
		defer cancel()
		res, _, err := a.eng.requestWithAuth(ctx, req, a.credentials())
		switch {
		case err != nil:
			a.log.Warn("[SIPEngine] MESSAGE failed", "to", target.String(), "error", err)
		case !res.IsSuccess():
			a.log.Warn("[SIPEngine] MESSAGE rejected", "to", target.String(), "status", int(res.StatusCode))
		}
	}()
}

func (b *buddy) String() string { return fmt.Sprintf("buddy(%s)", b.uri) }

var _ engine.Buddy = (*buddy)(nil)

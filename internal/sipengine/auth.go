package sipengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
	"github.com/sebas/softphone/internal/ua/engine"
)

var errNoResponse = errors.New("no final response")

// isChallenge reports whether res asks for credentials.
func isChallenge(res *sip.Response) bool {
	return res.StatusCode == 401 || res.StatusCode == 407
}

// pickCredentials returns the credentials for realm. An empty or "*" realm
// matches any challenge; the first entry is the fallback.
func pickCredentials(creds []engine.Credentials, realm string) (engine.Credentials, bool) {
	if len(creds) == 0 {
		return engine.Credentials{}, false
	}
	for _, c := range creds {
		if strings.EqualFold(c.Realm, realm) {
			return c, true
		}
	}
	for _, c := range creds {
		if c.Realm == "" || c.Realm == "*" {
			return c, true
		}
	}
	return creds[0], true
}

// authorize answers the digest challenge in res with a copy of req carrying
// the Authorization (or Proxy-Authorization) header and the next CSeq.
func authorize(req *sip.Request, res *sip.Response, creds []engine.Credentials) (*sip.Request, error) {
	challengeHdr, authHdr := "WWW-Authenticate", "Authorization"
	if res.StatusCode == 407 {
		challengeHdr, authHdr = "Proxy-Authenticate", "Proxy-Authorization"
	}

	h := res.GetHeader(challengeHdr)
	if h == nil {
		return nil, fmt.Errorf("%d response without %s header", res.StatusCode, challengeHdr)
	}
	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return nil, fmt.Errorf("parse challenge: %w", err)
	}
	cred, ok := pickCredentials(creds, chal.Realm)
	if !ok {
		return nil, fmt.Errorf("no credentials for realm %q", chal.Realm)
	}

	d, err := digest.Digest(chal, digest.Options{
		Method:   string(req.Method),
		URI:      req.Recipient.String(),
		Username: cred.Username,
		Password: cred.Password,
		Count:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("compute digest: %w", err)
	}

	authReq := req.Clone()
	// a new transaction needs a new branch
	authReq.RemoveHeader("Via")
	authReq.RemoveHeader(authHdr)
	if cseq := authReq.CSeq(); cseq != nil {
		cseq.SeqNo++
	}
	authReq.AppendHeader(sip.NewHeader(authHdr, d.String()))
	return authReq, nil
}

// transact sends a non-INVITE request and waits for its final response.
func (e *Engine) transact(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	tx, err := e.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Method, err)
	}
	defer tx.Terminate()

	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok || res == nil {
				return nil, errNoResponse
			}
			if res.IsProvisional() {
				continue
			}
			return res, nil
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", errNoResponse, err)
			}
			return nil, errNoResponse
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// requestWithAuth sends req and, on a 401/407, retries once with digest
// credentials. It returns the final response and the request that got it.
func (e *Engine) requestWithAuth(ctx context.Context, req *sip.Request, creds []engine.Credentials) (*sip.Response, *sip.Request, error) {
	res, err := e.transact(ctx, req)
	if err != nil {
		return nil, req, err
	}
	if !isChallenge(res) || len(creds) == 0 {
		return res, req, nil
	}

	authReq, err := authorize(req, res, creds)
	if err != nil {
		e.log.Warn("[SIPEngine] Cannot answer challenge", "method", string(req.Method), "status", int(res.StatusCode), "error", err)
		return res, req, nil
	}
	res, err = e.transact(ctx, authReq)
	if err != nil {
		return nil, authReq, err
	}
	return res, authReq, nil
}

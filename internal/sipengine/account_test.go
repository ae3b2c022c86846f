package sipengine

import (
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
)

func TestGrantedExpires(t *testing.T) {
	req := testRegister(t)

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	assert.Equal(t, 300, grantedExpires(res, 300), "nothing granted keeps the request")

	exp := sip.ExpiresHeader(120)
	res.AppendHeader(&exp)
	assert.Equal(t, 120, grantedExpires(res, 300))

	params := sip.NewParams()
	params.Add("expires", "60")
	res.AppendHeader(&sip.ContactHeader{Address: sip.Uri{Scheme: "sip", User: "alice", Host: "192.0.2.1"}, Params: params})
	assert.Equal(t, 60, grantedExpires(res, 300), "contact parameter wins")
}

func TestRefreshAfter(t *testing.T) {
	assert.Equal(t, 270*time.Second, refreshAfter(300))
	assert.Equal(t, 270*time.Second, refreshAfter(0))
	assert.Equal(t, time.Second, refreshAfter(1))
}

func TestParsePresence(t *testing.T) {
	open := `<?xml version="1.0" encoding="UTF-8"?>
<presence xmlns="urn:ietf:params:xml:ns:pidf" entity="sip:bob@example.com">
  <tuple id="t1"><status><basic>open</basic></status></tuple>
</presence>`
	closed := `<presence xmlns="urn:ietf:params:xml:ns:pidf" entity="sip:bob@example.com">
  <tuple id="t1"><status><basic>closed</basic></status></tuple>
</presence>`

	assert.Equal(t, PresenceOnline, parsePresence([]byte(open)))
	assert.Equal(t, PresenceOffline, parsePresence([]byte(closed)))
	assert.Equal(t, PresenceOffline, parsePresence([]byte("not xml")))
}

func TestReasonPhrase(t *testing.T) {
	assert.Equal(t, "Decline", reasonPhrase(603))
	assert.Equal(t, "Request Terminated", reasonPhrase(487))
	assert.Equal(t, "Request Failed", reasonPhrase(499))
}

package banner

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFprintAlignsLabels(t *testing.T) {
	var buf bytes.Buffer
	Fprint(&buf, "Softphone", []ConfigLine{
		{Label: "SIP", Value: "udp 0.0.0.0:5060"},
		{Label: "Control", Value: ":9091"},
		{Label: "Account", Value: ""},
	})

	out := buf.String()
	assert.Contains(t, out, "Softphone\n")
	assert.Contains(t, out, "  SIP     : udp 0.0.0.0:5060\n")
	assert.Contains(t, out, "  Control : :9091\n")
	assert.Contains(t, out, "  Account : -\n")
	assert.Contains(t, out, "Ready.")
}

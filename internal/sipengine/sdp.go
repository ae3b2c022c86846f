package sipengine

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/sebas/softphone/internal/sipengine/media"
	"github.com/sebas/softphone/internal/ua/engine"
)

// SDP direction attributes.
const (
	dirSendRecv = "sendrecv"
	dirSendOnly = "sendonly"
	dirRecvOnly = "recvonly"
	dirInactive = "inactive"
)

// remoteMedia is the audio stream description taken from a peer's SDP.
type remoteMedia struct {
	Addr      string
	Port      int
	Formats   []uint8
	DTMFType  uint8
	HasDTMF   bool
	Direction string
}

// UDPAddr returns the RTP destination.
func (m *remoteMedia) UDPAddr() (*net.UDPAddr, error) {
	ip := net.ParseIP(m.Addr)
	if ip == nil {
		addrs, err := net.LookupIP(m.Addr)
		if err != nil || len(addrs) == 0 {
			return nil, fmt.Errorf("resolve media address %q: %w", m.Addr, err)
		}
		ip = addrs[0]
	}
	return &net.UDPAddr{IP: ip, Port: m.Port}, nil
}

// buildSDP creates an offer or answer for one audio stream carrying codecs
// plus telephone-event.
func buildSDP(sessionID, version uint64, addr string, port int, codecs []media.Codec, direction string) ([]byte, error) {
	formats := make([]string, 0, len(codecs)+1)
	for _, c := range codecs {
		formats = append(formats, strconv.Itoa(int(c.PayloadType)))
	}
	formats = append(formats, strconv.Itoa(int(media.DTMFPayloadType)))

	sd := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "softphone",
			SessionID:      sessionID,
			SessionVersion: version,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: "softphone",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: addr},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: codecAttributes(codecs, direction),
			},
		},
	}
	return sd.Marshal()
}

func codecAttributes(codecs []media.Codec, direction string) []sdp.Attribute {
	attrs := make([]sdp.Attribute, 0, len(codecs)+4)
	for _, c := range codecs {
		attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: c.Rtpmap()})
	}
	attrs = append(attrs,
		sdp.Attribute{Key: "rtpmap", Value: media.CodecTelephoneEvent.Rtpmap()},
		sdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d 0-15", media.DTMFPayloadType)},
		sdp.Attribute{Key: "ptime", Value: "20"},
		sdp.Attribute{Key: direction},
	)
	return attrs
}

// parseSDP extracts the first audio stream of body.
func parseSDP(body []byte) (*remoteMedia, error) {
	if len(body) == 0 {
		return nil, errors.New("empty SDP")
	}
	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("parse SDP: %w", err)
	}

	var md *sdp.MediaDescription
	for _, m := range sd.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			md = m
			break
		}
	}
	if md == nil {
		return nil, errors.New("no audio stream in SDP")
	}

	rm := &remoteMedia{Port: md.MediaName.Port.Value, Direction: dirSendRecv}
	switch {
	case md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil:
		rm.Addr = md.ConnectionInformation.Address.Address
	case sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil:
		rm.Addr = sd.ConnectionInformation.Address.Address
	default:
		return nil, errors.New("no connection address in SDP")
	}

	for _, f := range md.MediaName.Formats {
		pt, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			continue
		}
		rm.Formats = append(rm.Formats, uint8(pt))
	}

	for _, a := range sd.Attributes {
		if isDirection(a.Key) {
			rm.Direction = a.Key
		}
	}
	for _, a := range md.Attributes {
		switch {
		case isDirection(a.Key):
			rm.Direction = a.Key
		case a.Key == "rtpmap" && strings.Contains(strings.ToLower(a.Value), "telephone-event/"):
			pt, err := strconv.ParseUint(strings.Fields(a.Value)[0], 10, 8)
			if err == nil {
				rm.DTMFType = uint8(pt)
				rm.HasDTMF = true
			}
		}
	}
	// a=0.0.0.0 is the RFC 2543 way of putting a stream on hold
	if rm.Addr == "0.0.0.0" && rm.Direction == dirSendRecv {
		rm.Direction = dirInactive
	}
	return rm, nil
}

func isDirection(key string) bool {
	switch key {
	case dirSendRecv, dirSendOnly, dirRecvOnly, dirInactive:
		return true
	}
	return false
}

// selectCodec returns the first remote format that is an enabled local codec.
func selectCodec(enabled []media.Codec, formats []uint8) (media.Codec, bool) {
	for _, pt := range formats {
		for _, c := range enabled {
			if c.PayloadType == pt {
				return c, true
			}
		}
	}
	return media.Codec{}, false
}

// answerDirection mirrors the remote direction.
func answerDirection(remote string) string {
	switch remote {
	case dirSendOnly:
		return dirRecvOnly
	case dirRecvOnly:
		return dirSendOnly
	case dirInactive:
		return dirInactive
	}
	return dirSendRecv
}

// mediaStatus maps the remote direction to the stream's media status.
func mediaStatus(remote string) engine.MediaStatus {
	switch remote {
	case dirSendOnly, dirInactive:
		return engine.MediaStatusRemoteHold
	case dirRecvOnly:
		return engine.MediaStatusLocalHold
	}
	return engine.MediaStatusActive
}

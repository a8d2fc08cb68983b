package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"voice-gateway/pkg/logger"

	"github.com/pion/sdp/v3"
)

var ErrInvalidOffer = errors.New("signaling: invalid sdp offer")

// Offer is an inbound SDP offer for one call.
type Offer struct {
	CallID string
	From   string
	SDP    string
}

// CallSetup is what the controller keeps for the lifetime of the call.
type CallSetup struct {
	RTPPort int      `json:"rtp_port"`
	Codecs  []string `json:"codecs"`
}

// Answer is the negotiated SDP answer plus its setup metadata.
type Answer struct {
	SDP   string
	Setup CallSetup
}

// Handler turns offers into answers and owns the RTP port pool.
type Handler struct {
	pool     *PortPool
	publicIP string
	log      *slog.Logger

	Now func() time.Time
}

func NewHandler(pool *PortPool, publicIP string, log *slog.Logger) *Handler {
	return &Handler{
		pool:     pool,
		publicIP: publicIP,
		log:      logger.OrDefault(log).With("component", "signaling"),
		Now:      time.Now,
	}
}

// ProcessOffer parses the offer, allocates a port and builds the answer.
// The port is held only when an answer is returned.
func (h *Handler) ProcessOffer(ctx context.Context, in Offer) (Answer, error) {
	offer := &sdp.SessionDescription{}
	if err := offer.Unmarshal([]byte(normalizeSDP(in.SDP))); err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	audio := firstAudio(offer)
	if audio == nil {
		return Answer{}, fmt.Errorf("%w: no audio section", ErrInvalidOffer)
	}

	port, err := h.pool.Allocate()
	if err != nil {
		h.log.Warn("no rtp port available", "call_id", in.CallID, "from", in.From)
		return Answer{}, err
	}

	answer := h.buildAnswer(audio, port)
	raw, err := answer.Marshal()
	if err != nil {
		h.pool.Release(port)
		return Answer{}, fmt.Errorf("signaling: marshal answer: %w", err)
	}

	codecs := append([]string(nil), audio.MediaName.Formats...)
	h.log.Info("sdp answer created", "call_id", in.CallID, "rtp_port", port, "codecs", codecs)
	return Answer{SDP: string(raw), Setup: CallSetup{RTPPort: port, Codecs: codecs}}, nil
}

// ReleaseRTPPort returns a port to the pool. Releasing an unknown port only logs.
func (h *Handler) ReleaseRTPPort(port int) {
	if port == 0 {
		return
	}
	if !h.pool.Release(port) {
		h.log.Warn("release of unallocated rtp port", "rtp_port", port)
	}
}

// AvailableCapacity never blocks on allocation.
func (h *Handler) AvailableCapacity() Capacity {
	return h.pool.Snapshot()
}

func (h *Handler) buildAnswer(offered *sdp.MediaDescription, port int) *sdp.SessionDescription {
	addrType := "IP4"
	if ip := net.ParseIP(h.publicIP); ip != nil && ip.To4() == nil {
		addrType = "IP6"
	}
	conn := &sdp.ConnectionInformation{
		NetworkType: "IN",
		AddressType: addrType,
		Address:     &sdp.Address{Address: h.publicIP},
	}

	sessionID := uint64(h.Now().UnixNano())
	answer := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: h.publicIP,
		},
		SessionName:           "voice-gateway",
		ConnectionInformation: conn,
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	protos := offered.MediaName.Protos
	if len(protos) == 0 {
		protos = []string{"RTP", "AVP"}
	}
	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: port},
			Protos:  protos,
			Formats: offered.MediaName.Formats,
		},
		ConnectionInformation: conn,
	}
	for _, a := range offered.Attributes {
		switch a.Key {
		case "rtpmap", "fmtp", "ptime", "maxptime":
			media.Attributes = append(media.Attributes, sdp.Attribute{Key: a.Key, Value: a.Value})
		}
	}
	media.Attributes = append(media.Attributes, sdp.Attribute{Key: answerDirection(offered)})

	answer.MediaDescriptions = []*sdp.MediaDescription{media}
	return answer
}

func answerDirection(m *sdp.MediaDescription) string {
	for _, a := range m.Attributes {
		switch a.Key {
		case "sendonly":
			return "recvonly"
		case "recvonly":
			return "sendonly"
		case "inactive":
			return "inactive"
		}
	}
	return "sendrecv"
}

func firstAudio(sd *sdp.SessionDescription) *sdp.MediaDescription {
	for _, m := range sd.MediaDescriptions {
		if m.MediaName.Media == "audio" && len(m.MediaName.Formats) > 0 {
			return m
		}
	}
	return nil
}

// normalizeSDP undoes JSON-escaped line breaks and makes every line end in CRLF.
func normalizeSDP(s string) string {
	s = strings.ReplaceAll(s, `\r\n`, "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ReplaceAll(s, "\n", "\r\n") + "\r\n"
}

package camera

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
)

const defaultCheckTimeout = 10 * time.Second

// RTSPCheckConfig configures an RTSP reachability check
type RTSPCheckConfig struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// MediaInfo describes one media announced by the stream
type MediaInfo struct {
	Type   string   `json:"type"`
	Codecs []string `json:"codecs"`
}

// StreamInfo is the outcome of a successful check
type StreamInfo struct {
	Medias           []MediaInfo   `json:"medias"`
	FirstPacketAfter time.Duration `json:"first_packet_after"`
	PayloadType      uint8         `json:"payload_type"`
}

// CheckRTSP describes the stream, starts playback and waits for the first RTP packet
func CheckRTSP(ctx context.Context, cfg RTSPCheckConfig) (*StreamInfo, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u, err := base.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if cfg.Username != "" && u.User == nil {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}

	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{
		Transport:    &transport,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	var closeOnce sync.Once
	closeClient := func() { closeOnce.Do(client.Close) }
	defer closeClient()

	// Unblock pending requests when the caller gives up
	stop := context.AfterFunc(ctx, closeClient)
	defer stop()

	desc, _, err := client.Describe(u)
	if err != nil {
		return nil, fmt.Errorf("failed to describe stream: %w", err)
	}
	if len(desc.Medias) == 0 {
		return nil, fmt.Errorf("stream announces no medias")
	}

	info := &StreamInfo{Medias: describeMedias(desc.Medias)}

	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}

	packets := make(chan *rtp.Packet, 1)
	client.OnPacketRTPAny(func(_ *description.Media, _ format.Format, pkt *rtp.Packet) {
		select {
		case packets <- pkt:
		default:
		}
	})

	started := time.Now()
	if _, err := client.Play(nil); err != nil {
		return nil, fmt.Errorf("failed to play stream: %w", err)
	}

	select {
	case pkt := <-packets:
		info.FirstPacketAfter = time.Since(started)
		info.PayloadType = pkt.PayloadType
		return info, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no RTP packets received: %w", ctx.Err())
	}
}

func describeMedias(medias []*description.Media) []MediaInfo {
	out := make([]MediaInfo, 0, len(medias))
	for _, media := range medias {
		mi := MediaInfo{Type: string(media.Type)}
		for _, forma := range media.Formats {
			mi.Codecs = append(mi.Codecs, forma.Codec())
		}
		out = append(out, mi)
	}
	return out
}

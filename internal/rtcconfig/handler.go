package rtcconfig

import (
	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"

	"github.com/campus-music/backend/pkg/response"
)

// Handler serves the ICE server configuration clients feed into their
// RTCPeerConnection. The server itself never opens peer connections; media
// stays entirely between the browsers.
type Handler struct {
	servers []webrtc.ICEServer
}

// NewHandler builds the ICE server list from configured URLs.
func NewHandler(iceURLs []string) *Handler {
	servers := make([]webrtc.ICEServer, 0, len(iceURLs))
	for _, u := range iceURLs {
		if u != "" {
			servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
		}
	}
	return &Handler{servers: servers}
}

// GetICEServers handles GET /webrtc/ice-servers.
func (h *Handler) GetICEServers(c *gin.Context) {
	response.OK(c, gin.H{"iceServers": h.servers})
}

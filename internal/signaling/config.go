package signaling

// ICEServer represents a STUN/TURN server configuration
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Config holds the relay's room name and ICE configuration handed to clients
type Config struct {
	Room         string
	STUNURLs     []string // e.g., ["stun:stun.l.google.com:19302"]
	TURNURLs     []string // e.g., ["turn:your-server:3478"]
	TURNUsername string
	TURNPassword string
}

// GetICEServers returns the ICE server configuration for clients
func (c *Config) GetICEServers() []ICEServer {
	servers := make([]ICEServer, 0, 2)

	if len(c.STUNURLs) > 0 {
		servers = append(servers, ICEServer{URLs: c.STUNURLs})
	}

	if len(c.TURNURLs) > 0 && c.TURNUsername != "" {
		servers = append(servers, ICEServer{
			URLs:       c.TURNURLs,
			Username:   c.TURNUsername,
			Credential: c.TURNPassword,
		})
	}

	return servers
}

// Package security holds TLS settings shared by the bridge's outbound connections
package security

// ClientTLSConfig holds TLS settings for the NATS and upload connections.
// The system CA bundle is always trusted; CAFiles are additional roots.
type ClientTLSConfig struct {
	CAFiles            []string         `json:"ca_files,omitempty"`
	InsecureSkipVerify bool             `json:"insecure_skip_verify,omitempty"` // test setups only
	MinVersion         string           `json:"min_version,omitempty"`          // "1.2" or "1.3"
	MTLS               ClientMTLSConfig `json:"mtls,omitempty"`
}

// ClientMTLSConfig holds the client certificate presented to the server
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// Configured reports whether any TLS setting differs from the defaults
func (c ClientTLSConfig) Configured() bool {
	return len(c.CAFiles) > 0 || c.InsecureSkipVerify || c.MinVersion != "" || c.MTLS.Enabled
}

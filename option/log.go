package option

type LogOptions struct {
	Disabled     bool        `json:"disabled,omitempty"`
	Level        string      `json:"level,omitempty"`
	Output       string      `json:"output,omitempty"`
	Timestamp    bool        `json:"timestamp,omitempty"`
	Outputs      []LogOutput `json:"outputs,omitempty"`
	DisableColor bool        `json:"-"`
}

// LogOutput configures a single log destination when multi-output mode
// is used. Type is one of stdout, stderr, file and http.
type LogOutput struct {
	Type          string `json:"type"`
	Format        string `json:"format,omitempty"`
	Path          string `json:"path,omitempty"`
	URL           string `json:"url,omitempty"`
	JWTToken      string `json:"jwt_token,omitempty"`
	BatchSize     int    `json:"batch_size,omitempty"`
	FlushInterval string `json:"flush_interval,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
	Hostname      string `json:"hostname,omitempty"`
	Version       string `json:"version,omitempty"`
	Timestamp     bool   `json:"timestamp,omitempty"`
	DisableColor  bool   `json:"disable_color,omitempty"`
}

package option

type GeoIPOptions struct {
	Path string `json:"path,omitempty"`
}

package option

type CacheFileOptions struct {
	Enabled       bool   `json:"enabled,omitempty"`
	Path          string `json:"path,omitempty"`
	CacheID       string `json:"cache_id,omitempty"`
	StoreSelected bool   `json:"store_selected,omitempty"`
}

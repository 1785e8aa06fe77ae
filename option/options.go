package option

import (
	"bytes"
	"context"

	"github.com/sagernet/sing/common/json"
)

type _Options struct {
	RawMessage   json.RawMessage      `json:"-"`
	Schema       string               `json:"$schema,omitempty"`
	Log          *LogOptions          `json:"log,omitempty"`
	RelayList    *RelayListOptions    `json:"relay_list,omitempty"`
	Selector     *SelectorOptions     `json:"selector,omitempty"`
	Reachability *ReachabilityOptions `json:"reachability,omitempty"`
	CacheFile    *CacheFileOptions    `json:"cache_file,omitempty"`
	GeoIP        *GeoIPOptions        `json:"geoip,omitempty"`
	API          *APIOptions          `json:"api,omitempty"`
}

type Options _Options

func (o *Options) UnmarshalJSONContext(ctx context.Context, content []byte) error {
	decoder := json.NewDecoderContext(ctx, bytes.NewReader(content))
	decoder.DisallowUnknownFields()
	err := decoder.Decode((*_Options)(o))
	if err != nil {
		return err
	}
	o.RawMessage = content
	return nil
}

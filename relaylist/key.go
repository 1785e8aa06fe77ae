package relaylist

import (
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/json"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// PublicKey wraps a WireGuard public key for JSON encoding in the base64
// form relay lists carry.
type PublicKey struct {
	wgtypes.Key
}

func (k PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.Key.String())
}

func (k *PublicKey) UnmarshalJSON(content []byte) error {
	var value string
	err := json.Unmarshal(content, &value)
	if err != nil {
		return err
	}
	if value == "" {
		k.Key = wgtypes.Key{}
		return nil
	}
	key, err := wgtypes.ParseKey(value)
	if err != nil {
		return E.Cause(err, "parse public key")
	}
	k.Key = key
	return nil
}

func (k PublicKey) IsZero() bool {
	return k.Key == wgtypes.Key{}
}

package ephemeral

import (
	E "github.com/sagernet/sing/common/exceptions"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// DerivePresharedKey hashes the x25519 shared secret of a private key
// and a remote public key into a preshared key. Both sides of an
// exchange derive the same value from their own private key and the
// peer's public key.
func DerivePresharedKey(privateKey, peerPublicKey wgtypes.Key) (wgtypes.Key, error) {
	sharedSecret, err := curve25519.X25519(privateKey[:], peerPublicKey[:])
	if err != nil {
		return wgtypes.Key{}, E.Cause(err, "derive shared secret")
	}
	return wgtypes.Key(blake2b.Sum256(sharedSecret)), nil
}

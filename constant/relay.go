package constant

const (
	StrategyRandom         = "random"
	StrategyConsistentHash = "consistent_hash"
)

const DefaultRelayListURL = "https://api.mullvad.net/app/v1/relays"

const (
	OwnershipOwned  = "owned"
	OwnershipRented = "rented"
)

const (
	UpdateTriggerPeriodic = "periodic"
	UpdateTriggerManual   = "manual"
	UpdateTriggerWatch    = "watch"
	UpdateTriggerStartup  = "startup"
)

const (
	DNSProviderAliDNS     = "alidns"
	DNSProviderCloudflare = "cloudflare"
)

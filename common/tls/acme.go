package tls

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/sagernet/sing-relay/adapter"
	C "github.com/sagernet/sing-relay/constant"
	"github.com/sagernet/sing-relay/option"
	E "github.com/sagernet/sing/common/exceptions"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/alidns"
	"github.com/libdns/cloudflare"
	"github.com/mholt/acmez/v3"
	"github.com/mholt/acmez/v3/acme"
	"go.uber.org/zap"
)

type acmeWrapper struct {
	ctx    context.Context
	cfg    *certmagic.Config
	cache  *certmagic.Cache
	domain []string
}

func (w *acmeWrapper) Start() error {
	return w.cfg.ManageSync(w.ctx, w.domain)
}

func (w *acmeWrapper) Close() error {
	w.cache.Stop()
	return nil
}

func startACME(ctx context.Context, options option.InboundACMEOptions) (*tls.Config, adapter.SimpleLifecycle, error) {
	var acmeServer string
	switch options.Provider {
	case "", "letsencrypt":
		acmeServer = certmagic.LetsEncryptProductionCA
	case "zerossl":
		acmeServer = certmagic.ZeroSSLProductionCA
	default:
		if !strings.HasPrefix(options.Provider, "https://") {
			return nil, nil, E.New("unsupported ACME provider: " + options.Provider)
		}
		acmeServer = options.Provider
	}
	var storage certmagic.Storage
	if options.DataDirectory != "" {
		storage = &certmagic.FileStorage{
			Path: options.DataDirectory,
		}
	} else {
		storage = certmagic.Default.Storage
	}
	config := &certmagic.Config{
		DefaultServerName: options.DefaultServerName,
		Storage:           storage,
		Logger:            zap.NewNop(),
	}
	issuer := certmagic.NewACMEIssuer(config, certmagic.ACMEIssuer{
		CA:                      acmeServer,
		Email:                   options.Email,
		Agreed:                  true,
		DisableHTTPChallenge:    options.DisableHTTPChallenge,
		DisableTLSALPNChallenge: options.DisableTLSALPNChallenge,
		AltHTTPPort:             int(options.AlternativeHTTPPort),
		AltTLSALPNPort:          int(options.AlternativeTLSPort),
		Logger:                  zap.NewNop(),
	})
	if options.ExternalAccount != nil && options.ExternalAccount.KeyID != "" {
		issuer.ExternalAccount = &acme.EAB{
			KeyID:  options.ExternalAccount.KeyID,
			MACKey: options.ExternalAccount.MACKey,
		}
	}
	if dnsOptions := options.DNS01Challenge; dnsOptions != nil && dnsOptions.Provider != "" {
		solver := &certmagic.DNS01Solver{}
		switch dnsOptions.Provider {
		case C.DNSProviderAliDNS:
			solver.DNSProvider = &alidns.Provider{
				AccKeyID:     dnsOptions.AccessKeyID,
				AccKeySecret: dnsOptions.AccessKeySecret,
				RegionID:     dnsOptions.RegionID,
			}
		case C.DNSProviderCloudflare:
			solver.DNSProvider = &cloudflare.Provider{
				APIToken: dnsOptions.APIToken,
			}
		default:
			return nil, nil, E.New("unsupported DNS-01 provider: " + dnsOptions.Provider)
		}
		issuer.DNS01Solver = solver
		issuer.DisableHTTPChallenge = true
		issuer.DisableTLSALPNChallenge = true
	}
	config.Issuers = []certmagic.Issuer{issuer}
	cache := certmagic.NewCache(certmagic.CacheOptions{
		GetConfigForCert: func(certificate certmagic.Certificate) (*certmagic.Config, error) {
			return config, nil
		},
		Logger: zap.NewNop(),
	})
	config = certmagic.New(cache, *config)
	return &tls.Config{
			GetCertificate: config.GetCertificate,
			NextProtos:     []string{acmez.ACMETLS1Protocol},
		}, &acmeWrapper{
			ctx:    ctx,
			cfg:    config,
			cache:  cache,
			domain: options.Domain,
		}, nil
}

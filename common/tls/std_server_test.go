package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sagernet/sing-relay/log"
	"github.com/sagernet/sing-relay/option"
	"github.com/sagernet/sing/common/json/badoption"

	"github.com/stretchr/testify/require"
)

func generateKeyPair(t *testing.T, commonName string) ([]byte, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{commonName},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

func TestServerDisabled(t *testing.T) {
	t.Parallel()
	config, err := NewServer(context.Background(), log.NewNOPFactory().Logger(), option.InboundTLSOptions{})
	require.NoError(t, err)
	require.Nil(t, config)
}

func TestServerInlineCertificate(t *testing.T) {
	t.Parallel()
	certPEM, keyPEM := generateKeyPair(t, "relay.example.org")
	config, err := NewServer(context.Background(), log.NewNOPFactory().Logger(), option.InboundTLSOptions{
		Enabled:     true,
		ServerName:  "relay.example.org",
		ALPN:        badoption.Listable[string]{"h2", "http/1.1"},
		MinVersion:  "1.2",
		Certificate: badoption.Listable[string](strings.Split(string(certPEM), "\n")),
		Key:         badoption.Listable[string](strings.Split(string(keyPEM), "\n")),
	})
	require.NoError(t, err)
	require.NotNil(t, config)
	tlsConfig := config.Config()
	require.Len(t, tlsConfig.Certificates, 1)
	require.Equal(t, "relay.example.org", tlsConfig.ServerName)
	require.Equal(t, []string{"h2", "http/1.1"}, tlsConfig.NextProtos)
	require.Equal(t, uint16(0x0303), tlsConfig.MinVersion)
	require.NoError(t, config.Start())
	require.NoError(t, config.Close())
}

func TestServerCertificateReload(t *testing.T) {
	t.Parallel()
	directory := t.TempDir()
	certificatePath := filepath.Join(directory, "server.crt")
	keyPath := filepath.Join(directory, "server.key")
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	writeCertificate := func(serial int64) {
		template := x509.Certificate{
			SerialNumber: big.NewInt(serial),
			Subject:      pkix.Name{CommonName: "relay.example.org"},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(time.Hour),
			KeyUsage:     x509.KeyUsageDigitalSignature,
			ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
			DNSNames:     []string{"relay.example.org"},
		}
		certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(certificatePath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0o644))
	}
	writeCertificate(1)
	config, err := NewServer(context.Background(), log.NewNOPFactory().Logger(), option.InboundTLSOptions{
		Enabled:         true,
		CertificatePath: certificatePath,
		KeyPath:         keyPath,
	})
	require.NoError(t, err)
	require.NoError(t, config.Start())
	defer config.Close()
	originalLeaf := config.Config().Certificates[0].Certificate[0]

	writeCertificate(2)
	stdConfig := config.(*STDServerConfig)
	require.NoError(t, stdConfig.certificateUpdated(certificatePath))
	require.NotEqual(t, originalLeaf, config.Config().Certificates[0].Certificate[0])
}

func TestServerValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := log.NewNOPFactory().Logger()
	certPEM, _ := generateKeyPair(t, "relay.example.org")
	_, err := NewServer(ctx, logger, option.InboundTLSOptions{
		Enabled:     true,
		Certificate: badoption.Listable[string](strings.Split(string(certPEM), "\n")),
	})
	require.Error(t, err)
	_, err = NewServer(ctx, logger, option.InboundTLSOptions{
		Enabled: true,
	})
	require.Error(t, err)
	_, err = NewServer(ctx, logger, option.InboundTLSOptions{
		Enabled:    true,
		MinVersion: "1.9",
	})
	require.Error(t, err)
	_, err = NewServer(ctx, logger, option.InboundTLSOptions{
		Enabled:      true,
		CipherSuites: badoption.Listable[string]{"TLS_NOT_A_SUITE"},
	})
	require.Error(t, err)
}

func TestParseTLSVersion(t *testing.T) {
	t.Parallel()
	for version, expected := range map[string]uint16{
		"1.0": 0x0301,
		"1.1": 0x0302,
		"1.2": 0x0303,
		"1.3": 0x0304,
	} {
		parsed, err := ParseTLSVersion(version)
		require.NoError(t, err)
		require.Equal(t, expected, parsed)
	}
	_, err := ParseTLSVersion("ssl3")
	require.Error(t, err)
}

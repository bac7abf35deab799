package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSelfSigned(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		DNSNames:              []string{"localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestParseTLSVersion(t *testing.T) {
	tests := []struct {
		input    string
		expected TLSVersion
		wantErr  bool
	}{
		{input: "", expected: TLSVersion12},
		{input: "1.2", expected: TLSVersion12},
		{input: " 1.3 ", expected: TLSVersion13},
		{input: "1.1", wantErr: true},
		{input: "2.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTLSVersion(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestTLSConfig_ServerTLS(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t)

	disabled := &TLSConfig{}
	cfg, err := disabled.ServerTLS()
	require.NoError(t, err)
	assert.Nil(t, cfg)

	var none *TLSConfig
	cfg, err = none.ServerTLS()
	require.NoError(t, err)
	assert.Nil(t, cfg)

	enabled := &TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"}
	cfg, err = enabled.ServerTLS()
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)

	mutual := &TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, ClientCAFile: certFile}
	cfg, err = mutual.ServerTLS()
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
	assert.NotNil(t, cfg.ClientCAs)
}

func TestTLSConfig_ServerTLSErrors(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t)

	missingKey := &TLSConfig{Enabled: true, CertFile: certFile, KeyFile: filepath.Join(t.TempDir(), "none.pem")}
	_, err := missingKey.ServerTLS()
	require.ErrorContains(t, err, "failed to load TLS key pair")

	badCA := &TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, ClientCAFile: keyFile}
	_, err = badCA.ServerTLS()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "client_ca_file", cfgErr.Field)

	incomplete := &TLSConfig{Enabled: true}
	_, err = incomplete.ServerTLS()
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "cert_file", cfgErr.Field)
	assert.NotEmpty(t, cfgErr.Suggestions)
}

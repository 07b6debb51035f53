package auth

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// DefaultConnectionPoolSize applies when no pool size is configured.
const DefaultConnectionPoolSize = 10

// HTTPClientConfig shapes the client shared by the token exchange and key fetches.
type HTTPClientConfig struct {
	PoolSize         int
	Timeout          time.Duration
	AllowAnyHostname bool
	TruststorePath   string
	ClientCertPath   string
	ClientKeyPath    string
}

// NewHTTPClient builds the shared outbound client. Hostname verification is
// wildcard-aware by default; AllowAnyHostname keeps chain verification
// against the truststore but accepts any server name.
func NewHTTPClient(cfg HTTPClientConfig) (*http.Client, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = DefaultConnectionPoolSize
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TruststorePath != "" {
		pem, err := os.ReadFile(cfg.TruststorePath)
		if err != nil {
			return nil, fmt.Errorf("%w: read truststore: %w", ErrConfiguration, err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: truststore %s holds no PEM certificates", ErrConfiguration, cfg.TruststorePath)
		}
		tlsConfig.RootCAs = roots
	}

	if cfg.ClientCertPath != "" || cfg.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: load client keystore: %w", ErrConfiguration, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.AllowAnyHostname {
		roots := tlsConfig.RootCAs
		tlsConfig.InsecureSkipVerify = true
		tlsConfig.VerifyConnection = func(cs tls.ConnectionState) error {
			return verifyChainIgnoringHostname(cs, roots)
		}
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     tlsConfig,
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: poolSize,
		MaxConnsPerHost:     poolSize,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

func verifyChainIgnoringHostname(cs tls.ConnectionState, roots *x509.CertPool) error {
	if len(cs.PeerCertificates) == 0 {
		return errors.New("server presented no certificates")
	}
	intermediates := x509.NewCertPool()
	for _, cert := range cs.PeerCertificates[1:] {
		intermediates.AddCert(cert)
	}
	_, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
	})
	return err
}

package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ClientOptions describes the TLS material a collector presents to agents.
// CACert empty means the system pool; ClientCert/ClientKey empty means no
// client certificate is offered.
type ClientOptions struct {
	CACert     string `mapstructure:"ca_cert" yaml:"ca_cert"`
	ClientCert string `mapstructure:"client_cert" yaml:"client_cert"`
	ClientKey  string `mapstructure:"client_key" yaml:"client_key"`
	ServerName string `mapstructure:"server_name" yaml:"server_name"`
}

// ServerOptions describes the TLS material of an HTTPS listener.
type ServerOptions struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	CACert     string `mapstructure:"ca_cert" yaml:"ca_cert"`
	ServerCert string `mapstructure:"server_cert" yaml:"server_cert"`
	ServerKey  string `mapstructure:"server_key" yaml:"server_key"`
	ClientAuth string `mapstructure:"client_auth" yaml:"client_auth"` // require, request, or none
}

// LoadClientTLSConfig creates a TLS configuration for talking to agents
func LoadClientTLSConfig(opts ClientOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: opts.ServerName,
		MinVersion: tls.VersionTLS12,
	}

	if opts.CACert != "" {
		pool, err := loadCertPool(opts.CACert)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if opts.ClientCert != "" || opts.ClientKey != "" {
		clientCert, err := tls.LoadX509KeyPair(opts.ClientCert, opts.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{clientCert}
	}

	return cfg, nil
}

// LoadServerTLSConfig creates a TLS configuration for agent and status listeners
func LoadServerTLSConfig(opts ServerOptions) (*tls.Config, error) {
	serverCert, err := tls.LoadX509KeyPair(opts.ServerCert, opts.ServerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		MinVersion:   tls.VersionTLS12,
	}

	switch opts.ClientAuth {
	case "", "none":
		cfg.ClientAuth = tls.NoClientCert
	case "request":
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	case "require":
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	default:
		return nil, fmt.Errorf("invalid client_auth %q", opts.ClientAuth)
	}

	if cfg.ClientAuth != tls.NoClientCert {
		if opts.CACert == "" {
			return nil, fmt.Errorf("ca_cert is required when client_auth is %q", opts.ClientAuth)
		}
		pool, err := loadCertPool(opts.CACert)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
	}

	return cfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append CA certificate from %s", path)
	}
	return pool, nil
}

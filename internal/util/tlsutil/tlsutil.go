// Copyright 2023 MeerkatDB Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tlsutil provides TLS utilities.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// ServerOpts represents TLS options for the server listener.
//
//nolint:vet // for readability
type ServerOpts struct {
	CertFile string
	KeyFile  string
	CAFile   string

	// Passphrase decrypts the private key if it is in an encrypted PEM block.
	Passphrase string

	// RequestCert makes the server request a certificate from the client.
	RequestCert bool

	// RejectUnauthorized makes the server reject connections with
	// an invalid or missing client certificate.
	// It is effective only when RequestCert is set.
	RejectUnauthorized bool

	ServerName    string
	ALPNProtocols []string

	// MinVersion and MaxVersion are TLS versions in crypto/tls notation.
	// Zero values default to TLS 1.2 and TLS 1.3, respectively.
	MinVersion uint16
	MaxVersion uint16
}

// ServerConfig builds *tls.Config for the server listener from the given options.
func ServerConfig(opts *ServerOpts) (*tls.Config, error) {
	if opts.CertFile == "" {
		return nil, lazyerrors.New("TLS certificate file is not set")
	}

	if opts.KeyFile == "" {
		return nil, lazyerrors.New("TLS key file is not set")
	}

	cert, err := loadCertificate(opts.CertFile, opts.KeyFile, opts.Passphrase)
	if err != nil {
		return nil, err
	}

	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   opts.ServerName,
		NextProtos:   opts.ALPNProtocols,
		MinVersion:   opts.MinVersion,
		MaxVersion:   opts.MaxVersion,
	}

	if config.MinVersion == 0 {
		config.MinVersion = tls.VersionTLS12
	}

	if config.MaxVersion == 0 {
		config.MaxVersion = tls.VersionTLS13
	}

	if opts.RequestCert {
		config.ClientAuth = tls.RequestClientCert

		if opts.RejectUnauthorized {
			config.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}

	if opts.CAFile != "" {
		b, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		ca := x509.NewCertPool()
		if ok := ca.AppendCertsFromPEM(b); !ok {
			return nil, lazyerrors.Errorf("failed to parse root certificate in %q", opts.CAFile)
		}

		config.ClientCAs = ca
	}

	return config, nil
}

// Config provides client TLS configuration for the given certificate and key files.
//
// All files are optional.
func Config(certFile, keyFile, caFile string) (*tls.Config, error) {
	var config tls.Config

	if certFile != "" {
		cert, err := loadCertificate(certFile, keyFile, "")
		if err != nil {
			return nil, err
		}

		config.Certificates = []tls.Certificate{cert}
	}

	if caFile != "" {
		b, err := os.ReadFile(caFile)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		ca := x509.NewCertPool()
		if ok := ca.AppendCertsFromPEM(b); !ok {
			return nil, lazyerrors.Errorf("failed to parse root certificate in %q", caFile)
		}

		config.RootCAs = ca
	}

	return &config, nil
}

// loadCertificate loads an X.509 key pair, decrypting the private key
// with the given passphrase if needed.
func loadCertificate(certFile, keyFile, passphrase string) (tls.Certificate, error) {
	if passphrase == "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return tls.Certificate{}, lazyerrors.Errorf("failed to load certificate: %w", err)
		}

		return cert, nil
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, lazyerrors.Error(err)
	}

	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, lazyerrors.Error(err)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return tls.Certificate{}, lazyerrors.Errorf("failed to parse PEM block in %q", keyFile)
	}

	//nolint:staticcheck // clients with legacy encrypted keys still need RFC 1423 support
	if !x509.IsEncryptedPEMBlock(block) {
		return tls.Certificate{}, lazyerrors.Errorf("private key in %q is not encrypted, but passphrase is set", keyFile)
	}

	//nolint:staticcheck // see above
	der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
	if err != nil {
		return tls.Certificate{}, lazyerrors.Errorf("failed to decrypt private key: %w", err)
	}

	keyPEM = pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, lazyerrors.Errorf("failed to load certificate: %w", err)
	}

	return cert, nil
}

// VersionFromString converts a version string like "1.2" to crypto/tls notation.
func VersionFromString(s string) (uint16, error) {
	switch s {
	case "":
		return 0, nil
	case "1.0":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unknown TLS version %q", s)
	}
}

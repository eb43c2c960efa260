/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package certificates builds the *tls.Config a sync client dials the
// server endpoint with. It is trimmed from a much larger certificate
// management surface down to what a WebSocket sync client actually needs:
// a trust root, an optional client certificate pair, a version floor/ceiling
// and an application-supplied peer verification hook.
package certificates

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/realm-sync/core/certificates/tlsversion"
	liberr "github.com/realm-sync/core/errors"
)

// VerifyPeerCertificate mirrors (tls.Config).VerifyPeerCertificate, exposed
// so an application can pin certificates or inspect SANs beyond what the
// standard trust store check performs (spec ssl_verify_callback).
type VerifyPeerCertificate func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error

// Config describes the TLS posture for a single server endpoint.
type Config struct {
	TrustCertificatePath string                `mapstructure:"sslTrustCertificatePath" json:"sslTrustCertificatePath" yaml:"sslTrustCertificatePath"`
	ClientCertPath       string                `mapstructure:"sslClientCertificatePath" json:"sslClientCertificatePath" yaml:"sslClientCertificatePath"`
	ClientKeyPath        string                `mapstructure:"sslClientKeyPath" json:"sslClientKeyPath" yaml:"sslClientKeyPath"`
	VersionMin           tlsversion.Version    `mapstructure:"sslVersionMin" json:"sslVersionMin" yaml:"sslVersionMin"`
	VersionMax           tlsversion.Version    `mapstructure:"sslVersionMax" json:"sslVersionMax" yaml:"sslVersionMax"`
	VerifyCallback       VerifyPeerCertificate `mapstructure:"-" json:"-" yaml:"-"`
}

// DefaultConfig returns the recommended floor (TLS 1.2) and ceiling (TLS 1.3).
func DefaultConfig() Config {
	return Config{
		VersionMin: tlsversion.VersionTLS12,
		VersionMax: tlsversion.VersionTLS13,
	}
}

func (c Config) loadTrustRoot() (*x509.CertPool, liberr.Error) {
	if c.TrustCertificatePath == "" {
		return nil, nil
	}

	b, e := os.ReadFile(c.TrustCertificatePath)
	if e != nil {
		return nil, ErrorTrustRootRead.ErrorParent(e)
	}

	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, ErrorTrustRootEmpty.Error(nil)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(b) {
		return nil, ErrorTrustRootParse.Error(nil)
	}

	return pool, nil
}

func (c Config) loadClientCert() ([]tls.Certificate, liberr.Error) {
	if c.ClientCertPath == "" {
		return nil, nil
	}

	pair, e := tls.LoadX509KeyPair(c.ClientCertPath, c.ClientKeyPath)
	if e != nil {
		return nil, ErrorClientCertLoad.ErrorParent(e)
	}

	return []tls.Certificate{pair}, nil
}

// TLS builds a *tls.Config for dialing serverName. It never disables
// certificate verification; ssl_verify_callback is layered on top of,
// not instead of, the standard chain check.
func (c Config) TLS(serverName string) (*tls.Config, liberr.Error) {
	root, err := c.loadTrustRoot()
	if err != nil {
		return nil, err
	}

	certs, err := c.loadClientCert()
	if err != nil {
		return nil, err
	}

	min := c.VersionMin
	max := c.VersionMax
	if min == tlsversion.VersionUnknown {
		min = tlsversion.VersionTLS12
	}
	if max == tlsversion.VersionUnknown {
		max = tlsversion.VersionTLS13
	}

	cfg := &tls.Config{
		ServerName:   serverName,
		RootCAs:      root,
		Certificates: certs,
		MinVersion:   uint16(min),
		MaxVersion:   uint16(max),
	}

	if c.VerifyCallback != nil {
		cb := c.VerifyCallback
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, chains [][]*x509.Certificate) error {
			return cb(rawCerts, chains)
		}
	}

	return cfg, nil
}

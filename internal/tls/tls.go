// Package tls loads the key and certificate the SMTP server presents for
// STARTTLS and implicit TLS.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// File names inside a host certificate directory.
const (
	KeyFileName  = "certificate-identity.pem"
	CertFileName = "certificate.pem"
)

// Credentials is a PEM-encoded private key and certificate chain.
type Credentials struct {
	Key  []byte
	Cert []byte
}

// DefaultDir returns the directory holding the production certificate
// for hostname under the user's home directory.
func DefaultDir(hostname string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".small-tech.org", "site.js", "tls", "global", "production", hostname), nil
}

// HostPaths returns the key and certificate paths inside dir.
func HostPaths(dir string) (keyPath, certPath string) {
	return filepath.Join(dir, KeyFileName), filepath.Join(dir, CertFileName)
}

// LoadCredentials reads the key and certificate files. Both must be
// readable; the caller should treat an error as fatal.
func LoadCredentials(keyPath, certPath string) (Credentials, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read key file: %w", err)
	}
	cert, err := os.ReadFile(certPath)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read certificate file: %w", err)
	}
	return Credentials{Key: key, Cert: cert}, nil
}

// Config returns a server TLS configuration for creds.
func Config(creds Credentials) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(creds.Cert, creds.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// SelfSigned generates in-memory ECDSA P-256 credentials valid for one
// year for hostname, localhost and 127.0.0.1. Nothing is written to disk.
func SelfSigned(hostname string) (Credentials, error) {
	if hostname == "" {
		hostname = "localhost"
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	dnsNames := []string{hostname}
	if hostname != "localhost" {
		dnsNames = append(dnsNames, "localhost")
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: hostname,
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),

		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,

		DNSNames:    dnsNames,
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to marshal private key: %w", err)
	}

	return Credentials{
		Key:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
		Cert: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
	}, nil
}

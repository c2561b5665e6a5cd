package ssl

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/tech-arch1tect/berth-archiver/internal/logging"

	"go.uber.org/zap"
)

const (
	CertFileName = "server.crt"
	KeyFileName  = "server.key"
	DefaultDir   = "./ssl"
	validFor     = 365 * 24 * time.Hour
)

type CertificateManager struct {
	certDir string
	logger  *logging.Logger
}

func NewCertificateManager(certDir string, logger *logging.Logger) *CertificateManager {
	if certDir == "" {
		certDir = DefaultDir
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &CertificateManager{
		certDir: certDir,
		logger:  logger,
	}
}

// EnsureCertificates returns the certificate and key paths, generating a
// self-signed pair on first use.
func (cm *CertificateManager) EnsureCertificates() (string, string, error) {
	certPath := filepath.Join(cm.certDir, CertFileName)
	keyPath := filepath.Join(cm.certDir, KeyFileName)

	if cm.certificatesExist(certPath, keyPath) {
		cm.logger.Info("Using existing TLS certificate", zap.String("cert_path", certPath))
		return certPath, keyPath, nil
	}

	if err := cm.generateSelfSignedCertificate(certPath, keyPath); err != nil {
		return "", "", fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	return certPath, keyPath, nil
}

func (cm *CertificateManager) certificatesExist(certPath, keyPath string) bool {
	for _, path := range []string{certPath, keyPath} {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cm.logger.Debug("TLS file missing", zap.String("path", path))
			return false
		}
	}
	return true
}

func (cm *CertificateManager) generateSelfSignedCertificate(certPath, keyPath string) error {
	if err := os.MkdirAll(cm.certDir, 0700); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}

	hostnames := []string{"localhost", "berth-archiver"}
	if host, err := os.Hostname(); err == nil && host != "" {
		hostnames = append(hostnames, host)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Berth Archiver"},
			CommonName:   "berth-archiver",
		},
		NotBefore:   now,
		NotAfter:    now.Add(validFor),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:    hostnames,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := writePEM(certPath, 0644, "CERTIFICATE", certDER); err != nil {
		cm.logger.Error("Failed to write certificate", zap.Error(err), zap.String("cert_path", certPath))
		return err
	}
	if err := writePEM(keyPath, 0600, "PRIVATE KEY", keyDER); err != nil {
		cm.logger.Error("Failed to write private key", zap.Error(err), zap.String("key_path", keyPath))
		return err
	}

	cm.logger.Info("Generated self-signed TLS certificate",
		zap.String("cert_path", certPath),
		zap.Strings("dns_names", hostnames),
		zap.Time("valid_until", template.NotAfter),
	)
	return nil
}

func writePEM(path string, perm os.FileMode, blockType string, der []byte) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", path, err)
	}
	if err := pem.Encode(out, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return out.Close()
}

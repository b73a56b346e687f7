package config

import (
	"crypto/tls"
	"fmt"
)

// GetAPITLSCertificate loads the key pair served by the HTTP API.
//
//	GetAPITLSCertificate("/etc/netbatch/api_cert.pem", "/etc/netbatch/api_key.pem")
func GetAPITLSCertificate(certFile, keyFile string) ([]tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load API certificate/privkey: %w", err)
	}

	return []tls.Certificate{cert}, nil
}

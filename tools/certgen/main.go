// Package main generates the certificate authority, the server certificate
// and one certificate per companion device, writing them under a
// directory ("certs" by default).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/atinyakov/GophOTP/internal/certgen"
)

func main() {
	dir := flag.String("dir", "certs", "output directory")
	host := flag.String("host", "localhost", "server host name")
	companions := flag.String("companions", "watch", "comma separated companion names")
	flag.Parse()

	if err := generate(*dir, *host, strings.Split(*companions, ",")); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("✅ Certificates generated into ./%s\n", *dir)
}

// generate writes ca.crt/ca.key, server.crt/server.key and <name>.crt/
// <name>.key for every companion name. An existing CA in dir is reused so
// companions can be added later.
func generate(dir, host string, companions []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	caCert := filepath.Join(dir, "ca.crt")
	caKey := filepath.Join(dir, "ca.key")

	ca, err := certgen.LoadCA(caCert, caKey)
	if err != nil {
		if ca, err = certgen.NewCA("GophOTP CA"); err != nil {
			return err
		}
		certPEM, keyPEM, err := ca.PEM()
		if err != nil {
			return err
		}
		if err := writePair(caCert, caKey, certPEM, keyPEM); err != nil {
			return err
		}
	}

	certPEM, keyPEM, err := ca.Issue(host, certgen.Server)
	if err != nil {
		return err
	}
	if err := writePair(filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key"), certPEM, keyPEM); err != nil {
		return err
	}

	for _, name := range companions {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		certPEM, keyPEM, err := ca.Issue(name, certgen.Companion)
		if err != nil {
			return err
		}
		if err := writePair(filepath.Join(dir, name+".crt"), filepath.Join(dir, name+".key"), certPEM, keyPEM); err != nil {
			return err
		}
	}
	return nil
}

func writePair(certPath, keyPath string, certPEM, keyPEM []byte) error {
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", certPath, err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", keyPath, err)
	}
	return nil
}

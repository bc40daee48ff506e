package main

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func readCert(t *testing.T, path string) *x509.Certificate {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatalf("%s: invalid PEM", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return cert
}

func TestGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")

	if err := generate(dir, "localhost", []string{"watch", " phone ", ""}); err != nil {
		t.Fatalf("generate error: %v", err)
	}

	ca := readCert(t, filepath.Join(dir, "ca.crt"))
	if !ca.IsCA {
		t.Error("ca.crt is not a CA")
	}

	server := readCert(t, filepath.Join(dir, "server.crt"))
	if !reflect.DeepEqual(server.DNSNames, []string{"localhost"}) {
		t.Errorf("DNSNames = %v; want [localhost]", server.DNSNames)
	}
	if err := server.CheckSignatureFrom(ca); err != nil {
		t.Errorf("server certificate not signed by CA: %v", err)
	}

	for _, name := range []string{"watch", "phone"} {
		cert := readCert(t, filepath.Join(dir, name+".crt"))
		if cert.Subject.CommonName != name {
			t.Errorf("CommonName = %q; want %q", cert.Subject.CommonName, name)
		}
		if err := cert.CheckSignatureFrom(ca); err != nil {
			t.Errorf("%s certificate not signed by CA: %v", name, err)
		}
		info, err := os.Stat(filepath.Join(dir, name+".key"))
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("%s.key mode = %v; want 0600", name, info.Mode().Perm())
		}
	}
}

func TestGenerate_ReusesCA(t *testing.T) {
	dir := t.TempDir()
	if err := generate(dir, "localhost", []string{"watch"}); err != nil {
		t.Fatal(err)
	}
	first := readCert(t, filepath.Join(dir, "ca.crt"))

	if err := generate(dir, "localhost", []string{"tablet"}); err != nil {
		t.Fatal(err)
	}
	second := readCert(t, filepath.Join(dir, "ca.crt"))
	if !first.Equal(second) {
		t.Error("CA was regenerated")
	}

	tablet := readCert(t, filepath.Join(dir, "tablet.crt"))
	if err := tablet.CheckSignatureFrom(first); err != nil {
		t.Errorf("tablet certificate not signed by the original CA: %v", err)
	}
}

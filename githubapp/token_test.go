package githubapp

import (
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInstallationToken_privateKeyErrors(t *testing.T) {
	t.Run("missing key file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing.pem")
		_, err := InstallationToken(t.Context(), "1234", "5678", path, TokenReqPermissions{})
		if !os.IsNotExist(err) {
			t.Errorf("expected not-exist error, got %v", err)
		}
	})

	t.Run("not pem data", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "key.pem")
		if err := os.WriteFile(path, []byte("not a private key"), 0600); err != nil {
			t.Fatal(err)
		}
		_, err := InstallationToken(t.Context(), "1234", "5678", path, TokenReqPermissions{})
		if err == nil || !strings.Contains(err.Error(), "failed to decode PEM block") {
			t.Errorf("expected PEM decode error, got %v", err)
		}
	})

	t.Run("wrong block type", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "key.pem")
		data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte("pkcs8")})
		if err := os.WriteFile(path, data, 0600); err != nil {
			t.Fatal(err)
		}
		_, err := InstallationToken(t.Context(), "1234", "5678", path, TokenReqPermissions{})
		if err == nil || !strings.Contains(err.Error(), "failed to decode PEM block") {
			t.Errorf("expected PEM decode error, got %v", err)
		}
	})

	t.Run("invalid key bytes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "key.pem")
		data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: []byte("garbage")})
		if err := os.WriteFile(path, data, 0600); err != nil {
			t.Fatal(err)
		}
		_, err := InstallationToken(t.Context(), "1234", "5678", path, TokenReqPermissions{})
		if err == nil || strings.Contains(err.Error(), "failed to decode PEM block") {
			t.Errorf("expected a key parse error, got %v", err)
		}
	})
}

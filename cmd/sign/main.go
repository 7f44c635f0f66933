// Command sign sends a request signed for the turnstile signature
// strategy (Proxy-ID and Proxy-Signature headers over the body).
//
// Usage:
//
//	sign -genkey key.txt                 # write a new secp256k1 key, print its public key
//	sign -key key.txt -url URL [-method POST] [-data BODY | -data @file]
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	p2pcrypto "github.com/libp2p/go-libp2p-crypto"

	"github.com/rhuss/turnstile/pkg/auth/signature"
)

func main() {
	var (
		genKey  = flag.String("genkey", "", "write a new private key to this file and exit")
		keyPath = flag.String("key", "", "private key file (a fresh key is used when empty)")
		target  = flag.String("url", "", "request URL")
		method  = flag.String("method", http.MethodPost, "request method")
		data    = flag.String("data", "", "request body, or @file to read it from a file")
	)
	flag.Parse()

	if err := run(*genKey, *keyPath, *target, *method, *data); err != nil {
		slog.Error("sign failed", "error", err)
		os.Exit(1)
	}
}

func run(genKey, keyPath, target, method, data string) error {
	if genKey != "" {
		pub, err := generateKey(genKey)
		if err != nil {
			return err
		}
		fmt.Println(pub)
		return nil
	}
	if target == "" {
		return fmt.Errorf("-url is required")
	}

	priv, err := loadKey(keyPath)
	if err != nil {
		return err
	}
	body, err := readData(data)
	if err != nil {
		return err
	}

	req, err := newSignedRequest(method, target, priv, body)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	fmt.Fprintln(os.Stderr, resp.Status)
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

// generateKey writes a new key to path and returns its hex public key,
// the value to list under signature.allowed_keys.
func generateKey(path string) (string, error) {
	priv, _, err := p2pcrypto.GenerateSecp256k1Key(rand.Reader)
	if err != nil {
		return "", err
	}
	raw, err := p2pcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(p2pcrypto.ConfigEncodeKey(raw)), 0o600); err != nil {
		return "", err
	}
	return publicKeyHex(priv)
}

// loadKey reads a key written by generateKey. An empty path yields a
// fresh key.
func loadKey(path string) (p2pcrypto.PrivKey, error) {
	if path == "" {
		priv, _, err := p2pcrypto.GenerateSecp256k1Key(rand.Reader)
		return priv, err
	}

	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoded, err := p2pcrypto.ConfigDecodeKey(strings.TrimSpace(string(keyBytes)))
	if err != nil {
		return nil, fmt.Errorf("decoding key %s: %w", path, err)
	}
	return p2pcrypto.UnmarshalPrivateKey(decoded)
}

func publicKeyHex(priv p2pcrypto.PrivKey) (string, error) {
	raw, err := priv.GetPublic().Raw()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func readData(data string) ([]byte, error) {
	if file, ok := strings.CutPrefix(data, "@"); ok {
		return os.ReadFile(file)
	}
	return []byte(data), nil
}

func newSignedRequest(method, target string, priv p2pcrypto.PrivKey, body []byte) (*http.Request, error) {
	req, err := http.NewRequest(method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if err := signature.Sign(req, priv, body); err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}
	return req, nil
}

//go:build fz3go_update

// Package update implements the optional signed-manifest update checker.
// It is build-tagged out of the default build, since most host applications
// embedding this engine don't want a self-update feature.
package update

import (
	"bufio"
	"crypto/ed25519"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Manifest is one parsed line of the update manifest:
// `<channel> <version-or-date> <url> <size> <algo> <hash> sig:<base64>`.
type Manifest struct {
	Channel    string
	Version    string
	URL        string
	Size       int64
	Algorithm  string
	Hash       string // hex-encoded
	Signature  []byte
}

// errUnsupportedAlgorithm is returned for any algorithm other than sha512.
var errUnsupportedAlgorithm = fmt.Errorf("update: unsupported hash algorithm")

// ParseManifest parses the raw manifest body into one entry per channel,
// keyed by Manifest.Channel. Malformed lines are skipped; verification
// doesn't mandate strict rejection of the whole document for one bad line.
func ParseManifest(body string) (map[string]Manifest, error) {
	out := make(map[string]Manifest)
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m, err := parseManifestLine(line)
		if err != nil {
			continue
		}
		out[m.Channel] = m
	}
	return out, nil
}

func parseManifestLine(line string) (Manifest, error) {
	fields := strings.Fields(line)
	if len(fields) != 7 {
		return Manifest{}, fmt.Errorf("update: malformed manifest line %q", line)
	}
	size, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Manifest{}, fmt.Errorf("update: bad size in %q: %w", line, err)
	}
	sigField := fields[6]
	if !strings.HasPrefix(sigField, "sig:") {
		return Manifest{}, fmt.Errorf("update: missing sig: prefix in %q", line)
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sigField, "sig:"))
	if err != nil {
		return Manifest{}, fmt.Errorf("update: bad signature base64 in %q: %w", line, err)
	}
	return Manifest{
		Channel:   fields[0],
		Version:   fields[1],
		URL:       fields[2],
		Size:      size,
		Algorithm: fields[4],
		Hash:      fields[5],
		Signature: sig,
	}, nil
}

// VerifySignature checks m's Ed25519 signature over hash || '\0' || version,
// and rejects anything but the one supported hash
// algorithm.
func VerifySignature(m Manifest, publicKey ed25519.PublicKey) error {
	if !strings.EqualFold(m.Algorithm, "sha512") {
		return errUnsupportedAlgorithm
	}
	hashBytes, err := hex.DecodeString(m.Hash)
	if err != nil {
		return fmt.Errorf("update: bad hash hex: %w", err)
	}
	signed := append(append([]byte{}, hashBytes...), 0)
	signed = append(signed, []byte(m.Version)...)
	if !ed25519.Verify(publicKey, signed, m.Signature) {
		return fmt.Errorf("update: signature verification failed for channel %q", m.Channel)
	}
	return nil
}

// Channel picks the manifest channel to use, honoring FZUPDATETEST=1 to
// switch to the "test" channel.
func Channel() string {
	if os.Getenv("FZUPDATETEST") == "1" {
		return "test"
	}
	return "release"
}

// Checker fetches, verifies, and downloads an update.
type Checker struct {
	ManifestURL string
	PublicKey   ed25519.PublicKey
	PinnedCA    *x509.CertPool
	DownloadDir string
	HTTPClient  *http.Client
}

// NewChecker builds a Checker with a pinned-CA HTTP client.
func NewChecker(manifestURL string, publicKey ed25519.PublicKey, pinnedCA *x509.CertPool, downloadDir string) *Checker {
	return &Checker{
		ManifestURL: manifestURL,
		PublicKey:   publicKey,
		PinnedCA:    pinnedCA,
		DownloadDir: downloadDir,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{RootCAs: pinnedCA},
			},
		},
	}
}

// FetchManifest downloads and parses the manifest, returning the entry for
// the active channel (per Channel()).
func (c *Checker) FetchManifest() (Manifest, error) {
	resp, err := c.HTTPClient.Get(c.ManifestURL)
	if err != nil {
		return Manifest{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Manifest{}, err
	}
	all, err := ParseManifest(string(body))
	if err != nil {
		return Manifest{}, err
	}
	m, ok := all[Channel()]
	if !ok {
		return Manifest{}, fmt.Errorf("update: no manifest entry for channel %q", Channel())
	}
	if err := VerifySignature(m, c.PublicKey); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Download fetches m's URL to a temporary file named after its hash,
// verifies size and SHA-512 against the manifest, and renames it into
// place in DownloadDir.
func (c *Checker) Download(m Manifest) (string, error) {
	resp, err := c.HTTPClient.Get(m.URL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	tmpPath := filepath.Join(c.DownloadDir, m.Hash+".part")
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", err
	}

	hasher := sha512.New()
	written, err := io.Copy(io.MultiWriter(f, hasher), resp.Body)
	closeErr := f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return "", closeErr
	}
	if written != m.Size {
		os.Remove(tmpPath)
		return "", fmt.Errorf("update: downloaded size %d does not match manifest size %d", written, m.Size)
	}
	got := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(got, m.Hash) {
		os.Remove(tmpPath)
		return "", fmt.Errorf("update: downloaded hash mismatch")
	}

	finalPath := filepath.Join(c.DownloadDir, m.Hash)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return finalPath, nil
}

package http

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Challenge is one parsed WWW-Authenticate challenge: a server
// may send multiple challenges in one header; the Digest one is selected.
type Challenge struct {
	Scheme string
	Params map[string]string
}

// ParseChallenges splits a WWW-Authenticate header value into its
// individual scheme challenges. Each challenge begins with a scheme token
// followed by comma-separated key=value pairs, possibly quoted.
func ParseChallenges(header string) []Challenge {
	var challenges []Challenge
	rest := strings.TrimSpace(header)
	for rest != "" {
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			challenges = append(challenges, Challenge{Scheme: rest, Params: map[string]string{}})
			break
		}
		scheme := rest[:sp]
		rest = strings.TrimSpace(rest[sp+1:])
		params := map[string]string{}
		for {
			eq := strings.IndexByte(rest, '=')
			if eq < 0 {
				break
			}
			key := strings.TrimSpace(rest[:eq])
			if strings.ContainsAny(key, " \t") {
				// "Scheme key=..." starts the next challenge.
				break
			}
			rest = rest[eq+1:]
			var val string
			if strings.HasPrefix(rest, `"`) {
				end := strings.IndexByte(rest[1:], '"')
				if end < 0 {
					val = strings.TrimPrefix(rest, `"`)
					rest = ""
				} else {
					val = rest[1 : end+1]
					rest = strings.TrimSpace(strings.TrimPrefix(rest[end+2:], ","))
				}
			} else {
				comma := strings.IndexByte(rest, ',')
				if comma < 0 {
					val = strings.TrimSpace(rest)
					rest = ""
				} else {
					val = strings.TrimSpace(rest[:comma])
					rest = strings.TrimSpace(rest[comma+1:])
				}
			}
			params[key] = val
			if rest == "" {
				break
			}
		}
		challenges = append(challenges, Challenge{Scheme: scheme, Params: params})
		if rest == "" {
			break
		}
	}
	return challenges
}

// SelectDigest returns the first Digest challenge, if any.
func SelectDigest(challenges []Challenge) (Challenge, bool) {
	for _, c := range challenges {
		if strings.EqualFold(c.Scheme, "Digest") {
			return c, true
		}
	}
	return Challenge{}, false
}

// DigestCreds carries what's needed to compute an Authorization header.
type DigestCreds struct {
	Username string
	Password string
	Method   string
	URI      string
	Body     []byte // only hashed for qop=auth-int
	NC       int    // nonce count, incremented by the caller per request
	CNonce   string // if empty, one is generated
}

func newHasher(algorithm string) (func() hash.Hash, bool, bool) {
	base := algorithm
	sess := false
	if strings.HasSuffix(strings.ToUpper(algorithm), "-SESS") {
		sess = true
		base = algorithm[:len(algorithm)-len("-sess")]
	}
	switch strings.ToUpper(base) {
	case "", "MD5":
		return md5.New, sess, true
	case "SHA-256":
		return sha256.New, sess, true
	default:
		return nil, false, false
	}
}

func hashHex(newHash func() hash.Hash, s string) string {
	h := newHash()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// BuildDigestResponse computes the RFC 7616 Authorization header value for
// challenge, supporting the "auth" and "auth-int" qop, MD5/SHA-256, and
// their "-sess" session variants.
func BuildDigestResponse(ch Challenge, creds DigestCreds) (string, error) {
	realm := ch.Params["realm"]
	nonce := ch.Params["nonce"]
	opaque := ch.Params["opaque"]
	qopOffered := ch.Params["qop"]
	algorithm := ch.Params["algorithm"]
	if algorithm == "" {
		algorithm = "MD5"
	}

	newHash, sess, ok := newHasher(algorithm)
	if !ok {
		return "", fmt.Errorf("http: unsupported digest algorithm %q", algorithm)
	}

	cnonce := creds.CNonce
	if cnonce == "" {
		cnonce = randomHex(16)
	}
	nc := fmt.Sprintf("%08x", creds.NC)

	ha1 := hashHex(newHash, fmt.Sprintf("%s:%s:%s", creds.Username, realm, creds.Password))
	if sess {
		ha1 = hashHex(newHash, fmt.Sprintf("%s:%s:%s", ha1, nonce, cnonce))
	}

	var qop string
	var ha2 string
	switch {
	case strings.Contains(qopOffered, "auth-int"):
		qop = "auth-int"
		ha2 = hashHex(newHash, fmt.Sprintf("%s:%s:%s", creds.Method, creds.URI, hashHex(newHash, string(creds.Body))))
	case strings.Contains(qopOffered, "auth"):
		qop = "auth"
		ha2 = hashHex(newHash, fmt.Sprintf("%s:%s", creds.Method, creds.URI))
	default:
		ha2 = hashHex(newHash, fmt.Sprintf("%s:%s", creds.Method, creds.URI))
	}

	var response string
	if qop != "" {
		response = hashHex(newHash, fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, nonce, nc, cnonce, qop, ha2))
	} else {
		response = hashHex(newHash, fmt.Sprintf("%s:%s:%s", ha1, nonce, ha2))
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s", algorithm=%s`,
		creds.Username, realm, nonce, creds.URI, response, algorithm)
	if opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, opaque)
	}
	if qop != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%s, cnonce="%s"`, qop, nc, cnonce)
	}
	return b.String(), nil
}

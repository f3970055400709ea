package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// VerifySignature checks an x-signature header of the form "ts=<ts>,v1=<hex>"
// against HMAC-SHA256 of "id:<dataID>;request-id:<requestID>;ts:<ts>;".
func VerifySignature(secret, header, requestID, dataID string) bool {
	if secret == "" || header == "" {
		return false
	}
	ts, v1 := parseSignatureHeader(header)
	if ts == "" || v1 == "" {
		return false
	}
	expected := SignManifest(secret, dataID, requestID, ts)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(v1)))
}

// SignManifest returns the hex signature the provider sends for a notification.
func SignManifest(secret, dataID, requestID, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest(dataID, requestID, ts)))
	return hex.EncodeToString(mac.Sum(nil))
}

func manifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		fmt.Fprintf(&b, "id:%s;", strings.ToLower(dataID))
	}
	if requestID != "" {
		fmt.Fprintf(&b, "request-id:%s;", requestID)
	}
	fmt.Fprintf(&b, "ts:%s;", ts)
	return b.String()
}

func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	return ts, v1
}

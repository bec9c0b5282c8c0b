package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

const (
	// EmptyBodyHash is the SHA256 of an empty body.
	EmptyBodyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"

	// SignatureTolerance is the maximum clock skew, in seconds, accepted
	// between a worker and the control plane.
	SignatureTolerance = 300
)

// BuildStringToSign returns METHOD\nPATH\nTIMESTAMP\nSHA256(body).
func BuildStringToSign(method, path string, timestamp int64, bodyHash string) string {
	return fmt.Sprintf("%s\n%s\n%d\n%s", method, path, timestamp, bodyHash)
}

// ComputeHMACSHA256 returns the hex encoded HMAC-SHA256 of message.
func ComputeHMACSHA256(secretKey, message string) string {
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// SecureCompare compares signatures in constant time.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func HashBodySHA256(body []byte) string {
	if len(body) == 0 {
		return EmptyBodyHash
	}
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}

// SignRequest computes the signature a worker sends in X-Signature.
func SignRequest(secret, method, path string, timestamp int64, body []byte) string {
	return ComputeHMACSHA256(secret, BuildStringToSign(method, path, timestamp, HashBodySHA256(body)))
}

// SignatureHeaders returns the headers for a signed worker request made now.
func SignatureHeaders(secret, method, path string, body []byte) map[string]string {
	ts := time.Now().Unix()
	return map[string]string{
		HeaderTimestamp: strconv.FormatInt(ts, 10),
		HeaderSignature: SignRequest(secret, method, path, ts, body),
	}
}

// VerifySignature checks a signature and its timestamp against now.
func VerifySignature(secret, method, path, timestampHeader, signature string, body []byte, now time.Time) error {
	if timestampHeader == "" || signature == "" {
		return fmt.Errorf("missing %s or %s header", HeaderTimestamp, HeaderSignature)
	}
	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s format", HeaderTimestamp)
	}
	if Abs(now.Unix()-ts) > SignatureTolerance {
		return fmt.Errorf("request timestamp expired")
	}
	if !SecureCompare(SignRequest(secret, method, path, ts, body), signature) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

func Abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// signatureWindow bounds clock skew and replay of signed commands.
const signatureWindow = 5 * time.Minute

// signCommand computes the HMAC-SHA256 of a bus command as hex and base64.
// The message is the device ID, the command name, the percentage and the
// unix timestamp, the last two as big-endian uint64.
func signCommand(base64Secret, deviceID, command string, pct int, ts uint64) (string, string, error) {
	secret, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return "", "", fmt.Errorf("invalid base64 secret: %w", err)
	}
	if len(secret) == 0 {
		return "", "", fmt.Errorf("secret cannot be empty")
	}

	msg := make([]byte, 0, len(deviceID)+len(command)+16)
	msg = append(msg, deviceID...)
	msg = append(msg, command...)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(pct))
	msg = append(msg, buf[:]...)
	binary.BigEndian.PutUint64(buf[:], ts)
	msg = append(msg, buf[:]...)

	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	sum := mac.Sum(nil)

	return hex.EncodeToString(sum), base64.StdEncoding.EncodeToString(sum), nil
}

// verifyCommand checks a hex or base64 signature and the timestamp window.
func verifyCommand(base64Secret, deviceID, command string, pct int, ts uint64, sig string, now time.Time) error {
	at := time.Unix(int64(ts), 0)
	if now.Before(at.Add(-signatureWindow)) || now.After(at.Add(signatureWindow)) {
		return fmt.Errorf("command timestamp out of range")
	}

	sigHex, sigBase64, err := signCommand(base64Secret, deviceID, command, pct, ts)
	if err != nil {
		return err
	}

	if decoded, err := hex.DecodeString(sig); err == nil {
		expected, _ := hex.DecodeString(sigHex)
		if subtle.ConstantTimeCompare(decoded, expected) == 1 {
			return nil
		}
	}

	if decoded, err := base64.StdEncoding.DecodeString(sig); err == nil {
		expected, _ := base64.StdEncoding.DecodeString(sigBase64)
		if subtle.ConstantTimeCompare(decoded, expected) == 1 {
			return nil
		}
	}

	return fmt.Errorf("signature verification failed")
}

package services

import (
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

const verificationCodeLength = 12

var verificationEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// VerificationCoder derives the opaque code printed on an issued permit. The same submission id
// and implementation window always yield the same code for a given secret.
type VerificationCoder struct {
	secret []byte
}

func NewVerificationCoder(secret string) *VerificationCoder {
	return &VerificationCoder{secret: []byte(secret)}
}

func (v *VerificationCoder) Derive(submissionID string, start, end time.Time) (string, error) {
	if strings.TrimSpace(submissionID) == "" {
		return "", fmt.Errorf("verification code requires a submission id")
	}

	key := v.secret
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		return "", fmt.Errorf("failed to init verification hash: %w", err)
	}
	fmt.Fprintf(h, "%s|%s|%s", submissionID, start.Format("2006-01-02"), end.Format("2006-01-02"))

	raw := verificationEncoding.EncodeToString(h.Sum(nil))
	code := raw[:verificationCodeLength]
	return code[0:4] + "-" + code[4:8] + "-" + code[8:12], nil
}

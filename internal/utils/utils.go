package utils

import (
	"crypto/rand"
	"encoding/hex"
	"math"
	"time"

	"github.com/google/uuid"
)

// GenerateUUID returns a new random task identifier
func GenerateUUID() string {
	return uuid.New().String()
}

// IsUUID reports whether s parses as a UUID
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// RandomHex returns n random bytes encoded as hex
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// RunDirName names a local run directory as YYYYMMDD-HHMMSS_<6hex>
func RunDirName(t time.Time) (string, error) {
	suffix, err := RandomHex(3)
	if err != nil {
		return "", err
	}
	return t.Format("20060102-150405") + "_" + suffix, nil
}

// FormatTimestamp formats a time as YYYY-MM-DD HH:MM:SS
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// Seconds converts a duration to seconds rounded to 2 decimal places
func Seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const OrderIDMaxLength = 8

var orderIDPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// NewTransactionID returns "TX<unix millis>-<8 hex chars>".
func NewTransactionID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("TX%d-%s", now.UnixMilli(), suffix)
}

// NewOrderID returns an 8 character id: 4 base36 chars of the timestamp and 4 random hex chars.
func NewOrderID(now time.Time) string {
	stamp := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	if len(stamp) > 4 {
		stamp = stamp[len(stamp)-4:]
	}
	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return (stamp + random)[:OrderIDMaxLength]
}

// IsValidOrderID reports whether id is 1..8 chars of uppercase letters and digits.
func IsValidOrderID(id string) bool {
	return len(id) > 0 && len(id) <= OrderIDMaxLength && orderIDPattern.MatchString(id)
}

package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns "<prefix>-<unix millis>-<8 hex>". The millisecond timestamp
// keeps ids readable and roughly ordered; the random suffix comes from a
// v4 UUID.
func New(prefix string) string {
	return NewAt(prefix, time.Now())
}

func NewAt(prefix string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", prefix, at.UnixMilli(), suffix)
}

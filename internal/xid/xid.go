package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a random identifier such as "audit-6f1c...". Prefixes keep ids
// readable in logs.
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

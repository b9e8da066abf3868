package xid

import (
	"strings"

	"github.com/google/uuid"
)

func New() string {
	return uuid.NewString()
}

// Short returns the first dash-separated group of id, used in human
// readable references such as ledger descriptions.
func Short(id string) string {
	head, _, _ := strings.Cut(id, "-")
	return head
}

func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

package syncer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Source identifies one factory contract to sync on one chain. The cursor keys
// derived from it are deterministic over protocol, chain, version, and
// contract, so unrelated sync jobs never share a cursor.
type Source struct {
	Chain      string
	Protocol   string
	Version    string
	Factory    common.Address
	BirthBlock uint64
}

// MetadataKey is the cursor key for entity discovery scans.
func (s Source) MetadataKey() string {
	return s.cursorKey("metadata")
}

// StateKey is the cursor key for state/replay scans.
func (s Source) StateKey() string {
	return s.cursorKey("state")
}

func (s Source) cursorKey(purpose string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", purpose, s.Chain, s.Protocol, s.Version, strings.ToLower(s.Factory.Hex()))
}

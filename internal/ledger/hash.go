package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
)

// GenesisDigest is the prev_digest of the entry at position 1.
const GenesisDigest = "GENESIS"

const fieldSeparator = "|"

// canonicalPayload is the only serialization ever hashed:
// position|from|to|amount|prev, position in base 10 and amount with exactly
// eight fractional digits.
func canonicalPayload(position uint64, from, to string, amount decimal.Decimal, prevDigest string) string {
	return strings.Join([]string{
		strconv.FormatUint(position, 10),
		from,
		to,
		FormatAmount(amount),
		prevDigest,
	}, fieldSeparator)
}

// Hash returns the lowercase hex SHA-256 digest of the canonical payload.
func Hash(position uint64, from, to string, amount decimal.Decimal, prevDigest string) string {
	sum := sha256.Sum256([]byte(canonicalPayload(position, from, to, amount, prevDigest)))
	return hex.EncodeToString(sum[:])
}

// EntryHash recomputes the digest of a stored entry from its own fields.
func EntryHash(e models.LedgerEntry) string {
	return Hash(e.Position, e.FromAddress, e.ToAddress, e.Amount, e.PrevDigest)
}

// ValidAddress reports whether address can take part in the canonical payload.
func ValidAddress(address string) bool {
	return address != "" && !strings.Contains(address, fieldSeparator)
}

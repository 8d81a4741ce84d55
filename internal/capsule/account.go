package capsule

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// AccountID is a 32-byte account identity on the host ledger.
type AccountID [32]byte

// accountDomainKey keys the BLAKE3 hash used to derive accounts from
// names. Changing it changes every derived account.
var accountDomainKey = [32]byte{
	'c', 'h', 'r', 'o', 'n', 'o', '.', 'a', 'c', 'c', 'o', 'u', 'n', 't',
}

// DeriveAccount maps a human-readable name to an account.
// The same name always yields the same account.
func DeriveAccount(name string) AccountID {
	hasher, err := blake3.NewKeyed(accountDomainKey[:])
	if err != nil {
		panic("capsule: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(name))
	var id AccountID
	copy(id[:], hasher.Sum(nil))
	return id
}

// ParseAccount parses "0x"-prefixed hex into an account, or derives the
// account from a name otherwise.
func ParseAccount(s string) (AccountID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return AccountID{}, fmt.Errorf("empty account")
	}
	if !strings.HasPrefix(s, "0x") {
		return DeriveAccount(s), nil
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return AccountID{}, fmt.Errorf("invalid account hex %q: %w", s, err)
	}
	if len(raw) != len(AccountID{}) {
		return AccountID{}, fmt.Errorf("invalid account %q: got %d bytes, want %d", s, len(raw), len(AccountID{}))
	}
	var id AccountID
	copy(id[:], raw)
	return id, nil
}

// String returns the "0x"-prefixed hex form.
func (a AccountID) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Only the hex form is accepted.
func (a *AccountID) UnmarshalText(text []byte) error {
	if !strings.HasPrefix(string(text), "0x") {
		return fmt.Errorf("invalid account %q: missing 0x prefix", text)
	}
	id, err := ParseAccount(string(text))
	if err != nil {
		return err
	}
	*a = id
	return nil
}

// messageDomainKey keys message digests.
var messageDomainKey = [32]byte{
	'c', 'h', 'r', 'o', 'n', 'o', '.', 'm', 'e', 's', 's', 'a', 'g', 'e',
}

// MessageDigest returns the hex BLAKE3 keyed digest of a message payload.
// Used where the payload itself should not be echoed, such as logs.
func MessageDigest(message []byte) string {
	hasher, err := blake3.NewKeyed(messageDomainKey[:])
	if err != nil {
		panic("capsule: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(message)
	return hex.EncodeToString(hasher.Sum(nil))
}

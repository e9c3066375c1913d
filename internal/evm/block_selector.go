package evm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type BlockTag string

const (
	TagLatest    BlockTag = "latest"
	TagEarliest  BlockTag = "earliest"
	TagPending   BlockTag = "pending"
	TagSafe      BlockTag = "safe"
	TagFinalized BlockTag = "finalized"
)

func (t BlockTag) valid() bool {
	switch t {
	case TagLatest, TagEarliest, TagPending, TagSafe, TagFinalized:
		return true
	}
	return false
}

// BlockSelector picks the block an action is evaluated at. At most one field
// may be set; the zero value means "latest".
type BlockSelector struct {
	Number *big.Int
	Hash   *common.Hash
	Tag    BlockTag
}

func AtNumber(n uint64) BlockSelector {
	return BlockSelector{Number: new(big.Int).SetUint64(n)}
}

func AtHash(h common.Hash) BlockSelector {
	return BlockSelector{Hash: &h}
}

func AtTag(t BlockTag) BlockSelector {
	return BlockSelector{Tag: t}
}

// ParseBlockSelector accepts a decimal or 0x-hex number, a 32-byte hash or a tag.
func ParseBlockSelector(s string) (BlockSelector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return BlockSelector{}, nil
	}
	if tag := BlockTag(strings.ToLower(s)); tag.valid() {
		return AtTag(tag), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if len(s) == 66 {
			b, err := hexutil.Decode(s)
			if err != nil {
				return BlockSelector{}, fmt.Errorf("invalid block hash %q: %w", s, err)
			}
			return AtHash(common.BytesToHash(b)), nil
		}
		n, err := hexutil.DecodeBig(s)
		if err != nil {
			return BlockSelector{}, fmt.Errorf("invalid block number %q: %w", s, err)
		}
		return BlockSelector{Number: n}, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return BlockSelector{}, fmt.Errorf("invalid block selector %q", s)
	}
	return BlockSelector{Number: n}, nil
}

func (s BlockSelector) IsZero() bool {
	return s.Number == nil && s.Hash == nil && s.Tag == ""
}

func (s BlockSelector) Validate() error {
	set := 0
	if s.Number != nil {
		set++
		if s.Number.Sign() < 0 {
			return fmt.Errorf("negative block number %s", s.Number)
		}
	}
	if s.Hash != nil {
		set++
	}
	if s.Tag != "" {
		set++
		if !s.Tag.valid() {
			return fmt.Errorf("unknown block tag %q", s.Tag)
		}
	}
	if set > 1 {
		return ErrConflictingBlockSelector
	}
	return nil
}

// arg renders the selector in EIP-1898 form (hash objects allowed).
func (s BlockSelector) arg() (interface{}, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.Hash != nil {
		return map[string]interface{}{"blockHash": *s.Hash}, nil
	}
	return s.numberArg()
}

// numberArg renders the selector for methods that only take a number or tag.
func (s BlockSelector) numberArg() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	switch {
	case s.Hash != nil:
		return "", errors.New("block hash not accepted here, use a number or tag")
	case s.Number != nil:
		return hexutil.EncodeBig(s.Number), nil
	case s.Tag != "":
		return string(s.Tag), nil
	}
	return string(TagLatest), nil
}

func (s BlockSelector) String() string {
	switch {
	case s.Hash != nil:
		return s.Hash.Hex()
	case s.Number != nil:
		return s.Number.String()
	case s.Tag != "":
		return string(s.Tag)
	}
	return string(TagLatest)
}

func (s BlockSelector) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *BlockSelector) UnmarshalText(text []byte) error {
	parsed, err := ParseBlockSelector(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

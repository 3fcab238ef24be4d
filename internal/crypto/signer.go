package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// Agent(string source,bytes32 connectionId)
	agentTypeHash = ethcrypto.Keccak256(
		[]byte("Agent(string source,bytes32 connectionId)"),
	)
)

// Signer signs Hyperliquid exchange actions with a wallet private key. The
// action payload is hashed into a connection id and wrapped in the Agent
// EIP-712 struct the exchange verifies against the wallet address.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded private key, with or without
// the 0x prefix.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode private key: %w", err)
	}

	privateKey, err := ethcrypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}

	s := &Signer{
		privateKey: privateKey,
		address:    ethcrypto.PubkeyToAddress(privateKey.PublicKey),
	}
	s.domainSep = s.domainSeparator()
	return s, nil
}

// Address returns the wallet address derived from the private key, in
// EIP-55 checksum form.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// SignAction signs a serialized exchange action for the given source
// ("a" for mainnet agents, "b" for testnet). The returned r, s values are
// hex-encoded with 0x prefix; v is 27 or 28.
func (s *Signer) SignAction(actionBytes []byte, source string) (r, sv string, v int, err error) {
	connectionID := ethcrypto.Keccak256(actionBytes)

	structHash := ethcrypto.Keccak256(
		agentTypeHash,
		ethcrypto.Keccak256([]byte(source)),
		connectionID,
	)

	digest := ethcrypto.Keccak256(
		[]byte("\x19\x01"),
		s.domainSep,
		structHash,
	)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", "", 0, fmt.Errorf("crypto: sign action: %w", err)
	}

	r = "0x" + hex.EncodeToString(sig[:32])
	sv = "0x" + hex.EncodeToString(sig[32:64])
	v = int(sig[64]) + 27
	return r, sv, v, nil
}

// domainSeparator computes the EIP-712 domain hash for the Hyperliquid
// exchange: name "Exchange", version "1", chain id 1337, zero contract.
func (s *Signer) domainSeparator() []byte {
	chainID := new(big.Int).SetInt64(1337)
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte("Exchange")),
		ethcrypto.Keccak256([]byte("1")),
		common.BigToHash(chainID).Bytes(),
		common.Hash{}.Bytes(),
	)
}

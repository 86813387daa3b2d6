package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidSignature = errors.New("invalid signature")
)

// NormalizeEVM valida una direccion EVM y la devuelve en formato checksum (EIP-55).
func NormalizeEVM(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	return common.HexToAddress(address).Hex(), nil
}

// IsEVMAddress indica si el string es una direccion hex de 20 bytes.
func IsEVMAddress(address string) bool {
	return common.IsHexAddress(address)
}

// RecoverPersonalSigner recupera la direccion que firmo message con personal_sign.
func RecoverPersonalSigner(message []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	// Las wallets devuelven v en {27,28}; SigToPub espera {0,1}.
	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyPersonalSignature comprueba que address firmo message.
func VerifyPersonalSignature(address string, message []byte, signature string) error {
	if !common.IsHexAddress(address) {
		return ErrInvalidAddress
	}
	signer, err := RecoverPersonalSigner(message, signature)
	if err != nil {
		return err
	}
	if signer != common.HexToAddress(address) {
		return ErrInvalidSignature
	}
	return nil
}

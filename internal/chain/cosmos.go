package chain

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160"
)

// CosmosHex decodifica una direccion bech32 y devuelve el payload en hex.
// Dos direcciones de distintas cadenas cosmos con la misma clave comparten hex.
func CosmosHex(address string) (string, error) {
	_, data, err := bech32.Decode(address)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return hex.EncodeToString(raw), nil
}

// CosmosAddress codifica bytes crudos con el prefijo dado.
func CosmosAddress(prefix string, raw []byte) (string, error) {
	data, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(prefix, data)
}

// StdSignature es la respuesta de signArbitrary de las wallets cosmos (Keplr, Leap).
type StdSignature struct {
	PubKey struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"pub_key"`
	Signature string `json:"signature"`
}

const secp256k1PubKeyType = "tendermint/PubKeySecp256k1"

// adr036SignDoc respeta el orden alfabetico de claves de la serializacion amino.
type adr036SignDoc struct {
	AccountNumber string          `json:"account_number"`
	ChainID       string          `json:"chain_id"`
	Fee           adr036Fee       `json:"fee"`
	Memo          string          `json:"memo"`
	Msgs          []adr036SignMsg `json:"msgs"`
	Sequence      string          `json:"sequence"`
}

type adr036Fee struct {
	Amount []struct{} `json:"amount"`
	Gas    string     `json:"gas"`
}

type adr036SignMsg struct {
	Type  string `json:"type"`
	Value struct {
		Data   string `json:"data"`
		Signer string `json:"signer"`
	} `json:"value"`
}

// ADR036SignBytes arma el sign doc offline (ADR-036) que firma una wallet cosmos para data.
func ADR036SignBytes(signer string, data []byte) ([]byte, error) {
	msg := adr036SignMsg{Type: "sign/MsgSignData"}
	msg.Value.Data = base64.StdEncoding.EncodeToString(data)
	msg.Value.Signer = signer
	doc := adr036SignDoc{
		AccountNumber: "0",
		Fee:           adr036Fee{Amount: []struct{}{}, Gas: "0"},
		Msgs:          []adr036SignMsg{msg},
		Sequence:      "0",
	}
	return json.Marshal(doc)
}

// CosmosPubKeyAddress deriva la direccion bech32 de una clave secp256k1 comprimida:
// ripemd160(sha256(pubkey)).
func CosmosPubKeyAddress(prefix string, compressed []byte) (string, error) {
	sha := sha256.Sum256(compressed)
	h := ripemd160.New()
	h.Write(sha[:])
	return CosmosAddress(prefix, h.Sum(nil))
}

// VerifyADR036Signature comprueba que stdSig es la firma ADR-036 de data hecha por la clave de address.
func VerifyADR036Signature(address string, data []byte, stdSig string) error {
	var sig StdSignature
	if err := json.Unmarshal([]byte(stdSig), &sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if sig.PubKey.Type != secp256k1PubKeyType {
		return fmt.Errorf("%w: unsupported key type %q", ErrInvalidSignature, sig.PubKey.Type)
	}
	pub, err := base64.StdEncoding.DecodeString(sig.PubKey.Value)
	if err != nil || len(pub) != 33 {
		return fmt.Errorf("%w: bad public key", ErrInvalidSignature)
	}
	rs, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil || len(rs) != 64 {
		return fmt.Errorf("%w: bad signature encoding", ErrInvalidSignature)
	}

	prefix, _, err := bech32.Decode(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	derived, err := CosmosPubKeyAddress(prefix, pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if derived != address {
		return fmt.Errorf("%w: key belongs to %s", ErrInvalidSignature, derived)
	}

	doc, err := ADR036SignBytes(address, data)
	if err != nil {
		return err
	}
	hash := sha256.Sum256(doc)
	if !ethcrypto.VerifySignature(pub, hash[:], rs) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyCosmosEVMSignature cubre wallets ethsecp256k1 en cadenas cosmos: la direccion bech32
// codifica los 20 bytes de la direccion EVM que firmo message con personal_sign.
func VerifyCosmosEVMSignature(address string, message []byte, signature string) error {
	prefix, _, err := bech32.Decode(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	signer, err := RecoverPersonalSigner(message, signature)
	if err != nil {
		return err
	}
	derived, err := CosmosAddress(prefix, signer.Bytes())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if derived != address {
		return ErrInvalidSignature
	}
	return nil
}

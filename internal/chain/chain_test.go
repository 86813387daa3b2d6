package chain

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

func TestNormalizeEVM(t *testing.T) {
	got, err := NormalizeEVM("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
		t.Fatalf("unexpected checksum: %s", got)
	}

	if _, err := NormalizeEVM("not-an-address"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestVerifyPersonalSignature(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	message := []byte("sign in to commonwealth")

	sig, err := ethcrypto.Sign(accounts.TextHash(message), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[64] += 27

	if err := VerifyPersonalSignature(address, message, hexutil.Encode(sig)); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := VerifyPersonalSignature(strings.ToLower(address), message, hexutil.Encode(sig)); err != nil {
		t.Fatalf("lowercase address should verify, got %v", err)
	}

	other, _ := ethcrypto.GenerateKey()
	otherAddr := ethcrypto.PubkeyToAddress(other.PublicKey).Hex()
	if err := VerifyPersonalSignature(otherAddr, message, hexutil.Encode(sig)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if err := VerifyPersonalSignature(address, message, "0x1234"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for short sig, got %v", err)
	}
}

func TestCosmosHexSharedAcrossPrefixes(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14}
	osmo, err := CosmosAddress("osmo", raw)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cosmos, err := CosmosAddress("cosmos", raw)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	h1, err := CosmosHex(osmo)
	if err != nil {
		t.Fatalf("decode osmo: %v", err)
	}
	h2, err := CosmosHex(cosmos)
	if err != nil {
		t.Fatalf("decode cosmos: %v", err)
	}
	if h1 != h2 || h1 != "0102030405060708090a0b0c0d0e0f1011121314" {
		t.Fatalf("unexpected hex values: %s %s", h1, h2)
	}

	if _, err := CosmosHex("osmo1invalid"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func adr036Sign(t *testing.T, key *ecdsa.PrivateKey, signer string, data []byte) string {
	t.Helper()
	doc, err := ADR036SignBytes(signer, data)
	if err != nil {
		t.Fatalf("sign doc: %v", err)
	}
	hash := sha256.Sum256(doc)
	sig, err := ethcrypto.Sign(hash[:], key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	var std StdSignature
	std.PubKey.Type = "tendermint/PubKeySecp256k1"
	std.PubKey.Value = base64.StdEncoding.EncodeToString(ethcrypto.CompressPubkey(&key.PublicKey))
	std.Signature = base64.StdEncoding.EncodeToString(sig[:64])
	raw, _ := json.Marshal(std)
	return string(raw)
}

func TestADR036SignBytes(t *testing.T) {
	doc, err := ADR036SignBytes("osmo1signer", []byte("hello"))
	if err != nil {
		t.Fatalf("sign bytes: %v", err)
	}
	want := `{"account_number":"0","chain_id":"","fee":{"amount":[],"gas":"0"},"memo":"","msgs":[{"type":"sign/MsgSignData","value":{"data":"aGVsbG8=","signer":"osmo1signer"}}],"sequence":"0"}`
	if string(doc) != want {
		t.Fatalf("unexpected sign doc:\n got %s\nwant %s", doc, want)
	}
}

func TestVerifyADR036Signature(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	other, _ := ethcrypto.GenerateKey()
	addr, err := CosmosPubKeyAddress("osmo", ethcrypto.CompressPubkey(&key.PublicKey))
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}
	data := []byte("Sign in to Commonwealth\nNonce: n-1")

	if err := VerifyADR036Signature(addr, data, adr036Sign(t, key, addr, data)); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	hub, _ := CosmosPubKeyAddress("cosmos", ethcrypto.CompressPubkey(&key.PublicKey))
	wrongPub := adr036Sign(t, key, addr, data)
	var std StdSignature
	_ = json.Unmarshal([]byte(wrongPub), &std)
	std.PubKey.Value = base64.StdEncoding.EncodeToString(ethcrypto.CompressPubkey(&other.PublicKey))
	swapped, _ := json.Marshal(std)

	cases := map[string]string{
		"other key":        adr036Sign(t, other, addr, data),
		"swapped pub key":  string(swapped),
		"other signer":     adr036Sign(t, key, hub, data),
		"other data":       adr036Sign(t, key, addr, []byte("something else")),
		"not json":         "0x1234",
		"unknown key type": strings.Replace(adr036Sign(t, key, addr, data), "tendermint/PubKeySecp256k1", "tendermint/PubKeyEd25519", 1),
	}
	for name, sig := range cases {
		t.Run(name, func(t *testing.T) {
			if err := VerifyADR036Signature(addr, data, sig); !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
	if err := VerifyADR036Signature("osmo1invalid", data, adr036Sign(t, key, addr, data)); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestVerifyCosmosEVMSignature(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	other, _ := ethcrypto.GenerateKey()
	addr, err := CosmosAddress("evmos", ethcrypto.PubkeyToAddress(key.PublicKey).Bytes())
	if err != nil {
		t.Fatalf("encode address: %v", err)
	}
	msg := []byte("Sign in to Commonwealth")
	sign := func(k *ecdsa.PrivateKey) string {
		sig, _ := ethcrypto.Sign(accounts.TextHash(msg), k)
		sig[64] += 27
		return hexutil.Encode(sig)
	}

	if err := VerifyCosmosEVMSignature(addr, msg, sign(key)); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := VerifyCosmosEVMSignature(addr, msg, sign(other)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

type jsonRPCCall struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []any           `json:"params"`
}

// jsonRPCNode responde cada llamada con reply y registra lo recibido.
func jsonRPCNode(t *testing.T, reply func(call jsonRPCCall) map[string]any) (*httptest.Server, func() []jsonRPCCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []jsonRPCCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call jsonRPCCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		calls = append(calls, call)
		mu.Unlock()
		out := reply(call)
		out["jsonrpc"] = "2.0"
		out["id"] = call.ID
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []jsonRPCCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]jsonRPCCall(nil), calls...)
	}
}

func TestRPCBalanceClient(t *testing.T) {
	srv, calls := jsonRPCNode(t, func(jsonRPCCall) map[string]any {
		return map[string]any{"result": "0xde0b6b3a7640000"}
	})

	client := NewRPCBalanceClient(map[string]string{"1": srv.URL})
	defer client.Close()
	wei, err := client.NativeBalance(context.Background(), 1, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !WeiToEther(wei).Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected 1 ETH, got %s wei", wei.String())
	}
	recorded := calls()
	if len(recorded) != 1 {
		t.Fatalf("expected one rpc call, got %d", len(recorded))
	}
	call := recorded[0]
	if call.Method != "eth_getBalance" || len(call.Params) != 2 || call.Params[1] != "latest" {
		t.Fatalf("unexpected call: %+v", call)
	}
	if addr, _ := call.Params[0].(string); !strings.EqualFold(addr, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed") {
		t.Fatalf("unexpected address param: %v", call.Params[0])
	}

	if _, err := client.NativeBalance(context.Background(), 1, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(client.clients) != 1 {
		t.Fatalf("expected the chain client to be reused, got %d", len(client.clients))
	}

	if _, err := client.NativeBalance(context.Background(), 137, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"); !errors.Is(err, ErrNoRPCForChain) {
		t.Fatalf("expected ErrNoRPCForChain, got %v", err)
	}
	if _, err := client.NativeBalance(context.Background(), 1, "not-an-address"); err == nil {
		t.Fatalf("expected invalid address error")
	}
}

func TestRPCBalanceClientRPCError(t *testing.T) {
	srv, _ := jsonRPCNode(t, func(jsonRPCCall) map[string]any {
		return map[string]any{"error": map[string]any{"code": -32000, "message": "header not found"}}
	})

	client := NewRPCBalanceClient(map[string]string{"1": srv.URL})
	defer client.Close()
	_, err := client.NativeBalance(context.Background(), 1, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	if err == nil || !strings.Contains(err.Error(), "header not found") {
		t.Fatalf("expected rpc error, got %v", err)
	}
}

package domain

type ChainBase string

const (
	ChainBaseEthereum  ChainBase = "ethereum"
	ChainBaseCosmos    ChainBase = "cosmos"
	ChainBaseSolana    ChainBase = "solana"
	ChainBaseSubstrate ChainBase = "substrate"
	ChainBaseNear      ChainBase = "near"
)

// AllCommunities es el valor que envia el cliente cuando no hay comunidad seleccionada.
const AllCommunities = "all_communities"

type Community struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Base         ChainBase `json:"base"`
	Bech32Prefix *string   `json:"bech32_prefix,omitempty"`
	EthChainID   *int64    `json:"eth_chain_id,omitempty"`
}

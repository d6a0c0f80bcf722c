package domain

type ChainID string

const (
	ChainIDStacksMainnet ChainID = "stacks-mainnet"
	ChainIDStacksTestnet ChainID = "stacks-testnet"
	ChainIDStacksDevnet  ChainID = "stacks-devnet"
)

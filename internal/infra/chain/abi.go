package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const ensRegistryJSON = `[
	{"type":"function","name":"resolver","stateMutability":"view",
	 "inputs":[{"name":"node","type":"bytes32"}],
	 "outputs":[{"name":"","type":"address"}]}
]`

const ensResolverJSON = `[
	{"type":"function","name":"addr","stateMutability":"view",
	 "inputs":[{"name":"node","type":"bytes32"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"name","stateMutability":"view",
	 "inputs":[{"name":"node","type":"bytes32"}],
	 "outputs":[{"name":"","type":"string"}]}
]`

const safeProxyFactoryJSON = `[
	{"type":"function","name":"createProxyWithNonce","stateMutability":"nonpayable",
	 "inputs":[{"name":"_singleton","type":"address"},{"name":"initializer","type":"bytes"},{"name":"saltNonce","type":"uint256"}],
	 "outputs":[{"name":"proxy","type":"address"}]},
	{"type":"function","name":"proxyCreationCode","stateMutability":"pure",
	 "inputs":[],
	 "outputs":[{"name":"","type":"bytes"}]}
]`

const safeSingletonJSON = `[
	{"type":"function","name":"setup","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"_owners","type":"address[]"},
		{"name":"_threshold","type":"uint256"},
		{"name":"to","type":"address"},
		{"name":"data","type":"bytes"},
		{"name":"fallbackHandler","type":"address"},
		{"name":"paymentToken","type":"address"},
		{"name":"payment","type":"uint256"},
		{"name":"paymentReceiver","type":"address"}],
	 "outputs":[]}
]`

const tokenFactoryJSON = `[
	{"type":"function","name":"generateSalt","stateMutability":"view",
	 "inputs":[{"name":"deployer","type":"address"},{"name":"name","type":"string"},{"name":"symbol","type":"string"},{"name":"supply","type":"uint256"}],
	 "outputs":[{"name":"salt","type":"bytes32"},{"name":"token","type":"address"}]},
	{"type":"function","name":"deployToken","stateMutability":"payable",
	 "inputs":[
		{"name":"_name","type":"string"},
		{"name":"_symbol","type":"string"},
		{"name":"_supply","type":"uint256"},
		{"name":"_initialTick","type":"int24"},
		{"name":"_fee","type":"uint24"},
		{"name":"_salt","type":"bytes32"},
		{"name":"_deployer","type":"address"}],
	 "outputs":[{"name":"token","type":"address"},{"name":"positionId","type":"uint256"}]}
]`

var (
	ensRegistryABI      = mustABI(ensRegistryJSON)
	ensResolverABI      = mustABI(ensResolverJSON)
	safeProxyFactoryABI = mustABI(safeProxyFactoryJSON)
	safeSingletonABI    = mustABI(safeSingletonJSON)
	tokenFactoryABI     = mustABI(tokenFactoryJSON)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

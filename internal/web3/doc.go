// Package web3 houses blockchain connectivity utilities: the chain-agnostic
// Client interface consumed by the SDK layer and the event listener, the
// event/object/transaction value types, and multi-chain configuration
// helpers. Concrete network implementations live in subpackages.
package web3

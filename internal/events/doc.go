// Package events carries dataset NFT mint confirmations from the chain
// watcher to interested consumers. Memory, Redis and RabbitMQ buses share
// the same Producer/Consumer contract.
package events

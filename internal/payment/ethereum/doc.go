// Package ethereum implements the on-chain payment adapter against the
// dataset NFT contract: batched purchases, minting after upload, owner
// earnings reads, and a watcher that turns mint logs into bus events.
package ethereum

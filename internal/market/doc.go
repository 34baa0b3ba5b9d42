// Package market defines the marketplace domain model shared across the
// gateway: dataset agents, their lifecycle status, and exact decimal
// prices carried in their original lexical form.
package market

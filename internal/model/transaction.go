package model

import "time"

// TransactionMessage is one outgoing transfer inside a transaction request.
// Amount is a decimal string in nanotons; it can exceed int64 range and is
// parsed as a big integer during validation.
type TransactionMessage struct {
	Address   string `json:"address"`
	Amount    string `json:"amount"`
	Payload   string `json:"payload,omitempty"`
	StateInit string `json:"stateInit,omitempty"`
}

// TransactionRequest is what the caller asks the connected wallet to sign.
// ValidUntil is unix seconds; zero means "default lifetime from now".
type TransactionRequest struct {
	ValidUntil int64                `json:"validUntil,omitempty"`
	Messages   []TransactionMessage `json:"messages"`
}

// TransactionResult reports a confirmed submission. Failures are never
// encoded here; they surface as typed errors instead.
type TransactionResult struct {
	Success   bool      `json:"success"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

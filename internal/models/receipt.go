package models

import "time"

// ReceiptVersion tags the canonical payload layout so verifiers can
// evolve without breaking old chains.
const ReceiptVersion = "v1"

// ExecutionReceipt is one link in the global append-only hash chain:
//
//	PayloadHash = SHA256(Payload)
//	ReceiptHash = SHA256(PayloadHash || PrevReceiptHash)
//
// The chain is global (one head), not per agent, so a third party can
// replay the full history and detect any altered, reordered, or deleted
// entry.
type ExecutionReceipt struct {
	Version     string `json:"version"`
	ExecutionID string `json:"execution_id"`

	Payload         string `json:"payload"`
	PayloadHash     string `json:"payload_hash"`
	PrevReceiptHash string `json:"prev_receipt_hash"`
	ReceiptHash     string `json:"receipt_hash"`

	// SignaturePayload is reserved for an external signer; the core never
	// fills it.
	SignaturePayload string `json:"signature_payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (r *ExecutionReceipt) Clone() *ExecutionReceipt {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// Package receipt builds and verifies the SHA-256 hash-chained ledger of
// execution receipts. Verification reports tampering as an explicit
// result; it never panics and never silently passes.
package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"agentmarket/internal/models"
)

// canonicalPayload fixes the order and formatting of the economically
// relevant execution fields. Changing this layout requires bumping
// models.ReceiptVersion.
type canonicalPayload struct {
	Version          string `json:"version"`
	ExecutionID      string `json:"execution_id"`
	IntentID         string `json:"intent_id"`
	AgentID          string `json:"agent_id"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	Quantity         string `json:"quantity"`
	PriceUSD         string `json:"price_usd"`
	GrossNotionalUSD string `json:"gross_notional_usd"`
	FeeUSD           string `json:"fee_usd"`
	NetUSD           string `json:"net_usd"`
	RealizedPnlUSD   string `json:"realized_pnl_usd"`
	PnlSnapshotUSD   string `json:"pnl_snapshot_usd"`
	Mode             string `json:"mode"`
	Status           string `json:"status"`
	TxSignature      string `json:"tx_signature"`
	ExecutedAt       string `json:"executed_at"`
}

func canonicalize(exec *models.ExecutionRecord) string {
	p := canonicalPayload{
		Version:          models.ReceiptVersion,
		ExecutionID:      exec.ID,
		IntentID:         exec.IntentID,
		AgentID:          exec.AgentID,
		Symbol:           exec.Symbol,
		Side:             string(exec.Side),
		Quantity:         exec.Quantity.String(),
		PriceUSD:         exec.PriceUSD.String(),
		GrossNotionalUSD: exec.GrossNotionalUSD.String(),
		FeeUSD:           exec.FeeUSD.String(),
		NetUSD:           exec.NetUSD.String(),
		RealizedPnlUSD:   exec.RealizedPnlUSD.String(),
		PnlSnapshotUSD:   exec.PnlSnapshotUSD.String(),
		Mode:             string(exec.Mode),
		Status:           string(exec.Status),
		TxSignature:      exec.TxSignature,
		ExecutedAt:       exec.ExecutedAt.UTC().Format(time.RFC3339Nano),
	}
	raw, _ := json.Marshal(p)
	return string(raw)
}

func hashHex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// Create links a new receipt to the current chain head. prevHash is empty
// for the first receipt in the chain.
func Create(exec *models.ExecutionRecord, prevHash string, now time.Time) *models.ExecutionReceipt {
	payload := canonicalize(exec)
	payloadHash := hashHex(payload)
	return &models.ExecutionReceipt{
		Version:         models.ReceiptVersion,
		ExecutionID:     exec.ID,
		Payload:         payload,
		PayloadHash:     payloadHash,
		PrevReceiptHash: prevHash,
		ReceiptHash:     hashHex(payloadHash + prevHash),
		CreatedAt:       now.UTC(),
	}
}

type VerifyResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Verify recomputes both hashes from the stored execution and compares
// them to the recorded values. A payload mismatch flags corruption of
// either artifact independently of the chain link.
func Verify(exec *models.ExecutionRecord, r *models.ExecutionReceipt) VerifyResult {
	if exec == nil || r == nil {
		return VerifyResult{Valid: false, Reason: "missing_artifact"}
	}
	payload := canonicalize(exec)
	if payload != r.Payload {
		return VerifyResult{Valid: false, Reason: "payload_mismatch"}
	}
	if hashHex(payload) != r.PayloadHash {
		return VerifyResult{Valid: false, Reason: "payload_hash_mismatch"}
	}
	if hashHex(r.PayloadHash+r.PrevReceiptHash) != r.ReceiptHash {
		return VerifyResult{Valid: false, Reason: "receipt_hash_mismatch"}
	}
	return VerifyResult{Valid: true}
}

type ChainResult struct {
	Valid bool `json:"valid"`
	// BrokenAt is the index of the first broken link, -1 when valid.
	BrokenAt int    `json:"broken_at"`
	Reason   string `json:"reason,omitempty"`
	Checked  int    `json:"checked"`
}

// VerifyChain walks receipts in append order and checks every
// consecutive (payloadHash, prevReceiptHash) link. The chain is broken
// from the first bad link forward.
func VerifyChain(receipts []*models.ExecutionReceipt) ChainResult {
	prev := ""
	for i, r := range receipts {
		if r.PrevReceiptHash != prev {
			return ChainResult{Valid: false, BrokenAt: i, Reason: "prev_hash_mismatch", Checked: i}
		}
		if hashHex(r.Payload) != r.PayloadHash {
			return ChainResult{Valid: false, BrokenAt: i, Reason: "payload_hash_mismatch", Checked: i}
		}
		if hashHex(r.PayloadHash+r.PrevReceiptHash) != r.ReceiptHash {
			return ChainResult{Valid: false, BrokenAt: i, Reason: "receipt_hash_mismatch", Checked: i}
		}
		prev = r.ReceiptHash
	}
	return ChainResult{Valid: true, BrokenAt: -1, Checked: len(receipts)}
}

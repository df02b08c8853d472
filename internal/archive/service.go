package archive

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"agentmarket/internal/db"
	"agentmarket/internal/models"
	"agentmarket/internal/store"
)

type Service struct {
	DB     *db.DB
	Store  *store.Store
	Logger *zap.Logger
}

// SnapshotNow persists one full state snapshot.
func (s *Service) SnapshotNow(ctx context.Context) error {
	if s == nil || s.DB == nil || s.DB.Gorm == nil {
		return nil
	}
	snap := s.Store.Snapshot()
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	row := &StateSnapshotRow{
		TakenAt: time.Now().UTC(),
		Body:    datatypes.JSON(body),
	}
	if err := s.DB.Gorm.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Info("state snapshot archived",
			zap.Uint("snapshot_id", row.ID),
			zap.Int("agents", len(snap.Agents)),
			zap.Int("executions", len(snap.Executions)),
		)
	}
	return nil
}

// ArchiveLedger copies executions and receipts the database has not seen
// yet. Rows are immutable, so conflicts are simply skipped.
func (s *Service) ArchiveLedger(ctx context.Context) error {
	if s == nil || s.DB == nil || s.DB.Gorm == nil {
		return nil
	}
	snap := s.Store.Snapshot()

	var execRows []ExecutionRow
	for _, exec := range snap.Executions {
		row, err := executionRow(exec)
		if err != nil {
			return err
		}
		execRows = append(execRows, row)
	}
	if len(execRows) > 0 {
		err := s.DB.Gorm.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).CreateInBatches(execRows, 200).Error
		if err != nil {
			return err
		}
	}

	var receiptRows []ReceiptRow
	for i, execID := range snap.ReceiptOrder {
		rec := snap.Receipts[execID]
		if rec == nil {
			continue
		}
		receiptRows = append(receiptRows, ReceiptRow{
			ExecutionID:     rec.ExecutionID,
			ChainIndex:      i,
			Payload:         rec.Payload,
			PayloadHash:     rec.PayloadHash,
			PrevReceiptHash: rec.PrevReceiptHash,
			ReceiptHash:     rec.ReceiptHash,
			CreatedAt:       rec.CreatedAt,
		})
	}
	if len(receiptRows) > 0 {
		err := s.DB.Gorm.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "execution_id"}},
			DoNothing: true,
		}).CreateInBatches(receiptRows, 200).Error
		if err != nil {
			return err
		}
	}

	if s.Logger != nil {
		s.Logger.Debug("ledger archived",
			zap.Int("executions", len(execRows)),
			zap.Int("receipts", len(receiptRows)),
		)
	}
	return nil
}

func executionRow(exec *models.ExecutionRecord) (ExecutionRow, error) {
	body, err := json.Marshal(exec)
	if err != nil {
		return ExecutionRow{}, err
	}
	return ExecutionRow{
		ID:               exec.ID,
		IntentID:         exec.IntentID,
		AgentID:          exec.AgentID,
		Symbol:           exec.Symbol,
		Side:             string(exec.Side),
		Quantity:         exec.Quantity.String(),
		PriceUSD:         exec.PriceUSD.String(),
		GrossNotionalUSD: exec.GrossNotionalUSD.String(),
		FeeUSD:           exec.FeeUSD.String(),
		Mode:             string(exec.Mode),
		Status:           string(exec.Status),
		ReceiptHash:      exec.ReceiptHash,
		Body:             datatypes.JSON(body),
		ExecutedAt:       exec.ExecutedAt,
	}, nil
}

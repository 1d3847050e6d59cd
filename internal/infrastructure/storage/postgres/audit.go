package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/domain/run"
)

// CompressionAlgo specifies how an audit payload is stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// defaultCompressThreshold is the payload size above which plans are compressed.
const defaultCompressThreshold = 4 * 1024

// AuditEntry is a row of sys_unit_audit.
type AuditEntry struct {
	ID                id.ID           `db:"id"`
	RunID             string          `db:"run_id"`
	BranchID          id.ID           `db:"branch_id"`
	BusinessDate      time.Time       `db:"business_date"`
	IngredientID      id.ID           `db:"ingredient_id"`
	IdempotencyKey    string          `db:"idempotency_key"`
	Payload           json.RawMessage `db:"payload"`
	PayloadCompressed []byte          `db:"payload_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	CreatedAt         time.Time       `db:"created_at"`
}

// UnitAuditLog stores the allocation plan of every recorded unit.
type UnitAuditLog struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

var (
	_ run.AuditLog     = (*UnitAuditLog)(nil)
	_ run.AuditHistory = (*UnitAuditLog)(nil)
)

// NewUnitAuditLog creates the audit log.
func NewUnitAuditLog(txManager *TxManager) (*UnitAuditLog, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &UnitAuditLog{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: defaultCompressThreshold,
	}, nil
}

// encode fills the payload columns of entry, compressing large plans.
func (l *UnitAuditLog) encode(entry *AuditEntry, payload []byte) {
	entry.CompressionAlgo = CompressionNone
	if len(payload) > l.compressThreshold {
		entry.PayloadCompressed = l.encoder.EncodeAll(payload, nil)
		entry.CompressionAlgo = CompressionZstd
		return
	}
	entry.Payload = payload
}

// decode returns the plain payload of a stored entry.
func (l *UnitAuditLog) decode(entry *AuditEntry) (json.RawMessage, error) {
	if entry.CompressionAlgo != CompressionZstd {
		return entry.Payload, nil
	}
	out, err := l.decoder.DecodeAll(entry.PayloadCompressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	return out, nil
}

// SaveAllocation writes one audit row in the caller's transaction.
func (l *UnitAuditLog) SaveAllocation(ctx context.Context, audit run.AllocationAudit) error {
	payload, err := json.Marshal(audit)
	if err != nil {
		return fmt.Errorf("marshal allocation audit: %w", err)
	}
	entry := AuditEntry{
		ID:             id.New(),
		RunID:          audit.RunID,
		BranchID:       audit.Unit.BranchID,
		BusinessDate:   audit.Unit.Date.Time(),
		IngredientID:   audit.Unit.IngredientID,
		IdempotencyKey: audit.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
	l.encode(&entry, payload)

	_, err = l.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_unit_audit (
			id, run_id, branch_id, business_date, ingredient_id, idempotency_key,
			payload, payload_compressed, compression_algo, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entry.ID, entry.RunID, entry.BranchID, entry.BusinessDate, entry.IngredientID, entry.IdempotencyKey,
		entry.Payload, entry.PayloadCompressed, entry.CompressionAlgo, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert unit audit: %w", err)
	}
	return nil
}

// History returns the audit trail of a unit, newest first.
func (l *UnitAuditLog) History(ctx context.Context, unit entity.UnitKey, limit int) ([]run.AllocationAudit, error) {
	rows, err := l.txManager.GetQuerier(ctx).Query(ctx, `
		SELECT id, run_id, branch_id, business_date, ingredient_id, idempotency_key,
		       payload, payload_compressed, compression_algo, created_at
		FROM sys_unit_audit
		WHERE branch_id = $1 AND business_date = $2 AND ingredient_id = $3
		ORDER BY created_at DESC
		LIMIT $4
	`, unit.BranchID, unit.Date.Time(), unit.IngredientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query unit audit: %w", err)
	}
	defer rows.Close()

	var out []run.AllocationAudit
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(
			&e.ID, &e.RunID, &e.BranchID, &e.BusinessDate, &e.IngredientID, &e.IdempotencyKey,
			&e.Payload, &e.PayloadCompressed, &e.CompressionAlgo, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan unit audit: %w", err)
		}
		payload, err := l.decode(&e)
		if err != nil {
			return nil, err
		}
		var audit run.AllocationAudit
		if err := json.Unmarshal(payload, &audit); err != nil {
			return nil, fmt.Errorf("decode unit audit: %w", err)
		}
		out = append(out, audit)
	}
	return out, rows.Err()
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/packlens-labs/packlens-go/internal/domain"
)

// RunLogStore persists run records into verification_runs. One row per run
// identity; replays and resubmissions of the same identity overwrite every
// derived column, advance finished_at, and leave created_at untouched.
//
// Raw structured payloads (request context, OCR, barcode, stage outputs)
// are stored as JSONB next to the scalar columns used for querying.
type RunLogStore struct {
	db DB
}

func NewRunLogStore(db DB) *RunLogStore {
	if db == nil {
		return nil
	}
	return &RunLogStore{db: db}
}

const upsertRunQuery = `INSERT INTO verification_runs (
		instance_id, created_at, finished_at,
		requested_by_user_id, requested_by_user_name, requested_by_user_role, requested_by_user_email,
		client_app_version, client_ip, client_user_agent, request_context_payload,
		input_container, input_blob_name,
		expected_prod_code, expected_prod_desc,
		expected_lot, expected_expiry_date, expected_pack_date,
		validation_lot_ok, validation_expiry_ok, validation_pack_date_ok,
		validation_barcode_detected_ok, validation_barcode_legible_ok, validation_barcode_ok,
		validation_summary,
		processed_image_container, processed_image_blob_name,
		ocr_overlay_container, ocr_overlay_blob_name,
		barcode_overlay_container, barcode_overlay_blob_name,
		barcode_roi_container, barcode_roi_blob_name,
		ocr_payload, barcode_payload, stage_outputs
	) VALUES (
		$1, $2, now(),
		$3, $4, $5, $6,
		$7, $8, $9, $10,
		$11, $12,
		$13, $14,
		$15, $16, $17,
		$18, $19, $20,
		$21, $22, $23,
		$24,
		$25, $26,
		$27, $28,
		$29, $30,
		$31, $32,
		$33, $34, $35
	)
	ON CONFLICT (instance_id) DO UPDATE SET
		finished_at = now(),
		requested_by_user_id = EXCLUDED.requested_by_user_id,
		requested_by_user_name = EXCLUDED.requested_by_user_name,
		requested_by_user_role = EXCLUDED.requested_by_user_role,
		requested_by_user_email = EXCLUDED.requested_by_user_email,
		client_app_version = EXCLUDED.client_app_version,
		client_ip = EXCLUDED.client_ip,
		client_user_agent = EXCLUDED.client_user_agent,
		request_context_payload = EXCLUDED.request_context_payload,
		input_container = EXCLUDED.input_container,
		input_blob_name = EXCLUDED.input_blob_name,
		expected_prod_code = EXCLUDED.expected_prod_code,
		expected_prod_desc = EXCLUDED.expected_prod_desc,
		expected_lot = EXCLUDED.expected_lot,
		expected_expiry_date = EXCLUDED.expected_expiry_date,
		expected_pack_date = EXCLUDED.expected_pack_date,
		validation_lot_ok = EXCLUDED.validation_lot_ok,
		validation_expiry_ok = EXCLUDED.validation_expiry_ok,
		validation_pack_date_ok = EXCLUDED.validation_pack_date_ok,
		validation_barcode_detected_ok = EXCLUDED.validation_barcode_detected_ok,
		validation_barcode_legible_ok = EXCLUDED.validation_barcode_legible_ok,
		validation_barcode_ok = EXCLUDED.validation_barcode_ok,
		validation_summary = EXCLUDED.validation_summary,
		processed_image_container = EXCLUDED.processed_image_container,
		processed_image_blob_name = EXCLUDED.processed_image_blob_name,
		ocr_overlay_container = EXCLUDED.ocr_overlay_container,
		ocr_overlay_blob_name = EXCLUDED.ocr_overlay_blob_name,
		barcode_overlay_container = EXCLUDED.barcode_overlay_container,
		barcode_overlay_blob_name = EXCLUDED.barcode_overlay_blob_name,
		barcode_roi_container = EXCLUDED.barcode_roi_container,
		barcode_roi_blob_name = EXCLUDED.barcode_roi_blob_name,
		ocr_payload = EXCLUDED.ocr_payload,
		barcode_payload = EXCLUDED.barcode_payload,
		stage_outputs = EXCLUDED.stage_outputs`

func (s *RunLogStore) Upsert(ctx context.Context, record domain.RunRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run log store not initialized")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	requestJSON, err := encodeJSON(record.Request)
	if err != nil {
		return fmt.Errorf("encode request context: %w", err)
	}
	ocrJSON, err := encodeJSON(record.Stages.OCR.Result)
	if err != nil {
		return fmt.Errorf("encode ocr payload: %w", err)
	}
	barcodeJSON, err := encodeJSON(record.Stages.Barcode)
	if err != nil {
		return fmt.Errorf("encode barcode payload: %w", err)
	}
	stagesJSON, err := encodeJSON(record.Stages)
	if err != nil {
		return fmt.Errorf("encode stage outputs: %w", err)
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var client domain.RequestClient
	if record.Request.Client != nil {
		client = *record.Request.Client
	}

	ocrOverlay := derefRef(record.Stages.OCR.OverlayRef)
	barcodeOverlay := derefRef(record.Stages.Barcode.OverlayRef)
	barcodeROI := derefRef(record.Stages.Barcode.ROIRef)

	_, err = s.db.ExecContext(
		ctx,
		upsertRunQuery,
		strings.TrimSpace(record.Identity),
		createdAt.UTC(),
		strings.TrimSpace(record.Request.User.ID),
		nullIfEmpty(record.Request.User.Name),
		nullIfEmpty(record.Request.User.Role),
		nullIfEmpty(record.Request.User.Email),
		nullIfEmpty(client.AppVersion),
		nullIfEmpty(client.IP),
		nullIfEmpty(client.UserAgent),
		requestJSON,
		record.Input.Container,
		record.Input.Name,
		nullIfEmpty(record.Expected.ProductCode),
		nullIfEmpty(record.Expected.ProductDescription),
		nullIfEmpty(record.Expected.Lot),
		nullIfEmpty(record.Expected.ExpiryDate),
		nullIfEmpty(record.Expected.PackDate),
		record.Validation.LotOK,
		record.Validation.ExpiryOK,
		record.Validation.PackDateOK,
		record.Validation.BarcodeDetectedOK,
		record.Validation.BarcodeLegibleOK,
		record.Validation.BarcodeOK,
		record.Validation.SummaryOK,
		nullIfEmpty(record.Stages.OCR.OutputRef.Container),
		nullIfEmpty(record.Stages.OCR.OutputRef.Name),
		nullIfEmpty(ocrOverlay.Container),
		nullIfEmpty(ocrOverlay.Name),
		nullIfEmpty(barcodeOverlay.Container),
		nullIfEmpty(barcodeOverlay.Name),
		nullIfEmpty(barcodeROI.Container),
		nullIfEmpty(barcodeROI.Name),
		ocrJSON,
		barcodeJSON,
		stagesJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

func (s *RunLogStore) Get(ctx context.Context, identity string) (domain.RunRecord, error) {
	if s == nil || s.db == nil {
		return domain.RunRecord{}, fmt.Errorf("run log store not initialized")
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.RunRecord{}, fmt.Errorf("run identity is required")
	}

	row := s.db.QueryRowContext(
		ctx,
		`SELECT instance_id, created_at, finished_at,
			input_container, input_blob_name,
			expected_prod_code, expected_prod_desc,
			expected_lot, expected_expiry_date, expected_pack_date,
			validation_lot_ok, validation_expiry_ok, validation_pack_date_ok,
			validation_barcode_detected_ok, validation_barcode_legible_ok, validation_barcode_ok,
			validation_summary,
			request_context_payload, stage_outputs
		 FROM verification_runs
		 WHERE instance_id = $1`,
		identity,
	)

	var (
		record      domain.RunRecord
		prodCode    sql.NullString
		prodDesc    sql.NullString
		lot         sql.NullString
		expiryDate  sql.NullString
		packDate    sql.NullString
		requestJSON []byte
		stagesJSON  []byte
	)
	if err := row.Scan(
		&record.Identity, &record.CreatedAt, &record.FinishedAt,
		&record.Input.Container, &record.Input.Name,
		&prodCode, &prodDesc,
		&lot, &expiryDate, &packDate,
		&record.Validation.LotOK, &record.Validation.ExpiryOK, &record.Validation.PackDateOK,
		&record.Validation.BarcodeDetectedOK, &record.Validation.BarcodeLegibleOK, &record.Validation.BarcodeOK,
		&record.Validation.SummaryOK,
		&requestJSON, &stagesJSON,
	); err != nil {
		return domain.RunRecord{}, handleNotFound(err)
	}

	record.CreatedAt = record.CreatedAt.UTC()
	record.FinishedAt = record.FinishedAt.UTC()
	record.Expected = domain.ExpectedFields{
		ProductCode:        prodCode.String,
		ProductDescription: prodDesc.String,
		Lot:                lot.String,
		ExpiryDate:         expiryDate.String,
		PackDate:           packDate.String,
	}
	if len(requestJSON) > 0 {
		if err := json.Unmarshal(requestJSON, &record.Request); err != nil {
			return domain.RunRecord{}, fmt.Errorf("decode request context: %w", err)
		}
	}
	if len(stagesJSON) > 0 {
		if err := json.Unmarshal(stagesJSON, &record.Stages); err != nil {
			return domain.RunRecord{}, fmt.Errorf("decode stage outputs: %w", err)
		}
	}
	return record, nil
}

func derefRef(ref *domain.BlobRef) domain.BlobRef {
	if ref == nil {
		return domain.BlobRef{}
	}
	return *ref
}

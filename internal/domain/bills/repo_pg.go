package bills

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medvault/medvault/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository { return &billRepoPG{pool: pool} }

func (r *billRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const billCols = `id, owner_id, family_member_id,
	biller_name, biller_address, biller_phone, biller_website, payment_portal_url,
	guarantor_name, guarantor_id, portal_code,
	service_date, received_date, statement_date, due_date,
	amount_billed, insurance_paid, insurance_adjusted, patient_responsibility,
	status, notes, created_at, updated_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.OwnerID, &b.FamilyMemberID,
		&b.Biller.Name, &b.Biller.Address, &b.Biller.Phone, &b.Biller.Website, &b.Biller.PaymentPortalURL,
		&b.Account.GuarantorName, &b.Account.GuarantorID, &b.Account.PortalCode,
		&b.ServiceDate, &b.ReceivedDate, &b.StatementDate, &b.DueDate,
		&b.Totals.AmountBilled, &b.Totals.InsurancePaid, &b.Totals.InsuranceAdjusted, &b.Totals.PatientResponsibility,
		&b.Status, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &b, err
}

// Create inserts the bill and any attached documents, payments, and analysis
// snapshot in a single transaction: committing a drafted bill with its staged
// pages is one write from the caller's point of view.
func (r *billRepoPG) Create(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO bills (id, owner_id, family_member_id,
			biller_name, biller_address, biller_phone, biller_website, payment_portal_url,
			guarantor_name, guarantor_id, portal_code,
			service_date, received_date, statement_date, due_date,
			amount_billed, insurance_paid, insurance_adjusted, patient_responsibility,
			status, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		b.ID, b.OwnerID, b.FamilyMemberID,
		b.Biller.Name, b.Biller.Address, b.Biller.Phone, b.Biller.Website, b.Biller.PaymentPortalURL,
		b.Account.GuarantorName, b.Account.GuarantorID, b.Account.PortalCode,
		b.ServiceDate, b.ReceivedDate, b.StatementDate, b.DueDate,
		b.Totals.AmountBilled, b.Totals.InsurancePaid, b.Totals.InsuranceAdjusted, b.Totals.PatientResponsibility,
		b.Status, b.Notes)
	if err != nil {
		return err
	}

	for i, d := range b.Documents {
		d.ID = uuid.New()
		d.BillID = b.ID
		_, err = tx.Exec(ctx, `
			INSERT INTO bill_documents (id, bill_id, file_name, content_type, size, storage_key, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			d.ID, d.BillID, d.FileName, d.ContentType, d.Size, d.StorageKey, i)
		if err != nil {
			return err
		}
	}

	for i, p := range b.Payments {
		p.ID = uuid.New()
		p.BillID = b.ID
		_, err = tx.Exec(ctx, `
			INSERT INTO bill_payments (id, bill_id, amount, date, method, reference, intent_txn_id, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			p.ID, p.BillID, p.Amount, p.Date, p.Method, p.Reference, p.IntentTxnID, i)
		if err != nil {
			return err
		}
	}

	if b.Analysis != nil {
		if err := insertAnalysis(ctx, tx, b.ID, b.Analysis); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *billRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bills WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *billRepoPG) loadChildren(ctx context.Context, b *Bill) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, bill_id, file_name, content_type, size, storage_key, uploaded_at
		FROM bill_documents WHERE bill_id = $1 ORDER BY position, uploaded_at`, b.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	b.Documents = []*BillDocument{}
	for rows.Next() {
		var d BillDocument
		if err := rows.Scan(&d.ID, &d.BillID, &d.FileName, &d.ContentType, &d.Size, &d.StorageKey, &d.UploadedAt); err != nil {
			return err
		}
		b.Documents = append(b.Documents, &d)
	}
	rows.Close()

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT id, bill_id, amount, date, method, reference, intent_txn_id, created_at
		FROM bill_payments WHERE bill_id = $1 ORDER BY position, created_at`, b.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	b.Payments = []*Payment{}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.BillID, &p.Amount, &p.Date, &p.Method, &p.Reference, &p.IntentTxnID, &p.CreatedAt); err != nil {
			return err
		}
		b.Payments = append(b.Payments, &p)
	}
	rows.Close()

	var a AiAnalysisSnapshot
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT id, bill_id, summary, findings, totals, dispute_letter, analyzed_at
		FROM bill_analysis WHERE bill_id = $1`, b.ID).
		Scan(&a.ID, &a.BillID, &a.Summary, &a.Findings, &a.Totals, &a.DisputeLetter, &a.AnalyzedAt)
	switch {
	case err == nil:
		b.Analysis = &a
	case errors.Is(err, pgx.ErrNoRows):
		b.Analysis = nil
	default:
		return err
	}

	return nil
}

func (r *billRepoPG) Update(ctx context.Context, b *Bill) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bills SET family_member_id=$2,
			biller_name=$3, biller_address=$4, biller_phone=$5, biller_website=$6, payment_portal_url=$7,
			guarantor_name=$8, guarantor_id=$9, portal_code=$10,
			service_date=$11, received_date=$12, statement_date=$13, due_date=$14,
			amount_billed=$15, insurance_paid=$16, insurance_adjusted=$17, patient_responsibility=$18,
			status=$19, notes=$20, updated_at=NOW()
		WHERE id = $1`,
		b.ID, b.FamilyMemberID,
		b.Biller.Name, b.Biller.Address, b.Biller.Phone, b.Biller.Website, b.Biller.PaymentPortalURL,
		b.Account.GuarantorName, b.Account.GuarantorID, b.Account.PortalCode,
		b.ServiceDate, b.ReceivedDate, b.StatementDate, b.DueDate,
		b.Totals.AmountBilled, b.Totals.InsurancePaid, b.Totals.InsuranceAdjusted, b.Totals.PatientResponsibility,
		b.Status, b.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *billRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM bills WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *billRepoPG) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Bill, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bills WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+billCols+` FROM bills WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	rows.Close()
	for _, b := range items {
		if err := r.loadChildren(ctx, b); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (r *billRepoPG) AddDocument(ctx context.Context, d *BillDocument) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bill_documents (id, bill_id, file_name, content_type, size, storage_key, position)
		VALUES ($1,$2,$3,$4,$5,$6,
			(SELECT COALESCE(MAX(position)+1, 0) FROM bill_documents WHERE bill_id = $2))`,
		d.ID, d.BillID, d.FileName, d.ContentType, d.Size, d.StorageKey)
	return mapChildInsertErr(err)
}

func (r *billRepoPG) GetDocument(ctx context.Context, billID, docID uuid.UUID) (*BillDocument, error) {
	var d BillDocument
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, bill_id, file_name, content_type, size, storage_key, uploaded_at
		FROM bill_documents WHERE bill_id = $1 AND id = $2`, billID, docID).
		Scan(&d.ID, &d.BillID, &d.FileName, &d.ContentType, &d.Size, &d.StorageKey, &d.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *billRepoPG) RemoveDocument(ctx context.Context, billID, docID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM bill_documents WHERE bill_id = $1 AND id = $2`, billID, docID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *billRepoPG) AddPayment(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bill_payments (id, bill_id, amount, date, method, reference, intent_txn_id, position)
		VALUES ($1,$2,$3,$4,$5,$6,$7,
			(SELECT COALESCE(MAX(position)+1, 0) FROM bill_payments WHERE bill_id = $2))`,
		p.ID, p.BillID, p.Amount, p.Date, p.Method, p.Reference, p.IntentTxnID)
	return mapChildInsertErr(err)
}

// mapChildInsertErr translates a foreign-key violation on bill_id into
// ErrNotFound so that inserting a child row against a missing bill reads the
// same as looking the bill up first.
func mapChildInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
		return ErrNotFound
	}
	return err
}

func (r *billRepoPG) RemovePayment(ctx context.Context, billID, paymentID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM bill_payments WHERE bill_id = $1 AND id = $2`, billID, paymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAnalysis replaces any existing snapshot for the bill.
func (r *billRepoPG) SetAnalysis(ctx context.Context, a *AiAnalysisSnapshot) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM bill_analysis WHERE bill_id = $1`, a.BillID)
	if err != nil {
		return err
	}
	return insertAnalysis(ctx, r.conn(ctx), a.BillID, a)
}

func insertAnalysis(ctx context.Context, q queryable, billID uuid.UUID, a *AiAnalysisSnapshot) error {
	a.ID = uuid.New()
	a.BillID = billID
	if a.Findings == nil {
		a.Findings = []ErrorFinding{}
	}
	_, err := q.Exec(ctx, `
		INSERT INTO bill_analysis (id, bill_id, summary, findings, totals, dispute_letter, analyzed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.BillID, a.Summary, a.Findings, a.Totals, a.DisputeLetter, a.AnalyzedAt)
	return err
}

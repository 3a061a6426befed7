package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// EntryLine is one debit or credit leg of a ledger posting, addressed by
// tenant-scoped account code. Conventionally exactly one of Debit/Credit is
// non-zero per line.
type EntryLine struct {
	AccountCode string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// Ledger posts balanced double-entry records. All writes go through
// PostEntryTx inside a caller-owned transaction, so an entry either commits
// with all of its lines or not at all.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// ValidateEntryLines enforces the structural rules of a posting: at least two
// lines, non-negative amounts, no zero lines, and total debits equal to total
// credits. An imbalance returns UnbalancedEntryError.
func ValidateEntryLines(lines []EntryLine) error {
	if len(lines) < 2 {
		return &ValidationError{Msg: "ledger entry must have at least 2 lines"}
	}

	totalDebit := decimal.Zero
	totalCredit := decimal.Zero
	for _, line := range lines {
		if line.AccountCode == "" {
			return &ValidationError{Msg: "ledger line missing account code"}
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return &ValidationError{Msg: fmt.Sprintf("negative amount on account %s", line.AccountCode)}
		}
		if line.Debit.IsZero() && line.Credit.IsZero() {
			return &ValidationError{Msg: fmt.Sprintf("zero-amount line on account %s", line.AccountCode)}
		}
		totalDebit = totalDebit.Add(line.Debit)
		totalCredit = totalCredit.Add(line.Credit)
	}

	if !totalDebit.Equal(totalCredit) {
		return &UnbalancedEntryError{Debits: totalDebit, Credits: totalCredit}
	}
	return nil
}

// PostEntryTx validates and inserts one balanced entry with its lines inside
// tx. Account codes resolve to account ids per tenant; an unknown code fails
// the whole transaction with NotFoundError and performs no partial write.
func (l *Ledger) PostEntryTx(ctx context.Context, tx pgx.Tx, tenantID int, entryDate time.Time, orderID *int, description string, lines []EntryLine) (int, error) {
	if err := ValidateEntryLines(lines); err != nil {
		return 0, err
	}

	var entryID int
	err := tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (tenant_id, entry_date, order_id, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, tenantID, entryDate.Format("2006-01-02"), orderID, description).Scan(&entryID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	for _, line := range lines {
		var accountID int
		err := tx.QueryRow(ctx,
			"SELECT id FROM accounts WHERE tenant_id = $1 AND code = $2",
			tenantID, line.AccountCode,
		).Scan(&accountID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, &NotFoundError{Resource: "account", Identifier: line.AccountCode}
			}
			return 0, fmt.Errorf("failed to resolve account %s: %w", line.AccountCode, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_lines (entry_id, account_id, debit, credit)
			VALUES ($1, $2, $3, $4)
		`, entryID, accountID, line.Debit, line.Credit)
		if err != nil {
			return 0, fmt.Errorf("failed to insert ledger line: %w", err)
		}
	}

	return entryID, nil
}

// Balances returns the net debit position per account for the tenant,
// ordered by account code.
func (l *Ledger) Balances(ctx context.Context, tenantID int) ([]AccountBalance, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT a.code, a.name,
		       COALESCE(SUM(ll.debit), 0) - COALESCE(SUM(ll.credit), 0) AS balance
		FROM accounts a
		LEFT JOIN ledger_lines ll ON ll.account_id = a.id
		WHERE a.tenant_id = $1
		GROUP BY a.id, a.code, a.name
		ORDER BY a.code
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []AccountBalance
	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.Code, &b.Name, &b.Balance); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// EntriesForOrder returns the postings referencing an order, lines included,
// for traceability (a fulfilled order has a sales entry and a COGS entry).
func (l *Ledger) EntriesForOrder(ctx context.Context, tenantID, orderID int) ([]LedgerEntry, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, tenant_id, entry_date::text, order_id, description, created_at
		FROM ledger_entries
		WHERE tenant_id = $1 AND order_id = $2
		ORDER BY id
	`, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EntryDate, &e.OrderID, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	for i := range entries {
		lines, err := l.entryLines(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Lines = lines
	}
	return entries, nil
}

func (l *Ledger) entryLines(ctx context.Context, entryID int) ([]LedgerLine, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT ll.id, ll.entry_id, ll.account_id, a.code, ll.debit, ll.credit
		FROM ledger_lines ll
		JOIN accounts a ON a.id = ll.account_id
		WHERE ll.entry_id = $1
		ORDER BY ll.id
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger lines: %w", err)
	}
	defer rows.Close()

	var lines []LedgerLine
	for rows.Next() {
		var ln LedgerLine
		if err := rows.Scan(&ln.ID, &ln.EntryID, &ln.AccountID, &ln.AccountCode, &ln.Debit, &ln.Credit); err != nil {
			return nil, fmt.Errorf("failed to scan ledger line: %w", err)
		}
		lines = append(lines, ln)
	}
	return lines, rows.Err()
}

package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// PricedProduct carries the catalog values frozen into an order item:
// current sale price, historical cost, tax rate, fiscal concept and the
// display name snapshotted onto the line.
type PricedProduct struct {
	ProductID int
	SKU       string
	Name      string
	SalePrice decimal.Decimal
	CostPrice decimal.Decimal
	TaxRate   decimal.Decimal
	Concept   int
}

// pgxQuerier is satisfied by *pgxpool.Pool, pgx.Conn and pgx.Tx, enabling
// shared query helpers regardless of transaction scope.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ResolvePrices fetches the authoritative pricing data for every product id in
// quantities, scoped to the tenant. Read-only; resolution happens once per
// order and the result is frozen into the line items. Returns NotFoundError
// naming every product id with no active row for the tenant.
func ResolvePrices(ctx context.Context, q pgxQuerier, tenantID int, quantities map[int]int) (map[int]PricedProduct, error) {
	ids := make([]int, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	rows, err := q.Query(ctx, `
		SELECT id, sku, name, sale_price, cost_price, tax_rate, concept
		FROM products
		WHERE tenant_id = $1 AND id = ANY($2) AND is_active = true
	`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	priced := make(map[int]PricedProduct, len(ids))
	for rows.Next() {
		var p PricedProduct
		if err := rows.Scan(&p.ProductID, &p.SKU, &p.Name, &p.SalePrice, &p.CostPrice, &p.TaxRate, &p.Concept); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		priced[p.ProductID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	if len(priced) != len(ids) {
		var missing []string
		for _, id := range ids {
			if _, ok := priced[id]; !ok {
				missing = append(missing, strconv.Itoa(id))
			}
		}
		return nil, &NotFoundError{Resource: "product", Identifier: strings.Join(missing, ", ")}
	}

	return priced, nil
}

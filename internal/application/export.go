package application

import (
	"context"

	"github.com/petportre/orders-service/internal/export"
	"github.com/petportre/orders-service/internal/logger"
)

type ExportService struct {
	orders *OrdersService
	limit  int
	opts   export.Options
}

func NewExportService(orders *OrdersService, limit int, opts export.Options) *ExportService {
	return &ExportService{orders: orders, limit: limit, opts: opts}
}

// Export flattens the newest orders into spreadsheet rows.
func (e *ExportService) Export(ctx context.Context) (export.Table, error) {
	orders, err := e.orders.List(ctx, e.limit)
	if err != nil {
		return export.Table{}, err
	}
	table := export.Flatten(orders, e.opts)
	logger.FromContext(ctx).Debugw("orders exported", "orders", len(orders), "rows", len(table.Rows))
	return table, nil
}

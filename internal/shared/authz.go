package shared

// Platform-wide permissions.
const (
	PermSystemAdmin     = "system.admin"
	PermInventoryManage = "inventory.manage"
)

// Stock count permissions.
const (
	PermStockCountView    = "stockcount.view"
	PermStockCountEdit    = "stockcount.edit"
	PermStockCountApprove = "stockcount.approve"
)

// StockCountScopes lists all permissions related to stock counting.
func StockCountScopes() []string {
	return []string{
		PermStockCountView,
		PermStockCountEdit,
		PermStockCountApprove,
	}
}

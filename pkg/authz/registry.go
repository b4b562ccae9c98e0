package authz

const (
	RoleAdmin              = "admin"
	RoleProductionManager  = "production_manager"
	RoleProductionOperator = "production_operator"
	RoleWarehouseManager   = "warehouse_manager"
	RoleWarehouseOperator  = "warehouse_operator"
	RoleQualityManager     = "quality_manager"
	RoleViewer             = "viewer"
	RoleAnonymous          = "anonymous"
)

const (
	ActionRead     = "read"
	ActionWrite    = "write"
	ActionAdmin    = "admin"
	ActionStart    = "start"
	ActionComplete = "complete"
)

const (
	ObjectWarehouseLicensePlates = "warehouse.license-plates"
	ObjectWarehouseGenealogy     = "warehouse.genealogy"
	ObjectWarehouseCatalog       = "warehouse.catalog"
	ObjectWarehouseSettings      = "warehouse.settings"
	ObjectWarehouseDashboard     = "warehouse.dashboard"
	ObjectWarehouseQA            = "warehouse.qa"
	ObjectProductionWorkOrders   = "production.work-orders"
	ObjectProductionOperations   = "production.operations"
	ObjectProductionSettings     = "production.settings"
)

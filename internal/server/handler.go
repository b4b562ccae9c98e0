package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/monopilot/monopilot/internal/config"
	"github.com/monopilot/monopilot/internal/metrics"
	"github.com/monopilot/monopilot/internal/routing"
	productiontypes "github.com/monopilot/monopilot/modules/production/domain/types"
	productioncontrollers "github.com/monopilot/monopilot/modules/production/presentation/controllers"
	productionservices "github.com/monopilot/monopilot/modules/production/services"
	warehousetypes "github.com/monopilot/monopilot/modules/warehouse/domain/types"
	warehousecontrollers "github.com/monopilot/monopilot/modules/warehouse/presentation/controllers"
	warehouseservices "github.com/monopilot/monopilot/modules/warehouse/services"
	"github.com/monopilot/monopilot/pkg/authz"
	"github.com/monopilot/monopilot/pkg/ttlcache"
	"go.uber.org/zap"
)

type HandlerOptions struct {
	Config  config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Stores  *Stores

	// Optional; built from Config when nil.
	Authorizer      *authz.Authorizer
	TenancyResolver TenancyResolver
}

const healthzTimeout = 2 * time.Second

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stores := opts.Stores
	if stores == nil {
		return nil, errors.New("server: missing stores")
	}

	allowlistPath := cfg.AllowlistPath
	if allowlistPath == "" {
		p, err := findConfigFile("config/routing/allowlist.yaml")
		if err != nil {
			return nil, err
		}
		allowlistPath = p
	}
	a, err := routing.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}
	classifier, err := routing.NewClassifier(a, "server")
	if err != nil {
		return nil, err
	}

	authorizer := opts.Authorizer
	if authorizer == nil {
		authorizer, err = loadAuthorizer(cfg)
		if err != nil {
			return nil, err
		}
	}

	tenancyResolver := opts.TenancyResolver
	switch {
	case tenancyResolver != nil:
	case len(cfg.TenantDomains) > 0:
		tenancyResolver = newStaticTenancyResolver(cfg.TenantDomains)
	case stores.Tenants != nil:
		tenancyResolver = stores.Tenants
	default:
		return nil, errors.New("server: missing tenancy resolver (set TENANT_DOMAINS or use the postgres store)")
	}

	rules, err := warehouseservices.NewQAWarningRules()
	if err != nil {
		return nil, err
	}
	checker := warehouseservices.NewChecker(rules)
	whOpts := []warehouseservices.Option{warehouseservices.WithHardDepthCap(cfg.LineageDepthCap)}
	summaryCache := ttlcache.New[warehousetypes.InventorySummary](cfg.DashboardCacheTTL,
		ttlcache.WithObserver(opts.Metrics.CacheObserver("inventory_summary")))

	warehouse := warehousecontrollers.LedgerController{
		TenantID:      currentTenantID,
		Actor:         currentPrincipalID,
		Logger:        logger,
		Outcomes:      opts.Metrics,
		LicensePlates: warehouseservices.NewLicensePlates(stores.Warehouse, rules, whOpts...),
		Splitter:      warehouseservices.NewSplitOperator(stores.Warehouse, checker, whOpts...),
		Merger:        warehouseservices.NewMergeOperator(stores.Warehouse, checker, whOpts...),
		Lineage:       warehouseservices.NewLineageBuilder(stores.Warehouse, whOpts...),
		Genealogy:     warehouseservices.NewGenealogy(stores.Warehouse, whOpts...),
		Dashboard:     warehouseservices.NewDashboard(stores.Warehouse, summaryCache, whOpts...),
	}
	production := productioncontrollers.Controller{
		TenantID:   currentTenantID,
		Principal:  currentActor,
		Logger:     logger,
		Outcomes:   opts.Metrics,
		WorkOrders: productionservices.NewWorkOrders(stores.Production),
		Sequencer:  productionservices.NewSequencer(stores.Production, authorizer),
		Settings:   productionservices.NewSettings(stores.Production),
	}

	router := routing.NewRouter(classifier)
	router.OnPanic(func(r *http.Request, recovered any, stack []byte) {
		logger.Error("handler panic",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Any("panic", recovered),
			zap.ByteString("stack", stack),
		)
	})
	reg := &registrar{router: router, classifier: classifier, authorizer: authorizer}

	reg.ops(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))
	reg.ops(http.MethodGet, "/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthzTimeout)
		defer cancel()
		if err := stores.Ping(ctx); err != nil {
			logger.Warn("healthz: store ping failed", zap.Error(err))
			routing.WriteError(w, r, routing.RouteClassOps, http.StatusServiceUnavailable, "store_unavailable", "store unavailable")
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))
	reg.ops(http.MethodGet, "/metrics", opts.Metrics.Handler())

	registerWarehouseRoutes(reg, warehouse)
	registerProductionRoutes(reg, production)
	if reg.err != nil {
		return nil, reg.err
	}

	guarded := withTenancy(classifier, tenancyResolver, cfg.TrustProxy, withPrincipalHeaders(router))
	return withRequestLog(logger, opts.Metrics, classifier, guarded), nil
}

func currentActor(ctx context.Context) (productiontypes.Actor, bool) {
	p, ok := currentPrincipal(ctx)
	if !ok {
		return productiontypes.Actor{}, false
	}
	return productiontypes.Actor{ID: p.ID, Role: p.RoleSlug}, true
}

// registrar refuses routes the allowlist does not declare, so the allowlist
// stays the complete inventory of the HTTP surface.
type registrar struct {
	router     *routing.Router
	classifier *routing.Classifier
	authorizer authorizer
	err        error
}

func (g *registrar) ops(method string, path string, h http.Handler) {
	g.handle(routing.RouteClassOps, method, path, h)
}

func (g *registrar) api(method string, path string, object string, action string, h http.HandlerFunc) {
	g.handle(routing.RouteClassInternalAPI, method, path, withAuthz(g.authorizer, object, action, h))
}

func (g *registrar) handle(rc routing.RouteClass, method string, path string, h http.Handler) {
	if !g.classifier.Allows(method, path) {
		g.err = errors.Join(g.err, fmt.Errorf("server: route %s %s missing from allowlist", method, path))
		return
	}
	g.router.Handle(rc, method, path, h)
}

func registerWarehouseRoutes(g *registrar, c warehousecontrollers.LedgerController) {
	const (
		lps     = authz.ObjectWarehouseLicensePlates
		gen     = authz.ObjectWarehouseGenealogy
		catalog = authz.ObjectWarehouseCatalog
	)
	g.api(http.MethodGet, "/warehouse/api/license-plates", lps, authz.ActionRead, c.HandleLicensePlatesAPI)
	g.api(http.MethodPost, "/warehouse/api/license-plates", lps, authz.ActionWrite, c.HandleLicensePlatesAPI)
	g.api(http.MethodPost, "/warehouse/api/license-plates/validate-merge", lps, authz.ActionRead, c.HandleValidateMergeAPI)
	g.api(http.MethodPost, "/warehouse/api/license-plates/merge", lps, authz.ActionWrite, c.HandleMergeAPI)
	g.api(http.MethodGet, "/warehouse/api/license-plates/{lp_id}", lps, authz.ActionRead, c.HandleLicensePlateAPI)
	g.api(http.MethodPost, "/warehouse/api/license-plates/{lp_id}/amend", lps, authz.ActionWrite, c.HandleAmendAPI)
	g.api(http.MethodPost, "/warehouse/api/license-plates/{lp_id}/qa-status", authz.ObjectWarehouseQA, authz.ActionWrite, c.HandleQAStatusAPI)
	g.api(http.MethodPost, "/warehouse/api/license-plates/{lp_id}/block", lps, authz.ActionWrite, c.HandleBlockAPI)
	g.api(http.MethodPost, "/warehouse/api/license-plates/{lp_id}/unblock", lps, authz.ActionWrite, c.HandleUnblockAPI)
	g.api(http.MethodPost, "/warehouse/api/license-plates/{lp_id}/validate-split", lps, authz.ActionRead, c.HandleValidateSplitAPI)
	g.api(http.MethodPost, "/warehouse/api/license-plates/{lp_id}/split", lps, authz.ActionWrite, c.HandleSplitAPI)
	g.api(http.MethodGet, "/warehouse/api/license-plates/{lp_id}/lineage", gen, authz.ActionRead, c.HandleLineageAPI)
	g.api(http.MethodGet, "/warehouse/api/genealogy", gen, authz.ActionRead, c.HandleGenealogyAPI)
	g.api(http.MethodPost, "/warehouse/api/genealogy", gen, authz.ActionWrite, c.HandleGenealogyAPI)
	g.api(http.MethodPost, "/warehouse/api/genealogy/{link_id}/reverse", gen, authz.ActionWrite, c.HandleReverseLinkAPI)
	g.api(http.MethodGet, "/warehouse/api/products", catalog, authz.ActionRead, c.HandleProductsAPI)
	g.api(http.MethodPost, "/warehouse/api/products", catalog, authz.ActionWrite, c.HandleProductsAPI)
	g.api(http.MethodGet, "/warehouse/api/locations", catalog, authz.ActionRead, c.HandleLocationsAPI)
	g.api(http.MethodPost, "/warehouse/api/locations", catalog, authz.ActionWrite, c.HandleLocationsAPI)
	g.api(http.MethodGet, "/warehouse/api/dashboard/inventory-summary", authz.ObjectWarehouseDashboard, authz.ActionRead, c.HandleInventorySummaryAPI)
	g.api(http.MethodGet, "/warehouse/api/settings", authz.ObjectWarehouseSettings, authz.ActionRead, c.HandleSettingsAPI)
	g.api(http.MethodPost, "/warehouse/api/settings", authz.ObjectWarehouseSettings, authz.ActionAdmin, c.HandleSettingsAPI)
}

func registerProductionRoutes(g *registrar, c productioncontrollers.Controller) {
	const (
		wos = authz.ObjectProductionWorkOrders
		ops = authz.ObjectProductionOperations
	)
	g.api(http.MethodPost, "/production/api/work-orders", wos, authz.ActionWrite, c.HandleWorkOrdersAPI)
	g.api(http.MethodGet, "/production/api/work-orders/{wo_id}", wos, authz.ActionRead, c.HandleWorkOrderAPI)
	g.api(http.MethodPost, "/production/api/work-orders/{wo_id}/status", wos, authz.ActionWrite, c.HandleWorkOrderStatusAPI)
	g.api(http.MethodGet, "/production/api/work-orders/{wo_id}/complete", wos, authz.ActionRead, c.HandleWorkOrderCompleteAPI)
	g.api(http.MethodPost, "/production/api/work-orders/{wo_id}/complete", wos, authz.ActionWrite, c.HandleWorkOrderCompleteAPI)
	g.api(http.MethodGet, "/production/api/work-orders/{wo_id}/operations", ops, authz.ActionRead, c.HandleOperationsAPI)
	// start and complete are checked again per action by the sequencer
	g.api(http.MethodPost, "/production/api/work-orders/{wo_id}/operations/{op_id}/start", ops, authz.ActionWrite, c.HandleStartOperationAPI)
	g.api(http.MethodPost, "/production/api/work-orders/{wo_id}/operations/{op_id}/complete", ops, authz.ActionWrite, c.HandleCompleteOperationAPI)
	g.api(http.MethodPost, "/production/api/work-orders/{wo_id}/operations/{op_id}/skip", wos, authz.ActionWrite, c.HandleSkipOperationAPI)
	g.api(http.MethodGet, "/production/api/work-orders/{wo_id}/operations/{op_id}/logs", ops, authz.ActionRead, c.HandleOperationLogsAPI)
	g.api(http.MethodGet, "/production/api/settings", authz.ObjectProductionSettings, authz.ActionRead, c.HandleSettingsAPI)
	g.api(http.MethodPost, "/production/api/settings", authz.ObjectProductionSettings, authz.ActionAdmin, c.HandleSettingsAPI)
}

// findConfigFile walks up from the working directory so binaries and tests
// started from subdirectories find the repo's config/.
func findConfigFile(rel string) (string, error) {
	path := rel
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", fmt.Errorf("server: %s not found", rel)
}

package rest

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/crudkit/internal/logging"
	"github.com/mrlokans/crudkit/internal/models"
	"github.com/mrlokans/crudkit/internal/response"
	"github.com/mrlokans/crudkit/internal/status"
)

// Route kinds accepted by WithTypes.
const (
	TypeQuery  = "query"
	TypePSS    = "pss"
	TypeMulti  = "multi"
	TypeAdd    = "add"
	TypeUpdate = "update"
	TypeUpsert = "upsert"
	TypeDelete = "delete"
)

var allTypes = []string{TypeQuery, TypePSS, TypeMulti, TypeAdd, TypeUpdate, TypeUpsert, TypeDelete}

// MultiModel is one entry of a multi query: the result of Repo is returned
// under Field, converted with Option.
type MultiModel struct {
	Field  string
	Repo   models.Lister
	Option *models.ToDictOption
}

type routeOptions struct {
	manager     *Manager
	module      string
	action      *string
	methods     []string
	types       []string
	multi       []MultiModel
	toDict      *models.ToDictOption
	pssConfig   models.PSSConfigFunc
	strictSlash bool
	suffix      string
}

type RouteOption func(*routeOptions)

// WithManager records the routes on m instead of Default.
func WithManager(m *Manager) RouteOption {
	return func(o *routeOptions) { o.manager = m }
}

// WithModule sets the module name passed to the permission check.
func WithModule(module string) RouteOption {
	return func(o *routeOptions) { o.module = module }
}

// WithAction overrides the action passed to the permission check.
func WithAction(action string) RouteOption {
	return func(o *routeOptions) { o.action = &action }
}

// WithMethods overrides the HTTP methods of a single route kind.
func WithMethods(methods ...string) RouteOption {
	return func(o *routeOptions) { o.methods = methods }
}

// WithTypes limits RegisterModelRoute to the given route kinds.
func WithTypes(types ...string) RouteOption {
	return func(o *routeOptions) { o.types = types }
}

// WithMultiModels enables the multi route.
func WithMultiModels(multi ...MultiModel) RouteOption {
	return func(o *routeOptions) { o.multi = multi }
}

// WithToDictOption sets how returned instances are converted.
func WithToDictOption(opt *models.ToDictOption) RouteOption {
	return func(o *routeOptions) { o.toDict = opt }
}

// WithPSSConfig rewrites paging, search and sort requests before parsing.
func WithPSSConfig(fn models.PSSConfigFunc) RouteOption {
	return func(o *routeOptions) { o.pssConfig = fn }
}

// WithStrictSlash controls whether rules end with a slash. Default true.
func WithStrictSlash(strict bool) RouteOption {
	return func(o *routeOptions) { o.strictSlash = strict }
}

// WithSuffix overrides the rule suffix of the upsert, pss and multi routes.
func WithSuffix(suffix string) RouteOption {
	return func(o *routeOptions) { o.suffix = suffix }
}

func newRouteOptions(opts []RouteOption) routeOptions {
	o := routeOptions{strictSlash: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.manager == nil {
		o.manager = defaultManager
	}
	return o
}

func (o routeOptions) actionOr(def string) string {
	if o.action != nil {
		return *o.action
	}
	return def
}

func (o routeOptions) methodsOr(def ...string) []string {
	if len(o.methods) > 0 {
		return o.methods
	}
	return def
}

func (o routeOptions) suffixOr(def string) string {
	if o.suffix != "" {
		return o.suffix
	}
	return def
}

// handle registers h for every method on path behind the permission check.
func (o routeOptions) handle(r gin.IRoutes, methods []string, path, name, action string, h gin.HandlerFunc) {
	full := path
	if g, ok := r.(interface{ BasePath() string }); ok {
		full = joinPaths(g.BasePath(), path)
	}
	for _, method := range methods {
		r.Handle(method, path, PermissionRequired(o.module, action), h)
		o.manager.addRoute(RouteInfo{Name: name, Method: method, Path: full, Module: o.module, Action: action})
	}
}

// RegisterModelRoute registers the REST routes of repo under rule. By
// default every kind is registered; the multi route only when multi models
// are given.
func RegisterModelRoute[T any](r gin.IRoutes, repo *models.Repository[T], rule string, opts ...RouteOption) {
	o := newRouteOptions(opts)
	types := o.types
	if len(types) == 0 {
		types = allTypes
	}
	// Action, methods and suffix only apply to single route registrations.
	base := append([]RouteOption(nil), opts...)
	base = append(base, func(o *routeOptions) {
		o.action = nil
		o.methods = nil
		o.suffix = ""
	})

	if slices.Contains(types, TypeAdd) {
		RegisterAddRoute(r, repo, rule, base...)
	}
	if slices.Contains(types, TypeDelete) {
		RegisterDeleteRoute(r, repo, rule, base...)
	}
	if slices.Contains(types, TypeUpdate) {
		RegisterUpdateRoute(r, repo, rule, base...)
	}
	if slices.Contains(types, TypeUpsert) {
		RegisterUpsertRoute(r, repo, rule, base...)
	}
	if slices.Contains(types, TypeQuery) {
		RegisterQueryRoute(r, repo, rule, base...)
	}
	if slices.Contains(types, TypePSS) {
		RegisterPSSRoute(r, repo, rule, base...)
	}
	if len(o.multi) > 0 && slices.Contains(types, TypeMulti) {
		RegisterMultiRoute(r, rule, base...)
	}
}

// RegisterAddRoute registers POST rule.
func RegisterAddRoute[T any](r gin.IRoutes, repo *models.Repository[T], rule string, opts ...RouteOption) {
	o := newRouteOptions(opts)
	path, _ := RouteRule(rule, o.strictSlash, ":"+didParam)
	action := o.actionOr(TypeAdd)

	o.handle(r, o.methodsOr(http.MethodPost), path, EndpointName(path, "add"), action, func(c *gin.Context) {
		payload := response.RequestJSON(c, nil)
		inst, err := repo.Add(c.Request.Context(), payload)
		finishMutation(c, o, "Add "+repo.ClassName()+" data", TypeAdd, payload, inst, err)
	})
}

// RegisterDeleteRoute registers DELETE rule/:did.
func RegisterDeleteRoute[T any](r gin.IRoutes, repo *models.Repository[T], rule string, opts ...RouteOption) {
	o := newRouteOptions(opts)
	path, didPath := RouteRule(rule, o.strictSlash, ":"+didParam)
	action := o.actionOr(TypeDelete)

	o.handle(r, o.methodsOr(http.MethodDelete), didPath, EndpointName(path, "delete"), action, func(c *gin.Context) {
		did := c.Param(didParam)
		inst, err := repo.Delete(c.Request.Context(), did)
		finishMutation(c, o, "Delete "+repo.ClassName()+" data", TypeDelete, did, inst, err)
	})
}

// RegisterUpdateRoute registers PATCH rule and PATCH rule/:did. A key in the
// URL takes precedence over the key in the body.
func RegisterUpdateRoute[T any](r gin.IRoutes, repo *models.Repository[T], rule string, opts ...RouteOption) {
	o := newRouteOptions(opts)
	path, didPath := RouteRule(rule, o.strictSlash, ":"+didParam)
	action := o.actionOr(TypeUpdate)

	h := func(c *gin.Context) {
		payload := response.RequestJSON(c, nil)
		if did := c.Param(didParam); did != "" {
			if data, ok := payload.(map[string]any); ok {
				data[repo.PrimaryField()] = did
			}
		}
		inst, err := repo.Update(c.Request.Context(), payload)
		finishMutation(c, o, "Update "+repo.ClassName()+" data", TypeUpdate, payload, inst, err)
	}
	name := EndpointName(path, "update")
	methods := o.methodsOr(http.MethodPatch)
	o.handle(r, methods, path, name, action, h)
	o.handle(r, methods, didPath, name, action, h)
}

// RegisterUpsertRoute registers POST rule/upsert. A payload holding a
// primary key is an update, anything else an add.
func RegisterUpsertRoute[T any](r gin.IRoutes, repo *models.Repository[T], rule string, opts ...RouteOption) {
	o := newRouteOptions(opts)
	path, upsertPath := RouteRule(rule, o.strictSlash, o.suffixOr("upsert"))
	action := o.actionOr(TypeUpsert)

	o.handle(r, o.methodsOr(http.MethodPost), upsertPath, EndpointName(path, "upsert"), action, func(c *gin.Context) {
		payload := response.RequestJSON(c, nil)
		ctx := c.Request.Context()

		var inst *T
		var err error
		kind := TypeAdd
		if data, ok := payload.(map[string]any); ok && truthy(data[repo.PrimaryField()]) {
			kind = TypeUpdate
			inst, err = repo.Update(ctx, payload)
		} else {
			inst, err = repo.Add(ctx, payload)
		}
		finishMutation(c, o, "Upsert "+repo.ClassName()+" data", kind, payload, inst, err)
	})
}

// RegisterQueryRoute registers GET rule (all rows) and GET rule/:did.
func RegisterQueryRoute[T any](r gin.IRoutes, repo *models.Repository[T], rule string, opts ...RouteOption) {
	o := newRouteOptions(opts)
	path, didPath := RouteRule(rule, o.strictSlash, ":"+didParam)
	action := o.actionOr("")

	h := func(c *gin.Context) {
		did := c.Param(didParam)
		var data any
		var err error
		if did == "" {
			data, err = repo.QueryAll(c.Request.Context())
		} else {
			data, err = repo.QueryByPK(c.Request.Context(), did)
		}
		finishQuery(c, "Query "+repo.ClassName()+" data", did, data, err, o.toDict)
	}
	name := EndpointName(path, "query")
	methods := o.methodsOr(http.MethodGet)
	o.handle(r, methods, path, name, action, h)
	o.handle(r, methods, didPath, name, action, h)
}

// RegisterPSSRoute registers GET|POST rule/pss for paged, searched and
// sorted queries. The response data is {count, data}.
func RegisterPSSRoute[T any](r gin.IRoutes, repo *models.Repository[T], rule string, opts ...RouteOption) {
	o := newRouteOptions(opts)
	path, pssPath := RouteRule(rule, o.strictSlash, o.suffixOr("pss"))
	action := o.actionOr("")

	o.handle(r, o.methodsOr(http.MethodGet, http.MethodPost), pssPath, EndpointName(path, "query_pss"), action, func(c *gin.Context) {
		req := response.RequestMap(c)
		reqLog := logString(req)
		if o.pssConfig != nil {
			req = o.pssConfig(req)
		}

		result, err := repo.QueryPSS(c.Request.Context(), repo.ParsePSS(req))
		if err != nil {
			logging.L().Debug(RestLogMsg("Query pss "+repo.ClassName()+" data", reqLog, false, err))
			response.Write(c, false, err)
			return
		}
		data := gin.H{"count": result.Count, "data": models.ModelToDict(result.Data, o.toDict)}
		logging.L().Debug(RestLogMsg("Query pss "+repo.ClassName()+" data", reqLog, true, data))
		response.Write(c, true, data)
	})
}

// RegisterMultiRoute registers GET rule/multi returning the rows of several
// models at once, keyed by MultiModel.Field.
func RegisterMultiRoute(r gin.IRoutes, rule string, opts ...RouteOption) {
	o := newRouteOptions(opts)
	path, multiPath := RouteRule(rule, o.strictSlash, o.suffixOr("multi"))
	action := o.actionOr("")
	multi := o.multi

	o.handle(r, o.methodsOr(http.MethodGet), multiPath, EndpointName(path, "query_multi"), action, func(c *gin.Context) {
		listers := make([]models.Lister, 0, len(multi))
		names := make([]string, 0, len(multi))
		for _, m := range multi {
			listers = append(listers, m.Repo)
			names = append(names, m.Repo.Meta().ClassName())
		}
		info := fmt.Sprintf("Query multi %v data", names)

		results, err := models.QueryAllModels(c.Request.Context(), listers...)
		if err != nil {
			logging.L().Debug(RestLogMsg(info, nil, false, err))
			response.Write(c, false, err)
			return
		}
		data := make(map[string]any, len(multi))
		for i, m := range multi {
			data[m.Field] = models.ModelToDict(results[i], m.Option)
		}
		logging.L().Debug(RestLogMsg(info, nil, true, data))
		response.Write(c, true, data)
	})
}

// finishMutation logs a mutating operation and writes its envelope.
func finishMutation(c *gin.Context, o routeOptions, info, action string, req, inst any, err error) {
	ok := err == nil
	var res any = err
	if ok {
		res = models.ModelToDict(inst, o.toDict)
	}
	reqLog := logString(req)
	resLog := logString(res)
	LogOperation(c, o.module, action, ok, reqLog, resLog)
	logging.L().Info(RestLogMsg(info, reqLog, ok, resLog), zap.String("module", o.module))
	response.Write(c, ok, res)
}

func finishQuery(c *gin.Context, info string, did string, data any, err error, opt *models.ToDictOption) {
	var req any
	if did != "" {
		req = did
	}
	if err != nil {
		logging.L().Debug(RestLogMsg(info, req, false, err))
		response.Write(c, false, status.From(err, status.DBQueryErr))
		return
	}
	res := models.ModelToDict(data, opt)
	logging.L().Debug(RestLogMsg(info, req, true, res))
	response.Write(c, true, res)
}

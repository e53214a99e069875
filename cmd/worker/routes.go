package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"go-bridge/internal/static"
	"go-bridge/server"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// Route is one entry of the routes file.
type Route struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers"`
	// Body may reference path parameters as :name.
	Body string `json:"body"`
	// Echo answers with the request body and content type.
	Echo bool `json:"echo"`
	// Fail makes the route raise an application failure with this message.
	Fail string `json:"fail"`
}

// RoutesFile is the document loaded from --routes.
type RoutesFile struct {
	Routes []Route       `json:"routes"`
	Static []static.Rule `json:"static"`
}

// routeTable is an immutable, fully built set of handlers.
type routeTable struct {
	router *httprouter.Router
	static []static.Rule
	routes int
}

// app is the dispatch target of the worker. The table is swapped whole on
// reload so a request never sees a half-built router.
type app struct {
	root       string
	routesPath string
	log        *zap.SugaredLogger
	stats      func() server.Stats

	table atomic.Pointer[routeTable]
}

func newApp(root, routesPath string, rules []static.Rule, log *zap.SugaredLogger) (*app, error) {
	a := &app{
		root:       root,
		routesPath: routesPath,
		log:        log,
		stats:      func() server.Stats { return server.Stats{} },
	}

	rf := &RoutesFile{}
	if routesPath != "" {
		loaded, err := loadRoutes(routesPath)
		if err != nil {
			return nil, err
		}
		rf = loaded
	}
	rf.Static = append(rf.Static, rules...)

	t, err := a.build(rf)
	if err != nil {
		return nil, err
	}
	a.table.Store(t)
	return a, nil
}

func (a *app) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t := a.table.Load()
	if static.TryServe(w, r, a.root, t.static) {
		return
	}
	t.router.ServeHTTP(w, r)
}

// reload re-reads the routes file. On error the current table stays.
func (a *app) reload() error {
	rf, err := loadRoutes(a.routesPath)
	if err != nil {
		return err
	}
	t, err := a.build(rf)
	if err != nil {
		return err
	}
	a.table.Store(t)
	a.log.Infow("routes reloaded", "routes", t.routes, "static_rules", len(t.static))
	return nil
}

func loadRoutes(path string) (*RoutesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading routes: %w", err)
	}
	var rf RoutesFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing routes %s: %w", path, err)
	}
	return &rf, nil
}

func (a *app) build(rf *RoutesFile) (t *routeTable, err error) {
	router := httprouter.New()
	router.HandleMethodNotAllowed = true

	// httprouter panics on conflicting paths.
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, fmt.Errorf("building routes: %v", r)
		}
	}()

	router.Handler(http.MethodGet, "/__worker/stats", http.HandlerFunc(a.serveStats))

	for i, rt := range rf.Routes {
		if rt.Method == "" {
			rt.Method = http.MethodGet
		}
		if !strings.HasPrefix(rt.Path, "/") {
			return nil, fmt.Errorf("routes[%d]: path %q must start with '/'", i, rt.Path)
		}
		router.Handle(strings.ToUpper(rt.Method), rt.Path, routeHandler(rt))
	}

	rules := make([]static.Rule, 0, len(rf.Static))
	for i, rule := range rf.Static {
		if !rule.Normalize() {
			a.log.Warnf("[routes] static[%d].dir is empty, ignoring rule", i)
			continue
		}
		rules = append(rules, rule)
	}

	return &routeTable{router: router, static: rules, routes: len(rf.Routes)}, nil
}

// routeFailure is raised by Fail routes; the serve loop reports it on the
// error channel.
type routeFailure struct {
	route   string
	message string
}

func (e *routeFailure) Error() string {
	return fmt.Sprintf("route %s: %s", e.route, e.message)
}

func routeHandler(rt Route) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if rt.Fail != "" {
			panic(&routeFailure{route: rt.Method + " " + rt.Path, message: rt.Fail})
		}

		keys := make([]string, 0, len(rt.Headers))
		for k := range rt.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			for _, v := range rt.Headers[k] {
				w.Header().Add(k, v)
			}
		}

		status := rt.Status
		if status == 0 {
			status = http.StatusOK
		}

		if rt.Echo {
			if ct := r.Header.Get("Content-Type"); ct != "" {
				w.Header().Set("Content-Type", ct)
			}
			w.WriteHeader(status)
			_, _ = io.Copy(w, r.Body)
			return
		}

		w.WriteHeader(status)
		_, _ = w.Write([]byte(expandParams(rt.Body, ps)))
	}
}

// expandParams replaces :name with the matching path parameter.
func expandParams(body string, ps httprouter.Params) string {
	if len(ps) == 0 {
		return body
	}
	// Longest names first so :id does not clobber :idx.
	sorted := append(httprouter.Params(nil), ps...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i].Key) > len(sorted[j].Key) })
	for _, p := range sorted {
		body = strings.ReplaceAll(body, ":"+p.Key, p.Value)
	}
	return body
}

func (a *app) serveStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.stats()); err != nil {
		http.Error(w, "failed to encode stats", http.StatusInternalServerError)
	}
}

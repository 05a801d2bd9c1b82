package local

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/lex00/blobstack-go/internal/topology"
)

// gatewayMessage is the body of responses the gateway produces itself.
type gatewayMessage struct {
	Message string `json:"message"`
}

// Handler returns the HTTP gateway. Paths are served with or without the stage
// prefix.
func (r *Runtime) Handler() http.Handler {
	return r.router
}

func (r *Runtime) routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(r.stripStage)

	// Unknown routes and methods get the gateway's 403 rather than 404/405.
	missing := func(w http.ResponseWriter, req *http.Request) {
		gatewayError(w, req, http.StatusForbidden, "Missing Authentication Token")
	}
	router.NotFound(missing)
	router.MethodNotAllowed(missing)

	for _, binding := range r.topo.Routes() {
		router.Method(binding.Route.Method, binding.Route.Path, r.proxy(binding))
	}
	return router
}

// proxy invokes the route's function with a proxy-integration event.
func (r *Runtime) proxy(binding topology.RouteBinding) http.HandlerFunc {
	handler := r.handlers.API[binding.Function.ID]
	return func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			gatewayError(w, req, http.StatusBadRequest, "Bad Request")
			return
		}
		event := r.proxyRequest(req, binding, body)

		var resp events.APIGatewayProxyResponse
		err = r.invoke(binding.Function, topology.KindHTTP, 1, func(ctx context.Context) error {
			var herr error
			resp, herr = handler(ctx, event)
			return herr
		})
		if err != nil {
			gatewayError(w, req, http.StatusBadGateway, "Internal server error")
			return
		}
		writeProxyResponse(w, req, resp)
	}
}

func (r *Runtime) proxyRequest(req *http.Request, binding topology.RouteBinding, body []byte) events.APIGatewayProxyRequest {
	event := events.APIGatewayProxyRequest{
		Resource:   binding.Route.Path,
		Path:       req.URL.Path,
		HTTPMethod: req.Method,
		RequestContext: events.APIGatewayProxyRequestContext{
			AccountID:    "000000000000",
			APIID:        "local",
			Stage:        r.topo.API.Stage,
			RequestID:    middleware.GetReqID(req.Context()),
			ResourcePath: binding.Route.Path,
			HTTPMethod:   req.Method,
			Path:         "/" + r.topo.API.Stage + req.URL.Path,
			Identity:     events.APIGatewayRequestIdentity{SourceIP: req.RemoteAddr},
		},
	}

	if len(req.Header) > 0 {
		event.Headers = make(map[string]string, len(req.Header))
		event.MultiValueHeaders = make(map[string][]string, len(req.Header))
		for name, values := range req.Header {
			event.Headers[name] = values[0]
			event.MultiValueHeaders[name] = values
		}
	}
	if query := req.URL.Query(); len(query) > 0 {
		event.QueryStringParameters = make(map[string]string, len(query))
		event.MultiValueQueryStringParameters = make(map[string][]string, len(query))
		for name, values := range query {
			event.QueryStringParameters[name] = values[0]
			event.MultiValueQueryStringParameters[name] = values
		}
	}
	if params := binding.Route.PathParameters(); len(params) > 0 {
		event.PathParameters = make(map[string]string, len(params))
		for _, name := range params {
			event.PathParameters[name] = chi.URLParam(req, name)
		}
	}

	if len(body) > 0 {
		if utf8.Valid(body) {
			event.Body = string(body)
		} else {
			event.Body = base64.StdEncoding.EncodeToString(body)
			event.IsBase64Encoded = true
		}
	}
	return event
}

func writeProxyResponse(w http.ResponseWriter, req *http.Request, resp events.APIGatewayProxyResponse) {
	body := []byte(resp.Body)
	if resp.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(resp.Body)
		if err != nil {
			gatewayError(w, req, http.StatusBadGateway, "Internal server error")
			return
		}
		body = decoded
	}

	for name, value := range resp.Headers {
		w.Header().Set(name, value)
	}
	for name, values := range resp.MultiValueHeaders {
		w.Header().Del(name)
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	if w.Header().Get("Content-Type") == "" && len(body) > 0 {
		w.Header().Set("Content-Type", "application/json")
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func gatewayError(w http.ResponseWriter, req *http.Request, status int, message string) {
	render.Status(req, status)
	render.JSON(w, req, gatewayMessage{Message: message})
}

func (r *Runtime) stripStage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		req.URL.Path = stagePath(r.topo.API.Stage, req.URL.Path)
		if req.URL.RawPath != "" {
			req.URL.RawPath = stagePath(r.topo.API.Stage, req.URL.RawPath)
		}
		next.ServeHTTP(w, req)
	})
}

// stagePath strips a leading "/<stage>" from path, so requests addressed to the
// deployed endpoint shape can be served locally.
func stagePath(stage, path string) string {
	prefix := "/" + stage
	if stage != "" && (path == prefix || strings.HasPrefix(path, prefix+"/")) {
		return strings.TrimPrefix(path, prefix)
	}
	return path
}

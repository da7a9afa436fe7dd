package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	// handle runs the handler inside runProtected, so that a panic'ed www.HTTPError
	// becomes a JSON error response.
	handle := func(method, route string, handler httprouter.Handle) {
		router.Handle(method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			s.runProtected(w, r, func() { handler(w, r, params) })
		})
	}

	// ratelimited is handle, with a per-IP request limit
	ratelimited := func(method, route string, handler httprouter.Handle, requestsPerMinute int) {
		if requestsPerMinute <= 0 {
			handle(method, route, handler)
			return
		}
		limiter := httprate.Limit(requestsPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
		handle(method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handler(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	ratelimited("POST", "/predict", s.httpPredict, s.Config.PredictRateLimit)
	handle("GET", "/history", s.httpHistory)
	handle("GET", "/health", s.httpHealth)
	handle("GET", "/stats", s.httpStats)

	handle("GET", "/static/images/:filename", s.httpStaticImage)
	handle("GET", "/static/saliency_folder/:filename", s.httpStaticSaliency)

	handle("GET", "/infos/:email", s.httpInfos)
	handle("POST", "/add/:email", s.httpAddRecord)
	handle("PUT", "/update/:email/:id", s.httpUpdateRecord)
	handle("DELETE", "/delete/:email/:id", s.httpDeleteRecord)

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendJSONStatus(w, http.StatusNotFound, errorResponse{"Not found"})
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendJSONStatus(w, http.StatusMethodNotAllowed, errorResponse{"Method not allowed"})
	})
	// Preflight requests are answered by the CORS wrapper, before they reach the router
	router.HandleOPTIONS = false

	s.httpRouter = router
}

// Handler returns the root HTTP handler of the service
func (s *Server) Handler() http.Handler {
	return withCORS(s.httpRouter)
}

// withCORS allows any origin to use the API, which is what the browser frontend needs
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// runProtected is www.RunProtected, except that errors are sent as {"error": message}.
// Details of unexpected panics are logged, but not sent to the client.
func (s *Server) runProtected(w http.ResponseWriter, r *http.Request, handler func()) {
	defer func() {
		if rec := recover(); rec != nil {
			if hErr, ok := rec.(www.HTTPError); ok {
				s.Log.Infof("Failed request %v: %v %v", r.URL.Path, hErr.Code, hErr.Message)
				sendError(w, hErr.Code, hErr.Message)
			} else if hErr, ok := rec.(*www.HTTPError); ok {
				s.Log.Infof("Failed request %v: %v %v", r.URL.Path, hErr.Code, hErr.Message)
				sendError(w, hErr.Code, hErr.Message)
			} else if err, ok := rec.(runtime.Error); ok {
				s.Log.Errorf("Runtime panic error %v: %v", r.URL.Path, err)
				s.Log.Errorf("Stack Trace: %v", string(debug.Stack()))
				sendError(w, http.StatusInternalServerError, "Internal server error")
			} else {
				s.Log.Errorf("Panic %v: %v", r.URL.Path, rec)
				sendError(w, http.StatusInternalServerError, "Internal server error")
			}
		}
	}()

	handler()
}

func sendError(w http.ResponseWriter, code int, message string) {
	sendJSONStatus(w, code, errorResponse{message})
}

func sendJSONStatus(w http.ResponseWriter, code int, obj any) {
	b, err := json.Marshal(obj)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

func (s *Server) httpHealth(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, map[string]string{"status": "healthy"})
}

// Average time spent in each stage of the pipeline
func (s *Server) httpStats(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.Analyzer.Timings.Summary())
}

package http

import (
	"fmt"
	"net/http"
)

const banner = "Library Management API Server"

type ServerConfig struct {
	Port           int
	AllowedOrigins []string
}

func NewServer(config ServerConfig, h *BookHandler) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", root)
	mux.HandleFunc("/ping", ping)
	mux.HandleFunc("/api/books", h.books)
	mux.HandleFunc("/api/books/", h.bookById)
	mux.HandleFunc("/api/borrow", h.borrow)

	var handler http.Handler = mux
	handler = withCORS(config.AllowedOrigins)(handler)
	handler = withTraceContext(handler)
	handler = withRecover(handler)
	handler = withAccessLog(handler)
	handler = withRequestID(handler)

	server := http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: handler,
	}
	return &server
}

/* Answers the bare root with a plain text banner. Any other unknown path is a 404. */
func root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("content-type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, banner)
}

/* Tests the http server connection.  */
func ping(w http.ResponseWriter, r *http.Request) {
	method := r.Method
	if method == http.MethodGet {
		w.WriteHeader(http.StatusNoContent)
		return
	} else {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
}

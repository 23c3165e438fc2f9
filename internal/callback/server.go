// Package callback runs the temporary loopback HTTP server that
// receives the browser redirect at the end of an enrollment or login
// flow. The server accepts exactly one callback, renders a result page
// for the browser, hands the parsed parameters to the waiting command,
// and shuts itself down.
package callback

import (
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"devauth/pkg/oauth"
)

// DefaultPort is the default port for the loopback callback server.
const DefaultPort = 8765

// WaitTimeout is how long to wait for the browser redirect before
// giving up on the flow.
const WaitTimeout = 10 * time.Minute

//go:embed templates/callback_success.html
var successHTML string

//go:embed templates/callback_error.html
var errorHTML string

// Server is a single-shot loopback HTTP server for flow callbacks.
// It starts, waits for one callback, then shuts down.
type Server struct {
	port     int
	server   *http.Server
	listener net.Listener
	resultCh chan *oauth.CallbackParams
	errorCh  chan error
	once     sync.Once
	baseURL  string
}

// NewServer creates a callback server on the given port. Port 0 picks
// the default; the actual bound port is available after Start.
func NewServer(port int) *Server {
	if port == 0 {
		port = DefaultPort
	}

	return &Server{
		port:     port,
		resultCh: make(chan *oauth.CallbackParams, 1),
		errorCh:  make(chan error, 1),
	}
}

// Start binds the loopback listener and begins serving. The server
// stops when the context is cancelled. Returns the redirect URI to
// use in the authorization or enrollment request.
func (s *Server) Start(ctx context.Context) (string, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.baseURL = fmt.Sprintf("http://127.0.0.1:%d", s.port)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return s.RedirectURI(), nil
}

// Wait blocks until the callback arrives, the server fails, or the
// context is cancelled.
func (s *Server) Wait(ctx context.Context) (*oauth.CallbackParams, error) {
	select {
	case params := <-s.resultCh:
		return params, nil
	case err := <-s.errorCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleCallback accepts the first callback and rejects any repeat.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var handled bool
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})

	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

// processCallback parses the redirect parameters, renders the result
// page, and delivers the parsed params to the waiting command. Called
// exactly once via sync.Once.
func (s *Server) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	params := oauth.ParseCallback(r.URL.Query())

	var tmpl *template.Template
	var data any

	if params.IsError() {
		tmpl = template.Must(template.New("error").Parse(errorHTML))
		data = map[string]string{
			"Error":       params.Error,
			"Description": params.ErrorDescription,
		}
	} else {
		tmpl = template.Must(template.New("success").Parse(successHTML))
		data = map[string]string{}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}

	select {
	case s.resultCh <- params:
	default:
	}

	// Let the response flush before tearing the server down.
	go func() {
		time.Sleep(1 * time.Second)
		s.Stop()
	}()
}

// Stop gracefully shuts the server down. Safe to call more than once.
func (s *Server) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// RedirectURI returns the redirect URI served by this server.
func (s *Server) RedirectURI() string {
	return s.baseURL + "/callback"
}

// Port returns the bound port.
func (s *Server) Port() int {
	return s.port
}

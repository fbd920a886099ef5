package settings

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oshokin/apd-alarms/internal/logger"
	"github.com/oshokin/apd-alarms/internal/repository/params"
)

const (
	// readHeaderTimeout bounds slow clients.
	readHeaderTimeout = 5 * time.Second
	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 5 * time.Second
	// contentTypeXML is the content type of every settings reply.
	contentTypeXML = "text/xml; charset=utf-8"
)

// Store is the parameter store the endpoint reads and writes.
type Store interface {
	Set(name, value string) error
	All() map[string]string
}

// settingsReply is the body of /settings/get.
type settingsReply struct {
	XMLName xml.Name     `xml:"settings"`
	Params  []paramReply `xml:"param"`
}

// paramReply is one parameter.
type paramReply struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// successReply acknowledges a set.
type successReply struct {
	XMLName xml.Name `xml:"success"`
}

// errorReply reports a failed request.
type errorReply struct {
	XMLName     xml.Name `xml:"error"`
	Description string   `xml:"description,attr"`
}

// handler serves the settings routes.
type handler struct {
	// store holds the parameters.
	store Store
}

// NewHandler returns the router serving settings and metrics.
func NewHandler(store Store, gatherer prometheus.Gatherer) http.Handler {
	h := &handler{store: store}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/settings/get", h.get)
	r.Get("/settings/set", h.set)
	r.Post("/settings/set", h.set)

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// get writes every parameter in display order.
func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	values := h.store.All()

	reply := settingsReply{Params: make([]paramReply, 0, len(params.Names))}
	for _, name := range params.Names {
		reply.Params = append(reply.Params, paramReply{Name: name, Value: values[name]})
	}

	writeXML(r.Context(), w, reply)
}

// set stores one parameter. Errors are reported in the body with status 200,
// which the settings page expects.
func (h *handler) set(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		writeXML(ctx, w, errorReply{Description: "Syntax: param or value missing"})
		return
	}

	// A present but empty value is valid, it clears the parameter.
	name := r.Form.Get("param")
	_, hasValue := r.Form["value"]

	if name == "" || !hasValue {
		logger.WarnKV(ctx, "Settings set rejected", "reason", "param or value missing")
		writeXML(ctx, w, errorReply{Description: "Syntax: param or value missing"})

		return
	}

	if err := h.store.Set(name, r.Form.Get("value")); err != nil {
		// The value is not echoed, it may be the password.
		logger.WarnKV(ctx, "Settings set failed", "param", name, "error", err)
		writeXML(ctx, w, errorReply{Description: "Could not set " + name})

		return
	}

	logger.InfoKV(ctx, "Parameter updated", "param", name)
	writeXML(ctx, w, successReply{})
}

// writeXML encodes reply with the XML header.
func writeXML(ctx context.Context, w http.ResponseWriter, reply any) {
	w.Header().Set("Content-Type", contentTypeXML)

	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return
	}

	if err := xml.NewEncoder(w).Encode(reply); err != nil {
		logger.WarnKV(ctx, "Settings reply failed", "error", err)
	}
}

// Serve runs the endpoint on listener until ctx is done.
func Serve(ctx context.Context, listener net.Listener, h http.Handler) error {
	server := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve settings: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown settings: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve settings: %w", err)
	}

	return nil
}

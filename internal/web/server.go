package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"path"
	"time"

	"go.uber.org/zap"

	"compass-ng/internal/pipeline"
	"compass-ng/internal/rotation"
)

//go:embed assets/*
var embeddedAssets embed.FS

// HeadingService is the part of the pipeline the HTTP API drives.
type HeadingService interface {
	Snapshot() pipeline.Snapshot
	Broadcaster() *pipeline.Broadcaster
	SetDisplayRotation(d rotation.Display) error
}

const sseKeepAlive = 15 * time.Second

type Deps struct {
	Heading HeadingService
	Status  *Status
	// Logs is optional; /api/logs is absent without it.
	Logs *LogBuffer
	// Model names the declination model for /api/about.
	Model  string
	Logger *zap.SugaredLogger
}

func Handler(d Deps) http.Handler {
	hdg := d.Heading
	status := d.Status
	if status == nil {
		status = NewStatus("")
	}
	log := d.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	mux := http.NewServeMux()

	assetsFS, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		assetsFS = nil
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/heading", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, hdg.Snapshot())
	})

	mux.HandleFunc("/api/heading/stream", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		streamHeading(w, r, hdg.Broadcaster(), log)
	})

	mux.HandleFunc("/api/display-rotation", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		var req struct {
			Degrees *int `json:"degrees"`
		}
		dec := json.NewDecoder(io.LimitReader(r.Body, 4096))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Degrees == nil {
			http.Error(w, "degrees is required", http.StatusBadRequest)
			return
		}
		d, err := rotation.ParseDisplay(*req.Degrees)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := hdg.SetDisplayRotation(d); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "display_rotation": d.Degrees()})
	})

	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}

	mux.Handle("/api/about", AboutHandler(d.Model))

	if assetsFS != nil {
		fileServer := http.FileServer(http.FS(assetsFS))
		mux.Handle("/assets/", http.StripPrefix("/assets/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			fileServer.ServeHTTP(w, r)
		})))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		// Serve the UI for / and unknown paths outside /api and /assets.
		if r.URL.Path != "/" {
			if path.Dir(r.URL.Path) == "/api" || path.Dir(r.URL.Path) == "/assets" {
				http.NotFound(w, r)
				return
			}
		}

		if assetsFS == nil {
			snap := hdg.Snapshot()
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>compass-ng</title></head><body>")
			_, _ = fmt.Fprintf(w, "<h1>%d&deg; %s</h1>", snap.Heading.Rounded(), snap.Nearest)
			_, _ = fmt.Fprintf(w, "<p>Web UI is unavailable. Use <a href=\"/api/heading\">/api/heading</a>.</p>")
			_, _ = fmt.Fprintf(w, "</body></html>")
			return
		}

		b, err := fs.ReadFile(assetsFS, "index.html")
		if err != nil {
			http.Error(w, "ui unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})

	return mux
}

// streamHeading writes one server-sent event per published snapshot until
// the client goes away.
func streamHeading(w http.ResponseWriter, r *http.Request, bc *pipeline.Broadcaster, log *zap.SugaredLogger) {
	rc := http.NewResponseController(w)
	// The server-wide write timeout would cut the stream short.
	_ = rc.SetWriteDeadline(time.Time{})

	id, ch := bc.Subscribe(8)
	if ch == nil {
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}
	defer bc.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case snap, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(snap)
			if err != nil {
				log.Warnw("heading stream marshal failed", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: heading\ndata: %s\n\n", b); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

// Serve runs the HTTP server until ctx is done.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	return serveListener(ctx, ln, h)
}

// serveListener serves h on ln until ctx is done. Request contexts derive
// from ctx, so long-lived streams end when it is canceled.
func serveListener(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

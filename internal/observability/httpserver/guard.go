package httpserver

import (
	"crypto/subtle"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"net/netip"
	"strings"
)

const defaultPprofPrefix = "/debug/pprof/"

// withAuth requires the token as "Authorization: Bearer <token>" or as a
// ?token= query parameter. An empty token disables the check.
func withAuth(token string, h http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(token))
	if len(want) == 0 {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(presentedToken(r)), want) == 1 {
			h.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="cacheful"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func presentedToken(r *http.Request) string {
	if q := r.URL.Query().Get("token"); q != "" {
		return q
	}
	scheme, cred, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(cred)
}

// pprofPrefix returns p as "/x/y/", defaulting to /debug/pprof/.
func pprofPrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return defaultPprofPrefix
	}
	return "/" + p + "/"
}

// mountPprof registers the pprof handlers under prefix. pprof.Index only
// understands /debug/pprof/ paths, so index requests are rewritten.
func mountPprof(mux *http.ServeMux, prefix string, wrap func(http.Handler) http.Handler) {
	index := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = defaultPprofPrefix + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	})
	mux.Handle(prefix, wrap(index))
	for name, fn := range map[string]http.HandlerFunc{
		"cmdline": hpprof.Cmdline,
		"profile": hpprof.Profile,
		"symbol":  hpprof.Symbol,
		"trace":   hpprof.Trace,
	} {
		mux.Handle(prefix+name, wrap(fn))
	}
	base := strings.TrimSuffix(prefix, "/")
	mux.Handle(base, http.RedirectHandler(prefix, http.StatusPermanentRedirect))
}

// isLoopbackAddr reports whether host:port binds only to loopback. An
// empty host means all interfaces.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip, err := netip.ParseAddr(host)
	return err == nil && ip.IsLoopback()
}

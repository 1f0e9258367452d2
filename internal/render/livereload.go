package render

import (
	"fmt"
	"html"
)

// DefaultLiveReloadPort is where the live reload event stream listens
const DefaultLiveReloadPort = 7878

// LiveReloadSnippet is the dev-mode script that reloads the page when the
// live reload server sends a change event. Reloads are debounced by 200ms so
// that a burst of rebuilds causes a single reload.
type LiveReloadSnippet struct {
	Host string
	Port int
}

// URL returns the event stream URL
func (s *LiveReloadSnippet) URL() string {
	host := s.Host
	if host == "" {
		host = "localhost"
	}
	port := s.Port
	if port == 0 {
		port = DefaultLiveReloadPort
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// HTML renders the script tag
func (s *LiveReloadSnippet) HTML(nonce string) string {
	open := "<script"
	if nonce != "" {
		open += ` nonce="` + html.EscapeString(nonce) + `"`
	}
	return open + `>
let livereloadTimeout;
new EventSource('` + s.URL() + `').addEventListener('change', () => {
    if (livereloadTimeout) {
        clearTimeout(livereloadTimeout);
    }
    livereloadTimeout = setTimeout(() => {
        window.location.reload();
    }, 200);
});
</script>`
}

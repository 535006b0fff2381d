package console

import (
	"bytes"
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Adapted from: github.com/go-chi/render

// ctxKeyStatus is a context key to record a future HTTP response status code.
var ctxKeyStatus = &struct{}{}

// withStatus sets a HTTP response status code hint into request context at any point
// during the request life-cycle.
func withStatus(r *http.Request, status int) {
	*r = *r.WithContext(context.WithValue(r.Context(), ctxKeyStatus, status))
}

func writeStatus(w http.ResponseWriter, r *http.Request) {
	if status, ok := r.Context().Value(ctxKeyStatus).(int); ok {
		w.WriteHeader(status)
	}
}

type format int

const (
	formatText format = iota
	formatJSON
	formatCBOR
)

// negotiate picks the first media type in the Accept header that we can
// render. Quality values are ignored.
func negotiate(r *http.Request) format {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mediaType {
		case "application/json":
			return formatJSON
		case "application/cbor":
			return formatCBOR
		case "text/plain":
			return formatText
		}
	}
	return formatText
}

// renderJSON marshals 'v' to JSON, automatically escaping HTML and setting the
// Content-Type as application/json.
func renderJSON(w http.ResponseWriter, r *http.Request, document any) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(document); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeStatus(w, r)
	w.Write(buf.Bytes()) //nolint:errcheck
}

func renderCBOR(w http.ResponseWriter, r *http.Request, document any) {
	b, err := cbor.Marshal(document)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/cbor")
	writeStatus(w, r)
	w.Write(b) //nolint:errcheck
}

func renderText(w http.ResponseWriter, r *http.Request, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	writeStatus(w, r)
	w.Write([]byte(text)) //nolint:errcheck
}

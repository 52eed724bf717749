package control

import (
	"encoding/json"
	"go/types"
	"net/http"

	"goji.io"

	"github.com/Odhiambo-20/XImage/server"
	"github.com/Odhiambo-20/XImage/wire"
)

// HTTPWrapper provides HTTP bindings on top of a command session.
// BindRoutes must be called on it.
type HTTPWrapper struct {
	// Session is the underlying command session being wrapped
	*Session

	// RouteTable maps method/path pairs to handlers
	RouteTable server.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(s *Session) HTTPWrapper {
	w := HTTPWrapper{Session: s}
	rt := server.RouteTable{
		{Method: http.MethodGet, Path: "/integration-time"}:  w.getUint(wire.IntegrationTime),
		{Method: http.MethodPost, Path: "/integration-time"}: w.setUint(wire.IntegrationTime),
		{Method: http.MethodGet, Path: "/operation-mode"}:    w.getUint(wire.OperationMode),
		{Method: http.MethodPost, Path: "/operation-mode"}:   w.setUint(wire.OperationMode),
		{Method: http.MethodGet, Path: "/led"}:               w.getUint(wire.LED),
		{Method: http.MethodPost, Path: "/led"}:              w.setUint(wire.LED),
		{Method: http.MethodGet, Path: "/line-trigger"}:      w.getUint(wire.LineTriggerEnable),
		{Method: http.MethodPost, Path: "/line-trigger"}:     w.setUint(wire.LineTriggerEnable),
		{Method: http.MethodGet, Path: "/frame-trigger"}:     w.getUint(wire.FrameTriggerEnable),
		{Method: http.MethodPost, Path: "/frame-trigger"}:    w.setUint(wire.FrameTriggerEnable),
		{Method: http.MethodGet, Path: "/serial-number"}:     w.getString(wire.GCUSerial),
		{Method: http.MethodGet, Path: "/health"}:            w.health,
		{Method: http.MethodPost, Path: "/save-settings"}:    w.operate(wire.SaveSettings),
		{Method: http.MethodPost, Path: "/restore-defaults"}: w.operate(wire.RestoreDefaults),
	}
	w.RouteTable = rt
	return w
}

// BindRoutes attaches the wrapper's routes to a goji mux
func (h HTTPWrapper) BindRoutes(m *goji.Mux) {
	h.RouteTable.Bind(m)
}

func (h HTTPWrapper) getUint(code wire.Code) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := h.ReadUint(code, 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := server.HumanPayload{T: types.Uint64, Uint: v}
		hp.EncodeAndRespond(w, r)
	}
}

func (h HTTPWrapper) setUint(code wire.Code) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := server.UintT{}
		err := json.NewDecoder(r.Body).Decode(&u)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.WriteUint(code, u.Uint, 0); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h HTTPWrapper) getString(code wire.Code) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := h.ReadString(code, 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := server.HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}

func (h HTTPWrapper) operate(code wire.Code) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.Operate(code); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h HTTPWrapper) health(w http.ResponseWriter, r *http.Request) {
	gh, err := h.Health()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]float32{
		"temperature": gh.Temperature,
		"humidity":    gh.Humidity,
	})
}

// Package server contains the JSON payload types and route plumbing shared
// by the HTTP adapters.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"

	"goji.io"
	"goji.io/pat"
)

// FloatT is a wrapper around a float for JSON transport as {"f64": v}
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a wrapper around an int for JSON transport as {"int": v}
type IntT struct {
	Int int `json:"int"`
}

// UintT is a wrapper around a register value for JSON transport as {"uint": v}
type UintT struct {
	Uint uint64 `json:"uint"`
}

// StrT is a wrapper around a string for JSON transport as {"str": v}
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a wrapper around a bool for JSON transport as {"bool": v}
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a struct that can hold any type of human-readable data and
// render itself to an http.ResponseWriter
type HumanPayload struct {
	// T holds the type of the data
	T types.BasicKind

	Float  float64
	Int    int
	Uint   uint64
	String string
	Bool   bool
}

// EncodeAndRespond writes the payload as JSON to w
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var err error
	switch hp.T {
	case types.Float64:
		err = json.NewEncoder(w).Encode(FloatT{F64: hp.Float})
	case types.Int:
		err = json.NewEncoder(w).Encode(IntT{Int: hp.Int})
	case types.Uint64:
		err = json.NewEncoder(w).Encode(UintT{Uint: hp.Uint})
	case types.String:
		err = json.NewEncoder(w).Encode(StrT{Str: hp.String})
	case types.Bool:
		err = json.NewEncoder(w).Encode(BoolT{Bool: hp.Bool})
	default:
		err = fmt.Errorf("unknown payload kind %v", hp.T)
	}
	if err != nil {
		fstr := fmt.Sprintf("error encoding payload to json %q", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}

// MethodPath is a method-and-URL pair, the key of a RouteTable
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps method/path pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Bind attaches every route in the table to a goji mux
func (rt RouteTable) Bind(m *goji.Mux) {
	for mp, handler := range rt {
		switch mp.Method {
		case http.MethodGet:
			m.HandleFunc(pat.Get(mp.Path), handler)
		case http.MethodPost:
			m.HandleFunc(pat.Post(mp.Path), handler)
		case http.MethodDelete:
			m.HandleFunc(pat.Delete(mp.Path), handler)
		default:
			log.Printf("route %s %s skipped: unsupported method", mp.Method, mp.Path)
		}
	}
}

// Endpoints lists the bound paths, for a list-of-routes handler
func (rt RouteTable) Endpoints() []string {
	out := make([]string, 0, len(rt))
	for mp := range rt {
		out = append(out, mp.Method+" "+mp.Path)
	}
	return out
}

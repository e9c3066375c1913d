package api

import (
	"net/http"
	"regexp"
	"testing"

	"github.com/gorilla/mux"
)

var pathParamRegex = regexp.MustCompile(`\{[^}]+\}`)

func samplePath(p string) string {
	return pathParamRegex.ReplaceAllStringFunc(p, func(param string) string {
		switch param {
		case "{id}", "{number}", "{slot}":
			return "1"
		case "{address}":
			return "0x00000000000000000000000000000000000000aa"
		case "{hash}":
			return "0x" + "11111111111111111111111111111111" + "11111111111111111111111111111111"
		default:
			return "test"
		}
	})
}

var documentedRoutes = []struct {
	method string
	path   string
}{
	{"GET", "/health"},
	{"GET", "/status"},
	{"GET", "/ws"},
	{"GET", "/v1/chain"},
	{"GET", "/v1/block-number"},
	{"GET", "/v1/blocks/{id}"},
	{"GET", "/v1/blocks/{id}/transaction-count"},
	{"GET", "/v1/accounts/{address}/balance"},
	{"GET", "/v1/accounts/{address}/nonce"},
	{"GET", "/v1/accounts/{address}/code"},
	{"GET", "/v1/accounts/{address}/storage/{slot}"},
	{"GET", "/v1/accounts/{address}/proof"},
	{"GET", "/v1/transactions/{hash}"},
	{"GET", "/v1/transactions/{hash}/receipt"},
	{"GET", "/v1/transactions/{hash}/confirmations"},
	{"GET", "/v1/gas/price"},
	{"GET", "/v1/gas/max-priority-fee"},
	{"GET", "/v1/gas/fees"},
	{"GET", "/v1/gas/fee-history"},
	{"POST", "/v1/call"},
	{"POST", "/v1/estimate-gas"},
	{"POST", "/v1/access-list"},
	{"POST", "/v1/simulate"},
	{"POST", "/v1/logs"},
	{"POST", "/v1/verify/hash"},
	{"POST", "/v1/verify/message"},
	{"POST", "/v1/verify/typed-data"},
	{"GET", "/v1/observed/blocks"},
	{"GET", "/v1/observed/blocks/{number}"},
}

func TestRoutesRegistered(t *testing.T) {
	server := NewServer(nil, 0)
	router := server.Handler().(*mux.Router)
	for _, rt := range documentedRoutes {
		req, _ := http.NewRequest(rt.method, samplePath(rt.path), nil)
		var match mux.RouteMatch
		if !router.Match(req, &match) {
			t.Fatalf("missing route: %s %s", rt.method, rt.path)
		}
	}
}

func TestRoutesRejectWrongMethod(t *testing.T) {
	server := NewServer(nil, 0)
	router := server.Handler().(*mux.Router)
	req, _ := http.NewRequest("GET", "/v1/call", nil)
	var match mux.RouteMatch
	if router.Match(req, &match) && match.MatchErr == nil {
		t.Fatalf("GET /v1/call should not match a handler")
	}
}

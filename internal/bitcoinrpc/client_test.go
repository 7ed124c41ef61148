package bitcoinrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetBlockTemplateParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := RPCResponse{
			ID: req.ID,
			Result: json.RawMessage(`{
				"version": 536870912,
				"previousblockhash": "00000000000000000000000000000000000000000000000000000000000001",
				"bits": "1d00ffff",
				"curtime": 1700000000,
				"height": 800000
			}`),
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewRPCClient(srv.URL, AuthConfig{Username: "u", Password: "p"}, 0)
	tmpl, err := client.GetBlockTemplate(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetBlockTemplate: %v", err)
	}
	if tmpl.Height != 800000 {
		t.Fatalf("height = %d, want 800000", tmpl.Height)
	}
	if tmpl.Bits != "1d00ffff" {
		t.Fatalf("bits = %s, want 1d00ffff", tmpl.Bits)
	}
}

func TestSubmitBlockReturnsRejectedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := RPCResponse{ID: req.ID, Result: json.RawMessage(`"bad-witness-nonce-size"`)}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewRPCClient(srv.URL, AuthConfig{}, 0)
	err := client.SubmitBlock(context.Background(), "00")
	var rejected *BlockRejectedError
	if err == nil {
		t.Fatalf("expected a rejection error")
	}
	if !asBlockRejected(err, &rejected) {
		t.Fatalf("expected *BlockRejectedError, got %T: %v", err, err)
	}
	if rejected.Reason != "bad-witness-nonce-size" {
		t.Fatalf("reason = %s", rejected.Reason)
	}
}

func asBlockRejected(err error, out **BlockRejectedError) bool {
	r, ok := err.(*BlockRejectedError)
	if ok {
		*out = r
	}
	return ok
}

func TestSubmitBlockAcceptsEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := RPCResponse{ID: req.ID, Result: json.RawMessage(`null`)}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewRPCClient(srv.URL, AuthConfig{}, 0)
	if err := client.SubmitBlock(context.Background(), "00"); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
}
